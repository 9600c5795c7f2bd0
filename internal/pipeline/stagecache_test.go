package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/session"
	"github.com/horizonte-ai/atlas/internal/stage"
)

func TestStageCacheKey_IgnoresSubmissionID(t *testing.T) {
	a := testSubmission()
	b := testSubmission()
	b.ID = 42

	keyA, err := stageCacheKey(stage.StageExtraction, a, map[string]any{"x": 1})
	require.NoError(t, err)
	keyB, err := stageCacheKey(stage.StageExtraction, b, map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB, "resubmitting the same content must share cache entries")
	assert.True(t, strings.HasPrefix(keyA, "stage:stage1_extraction:TechStart:Tecnologia:"))
}

func TestStageCacheKey_CanonicalNumbers(t *testing.T) {
	sub := testSubmission()

	native, err := stageCacheKey(stage.StageStrategy, sub, map[string]any{"employee_count": 12})
	require.NoError(t, err)
	decoded, err := stageCacheKey(stage.StageStrategy, sub, map[string]any{"employee_count": float64(12)})
	require.NoError(t, err)

	assert.Equal(t, native, decoded, "a fresh output and its JSON round-trip must share keys")
}

func TestStageCacheKey_SensitiveToContent(t *testing.T) {
	sub := testSubmission()
	other := testSubmission()
	other.Challenge = "Reduzir churn"

	base, err := stageCacheKey(stage.StageExtraction, sub, map[string]any{"x": 1})
	require.NoError(t, err)

	changedSub, err := stageCacheKey(stage.StageExtraction, other, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.NotEqual(t, base, changedSub)

	changedInputs, err := stageCacheKey(stage.StageExtraction, sub, map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, base, changedInputs)

	changedStage, err := stageCacheKey(stage.StageStrategy, sub, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.NotEqual(t, base, changedStage)
}

func TestReportCacheKey_DistinguishesFlow(t *testing.T) {
	sub := testSubmission()

	full, err := reportCacheKey(sub, true)
	require.NoError(t, err)
	short, err := reportCacheKey(sub, false)
	require.NoError(t, err)
	again, err := reportCacheKey(sub, true)
	require.NoError(t, err)

	assert.NotEqual(t, full, short, "short and full runs are different products")
	assert.Equal(t, full, again)
}

func TestWithoutUsage(t *testing.T) {
	out := map[string]any{
		"resumo":            "ok",
		model.UsageStatsKey: map[string]any{"input_tokens": 10, "output_tokens": 5},
	}

	clean := withoutUsage(out)

	assert.NotContains(t, clean, model.UsageStatsKey)
	assert.Equal(t, "ok", clean["resumo"])
	assert.Contains(t, out, model.UsageStatsKey, "the source map stays intact")
}

func TestZeroUsageStats(t *testing.T) {
	tree := map[string]any{
		model.UsageStatsKey: map[string]any{"input_tokens": float64(900), "output_tokens": float64(450)},
		"secao": map[string]any{
			model.UsageStatsKey: map[string]any{"input_tokens": 10, "output_tokens": 5},
		},
		"lista": []any{
			map[string]any{
				model.UsageStatsKey: map[string]any{"input_tokens": 7, "output_tokens": 3},
			},
		},
	}

	zeroUsageStats(tree)

	for _, stats := range []any{
		tree[model.UsageStatsKey],
		tree["secao"].(map[string]any)[model.UsageStatsKey],
		tree["lista"].([]any)[0].(map[string]any)[model.UsageStatsKey],
	} {
		block, ok := stats.(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 0, block["input_tokens"])
		assert.EqualValues(t, 0, block["output_tokens"])
	}
}

func TestRunStage_SecondCallServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()
	log := zap.NewNop()
	inputs := map[string]any{"division": "alpha"}

	calls := 0
	fn := func() (*stage.Result, error) {
		calls++
		return &stage.Result{
			Stage: stage.StageStrategy,
			Model: "deepseek/deepseek-chat-v3-0324",
			Output: map[string]any{
				"parte_1_onde_estamos": map[string]any{"resumo_executivo": "ok"},
				model.UsageStatsKey:    map[string]any{"input_tokens": 900, "output_tokens": 450},
			},
		}, nil
	}

	rlog1 := newRunLog()
	res1, err := env.pipe.runStage(ctx, log, rlog1, stage.StageStrategy, sub, inputs, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, rlog1.stages, 1)
	assert.False(t, rlog1.stages[0].Cached)

	rlog2 := newRunLog()
	res2, err := env.pipe.runStage(ctx, log, rlog2, stage.StageStrategy, sub, inputs, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "the repeat call must come from cache")
	assert.Equal(t, res1.Model, res2.Model)
	require.Len(t, rlog2.stages, 1)
	assert.True(t, rlog2.stages[0].Cached)
	assert.Equal(t, statusCompleted, rlog2.stages[0].Status)

	stats, ok := res2.Output[model.UsageStatsKey].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, stats["input_tokens"])
	assert.EqualValues(t, 0, stats["output_tokens"])
	assert.Equal(t, "ok", res2.Output["parte_1_onde_estamos"].(map[string]any)["resumo_executivo"])

	assert.InDelta(t, stageEstimates[stage.StageStrategy], env.tiered.Stats().CostSavedUSD, 1e-9)
}

// errStageStore fails every stage-cache read and write while the rest of
// the store keeps working.
type errStageStore struct {
	session.Store
}

func (s *errStageStore) GetStage(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache backend down")
}

func (s *errStageStore) SetStage(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache backend down")
}

func TestRunStage_CacheErrorRunsUncached(t *testing.T) {
	env := newTestEnv(t)
	pipe := New(&errStageStore{Store: env.store}, env.tiered, env.registry, stage.NewRunner(env.caller, nil))

	calls := 0
	fn := func() (*stage.Result, error) {
		calls++
		return &stage.Result{
			Stage:  stage.StageExtraction,
			Model:  "m",
			Output: map[string]any{"ok": true},
		}, nil
	}

	res, err := pipe.runStage(context.Background(), zap.NewNop(), newRunLog(), stage.StageExtraction, testSubmission(), map[string]any{"x": 1}, fn)
	require.NoError(t, err, "cache failures must never fail the stage")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "m", res.Model)

	_, err = pipe.runStage(context.Background(), zap.NewNop(), newRunLog(), stage.StageExtraction, testSubmission(), map[string]any{"x": 1}, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "with the cache down every call runs the stage")
}

func TestRunStage_CorruptEntryRunsStageThenRepairs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()
	inputs := map[string]any{"x": 1}

	key, err := stageCacheKey(stage.StageExtraction, sub, inputs)
	require.NoError(t, err)
	require.NoError(t, env.store.SetStage(ctx, key, []byte("not json"), time.Hour))

	calls := 0
	fn := func() (*stage.Result, error) {
		calls++
		return &stage.Result{
			Stage:  stage.StageExtraction,
			Model:  "m",
			Output: map[string]any{"ok": true},
		}, nil
	}

	_, err = env.pipe.runStage(ctx, zap.NewNop(), newRunLog(), stage.StageExtraction, sub, inputs, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a corrupt entry runs the stage")

	_, err = env.pipe.runStage(ctx, zap.NewNop(), newRunLog(), stage.StageExtraction, sub, inputs, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "the fresh output replaces the corrupt entry")
}

func TestReviveReport_ZeroesUsageAndCost(t *testing.T) {
	entry := &reportCacheEntry{
		Report: model.Report{
			"parte_1_onde_estamos": map[string]any{
				"resumo_executivo":  "ok",
				model.UsageStatsKey: map[string]any{"input_tokens": float64(120), "output_tokens": float64(80)},
			},
			model.UsageStatsKey: map[string]any{"input_tokens": float64(900), "output_tokens": float64(450)},
		},
		Metadata: model.Metadata{
			StagesCompleted:    []string{stage.StageExtraction, stage.StageStrategy},
			ModelsUsed:         map[string]string{stage.StageStrategy: "m"},
			QualityTier:        model.TierFull,
			TotalCostActualUSD: 0.42,
		},
		CostUSD: 0.42,
	}

	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	report := reviveReport(entry, now, 1500*time.Millisecond)

	md, ok := report[model.MetadataKey].(model.Metadata)
	require.True(t, ok)
	assert.Equal(t, now, md.GeneratedAt)
	assert.InDelta(t, 1.5, md.ProcessingTimeSeconds, 1e-9)
	assert.Zero(t, md.TotalCostActualUSD)
	assert.Equal(t, model.TierFull, md.QualityTier)
	assert.Equal(t, map[string]string{stage.StageStrategy: "m"}, md.ModelsUsed)

	require.Len(t, md.LoggingSummary.Stages, 2)
	for _, stageLog := range md.LoggingSummary.Stages {
		assert.True(t, stageLog.Cached)
		assert.Equal(t, statusCompleted, stageLog.Status)
	}

	assertAllUsageZero(t, report)
}
