package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/enrich"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
	"github.com/horizonte-ai/atlas/internal/stage"
)

func TestGather_CachedLayerSkipsAdapter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()
	log := zap.NewNop()

	first := env.pipe.gather(ctx, sub, newRunLog(), cost.NewTracker(), log)
	require.Len(t, first, 1)
	assert.True(t, first[0].Success)
	assert.False(t, first[0].Cached)
	assert.Equal(t, 1, env.source.callCount())

	second := env.pipe.gather(ctx, sub, newRunLog(), cost.NewTracker(), log)
	require.Len(t, second, 1)
	assert.Equal(t, "google_places", second[0].SourceName)
	assert.True(t, second[0].Success)
	assert.True(t, second[0].Cached)
	assert.Contains(t, second[0].Data, "company_name")
	assert.Equal(t, 1, env.source.callCount(), "a cached layer must not call the adapter")
	assert.InDelta(t, env.source.fee, env.tiered.Stats().CostSavedUSD, 1e-9)
}

func TestGather_FailedSourceIsolated(t *testing.T) {
	env := newTestEnv(t)
	bad := &fakeSource{name: "clearbit", tier: model.TierFree, err: errors.New("HTTP 500")}
	good := &fakeSource{
		name:   "places",
		tier:   model.TierFree,
		fee:    0.005,
		fields: map[string]any{"city": "Campinas"},
	}
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	registry := enrich.NewRegistry(breakers, bad, good)
	pipe := New(env.store, env.tiered, registry, stage.NewRunner(env.caller, nil))

	tracker := cost.NewTracker()
	rlog := newRunLog()
	results := pipe.gather(context.Background(), testSubmission(), rlog, tracker, zap.NewNop())

	require.Len(t, results, 2, "registry order survives mixed outcomes")
	assert.Equal(t, "clearbit", results[0].SourceName)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].ErrorMessage, "HTTP 500")
	assert.Zero(t, results[0].CostUSD)
	assert.Equal(t, "places", results[1].SourceName)
	assert.True(t, results[1].Success)

	entries := tracker.Entries()
	require.Len(t, entries, 1, "only paid successes enter the books")
	assert.Equal(t, "data_gathering", entries[0].Stage)
	assert.Equal(t, "places", entries[0].Model)
	assert.InDelta(t, 0.005, entries[0].CostUSD, 1e-9)

	summary := rlog.summary()
	assert.Equal(t, 1, summary.SourcesSucceeded)
	assert.Equal(t, 1, summary.SourcesFailed)
}

func TestGather_NoDomainSkipsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()
	sub.WebsiteURL = ""
	log := zap.NewNop()

	env.pipe.gather(ctx, sub, newRunLog(), cost.NewTracker(), log)
	env.pipe.gather(ctx, sub, newRunLog(), cost.NewTracker(), log)

	assert.Equal(t, 2, env.source.callCount(), "without a domain every run hits the adapter")
	assert.Zero(t, env.tiered.Stats().CostSavedUSD)
}

func TestSourceAdjustments_MeanPerSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	log := zap.NewNop()

	assert.Nil(t, env.pipe.sourceAdjustments(ctx, log), "empty table means no adjustments")

	seed := []model.SourcePerformance{
		{Source: "clearbit", FieldName: "company_name", ConfidenceScore: 0.9, SuccessRate: 0.8, TotalAttempts: 20, SuccessfulFills: 16, LearnedAdjustment: 0.8},
		{Source: "clearbit", FieldName: "city", ConfidenceScore: 0.9, SuccessRate: 0.9, TotalAttempts: 20, SuccessfulFills: 18, LearnedAdjustment: 1.0},
		{Source: "google_places", FieldName: "city", ConfidenceScore: 0.85, SuccessRate: 0.95, TotalAttempts: 40, SuccessfulFills: 38, LearnedAdjustment: 1.1},
	}
	for i := range seed {
		require.NoError(t, env.store.UpsertSourcePerformance(ctx, &seed[i]))
	}

	adj := env.pipe.sourceAdjustments(ctx, log)
	require.Len(t, adj, 2)
	assert.InDelta(t, 0.9, adj["clearbit"], 1e-9)
	assert.InDelta(t, 1.1, adj["google_places"], 1e-9)
}
