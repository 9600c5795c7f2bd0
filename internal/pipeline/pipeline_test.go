package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/session"
	"github.com/horizonte-ai/atlas/internal/stage"
)

func TestPipeline_FullRun_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err)

	parte1 := report.Section("parte_1_onde_estamos")
	require.NotNil(t, parte1)
	assert.Contains(t, parte1, "analise_swot")
	assert.Equal(t, "A operação atual mostra uma base sólida com riscos concentrados.", parte1["resumo_executivo"])

	triple, ok := report.Section("parte_2_onde_queremos_ir")["tam_sam_som"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5000000000, triple["tam"])
	assert.EqualValues(t, 400000000, triple["sam"])
	assert.EqualValues(t, 8000000, triple["som"])

	okrs, ok := report.Section("parte_3_como_chegar_la")["okrs_propostos"].([]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(okrs), 3)

	recs, ok := report.Section("parte_4_o_que_fazer_agora")["recomendacoes_prioritarias"].([]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(recs), 3)
	assert.LessOrEqual(t, len(recs), 5)

	competitive := report.Section(KeyCompetitive)
	require.NotNil(t, competitive)
	assert.Len(t, competitive["analise_competitiva_detalhada"], 5)

	risks := report.Section(KeyRiskMatrix)
	require.NotNil(t, risks)
	risk, ok := risks["risk_analysis"].([]any)[0].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 4.8, risk["risk_score"].(float64), 1e-9)
	assert.Equal(t, "média", risk["severidade"])
	matrix, ok := risks["priority_matrix"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, matrix["quick_wins"].([]any), "Lançar plano anual")

	followUp := report.Section(KeyFollowUp)
	require.NotNil(t, followUp)
	assert.Equal(t, true, followUp["follow_up_completed"])
	assert.EqualValues(t, 1, followUp["data_gaps_filled"])
	assert.Contains(t, followUp["follow_up_research"], "histórico de captação TechStart")

	md, ok := report[model.MetadataKey].(model.Metadata)
	require.True(t, ok)
	assert.Equal(t, []string{
		stage.StageExtraction,
		stage.StageGapAnalysis,
		stage.StageStrategy,
		stage.StageCompetitive,
		stage.StageRiskScoring,
		stage.StagePolish,
	}, md.StagesCompleted)
	assert.Equal(t, model.TierFull, md.QualityTier)
	assert.Len(t, md.ModelsUsed, 6)

	perQuery := cost.NewCalculator(cost.DefaultRates()).PerplexityQuery()
	assert.InDelta(t, 6*0.01+perQuery+0.017, md.TotalCostActualUSD, 1e-9)

	assert.Equal(t, 17, md.LoggingSummary.FieldsFound)
	assert.Equal(t, len(model.FieldLexicon), md.LoggingSummary.FieldsExpected)
	assert.Equal(t, 1, md.LoggingSummary.SourcesSucceeded)
	assert.Equal(t, 0, md.LoggingSummary.SourcesFailed)

	run := env.latestRun(t)
	assert.Equal(t, model.StateCompleted, run.State)
	assert.NotNil(t, run.Report)
}

func TestPipeline_ShortRun_RunsExtractionStrategyPolishOnly(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), false)
	require.NoError(t, err)

	assert.NotContains(t, report, KeyFollowUp)
	assert.NotContains(t, report, KeyCompetitive)
	assert.NotContains(t, report, KeyRiskMatrix)
	assert.NotNil(t, report.Section("parte_1_onde_estamos"))

	md, ok := report[model.MetadataKey].(model.Metadata)
	require.True(t, ok)
	assert.Equal(t, []string{
		stage.StageExtraction,
		stage.StageStrategy,
		stage.StagePolish,
	}, md.StagesCompleted)

	assert.Equal(t, 3, env.caller.totalCalls())
	assert.Equal(t, 0, env.caller.count("gap_analysis"))
	assert.Equal(t, 0, env.caller.count("competitive"))
	assert.Equal(t, 0, env.caller.count("risk_scoring"))
}

func TestPipeline_RepeatRunServedFromAnalysisCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()

	report1, err := env.pipe.Analyse(ctx, sub, true)
	require.NoError(t, err)
	md1 := report1[model.MetadataKey].(model.Metadata)
	callsAfterFirst := env.caller.totalCalls()
	statsAfterFirst := env.tiered.Stats()

	report2, err := env.pipe.Analyse(ctx, sub, true)
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, env.caller.totalCalls(), "repeat run must not call any model")
	assert.Equal(t, 1, env.source.callCount(), "repeat run must not touch sources")

	md2, ok := report2[model.MetadataKey].(model.Metadata)
	require.True(t, ok)
	assert.Zero(t, md2.TotalCostActualUSD)
	assert.Equal(t, md1.StagesCompleted, md2.StagesCompleted)
	assert.Equal(t, md1.ModelsUsed, md2.ModelsUsed)
	assert.Equal(t, md1.QualityTier, md2.QualityTier)
	for _, entry := range md2.LoggingSummary.Stages {
		assert.True(t, entry.Cached, entry.Stage)
		assert.Equal(t, "completed", entry.Status)
	}

	assertAllUsageZero(t, report2)
	assert.Equal(t, stripForCompare(t, report1), stripForCompare(t, report2))

	statsAfterSecond := env.tiered.Stats()
	assert.Equal(t, statsAfterFirst.Lookups+1, statsAfterSecond.Lookups, "repeat run probes the cache once")
	assert.Equal(t, statsAfterFirst.LookupHits+1, statsAfterSecond.LookupHits)
	assert.InDelta(t, md1.TotalCostActualUSD, statsAfterSecond.CostSavedUSD-statsAfterFirst.CostSavedUSD, 1e-9)

	runs, err := env.store.ListRuns(ctx, session.RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, model.StateCompleted, run.State)
	}
}

func TestPipeline_ShortRunAfterFullRunHitsStageCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := testSubmission()

	_, err := env.pipe.Analyse(ctx, sub, true)
	require.NoError(t, err)
	calls := env.caller.totalCalls()
	before := env.tiered.Stats()

	report, err := env.pipe.Analyse(ctx, sub, false)
	require.NoError(t, err)

	assert.Equal(t, calls, env.caller.totalCalls(), "every short-run stage must come from cache")
	assert.Equal(t, 1, env.source.callCount(), "the gathered layer must come from cache")

	// One analysis-key miss, then the layer and stages 1/3/6 all hit.
	after := env.tiered.Stats()
	assert.Equal(t, before.Lookups+5, after.Lookups)
	assert.Equal(t, before.LookupHits+4, after.LookupHits)
	saved := env.source.fee + stageEstimates[stage.StageExtraction] +
		stageEstimates[stage.StageStrategy] + stageEstimates[stage.StagePolish]
	assert.InDelta(t, saved, after.CostSavedUSD-before.CostSavedUSD, 1e-9)

	md, ok := report[model.MetadataKey].(model.Metadata)
	require.True(t, ok)
	assert.Equal(t, []string{
		stage.StageExtraction,
		stage.StageStrategy,
		stage.StagePolish,
	}, md.StagesCompleted)
	assert.Zero(t, md.TotalCostActualUSD)
	assert.Equal(t, "deepseek/deepseek-chat-v3-0324", md.ModelsUsed[stage.StageStrategy])
	for _, entry := range md.LoggingSummary.Stages {
		assert.True(t, entry.Cached, entry.Stage)
	}
	assertAllUsageZero(t, report)
	assert.NotContains(t, report, KeyCompetitive)
}

func TestPipeline_ExtractionFailureFailsRun(t *testing.T) {
	env := newTestEnv(t)
	env.caller.errs["extraction"] = &llm.ExternalServiceError{
		Stage:    "extraction",
		Attempts: 3,
		Err:      errors.New("all models failed"),
	}

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.Error(t, err)
	assert.Nil(t, report)

	var fatal *FatalStageError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, stage.StageExtraction, fatal.Stage)

	var ext *llm.ExternalServiceError
	assert.ErrorAs(t, err, &ext, "the underlying exhaustion error stays reachable")

	run := env.latestRun(t)
	assert.Equal(t, model.StateFailed, run.State)
	assert.Contains(t, run.ErrorMessage, stage.StageExtraction)
	assert.Equal(t, 0, env.caller.count("strategy"), "nothing after a fatal stage may run")
}

func TestPipeline_StrategyFailureFailsRun(t *testing.T) {
	env := newTestEnv(t)
	env.caller.errs["strategy"] = errors.New("quota exceeded")

	_, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.Error(t, err)

	var ext *llm.ExternalServiceError
	assert.ErrorAs(t, err, &ext, "plain stage errors surface as external-service failures")

	run := env.latestRun(t)
	assert.Equal(t, model.StateFailed, run.State)
	assert.Contains(t, run.ErrorMessage, stage.StageStrategy)
	assert.Contains(t, run.ErrorMessage, "quota exceeded")
	assert.Equal(t, 0, env.caller.count("competitive"))
	assert.Equal(t, 0, env.caller.count("polish"))
}

func TestPipeline_CompetitiveFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.caller.errs["competitive"] = errors.New("refusal after fallbacks")

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err)

	assert.NotContains(t, report, KeyCompetitive)
	assert.Contains(t, report, KeyRiskMatrix, "later stages still run")

	md := report[model.MetadataKey].(model.Metadata)
	assert.NotContains(t, md.StagesCompleted, stage.StageCompetitive)
	assert.Contains(t, md.StagesCompleted, stage.StageRiskScoring)
	assert.Contains(t, md.StagesCompleted, stage.StagePolish)

	var logged bool
	for _, entry := range md.LoggingSummary.Stages {
		if entry.Stage == stage.StageCompetitive {
			logged = true
			assert.Equal(t, "failed", entry.Status)
			assert.Contains(t, entry.Error, "refusal")
		}
	}
	assert.True(t, logged)

	run := env.latestRun(t)
	assert.Equal(t, model.StateCompleted, run.State)
}

func TestPipeline_RiskFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.caller.errs["risk_scoring"] = errors.New("timeout")

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err)

	assert.Contains(t, report, KeyCompetitive)
	assert.NotContains(t, report, KeyRiskMatrix)

	md := report[model.MetadataKey].(model.Metadata)
	assert.NotContains(t, md.StagesCompleted, stage.StageRiskScoring)
	assert.Contains(t, md.StagesCompleted, stage.StagePolish)
}

func TestPipeline_PolishFailureKeepsUnpolishedReport(t *testing.T) {
	env := newTestEnv(t)
	env.caller.errs["polish"] = &llm.InvalidOutputError{
		Stage:  stage.StagePolish,
		Model:  "deepseek/deepseek-chat-v3-0324",
		Detail: "no parseable json",
	}

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err)

	parte1 := report.Section("parte_1_onde_estamos")
	require.NotNil(t, parte1)
	assert.Equal(t, "Diagnóstico inicial da operação.", parte1["resumo_executivo"],
		"report must carry the unpolished stage 3 prose")

	md := report[model.MetadataKey].(model.Metadata)
	assert.NotContains(t, md.StagesCompleted, stage.StagePolish)
	assert.NotContains(t, md.ModelsUsed, stage.StagePolish)

	run := env.latestRun(t)
	assert.Equal(t, model.StateCompleted, run.State)
}

func TestPipeline_NoResearcherSkipsFollowUp(t *testing.T) {
	env := newTestEnv(t)
	runner := stage.NewRunner(env.caller, nil)
	pipe := New(env.store, env.tiered, env.registry, runner)

	report, err := pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err)

	assert.NotContains(t, report, KeyFollowUp)
	assert.Equal(t, 0, env.caller.count("gap_analysis"))

	md := report[model.MetadataKey].(model.Metadata)
	assert.NotContains(t, md.StagesCompleted, stage.StageGapAnalysis)

	var skipped bool
	for _, entry := range md.LoggingSummary.Stages {
		if entry.Stage == stage.StageGapAnalysis {
			skipped = true
			assert.Equal(t, "skipped", entry.Status)
		}
	}
	assert.True(t, skipped)
}

func TestPipeline_SourceFailureOnlyReducesTier(t *testing.T) {
	env := newTestEnv(t)
	env.source.err = errors.New("HTTP 500")

	report, err := env.pipe.Analyse(context.Background(), testSubmission(), true)
	require.NoError(t, err, "adapter failures never fail the run")

	md := report[model.MetadataKey].(model.Metadata)
	assert.Equal(t, model.TierMinimal, md.QualityTier)
	assert.Equal(t, 0, md.LoggingSummary.SourcesSucceeded)
	assert.Equal(t, 1, md.LoggingSummary.SourcesFailed)
	assert.Equal(t, 0, md.LoggingSummary.FieldsFound)
	assert.Len(t, md.StagesCompleted, 6)
}

func TestPipeline_PrefetchedDataSkipsFanOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, err := env.store.CreateRun(ctx, testSubmission())
	require.NoError(t, err)

	report, err := env.pipe.ExecuteWithData(ctx, run, true, richFields())
	require.NoError(t, err)

	assert.Equal(t, 0, env.source.callCount())

	md := report[model.MetadataKey].(model.Metadata)
	assert.Equal(t, model.TierFull, md.QualityTier)
	assert.Equal(t, 17, md.LoggingSummary.FieldsFound)
	assert.Equal(t, 0, md.LoggingSummary.SourcesSucceeded)

	stored, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.StateCompleted, stored.State)
}

func TestPipeline_InvalidSubmissionRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipe.Analyse(context.Background(), model.Submission{}, true)
	require.Error(t, err)

	runs, err := env.store.ListRuns(context.Background(), session.RunFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected submissions must not create runs")
}

// assertAllUsageZero walks every _usage_stats block in the tree.
func assertAllUsageZero(t *testing.T, tree map[string]any) {
	t.Helper()
	for key, value := range tree {
		if key == model.UsageStatsKey {
			stats, ok := value.(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, 0, stats["input_tokens"])
			assert.EqualValues(t, 0, stats["output_tokens"])
			continue
		}
		if child, ok := value.(map[string]any); ok {
			assertAllUsageZero(t, child)
		}
	}
}

// stripForCompare normalises a report for content equality: JSON types
// throughout, no metadata, usage zeroed.
func stripForCompare(t *testing.T, report model.Report) map[string]any {
	t.Helper()
	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var clone map[string]any
	require.NoError(t, json.Unmarshal(raw, &clone))
	delete(clone, model.MetadataKey)
	zeroUsageStats(clone)
	return clone
}
