package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
)

const portugueseRiskReply = `{
	"risk_analysis": [
		{"risco": "Dependência de um único canal de aquisição", "categoria": "comercial", "probability": 0.7, "impact": 8, "risk_score": 99, "mitigacao": "Diversificar canais"},
		{"risco": "Perda de talentos-chave", "categoria": "pessoas", "probability": 1.4, "impact": 15}
	],
	"recommendation_scoring": [
		{"recomendacao": "Implantar CRM", "effort": 2, "impact": 8, "roi": {"horizonte_meses": 3}},
		{"recomendacao": "Abrir nova vertical", "effort": 9, "impact": 5}
	],
	"priority_matrix": {"quick_wins": ["Implantar CRM"], "strategic_investments": [], "fill_ins": [], "avoid": []},
	"critical_path": [{"mes": 1, "foco": "fundação comercial", "entregas": []}]
}`

// 12 giveaway hits, still valid JSON.
const englishRiskReply = `{
	"risk_analysis": [
		{"risco": "We see that the growth depends on the main channel and the team and this creates risk for the company and for the culture", "probability": 0.5, "impact": 5}
	],
	"recommendation_scoring": [],
	"priority_matrix": {},
	"critical_path": []
}`

func TestRiskScoring_RepairsNumbers(t *testing.T) {
	t.Parallel()

	ai := &fakeCaller{stageReplies: []stageReply{
		{text: portugueseRiskReply, usage: llm.Usage{PromptTokens: 2500, CompletionTokens: 1800}, model: "anthropic/claude-sonnet-4.5"},
	}}
	runner := NewRunner(ai, nil)

	res, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)

	assert.Equal(t, StageRiskScoring, res.Stage)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, ai.callReqs, "portuguese reply must not trigger a rerun")

	risks := asSlice(res.Output["risk_analysis"])
	require.Len(t, risks, 2)

	first := asMap(risks[0])
	assert.InDelta(t, 0.7, first["probability"], 0.001)
	assert.InDelta(t, 5.6, first["risk_score"], 0.001)
	assert.Equal(t, "alta", first["severidade"])

	// Out-of-range inputs are clamped before scoring.
	second := asMap(risks[1])
	assert.InDelta(t, 1.0, second["probability"], 0.001)
	assert.InDelta(t, 10.0, second["impact"], 0.001)
	assert.InDelta(t, 10.0, second["risk_score"], 0.001)
	assert.Equal(t, "crítica", second["severidade"])

	scoring := asSlice(res.Output["recommendation_scoring"])
	require.Len(t, scoring, 2)

	crm := asMap(scoring[0])
	assert.InDelta(t, 4.0, crm["efficiency_ratio"], 0.001)
	assert.Equal(t, "alta", crm["prioridade"])

	vertical := asMap(scoring[1])
	assert.InDelta(t, 0.56, vertical["efficiency_ratio"], 0.001)
	assert.Equal(t, "baixa", vertical["prioridade"])

	// The model filled the matrix itself; it is kept as-is.
	matrix := asMap(res.Output["priority_matrix"])
	assert.Equal(t, []any{"Implantar CRM"}, matrix["quick_wins"])

	stats := usageStats(res.Output)
	assert.Equal(t, 2500, stats["input_tokens"])
	assert.Equal(t, 1800, stats["output_tokens"])
}

func TestRiskScoring_RebuildsEmptyMatrix(t *testing.T) {
	t.Parallel()

	reply := `{
		"risk_analysis": [],
		"recommendation_scoring": [
			{"recomendacao": "Implantar CRM", "effort": 2, "impact": 8},
			{"recomendacao": "Expandir para novo estado", "effort": 8, "impact": 9},
			{"recomendacao": "Ajustar site", "effort": 3, "impact": 4},
			{"recomendacao": "Trocar ERP", "effort": 9, "impact": 3}
		],
		"priority_matrix": {"quick_wins": [], "strategic_investments": [], "fill_ins": [], "avoid": []},
		"critical_path": []
	}`
	ai := &fakeCaller{stageReplies: []stageReply{{text: reply}}}
	runner := NewRunner(ai, nil)

	res, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)

	matrix := asMap(res.Output["priority_matrix"])
	require.NotNil(t, matrix)
	assert.Equal(t, []any{"Implantar CRM"}, matrix["quick_wins"])
	assert.Equal(t, []any{"Expandir para novo estado"}, matrix["strategic_investments"])
	assert.Equal(t, []any{"Ajustar site"}, matrix["fill_ins"])
	assert.Equal(t, []any{"Trocar ERP"}, matrix["avoid"])
}

func TestRiskScoring_EnglishTriggersRerun(t *testing.T) {
	t.Parallel()

	ai := &fakeCaller{
		stageReplies: []stageReply{
			{text: englishRiskReply, usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, model: "anthropic/claude-sonnet-4.5"},
		},
		callReplies: []stageReply{
			{text: portugueseRiskReply, usage: llm.Usage{PromptTokens: 800, CompletionTokens: 400}},
		},
	}
	runner := NewRunner(ai, nil)

	res, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)

	require.Len(t, ai.callReqs, 1)
	rerun := ai.callReqs[0]
	assert.Equal(t, "anthropic/claude-sonnet-4.5", rerun.Model)
	assert.Contains(t, rerun.SystemPrompt, "ATENÇÃO")
	assert.Contains(t, rerun.SystemPrompt, riskSystemPrompt)

	assert.Empty(t, res.Warnings)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", res.Model)
	assert.Len(t, asSlice(res.Output["risk_analysis"]), 2, "rerun reply must win")

	// Tokens from both attempts are billed to the stage.
	stats := usageStats(res.Output)
	assert.Equal(t, 1800, stats["input_tokens"])
	assert.Equal(t, 900, stats["output_tokens"])
}

func TestRiskScoring_EnglishPersistsAfterReruns(t *testing.T) {
	t.Parallel()

	ai := &fakeCaller{
		stageReplies: []stageReply{
			{text: englishRiskReply, usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, model: "anthropic/claude-sonnet-4.5"},
		},
		callReplies: []stageReply{
			{err: errors.New("relay timeout")},
			{text: englishRiskReply, usage: llm.Usage{PromptTokens: 700, CompletionTokens: 300}},
		},
	}
	runner := NewRunner(ai, nil)

	res, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)

	// Same model first, then the free fallback.
	require.Len(t, ai.callReqs, 2)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", ai.callReqs[0].Model)
	assert.Equal(t, "google/gemini-2.0-flash-exp:free", ai.callReqs[1].Model)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "12 marcas de inglês")
	assert.Equal(t, "anthropic/claude-sonnet-4.5", res.Model)

	stats := usageStats(res.Output)
	assert.Equal(t, 1700, stats["input_tokens"])
	assert.Equal(t, 800, stats["output_tokens"])
}

func TestRiskScoring_ThresholdConfigurable(t *testing.T) {
	t.Parallel()

	// A lenient threshold accepts the reply the default would rerun.
	ai := &fakeCaller{stageReplies: []stageReply{
		{text: englishRiskReply, usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, model: "anthropic/claude-sonnet-4.5"},
	}}
	runner := NewRunner(ai, nil, WithEnglishGiveawayThreshold(20))

	res, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)
	assert.Empty(t, ai.callReqs, "12 giveaways sit under a threshold of 20")
	assert.Empty(t, res.Warnings)

	// A strict threshold forces the rerun well below the default.
	strictAI := &fakeCaller{
		stageReplies: []stageReply{
			{text: englishRiskReply, usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, model: "anthropic/claude-sonnet-4.5"},
		},
		callReplies: []stageReply{
			{text: portugueseRiskReply, usage: llm.Usage{PromptTokens: 800, CompletionTokens: 400}},
		},
	}
	strict := NewRunner(strictAI, nil, WithEnglishGiveawayThreshold(1))

	res, err = strict.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	require.NoError(t, err)
	require.Len(t, strictAI.callReqs, 1, "threshold 1 must force the rerun")
	assert.Len(t, asSlice(res.Output["risk_analysis"]), 2, "rerun reply must win")

	// Non-positive overrides keep the default.
	keepDefault := NewRunner(ai, nil, WithEnglishGiveawayThreshold(0))
	assert.Equal(t, defaultEnglishGiveawayThreshold, keepDefault.englishThreshold)
}

func TestRiskScoring_CallFailurePropagates(t *testing.T) {
	t.Parallel()

	ai := &fakeCaller{stageReplies: []stageReply{
		{err: &llm.ExternalServiceError{Stage: "risk_scoring", Attempts: 3}},
	}}
	runner := NewRunner(ai, nil)

	_, err := runner.RiskScoring(context.Background(), testSubmission(), map[string]any{}, cost.NewTracker())
	assert.Error(t, err)
}

func TestCountEnglishGiveaways(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 12, countEnglishGiveaways(englishRiskReply))
	assert.Zero(t, countEnglishGiveaways(portugueseRiskReply))
	assert.Equal(t, 1, countEnglishGiveaways("parceria com a The Coffee anunciada"))
}

func TestSeverityBand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "crítica", severityBand(9))
	assert.Equal(t, "crítica", severityBand(7))
	assert.Equal(t, "alta", severityBand(6.9))
	assert.Equal(t, "alta", severityBand(5))
	assert.Equal(t, "média", severityBand(4))
	assert.Equal(t, "média", severityBand(2.5))
	assert.Equal(t, "baixa", severityBand(1))
}

func TestPriorityBand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alta", priorityBand(2))
	assert.Equal(t, "alta", priorityBand(1.5))
	assert.Equal(t, "média", priorityBand(1))
	assert.Equal(t, "média", priorityBand(0.8))
	assert.Equal(t, "baixa", priorityBand(0.5))
}

func TestMatrixEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, matrixEmpty(nil))
	assert.True(t, matrixEmpty(map[string]any{}))
	assert.True(t, matrixEmpty(map[string]any{"quick_wins": []any{}, "avoid": []any{}}))
	assert.False(t, matrixEmpty(map[string]any{"quick_wins": []any{"algo"}}))
}
