package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
)

const (
	maxFollowUpQueries = 3

	gapTemperature = 0.4
	gapMaxTokens   = 1500
)

// GapAnalysis runs stage 2: turn stage 1's data_gaps into up to three
// research queries and dispatch them to the real-time research provider.
// It never fails the pipeline; anything going wrong downgrades the output
// to follow_up_completed=false.
func (r *Runner) GapAnalysis(ctx context.Context, sub model.Submission, extraction map[string]any, tracker *cost.Tracker) *Result {
	log := zap.L().With(
		zap.String("stage", StageGapAnalysis),
		zap.String("company", sub.Company),
	)

	gaps := stringsFromAny(extraction["data_gaps"])
	if len(gaps) == 0 {
		out := map[string]any{
			"follow_up_completed": true,
			"follow_up_research":  map[string]any{},
			"data_gaps_filled":    0,
			"priority_gaps":       []any{},
		}
		attachUsage(out, llm.Usage{})
		return &Result{Stage: StageGapAnalysis, Output: out}
	}

	if r.research == nil {
		log.Debug("no research provider configured, skipping follow-up")
		return r.downgradedGapResult(llm.Usage{})
	}

	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "gap_analysis",
		Chain:        r.models.Chain("gap_analysis"),
		Prompt:       gapQueriesPrompt(sub, gaps),
		SystemPrompt: gapQuerySystemPrompt,
		Temperature:  gapTemperature,
		MaxTokens:    gapMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		log.Warn("follow-up query generation failed", zap.Error(err))
		return r.downgradedGapResult(usage)
	}

	parsed, err := parseObject(StageGapAnalysis, modelUsed, text)
	if err != nil {
		log.Warn("follow-up query reply unparseable", zap.Error(err))
		return r.downgradedGapResult(usage)
	}

	queries := stringsFromAny(parsed["queries"])
	if len(queries) > maxFollowUpQueries {
		queries = queries[:maxFollowUpQueries]
	}
	priorityGaps := stringsFromAny(parsed["priority_gaps"])
	if len(priorityGaps) == 0 {
		priorityGaps = gaps
	}

	research := make(map[string]any, len(queries))
	filled := 0
	for _, query := range queries {
		start := r.nowFunc()
		res, err := r.research.Research(ctx, query)
		if err != nil {
			log.Warn("follow-up research query failed",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		research[query] = map[string]any{
			"content":   SanitizeString(res.Content),
			"citations": res.Citations,
		}
		filled++
		if tracker != nil {
			tracker.Add(cost.Entry{
				Stage:        StageGapAnalysis,
				Model:        "perplexity/sonar-pro",
				InputTokens:  res.Usage.PromptTokens,
				OutputTokens: res.Usage.CompletionTokens,
				CostUSD:      r.calc.PerplexityQuery(),
				DurationMS:   r.nowFunc().Sub(start).Milliseconds(),
				Success:      true,
			})
		}
	}

	out := map[string]any{
		"follow_up_completed": true,
		"follow_up_research":  research,
		"data_gaps_filled":    filled,
		"priority_gaps":       priorityGaps,
	}
	attachUsage(out, usage)

	log.Info("follow-up complete",
		zap.String("model", modelUsed),
		zap.Int("queries", len(queries)),
		zap.Int("filled", filled),
	)
	return &Result{Stage: StageGapAnalysis, Model: modelUsed, Output: out}
}

func (r *Runner) downgradedGapResult(usage llm.Usage) *Result {
	out := map[string]any{
		"follow_up_completed": false,
		"follow_up_research":  map[string]any{},
		"data_gaps_filled":    0,
		"priority_gaps":       []any{},
	}
	attachUsage(out, usage)
	return &Result{Stage: StageGapAnalysis, Output: out}
}
