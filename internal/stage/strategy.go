package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
)

const (
	strategyTemperature = 0.7
	strategyMaxTokens   = 8000
)

// Strategy runs stage 3: the four-part Portuguese strategic report. The
// data-quality tier decides which sections the prompt requests. After the
// reply parses, the market-sizing triple is validated for plausibility and
// every numeric claim is scanned for a source annotation. Fatal to the
// pipeline when it fails.
func (r *Runner) Strategy(ctx context.Context, sub model.Submission, extraction map[string]any, tier Tier, tracker *cost.Tracker) (*Result, error) {
	log := zap.L().With(
		zap.String("stage", StageStrategy),
		zap.String("company", sub.Company),
		zap.String("tier", string(tier)),
	)

	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "strategy",
		Chain:        r.models.Chain("strategy"),
		Prompt:       strategyPrompt(sub, extraction, tier),
		SystemPrompt: strategySystemPrompt,
		Temperature:  strategyTemperature,
		MaxTokens:    strategyMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}

	out, err := parseObject(StageStrategy, modelUsed, text)
	if err != nil {
		return nil, err
	}

	for _, part := range ReportParts {
		if _, ok := out[part]; !ok {
			out[part] = map[string]any{}
		}
	}

	var warnings []string
	if SectionEnabled(tier, SectionMarketSizing) {
		facts := asMap(extraction["company_facts"])
		warnings = append(warnings, validateMarketSizing(out, facts["employee_count"], facts["annual_revenue"])...)
	}
	warnings = append(warnings, scanSourceAnnotations(out)...)
	for _, w := range warnings {
		log.Warn("strategy validation", zap.String("finding", w))
	}

	attachUsage(out, usage)
	log.Info("strategy complete",
		zap.String("model", modelUsed),
		zap.Int("warnings", len(warnings)),
	)
	return &Result{Stage: StageStrategy, Model: modelUsed, Output: out, Warnings: warnings}, nil
}
