package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
)

const (
	extractionTemperature = 0.3
	extractionMaxTokens   = 4000
)

// Extraction runs stage 1: consolidate the submission and the sanitised
// external data into the structured intelligence base every later stage
// reads. Fatal to the pipeline when it fails.
func (r *Runner) Extraction(ctx context.Context, sub model.Submission, external map[string]any, tracker *cost.Tracker) (*Result, error) {
	log := zap.L().With(
		zap.String("stage", StageExtraction),
		zap.String("company", sub.Company),
	)

	clean := SanitizeMap(external)
	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "extraction",
		Chain:        r.models.Chain("extraction"),
		Prompt:       extractionPrompt(sub, clean),
		SystemPrompt: extractionSystemPrompt,
		Temperature:  extractionTemperature,
		MaxTokens:    extractionMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}

	out, err := parseObject(StageExtraction, modelUsed, text)
	if err != nil {
		return nil, err
	}

	ensureKeys(out, map[string]any{
		"company_facts":         map[string]any{},
		"competitors":           []any{},
		"market_intelligence":   map[string]any{},
		"industry_trends":       []any{},
		"news_and_developments": []any{},
		"customer_intelligence": map[string]any{},
		"data_gaps":             []any{},
	})
	attachUsage(out, usage)

	log.Info("extraction complete",
		zap.String("model", modelUsed),
		zap.Int("data_gaps", len(asSlice(out["data_gaps"]))),
		zap.Int("competitors", len(asSlice(out["competitors"]))),
	)
	return &Result{Stage: StageExtraction, Model: modelUsed, Output: out}, nil
}
