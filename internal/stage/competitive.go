package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
)

const (
	minCompetitors = 5

	competitiveTemperature = 0.6
	competitiveMaxTokens   = 6000
)

// Competitive runs stage 4: the detailed competitor matrix. The caller
// treats a returned error as a degradation, not a pipeline failure.
func (r *Runner) Competitive(ctx context.Context, sub model.Submission, extraction map[string]any, tracker *cost.Tracker) (*Result, error) {
	log := zap.L().With(
		zap.String("stage", StageCompetitive),
		zap.String("company", sub.Company),
	)

	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "competitive",
		Chain:        r.models.Chain("competitive"),
		Prompt:       competitivePrompt(sub, extraction),
		SystemPrompt: competitiveSystemPrompt,
		Temperature:  competitiveTemperature,
		MaxTokens:    competitiveMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}

	out, err := parseObject(StageCompetitive, modelUsed, text)
	if err != nil {
		return nil, err
	}

	ensureKeys(out, map[string]any{
		"analise_competitiva_detalhada": []any{},
		"matriz_posicionamento":         map[string]any{},
		"gaps_competitivos":             []any{},
		"ameacas_emergentes":            []any{},
		"oportunidades_diferenciacao":   []any{},
	})

	var warnings []string
	if n := len(asSlice(out["analise_competitiva_detalhada"])); n < minCompetitors {
		w := fmt.Sprintf("análise competitiva com %d concorrentes (mínimo %d)", n, minCompetitors)
		warnings = append(warnings, w)
		log.Warn("competitor matrix below minimum",
			zap.Int("competitors", n),
			zap.Int("minimum", minCompetitors),
		)
	}

	attachUsage(out, usage)
	log.Info("competitive analysis complete",
		zap.String("model", modelUsed),
		zap.Int("competitors", len(asSlice(out["analise_competitiva_detalhada"]))),
	)
	return &Result{Stage: StageCompetitive, Model: modelUsed, Output: out, Warnings: warnings}, nil
}
