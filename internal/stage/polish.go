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
	polishTemperature = 0.5
	polishMaxTokens   = 8000
)

// Polish runs stage 6: rewrite the strategic report's prose for executive
// tone without touching numbers or recommendations. On any error the
// caller substitutes stage 3's output unchanged, so this stage only
// returns a result it can stand behind.
func (r *Runner) Polish(ctx context.Context, sub model.Submission, strategy map[string]any, tracker *cost.Tracker) (*Result, error) {
	log := zap.L().With(
		zap.String("stage", StagePolish),
		zap.String("company", sub.Company),
	)

	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "polish",
		Chain:        r.models.Chain("polish"),
		Prompt:       polishPrompt(strategy),
		SystemPrompt: polishSystemPrompt,
		Temperature:  polishTemperature,
		MaxTokens:    polishMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}

	out, err := parseObject(StagePolish, modelUsed, text)
	if err != nil {
		return nil, err
	}

	// A rewrite that drops report parts is worse than no rewrite.
	for _, part := range ReportParts {
		if asMap(out[part]) == nil {
			return nil, &llm.InvalidOutputError{
				Stage:  StagePolish,
				Model:  modelUsed,
				Detail: fmt.Sprintf("rewrite lost report part %s", part),
			}
		}
	}

	var warnings []string
	if before, after := countMoneyClaims(strategy), countMoneyClaims(out); before != after {
		w := fmt.Sprintf("polimento alterou a contagem de valores monetários (%d antes, %d depois)", before, after)
		warnings = append(warnings, w)
		log.Warn("polish changed monetary claim count",
			zap.Int("before", before),
			zap.Int("after", after),
		)
	}

	attachUsage(out, usage)
	log.Info("polish complete", zap.String("model", modelUsed))
	return &Result{Stage: StagePolish, Model: modelUsed, Output: out, Warnings: warnings}, nil
}

// countMoneyClaims counts R$ amounts across every string in the tree.
// Cheap drift detector for the no-number-changes contract.
func countMoneyClaims(report map[string]any) int {
	total := 0
	walkStrings(withoutUsageStats(report), "", func(_, text string) {
		for _, match := range numericClaimRe.FindAllString(text, -1) {
			if len(match) > 1 && (match[0] == 'R' || match[0] == 'r') {
				total++
			}
		}
	})
	return total
}
