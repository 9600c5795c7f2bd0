package stage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
)

const (
	riskTemperature = 0.4
	riskMaxTokens   = 6000
)

// englishGiveaways are function words that never appear in Portuguese
// prose. Space-padded to approximate word boundaries, so proper nouns
// ("The Coffee", "Land Rover") cost at most one hit each.
var englishGiveaways = []string{" and ", " the ", " with ", " for ", " this ", " that "}

// defaultEnglishGiveawayThreshold is the hit count above which a reply is
// treated as written in the wrong language; overridable per Runner via
// WithEnglishGiveawayThreshold.
const defaultEnglishGiveawayThreshold = 8

func countEnglishGiveaways(text string) int {
	lower := strings.ToLower(text)
	total := 0
	for _, phrase := range englishGiveaways {
		total += strings.Count(lower, phrase)
	}
	return total
}

// RiskScoring runs stage 5: risk analysis and recommendation priorities.
// Replies drifting into English are rerun with a stricter system prompt,
// then pushed to the free fallback model; the attempt with the fewest
// giveaways wins. Numeric fields are recomputed after parsing so scores
// are always internally consistent. Non-fatal to the pipeline.
func (r *Runner) RiskScoring(ctx context.Context, sub model.Submission, strategy map[string]any, tracker *cost.Tracker) (*Result, error) {
	log := zap.L().With(
		zap.String("stage", StageRiskScoring),
		zap.String("company", sub.Company),
	)

	prompt := riskPrompt(sub, strategy)
	chain := r.models.Chain("risk_scoring")

	text, usage, modelUsed, err := r.ai.CallStage(ctx, llm.StageRequest{
		Stage:        "risk_scoring",
		Chain:        chain,
		Prompt:       prompt,
		SystemPrompt: riskSystemPrompt,
		Temperature:  riskTemperature,
		MaxTokens:    riskMaxTokens,
		Tracker:      tracker,
	})
	if err != nil {
		return nil, err
	}

	var warnings []string
	hits := countEnglishGiveaways(text)
	if hits > r.englishThreshold {
		log.Warn("risk reply drifted into english, rerunning",
			zap.Int("giveaways", hits),
			zap.String("model", modelUsed),
		)
		text, usage, modelUsed, hits = r.enforcePortuguese(ctx, prompt, chain, text, usage, modelUsed, hits, tracker)
		if hits > r.englishThreshold {
			warnings = append(warnings, fmt.Sprintf("análise de riscos manteve %d marcas de inglês após reforço", hits))
		}
	}

	out, err := parseObject(StageRiskScoring, modelUsed, text)
	if err != nil {
		return nil, err
	}
	repairRiskNumbers(out)
	attachUsage(out, usage)

	log.Info("risk scoring complete",
		zap.String("model", modelUsed),
		zap.Int("risks", len(asSlice(out["risk_analysis"]))),
	)
	return &Result{Stage: StageRiskScoring, Model: modelUsed, Output: out, Warnings: warnings}, nil
}

// enforcePortuguese retries the call with a reinforced system prompt on
// the same model, then on the free fallback. It keeps whichever reply has
// the fewest English giveaways.
func (r *Runner) enforcePortuguese(
	ctx context.Context,
	prompt string,
	chain llm.ModelChain,
	bestText string,
	bestUsage llm.Usage,
	bestModel string,
	bestHits int,
	tracker *cost.Tracker,
) (string, llm.Usage, string, int) {
	totalUsage := bestUsage

	attempts := []string{bestModel}
	if chain.FreeFallback != "" && chain.FreeFallback != bestModel {
		attempts = append(attempts, chain.FreeFallback)
	}

	for _, candidate := range attempts {
		text, usage, err := r.ai.CallWithRetry(ctx, llm.CallRequest{
			Stage:        "risk_scoring",
			Model:        candidate,
			Prompt:       prompt,
			SystemPrompt: riskSystemPrompt + riskStrictLanguageSuffix,
			Temperature:  riskTemperature,
			MaxTokens:    riskMaxTokens,
			Tracker:      tracker,
		})
		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens
		if err != nil {
			zap.L().Warn("portuguese enforcement rerun failed",
				zap.String("model", candidate),
				zap.Error(err),
			)
			continue
		}
		if hits := countEnglishGiveaways(text); hits < bestHits {
			bestText, bestModel, bestHits = text, candidate, hits
		}
		if bestHits <= r.englishThreshold {
			break
		}
	}
	return bestText, totalUsage, bestModel, bestHits
}

// severityBand labels a risk score.
func severityBand(score float64) string {
	switch {
	case score >= 7:
		return "crítica"
	case score >= 5:
		return "alta"
	case score >= 2.5:
		return "média"
	default:
		return "baixa"
	}
}

// priorityBand labels a recommendation by its efficiency ratio.
func priorityBand(ratio float64) string {
	switch {
	case ratio >= 1.5:
		return "alta"
	case ratio >= 0.8:
		return "média"
	default:
		return "baixa"
	}
}

// repairRiskNumbers recomputes every derived number in the stage output:
// risk_score = probability × impact and efficiency_ratio = impact / effort,
// with inputs clamped to their documented ranges. The priority matrix is
// rebuilt from the scores when the model leaves it empty.
func repairRiskNumbers(out map[string]any) {
	for _, item := range asSlice(out["risk_analysis"]) {
		risk := asMap(item)
		if risk == nil {
			continue
		}
		prob, _ := numValue(risk["probability"])
		prob = clampFloat(prob, 0, 1)
		impact, _ := numValue(risk["impact"])
		impact = clampFloat(impact, 1, 10)

		score := round2(prob * impact)
		risk["probability"] = prob
		risk["impact"] = impact
		risk["risk_score"] = score
		risk["severidade"] = severityBand(score)
	}

	scoring := asSlice(out["recommendation_scoring"])
	for _, item := range scoring {
		rec := asMap(item)
		if rec == nil {
			continue
		}
		effort, _ := numValue(rec["effort"])
		effort = clampFloat(effort, 1, 10)
		impact, _ := numValue(rec["impact"])
		impact = clampFloat(impact, 1, 10)

		ratio := round2(impact / effort)
		rec["effort"] = effort
		rec["impact"] = impact
		rec["efficiency_ratio"] = ratio
		rec["prioridade"] = priorityBand(ratio)
	}

	if matrixEmpty(asMap(out["priority_matrix"])) && len(scoring) > 0 {
		out["priority_matrix"] = buildPriorityMatrix(scoring)
	}
}

func matrixEmpty(matrix map[string]any) bool {
	if len(matrix) == 0 {
		return true
	}
	for _, quadrant := range matrix {
		if len(asSlice(quadrant)) > 0 {
			return false
		}
	}
	return true
}

// buildPriorityMatrix sorts recommendations into the classic effort/impact
// quadrants.
func buildPriorityMatrix(scoring []any) map[string]any {
	matrix := map[string]any{
		"quick_wins":            []any{},
		"strategic_investments": []any{},
		"fill_ins":              []any{},
		"avoid":                 []any{},
	}
	for _, item := range scoring {
		rec := asMap(item)
		if rec == nil {
			continue
		}
		name, _ := rec["recomendacao"].(string)
		if name == "" {
			continue
		}
		effort, _ := numValue(rec["effort"])
		impact, _ := numValue(rec["impact"])

		var quadrant string
		switch {
		case impact >= 6 && effort <= 4:
			quadrant = "quick_wins"
		case impact >= 6:
			quadrant = "strategic_investments"
		case effort <= 4:
			quadrant = "fill_ins"
		default:
			quadrant = "avoid"
		}
		matrix[quadrant] = append(matrix[quadrant].([]any), name)
	}
	return matrix
}
