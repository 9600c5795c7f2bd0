// Package stage implements the six analysis stages that turn gathered
// company data into the final Portuguese strategic report. Each stage
// builds a prompt, calls the LLM through the fallback chain, validates
// and auto-repairs the reply, and attaches _usage_stats to its output.
package stage

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/pkg/perplexity"
)

// Canonical stage identifiers. These appear in _metadata.stages_completed,
// in models_used keys, and in the stage cache.
const (
	StageExtraction  = "stage1_extraction"
	StageGapAnalysis = "stage2_gap_analysis"
	StageStrategy    = "stage3_strategy"
	StageCompetitive = "stage4_competitive"
	StageRiskScoring = "stage5_risk_scoring"
	StagePolish      = "stage6_polish"
)

// Caller is the slice of the LLM client the stages use.
type Caller interface {
	CallStage(ctx context.Context, req llm.StageRequest) (string, llm.Usage, string, error)
	CallWithRetry(ctx context.Context, req llm.CallRequest) (string, llm.Usage, error)
}

// Researcher is the real-time research provider behind stage 2 follow-ups.
type Researcher interface {
	Research(ctx context.Context, query string) (*perplexity.ResearchResult, error)
}

// Result is one stage's output plus the bookkeeping the orchestrator needs.
type Result struct {
	// Stage is the canonical stage id.
	Stage string
	// Model is the model that produced the accepted reply, empty when no
	// LLM call happened.
	Model string
	// Output carries the stage JSON including _usage_stats.
	Output map[string]any
	// Warnings are post-hoc validation findings. They go to the report's
	// logging summary, never fail the stage.
	Warnings []string
}

// Runner executes stages against a model table. Safe for concurrent use;
// it holds no per-run state.
type Runner struct {
	ai               Caller
	models           llm.Table
	research         Researcher
	calc             *cost.Calculator
	englishThreshold int
	nowFunc          func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithResearcher wires the stage-2 research provider. Without one, stage 2
// downgrades to follow_up_completed=false.
func WithResearcher(r Researcher) RunnerOption {
	return func(run *Runner) { run.research = r }
}

// WithCalculator overrides the cost rate card used for research queries.
func WithCalculator(calc *cost.Calculator) RunnerOption {
	return func(run *Runner) { run.calc = calc }
}

// WithEnglishGiveawayThreshold overrides the hit count above which a stage-5
// reply is treated as written in the wrong language. Non-positive values
// keep the default.
func WithEnglishGiveawayThreshold(n int) RunnerOption {
	return func(run *Runner) {
		if n > 0 {
			run.englishThreshold = n
		}
	}
}

// NewRunner builds a stage runner. A nil table falls back to the shipped
// model assignments.
func NewRunner(ai Caller, models llm.Table, opts ...RunnerOption) *Runner {
	if models == nil {
		models = llm.DefaultModelTable()
	}
	r := &Runner{
		ai:               ai,
		models:           models,
		calc:             cost.NewCalculator(cost.DefaultRates()),
		englishThreshold: defaultEnglishGiveawayThreshold,
		nowFunc:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasResearcher reports whether a stage-2 research provider is wired in.
func (r *Runner) HasResearcher() bool { return r.research != nil }

// parseObject decodes a stage reply into a generic tree.
func parseObject(stage, model, text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &llm.InvalidOutputError{Stage: stage, Model: model, Detail: err.Error()}
	}
	return out, nil
}

// attachUsage stamps the stage's token consumption onto its output.
func attachUsage(out map[string]any, usage llm.Usage) {
	out["_usage_stats"] = map[string]any{
		"input_tokens":  usage.PromptTokens,
		"output_tokens": usage.CompletionTokens,
	}
}

// ensureKeys fills missing output keys with typed empties so downstream
// stages never nil-check.
func ensureKeys(out map[string]any, defaults map[string]any) {
	for key, def := range defaults {
		if _, ok := out[key]; !ok {
			out[key] = def
		}
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// dig walks nested maps; nil when any step is missing.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, key := range keys {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// stringsFromAny normalises a decoded JSON list into []string.
func stringsFromAny(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// numValue coerces decoded JSON numbers (and numeric strings) to float64.
func numValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
