package llm

// ModelChain is one stage's fallback sequence. Empty entries are skipped;
// exact model IDs are configuration, not contract.
type ModelChain struct {
	Primary      string `yaml:"primary" mapstructure:"primary"`
	PaidFallback string `yaml:"paid_fallback" mapstructure:"paid_fallback"`
	FreeFallback string `yaml:"free_fallback" mapstructure:"free_fallback"`
}

// Models returns the non-empty entries in fallback order.
func (c ModelChain) Models() []string {
	var out []string
	for _, m := range []string{c.Primary, c.PaidFallback, c.FreeFallback} {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Table maps logical stage names to their model chains.
type Table map[string]ModelChain

// Chain returns the stage's chain, or a zero chain for unknown stages.
func (t Table) Chain(stage string) ModelChain { return t[stage] }

// DefaultModelTable carries the shipped stage → model assignments. Budget
// stages run a cheap MoE with a free fallback; client-facing stages run
// the premium chain primary → paid fallback → free fallback.
func DefaultModelTable() Table {
	return Table{
		"extraction": {
			Primary:      "deepseek/deepseek-chat-v3-0324",
			FreeFallback: "meta-llama/llama-3.3-70b-instruct:free",
		},
		"gap_analysis": {
			Primary:      "deepseek/deepseek-chat-v3-0324",
			FreeFallback: "meta-llama/llama-3.3-70b-instruct:free",
		},
		"strategy": {
			Primary:      "meta-llama/llama-3.1-405b-instruct",
			PaidFallback: "anthropic/claude-sonnet-4.5",
			FreeFallback: "google/gemini-2.0-flash-exp:free",
		},
		"competitive": {
			Primary:      "deepseek/deepseek-r1",
			PaidFallback: "anthropic/claude-sonnet-4.5",
			FreeFallback: "google/gemini-2.0-flash-exp:free",
		},
		"risk_scoring": {
			Primary:      "anthropic/claude-sonnet-4.5",
			PaidFallback: "openai/gpt-4o",
			FreeFallback: "google/gemini-2.0-flash-exp:free",
		},
		"polish": {
			Primary:      "anthropic/claude-sonnet-4.5",
			PaidFallback: "openai/gpt-4o",
			FreeFallback: "google/gemini-2.0-flash-exp:free",
		},
	}
}
