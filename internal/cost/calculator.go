package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Models     map[string]ModelRate `yaml:"models" mapstructure:"models"`
	Sources    map[string]float64   `yaml:"sources" mapstructure:"sources"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// LLM computes the cost of one chat completion. Unknown and free models
// cost zero.
func (c *Calculator) LLM(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

// Source returns the flat per-call cost of a data source. Free sources
// cost zero.
func (c *Calculator) Source(name string) float64 {
	return c.rates.Sources[name]
}

// PerplexityQuery returns the flat cost per research query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// DefaultRates returns the default pricing rates. Model IDs follow the
// OpenRouter form; exact IDs are configuration, not contract.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"deepseek/deepseek-chat-v3-0324":     {Input: 0.27, Output: 1.10},
			"deepseek/deepseek-r1":               {Input: 0.55, Output: 2.19},
			"meta-llama/llama-3.1-405b-instruct": {Input: 3.00, Output: 3.00},
			"anthropic/claude-sonnet-4.5":        {Input: 3.00, Output: 15.00},
			"openai/gpt-4o":                      {Input: 2.50, Output: 10.00},
			"openai/gpt-4o-search-preview":       {Input: 2.50, Output: 10.00},
			// Free-tier fallbacks bill nothing.
			"meta-llama/llama-3.3-70b-instruct:free": {},
			"google/gemini-2.0-flash-exp:free":       {},
		},
		Sources: map[string]float64{
			"clearbit":      0.10,
			"google_places": 0.02,
			"linkedin":      0.03,
			"openai_deep":   0.05,
		},
		Perplexity: PerplexityRate{PerQuery: 0.005},
	}
}
