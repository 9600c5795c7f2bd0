package enrich

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/openai"
)

// DeepModel is the search-grounded model the premium adapter asks for.
const DeepModel = "openai/gpt-4o-search-preview"

const deepSystemPrompt = "Você é um pesquisador de mercado brasileiro. " +
	"Pesquise a empresa indicada e responda SOMENTE com JSON válido."

const deepPromptFmt = `Pesquise a empresa %s (site: %s, setor: %s) e preencha o que encontrar.
Use null para campos desconhecidos. Responda apenas com JSON no formato:
{"description": "...", "industry": "...", "employee_count": "...",
 "annual_revenue": "...", "specialties": ["..."], "competitors": ["..."]}`

// DeepAnalysisAdapter runs a premium search-grounded model over the open
// web. Most expensive source; selected only under the premium budget.
type DeepAnalysisAdapter struct {
	client openai.Client
}

// NewDeepAnalysisAdapter creates the premium adapter. client may be nil.
func NewDeepAnalysisAdapter(client openai.Client) *DeepAnalysisAdapter {
	return &DeepAnalysisAdapter{client: client}
}

func (a *DeepAnalysisAdapter) Name() string           { return "openai_deep" }
func (a *DeepAnalysisAdapter) Tier() model.SourceTier { return model.TierPremium }
func (a *DeepAnalysisAdapter) Cost() float64          { return 0.05 }

// Enrich asks the model to research the company.
func (a *DeepAnalysisAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if a.client == nil {
		return nil, &NoKeyError{Service: "openai_deep"}
	}
	if req.Company == "" {
		return nil, &NotFoundError{Service: "openai_deep", Detail: "no company name"}
	}

	temperature := 0.3
	maxTokens := 1000
	resp, err := a.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: DeepModel,
		Messages: []openai.Message{
			{Role: "system", Content: deepSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(deepPromptFmt, req.Company, req.Domain, req.Industry)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai_deep: empty response")
	}

	found, err := extractJSONObject("openai_deep", resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	for _, key := range []string{"description", "industry", "employee_count", "annual_revenue"} {
		if v, ok := found[key].(string); ok && v != "" {
			data[key] = v
		}
	}
	if list := stringList(found["specialties"], 5); len(list) > 0 {
		data["specialties"] = list
	}
	if list := stringList(found["competitors"], 8); len(list) > 0 {
		data["competitors"] = list
	}
	if len(data) == 0 {
		return nil, &InvalidResponseError{Service: "openai_deep", Detail: "no usable fields in reply"}
	}
	return data, nil
}
