package enrich

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/openai"
)

// GroqBaseURL is the OpenAI-compatible endpoint of the free inference tier.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const groqSystemPrompt = "Você é um analista de dados B2B. Responda SOMENTE " +
	"com JSON válido, sem markdown e sem explicações."

const groqPromptFmt = `Com base no nome da empresa, no domínio e no setor declarado, infira os campos abaixo.
Use null quando não souber. Responda apenas com JSON no formato:
{"industry": "...", "description": "...", "specialties": ["...", "..."]}

Empresa: %s
Domínio: %s
Setor declarado: %s`

// GroqAdapter infers soft fields (industry, description, specialties) from
// the bare company identity using a free inference endpoint. A nil client
// means no key was configured.
type GroqAdapter struct {
	client openai.Client
}

// NewGroqAdapter creates the free-inference adapter. client may be nil.
func NewGroqAdapter(client openai.Client) *GroqAdapter {
	return &GroqAdapter{client: client}
}

func (a *GroqAdapter) Name() string           { return "groq_inference" }
func (a *GroqAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *GroqAdapter) Cost() float64          { return 0 }

// Enrich asks the model for the inferred fields.
func (a *GroqAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if a.client == nil {
		return nil, &NoKeyError{Service: "groq_inference"}
	}
	if req.Company == "" {
		return nil, &NotFoundError{Service: "groq_inference", Detail: "no company name"}
	}

	temperature := 0.2
	maxTokens := 500
	resp, err := a.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: []openai.Message{
			{Role: "system", Content: groqSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(groqPromptFmt, req.Company, req.Domain, req.Industry)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("groq_inference: empty response")
	}

	inferred, err := extractJSONObject("groq_inference", resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	if v, ok := inferred["industry"].(string); ok && v != "" {
		data["industry"] = v
	}
	if v, ok := inferred["description"].(string); ok && v != "" {
		data["description"] = v
	}
	if list := stringList(inferred["specialties"], 5); len(list) > 0 {
		data["specialties"] = list
	}
	if len(data) == 0 {
		return nil, &InvalidResponseError{Service: "groq_inference", Detail: "no usable fields in reply"}
	}
	return data, nil
}
