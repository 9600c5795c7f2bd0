package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/pkg/anthropic"
	"github.com/horizonte-ai/atlas/pkg/openai"
)

// Usage is the token count of one completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Transport is one way of reaching a model. The relay transport serves
// every model; the direct Anthropic transport takes over claude-class
// models when a first-party key is configured.
type Transport interface {
	Name() string
	Complete(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, Usage, error)
}

// routerTransport sends everything through the OpenRouter-style relay.
type routerTransport struct {
	client openai.Client
}

// NewRouterTransport wraps the relay client.
func NewRouterTransport(client openai.Client) Transport {
	return &routerTransport{client: client}
}

func (t *routerTransport) Name() string { return "openrouter" }

func (t *routerTransport) Complete(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, Usage, error) {
	messages := make([]openai.Message, 0, 2)
	if system != "" {
		messages = append(messages, openai.Message{Role: "system", Content: system})
	}
	messages = append(messages, openai.Message{Role: "user", Content: prompt})

	resp, err := t.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, eris.Errorf("llm: %s returned no choices", model)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// anthropicTransport talks to the first-party API. Model IDs keep their
// relay form ("anthropic/…"); the prefix is stripped on the wire.
type anthropicTransport struct {
	client anthropic.Client
}

// NewAnthropicTransport wraps the direct client.
func NewAnthropicTransport(client anthropic.Client) Transport {
	return &anthropicTransport{client: client}
}

func (t *anthropicTransport) Name() string { return "anthropic" }

func (t *anthropicTransport) Complete(ctx context.Context, model, system, prompt string, temperature float64, maxTokens int) (string, Usage, error) {
	resp, err := t.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       strings.TrimPrefix(model, "anthropic/"),
		MaxTokens:   int64(maxTokens),
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", Usage{}, err
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	return resp.Text, usage, nil
}

// isAnthropicModel reports whether the direct transport can serve a model.
func isAnthropicModel(model string) bool {
	return strings.HasPrefix(model, "anthropic/")
}
