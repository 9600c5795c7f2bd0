// Package llm is the retrying JSON-producing client every analysis stage
// talks through. It layers content-level retries (refusals, broken JSON)
// with temperature decay on top of the transport-level HTTP retries, and
// books every call into the run's cost trace.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/resilience"
)

// defaultMaxAttempts bounds the content-retry loop per model.
const defaultMaxAttempts = 3

// temperatureDecay shrinks the sampling temperature on every content
// retry, so attempts run at T, 0.7T, 0.49T.
const temperatureDecay = 0.7

// strictJSONSuffix is appended to the prompt on retries.
const strictJSONSuffix = "\n\n**CRITICAL: Output ONLY valid JSON. No markdown, " +
	"no code blocks, no explanations. Start with `{` and end with `}`.**"

// refusalPhrases mark a content-policy refusal. Matched case-insensitively
// against the raw reply.
var refusalPhrases = []string{
	"i'm sorry, i can't assist",
	"i cannot assist",
	"i can't help with that",
	"i cannot help with that",
	"desculpe, não posso ajudar",
	"não posso ajudar com isso",
}

// isRefusal scans the reply for a refusal phrase.
func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// CallRequest describes one stage call to one model.
type CallRequest struct {
	Stage        string
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// MaxAttempts bounds content retries; zero means defaultMaxAttempts.
	MaxAttempts int

	// Tracker, when set, receives one cost entry per call outcome.
	Tracker *cost.Tracker
}

// Client reaches models through the relay and, when configured, the
// direct Anthropic transport. Safe for concurrent use.
type Client struct {
	router    Transport
	anthropic Transport
	breakers  *resilience.ServiceBreakers
	retry     resilience.RetryConfig
	calc      *cost.Calculator

	nowFunc func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithAnthropicTransport routes "anthropic/…" models to the direct API.
func WithAnthropicTransport(t Transport) Option {
	return func(c *Client) { c.anthropic = t }
}

// WithRetryConfig overrides the HTTP retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCalculator overrides the cost rate card.
func WithCalculator(calc *cost.Calculator) Option {
	return func(c *Client) { c.calc = calc }
}

// NewClient builds the client over the relay transport. breakers may be
// shared with the data-source layer so LLM outages trip independently
// per transport.
func NewClient(router Transport, breakers *resilience.ServiceBreakers, opts ...Option) *Client {
	c := &Client{
		router:   router,
		breakers: breakers,
		retry:    resilience.DefaultRetryConfig(),
		calc:     cost.NewCalculator(cost.DefaultRates()),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transportFor picks the direct transport for claude-class models when
// one is configured, the relay otherwise.
func (c *Client) transportFor(model string) Transport {
	if c.anthropic != nil && isAnthropicModel(model) {
		return c.anthropic
	}
	return c.router
}

// CallWithRetry performs one model call with content-level retries:
// refusals and unparseable JSON trigger another attempt at reduced
// temperature with the strict-JSON suffix appended. Transport errors
// surface immediately; the HTTP retry policy inside has already done its
// work. On return the tracker holds exactly one entry for this call.
func (c *Client) CallWithRetry(ctx context.Context, req CallRequest) (string, Usage, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	transport := c.transportFor(req.Model)
	breaker := c.breakers.Get(transport.Name())

	retryCfg := c.retry
	retryCfg.OnRetry = resilience.RetryLogger(transport.Name(), req.Stage)

	log := zap.L().With(
		zap.String("stage", req.Stage),
		zap.String("model", req.Model),
		zap.String("transport", transport.Name()),
	)

	start := c.nowFunc()
	temperature := req.Temperature
	prompt := req.Prompt
	var burned Usage
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		type reply struct {
			text  string
			usage Usage
		}
		r, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (reply, error) {
			return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (reply, error) {
				text, usage, err := transport.Complete(ctx, req.Model, req.SystemPrompt, prompt, temperature, req.MaxTokens)
				return reply{text: text, usage: usage}, err
			})
		})
		burned.PromptTokens += r.usage.PromptTokens
		burned.CompletionTokens += r.usage.CompletionTokens

		if err != nil {
			c.logCall(req, burned, start, false)
			return "", burned, &ExternalServiceError{Stage: req.Stage, Attempts: attempt, Err: err}
		}

		if isRefusal(r.text) {
			lastErr = &RefusalError{Stage: req.Stage, Model: req.Model}
			log.Warn("llm: refusal, retrying at lower temperature",
				zap.Int("attempt", attempt),
			)
		} else {
			jsonText, repaired, jsonErr := extractJSON(r.text)
			if jsonErr == nil {
				if repaired {
					log.Debug("llm: repaired truncated json", zap.Int("attempt", attempt))
				}
				c.logCall(req, burned, start, true)
				return jsonText, burned, nil
			}
			lastErr = &InvalidOutputError{Stage: req.Stage, Model: req.Model, Detail: jsonErr.Error()}
			log.Warn("llm: unparseable reply, retrying at lower temperature",
				zap.Int("attempt", attempt),
				zap.String("detail", jsonErr.Error()),
			)
		}

		temperature *= temperatureDecay
		prompt = req.Prompt + strictJSONSuffix
	}

	c.logCall(req, burned, start, false)
	if refusal, ok := lastErr.(*RefusalError); ok {
		return "", burned, refusal
	}
	return "", burned, &ExternalServiceError{Stage: req.Stage, Attempts: maxAttempts, Err: lastErr}
}

// logCall books one entry into the run's cost trace.
func (c *Client) logCall(req CallRequest, usage Usage, start time.Time, success bool) {
	if req.Tracker == nil {
		return
	}
	req.Tracker.Add(cost.Entry{
		Stage:        req.Stage,
		Model:        req.Model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CostUSD:      c.calc.LLM(req.Model, usage.PromptTokens, usage.CompletionTokens),
		DurationMS:   c.nowFunc().Sub(start).Milliseconds(),
		Success:      success,
	})
}

// StageRequest is a CallRequest that walks a model chain instead of a
// single model.
type StageRequest struct {
	Stage        string
	Chain        ModelChain
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Tracker      *cost.Tracker
}

// CallStage runs the stage's fallback chain: primary, paid fallback, free
// fallback, each through CallWithRetry. It returns the reply and the model
// that produced it. Cancellation stops the chain immediately.
func (c *Client) CallStage(ctx context.Context, req StageRequest) (string, Usage, string, error) {
	models := req.Chain.Models()
	if len(models) == 0 {
		return "", Usage{}, "", eris.Errorf("llm: no models configured for stage %s", req.Stage)
	}

	var lastErr error
	for i, model := range models {
		if ctx.Err() != nil {
			return "", Usage{}, "", &ExternalServiceError{Stage: req.Stage, Attempts: i, Err: ctx.Err()}
		}
		if i > 0 {
			zap.L().Warn("llm: falling back to next model",
				zap.String("stage", req.Stage),
				zap.String("model", model),
				zap.Error(lastErr),
			)
		}

		text, usage, err := c.CallWithRetry(ctx, CallRequest{
			Stage:        req.Stage,
			Model:        model,
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			Tracker:      req.Tracker,
		})
		if err == nil {
			return text, usage, model, nil
		}
		lastErr = err
	}
	return "", Usage{}, "", lastErr
}
