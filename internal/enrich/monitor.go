package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
)

// Monitor wraps an Adapter with the per-source circuit breaker and timing.
// Enrich never returns an error and never panics; every outcome becomes a
// SourceResult. Failed results carry zero cost and no data.
type Monitor struct {
	adapter Adapter
	breaker *resilience.CircuitBreaker

	nowFunc func() time.Time
}

// NewMonitor wraps adapter with the breaker registered for its name.
func NewMonitor(adapter Adapter, breakers *resilience.ServiceBreakers) *Monitor {
	return &Monitor{
		adapter: adapter,
		breaker: breakers.Get(adapter.Name()),
		nowFunc: time.Now,
	}
}

// Name returns the wrapped adapter's name.
func (m *Monitor) Name() string { return m.adapter.Name() }

// Tier returns the wrapped adapter's tier.
func (m *Monitor) Tier() model.SourceTier { return m.adapter.Tier() }

// Cost returns the wrapped adapter's flat per-call fee in USD.
func (m *Monitor) Cost() float64 { return m.adapter.Cost() }

// Enrich runs the adapter through the breaker and packages the outcome.
func (m *Monitor) Enrich(ctx context.Context, req Request) model.SourceResult {
	start := m.nowFunc()

	data, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) (map[string]any, error) {
		return m.safeEnrich(ctx, req)
	})

	duration := m.nowFunc().Sub(start).Milliseconds()

	if err != nil {
		errType := Classify(err)
		zap.L().Debug("source enrichment failed",
			zap.String("source", m.adapter.Name()),
			zap.String("error_type", string(errType)),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		return model.SourceResult{
			SourceName:   m.adapter.Name(),
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorType:    errType,
			DurationMS:   duration,
			CostUSD:      0,
		}
	}

	zap.L().Debug("source enrichment succeeded",
		zap.String("source", m.adapter.Name()),
		zap.Int("fields", len(data)),
		zap.Int64("duration_ms", duration),
	)
	return model.SourceResult{
		SourceName: m.adapter.Name(),
		Success:    true,
		Data:       data,
		DurationMS: duration,
		CostUSD:    m.adapter.Cost(),
	}
}

// safeEnrich converts a panicking adapter into an error; one bad source
// must not take down the whole fan-out.
func (m *Monitor) safeEnrich(ctx context.Context, req Request) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = eris.Errorf("%s: panic: %v", m.adapter.Name(), r)
		}
	}()
	return m.adapter.Enrich(ctx, req)
}
