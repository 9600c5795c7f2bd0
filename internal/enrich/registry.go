package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
)

// DefaultGatherDeadline bounds one whole fan-out; individual adapters keep
// their own per-call timeouts inside it.
const DefaultGatherDeadline = 120 * time.Second

// Registry holds the monitors in the fixed selection order. Reconciliation
// ties break on first-seen source, which follows this order, so the order
// here is part of the engine's determinism.
type Registry struct {
	monitors []*Monitor
}

// NewRegistry wraps each adapter with a Monitor sharing the given breaker
// set. Adapters are kept in the order given.
func NewRegistry(breakers *resilience.ServiceBreakers, adapters ...Adapter) *Registry {
	monitors := make([]*Monitor, 0, len(adapters))
	for _, a := range adapters {
		monitors = append(monitors, NewMonitor(a, breakers))
	}
	return &Registry{monitors: monitors}
}

// Policy decides which source tiers a run may call. Free sources are
// always allowed.
type Policy struct {
	IncludePaid    bool
	IncludePremium bool
}

// Select returns the monitors allowed under the policy, in registry order.
func (r *Registry) Select(p Policy) []*Monitor {
	selected := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		switch m.Tier() {
		case model.TierFree:
			selected = append(selected, m)
		case model.TierPaid:
			if p.IncludePaid {
				selected = append(selected, m)
			}
		case model.TierPremium:
			if p.IncludePremium {
				selected = append(selected, m)
			}
		}
	}
	return selected
}

// Monitors returns all registered monitors in order.
func (r *Registry) Monitors() []*Monitor { return r.monitors }

// Gather runs the monitors concurrently under one overall deadline and
// returns their results in selection order. Failures are isolated per
// source; Gather itself cannot fail.
func Gather(ctx context.Context, monitors []*Monitor, req Request, deadline time.Duration) []model.SourceResult {
	if deadline <= 0 {
		deadline = DefaultGatherDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make([]model.SourceResult, len(monitors))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range monitors {
		g.Go(func() error {
			results[i] = m.Enrich(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	var succeeded int
	var cost float64
	for _, r := range results {
		if r.Success {
			succeeded++
		}
		cost += r.CostUSD
	}
	zap.L().Info("source fan-out complete",
		zap.String("domain", req.Domain),
		zap.Int("sources", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Float64("cost_usd", cost),
	)

	return results
}
