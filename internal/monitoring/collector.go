// Package monitoring assembles the health snapshot behind /v1/stats and the
// stats command, and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/internal/cache"
	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
	"github.com/horizonte-ai/atlas/internal/session"
)

// Snapshot is a point-in-time view of system health. Run counts come from
// the store and survive restarts; cache, breaker and cost figures cover the
// current process.
type Snapshot struct {
	RunsByState map[model.ProcessingState]int `json:"runs_by_state"`
	RunsTotal   int                           `json:"runs_total"`
	RunFailRate float64                       `json:"run_fail_rate"`

	Cache    cache.Stats                         `json:"cache"`
	Breakers map[string]resilience.BreakerStatus `json:"breakers,omitempty"`
	Cost     cost.Totals                         `json:"cost"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the run store and the process-local
// instruments.
type Collector struct {
	store    session.Store
	cache    *cache.Tiered
	breakers *resilience.ServiceBreakers
	ledger   *cost.Ledger
}

// NewCollector creates a metrics collector. Any instrument other than the
// store may be nil and then reports zero values.
func NewCollector(st session.Store, tiered *cache.Tiered, breakers *resilience.ServiceBreakers, ledger *cost.Ledger) *Collector {
	return &Collector{store: st, cache: tiered, breakers: breakers, ledger: ledger}
}

// Snapshot assembles the current health view.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		CollectedAt: time.Now().UTC(),
	}

	counts, err := c.store.CountRunsByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}
	snap.RunsByState = counts
	for _, n := range counts {
		snap.RunsTotal += n
	}
	finished := counts[model.StateCompleted] + counts[model.StateFailed]
	if finished > 0 {
		snap.RunFailRate = float64(counts[model.StateFailed]) / float64(finished)
	}

	if c.cache != nil {
		snap.Cache = c.cache.Stats()
	}
	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshot()
	}
	if c.ledger != nil {
		snap.Cost = c.ledger.Totals()
	}

	return snap, nil
}
