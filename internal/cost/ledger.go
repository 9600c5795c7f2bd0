package cost

import (
	"sync"
)

// Totals is a point-in-time aggregation of booked spend. Model keys carry
// whatever the entries carried, so data-source fees show up beside LLM
// models.
type Totals struct {
	TotalUSD   float64            `json:"total_usd"`
	ByStageUSD map[string]float64 `json:"by_stage_usd"`
	ByModelUSD map[string]float64 `json:"by_model_usd"`
	Calls      int                `json:"calls"`
}

// Ledger accumulates cost entries across runs. Unlike the per-run Tracker
// it lives for the process and backs the stats surface.
type Ledger struct {
	mu      sync.Mutex
	byStage map[string]float64
	byModel map[string]float64
	total   float64
	calls   int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byStage: make(map[string]float64),
		byModel: make(map[string]float64),
	}
}

// Add books one entry. Failed calls book zero cost, same as the Tracker.
func (l *Ledger) Add(e Entry) {
	if !e.Success {
		e.CostUSD = 0
	}
	l.mu.Lock()
	l.byStage[e.Stage] += e.CostUSD
	l.byModel[e.Model] += e.CostUSD
	l.total += e.CostUSD
	l.calls++
	l.mu.Unlock()
}

// AddAll books a batch of entries, typically one finished run's trace.
func (l *Ledger) AddAll(entries []Entry) {
	for _, e := range entries {
		l.Add(e)
	}
}

// Totals returns a copy of the aggregated spend.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Totals{
		TotalUSD:   l.total,
		ByStageUSD: make(map[string]float64, len(l.byStage)),
		ByModelUSD: make(map[string]float64, len(l.byModel)),
		Calls:      l.calls,
	}
	for k, v := range l.byStage {
		out.ByStageUSD[k] = v
	}
	for k, v := range l.byModel {
		out.ByModelUSD[k] = v
	}
	return out
}
