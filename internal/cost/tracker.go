package cost

import (
	"sync"
)

// Entry is one line of the per-run cost trace. Source calls reuse the same
// shape with the source name in Model and zero token counts.
type Entry struct {
	Stage        string  `json:"stage"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	Success      bool    `json:"success"`
}

// Tracker is the append-only cost trace for one analysis run. The report's
// total_cost_actual_usd is always the sum of the entries, so there is a
// single place spend can enter the books.
type Tracker struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTracker creates an empty cost trace.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add appends one entry. Failed calls are recorded with zero cost.
func (t *Tracker) Add(e Entry) {
	if !e.Success {
		e.CostUSD = 0
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Total sums cost_usd over every entry.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, e := range t.entries {
		sum += e.CostUSD
	}
	return sum
}

// Entries returns a copy of the trace in append order.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ByStage aggregates cost per stage.
func (t *Tracker) ByStage() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64)
	for _, e := range t.entries {
		out[e.Stage] += e.CostUSD
	}
	return out
}

// TotalTokens returns the summed input and output token counts.
func (t *Tracker) TotalTokens() (input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		input += e.InputTokens
		output += e.OutputTokens
	}
	return input, output
}
