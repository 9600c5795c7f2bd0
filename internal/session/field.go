package session

import "time"

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldSet
	fieldClear
)

// Field is a three-valued update cell: leave the column as stored, set it to
// a new value, or clear it back to the zero value. The zero Field means
// unchanged, so a partial update only touches the fields the caller filled.
type Field[T any] struct {
	state fieldState
	value T
}

// Set marks the field for update with v.
func Set[T any](v T) Field[T] {
	return Field[T]{state: fieldSet, value: v}
}

// Clear marks the field for reset to the zero value.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldClear}
}

// Get returns the pending value and whether the field carries an update.
// Cleared fields report the zero value and true.
func (f Field[T]) Get() (T, bool) {
	if f.state == fieldUnchanged {
		var zero T
		return zero, false
	}
	if f.state == fieldClear {
		var zero T
		return zero, true
	}
	return f.value, true
}

// Unchanged reports whether the field carries no update.
func (f Field[T]) Unchanged() bool {
	return f.state == fieldUnchanged
}

// SessionUpdate is a partial update of one enrichment session. Fields left
// unset keep their stored value.
type SessionUpdate struct {
	UserEmail       Field[string]
	SessionData     Field[[]byte]
	TotalCostUSD    Field[float64]
	TotalDurationMS Field[int64]
	Status          Field[string]
	ExpiresAt       Field[time.Time]
}

// assignments lists the columns this update touches with their new values,
// in a fixed column order so generated SQL is deterministic.
func (u SessionUpdate) assignments() ([]string, []any) {
	var cols []string
	var vals []any
	if v, ok := u.UserEmail.Get(); ok {
		cols = append(cols, "user_email")
		vals = append(vals, v)
	}
	if v, ok := u.SessionData.Get(); ok {
		cols = append(cols, "session_data")
		vals = append(vals, v)
	}
	if v, ok := u.TotalCostUSD.Get(); ok {
		cols = append(cols, "total_cost_usd")
		vals = append(vals, v)
	}
	if v, ok := u.TotalDurationMS.Get(); ok {
		cols = append(cols, "total_duration_ms")
		vals = append(vals, v)
	}
	if v, ok := u.Status.Get(); ok {
		cols = append(cols, "status")
		vals = append(vals, v)
	}
	if v, ok := u.ExpiresAt.Get(); ok {
		cols = append(cols, "expires_at")
		vals = append(vals, v)
	}
	return cols, vals
}
