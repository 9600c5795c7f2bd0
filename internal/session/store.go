// Package session persists enrichment sessions, learner history, analysis
// runs and the stage cache behind one Store interface with SQLite and
// Postgres backends.
package session

import (
	"context"
	"time"

	"github.com/horizonte-ai/atlas/internal/model"
)

// Session status values.
const (
	StatusActive = "active"
	StatusCached = "cached"
)

// RunFilter specifies criteria for listing analysis runs.
type RunFilter struct {
	State  model.ProcessingState `json:"state,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// SuggestionStat is the per-(source, field) count of auto-fill suggestions
// within a learner window.
type SuggestionStat struct {
	Source      string
	FieldName   string
	Suggestions int
}

// EditStat aggregates the user edits recorded against one (source, field)
// pair within a learner window. Rows with edit_type no_change are not
// counted as edits.
type EditStat struct {
	Source            string
	FieldName         string
	Edits             int
	SignificantEdits  int
	TotalEditDistance int
}

// Store defines the persistence interface shared by the SQLite and Postgres
// backends. Point reads return (nil, nil) when the record does not exist.
type Store interface {
	// Enrichment sessions. Warm-cache layer rows live in the same table,
	// keyed by cache_key.
	UpsertSession(ctx context.Context, sess *model.EnrichmentSession) error
	UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error
	GetSession(ctx context.Context, sessionID string) (*model.EnrichmentSession, error)
	GetLayer(ctx context.Context, domain, layer string) ([]byte, bool, error)
	SetLayer(ctx context.Context, domain, layer string, data []byte, ttl time.Duration) error

	// Learner history and the trust table it maintains.
	RecordSuggestion(ctx context.Context, sug *model.AutoFillSuggestion) error
	MarkSuggestionEdited(ctx context.Context, id, finalValue string, editedAt time.Time) error
	ListSuggestions(ctx context.Context, sessionID string) ([]model.AutoFillSuggestion, error)
	RecordValidation(ctx context.Context, rec *model.ValidationRecord) error
	SuggestionStats(ctx context.Context, since time.Time) ([]SuggestionStat, error)
	EditStats(ctx context.Context, since time.Time) ([]EditStat, error)
	UpsertSourcePerformance(ctx context.Context, perf *model.SourcePerformance) error
	UpsertSourcePerformanceBatch(ctx context.Context, perfs []model.SourcePerformance) error
	GetSourcePerformance(ctx context.Context, source, fieldName string) (*model.SourcePerformance, error)
	ListSourcePerformance(ctx context.Context) ([]model.SourcePerformance, error)

	// Analysis runs.
	CreateRun(ctx context.Context, sub model.Submission) (*model.AnalysisRun, error)
	UpdateRunState(ctx context.Context, runID string, state model.ProcessingState) error
	CompleteRun(ctx context.Context, runID string, report model.Report) error
	FailRun(ctx context.Context, runID string, errorMessage string) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error)
	CountRunsByState(ctx context.Context) (map[model.ProcessingState]int, error)

	// Stage cache.
	GetStage(ctx context.Context, key string) ([]byte, error)
	SetStage(ctx context.Context, key string, data []byte, ttl time.Duration) error
	PruneExpired(ctx context.Context) (int, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// layerKey is the cache_key for one warm-cache layer row.
func layerKey(domain, layer string) string {
	return domain + "/" + layer
}
