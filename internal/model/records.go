package model

import "time"

// AnalysisRun tracks one submission through the pipeline for the run store
// and the HTTP surface.
type AnalysisRun struct {
	ID           string          `json:"id"`
	Submission   Submission      `json:"submission"`
	State        ProcessingState `json:"state"`
	Report       Report          `json:"report,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EnrichmentSession is one progressive-enrichment row in the session store.
// SessionData is an opaque blob owned by the cache layer.
type EnrichmentSession struct {
	SessionID       string    `json:"session_id"`
	WebsiteURL      string    `json:"website_url"`
	UserEmail       string    `json:"user_email,omitempty"`
	SessionData     []byte    `json:"session_data"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	TotalDurationMS int64     `json:"total_duration_ms"`
	Status          string    `json:"status"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SourcePerformance is the learner-maintained trust record for one
// (source, field) pair. ConfidenceScore stays within [0.10, 0.98].
type SourcePerformance struct {
	Source            string    `json:"source"`
	FieldName         string    `json:"field_name"`
	ConfidenceScore   float64   `json:"confidence_score"`
	SuccessRate       float64   `json:"success_rate"`
	TotalAttempts     int       `json:"total_attempts"`
	SuccessfulFills   int       `json:"successful_fills"`
	LearnedAdjustment float64   `json:"learned_adjustment"`
	LastUpdated       time.Time `json:"last_updated"`
}

// AutoFillSuggestion records one value the system proposed to a user.
type AutoFillSuggestion struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	FieldName       string     `json:"field_name"`
	Source          string     `json:"source"`
	SuggestedValue  string     `json:"suggested_value"`
	ConfidenceScore float64    `json:"confidence_score"`
	WasEdited       bool       `json:"was_edited"`
	FinalValue      string     `json:"final_value,omitempty"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EditType classifies how far a user edit moved from the suggestion.
type EditType string

const (
	EditNoChange        EditType = "no_change"
	EditMinor           EditType = "minor"
	EditCorrection      EditType = "correction"
	EditMajor           EditType = "major"
	EditCompleteRewrite EditType = "complete_rewrite"
)

// ValidationRecord is one user edit in the field validation history.
type ValidationRecord struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	FieldName          string    `json:"field_name"`
	OriginalValue      string    `json:"original_value"`
	EditedValue        string    `json:"edited_value"`
	Source             string    `json:"source"`
	OriginalConfidence float64   `json:"original_confidence"`
	EditDistance       int       `json:"edit_distance"`
	EditType           EditType  `json:"edit_type"`
	UserID             string    `json:"user_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
