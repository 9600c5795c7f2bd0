package model

import "time"

// QualityTier labels how much external data coverage a run had. The tier
// gates which Stage 3 sections are requested.
type QualityTier string

const (
	TierLegendary QualityTier = "legendary"
	TierFull      QualityTier = "full"
	TierGood      QualityTier = "good"
	TierPartial   QualityTier = "partial"
	TierMinimal   QualityTier = "minimal"
)

// UsageStats carries token counts for one LLM-backed branch of the report.
// A cache hit zeroes both fields.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Report is the nested stage-by-stage output tree. Branch schemas vary per
// stage; structured access happens through the validated types in the stage
// package, not here.
type Report map[string]any

// MetadataKey is the reserved root key for run metadata.
const MetadataKey = "_metadata"

// UsageStatsKey is the reserved per-branch key for token accounting.
const UsageStatsKey = "_usage_stats"

// Metadata is attached at the report root after the last stage.
type Metadata struct {
	GeneratedAt           time.Time         `json:"generated_at"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	StagesCompleted       []string          `json:"stages_completed"`
	ModelsUsed            map[string]string `json:"models_used"`
	QualityTier           QualityTier       `json:"quality_tier"`
	TotalCostActualUSD    float64           `json:"total_cost_actual_usd"`
	LoggingSummary        LoggingSummary    `json:"logging_summary"`
}

// LoggingSummary condenses the per-run analysis log into the report.
type LoggingSummary struct {
	Stages             []StageLog `json:"stages"`
	ValidationWarnings []string   `json:"validation_warnings,omitempty"`
	FieldsFound        int        `json:"fields_found"`
	FieldsExpected     int        `json:"fields_expected"`
	SourcesSucceeded   int        `json:"sources_succeeded"`
	SourcesFailed      int        `json:"sources_failed"`
}

// StageLog records one stage execution for the logging summary.
type StageLog struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Model      string `json:"model,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Cached     bool   `json:"cached"`
	Error      string `json:"error,omitempty"`
}

// Section returns the named top-level branch as a mapping, or nil when the
// key is absent or holds a different shape.
func (r Report) Section(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}
