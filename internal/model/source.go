package model

// SourceTier groups adapters by cost profile. The selection policy decides
// per run which tiers may be called.
type SourceTier string

const (
	TierFree    SourceTier = "free"
	TierPaid    SourceTier = "paid"
	TierPremium SourceTier = "premium"
)

// ErrorType classifies an adapter failure for the reconciliation log and
// breaker bookkeeping.
type ErrorType string

const (
	ErrTimeout         ErrorType = "timeout"
	ErrHTTP4xx         ErrorType = "http_4xx"
	ErrHTTP5xx         ErrorType = "http_5xx"
	ErrDNS             ErrorType = "dns_error"
	ErrRateLimit       ErrorType = "rate_limit"
	ErrAuth            ErrorType = "auth_error"
	ErrCircuitOpen     ErrorType = "circuit_open"
	ErrNotFound        ErrorType = "not_found"
	ErrInvalidResponse ErrorType = "invalid_response"
	ErrUnknown         ErrorType = "unknown"
)

// SourceResult is the uniform envelope every data-source adapter produces.
// Failed calls always carry zero cost and no data.
type SourceResult struct {
	SourceName   string         `json:"source_name"`
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorType    ErrorType      `json:"error_type,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	CostUSD      float64        `json:"cost_usd"`
	Cached       bool           `json:"cached"`
}

// FieldLexicon is the shared normalised field vocabulary adapters emit.
// Adapters may return a subset; keys outside the lexicon are dropped by
// the reconciliation engine.
var FieldLexicon = []string{
	"company_name",
	"legal_name",
	"description",
	"industry",
	"employee_count",
	"annual_revenue",
	"founded_year",
	"city",
	"state",
	"country",
	"phone",
	"website_tech",
	"social_media",
	"rating",
	"reviews_count",
	"place_id",
	"linkedin_url",
	"linkedin_followers",
	"specialties",
	"cnpj",
	"cnae",
	"registration_status",
}

// StaticFields are the slow-changing registry facts eligible for the cold
// cache tier.
var StaticFields = []string{
	"legal_name",
	"founded_year",
	"company_number",
	"jurisdiction",
	"registration_status",
	"opencorporates_url",
}
