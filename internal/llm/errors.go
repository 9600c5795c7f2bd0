package llm

import "fmt"

// RefusalError means the model answered with a content-policy refusal
// instead of JSON. Stages treat it as a signal to fall back to another
// model rather than to retry the same one forever.
type RefusalError struct {
	Stage string
	Model string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("llm: %s: model %s refused the request", e.Stage, e.Model)
}

// InvalidOutputError means the reply held no parseable JSON object even
// after truncation repair.
type InvalidOutputError struct {
	Stage  string
	Model  string
	Detail string
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("llm: %s: model %s returned invalid output: %s", e.Stage, e.Model, e.Detail)
}

// ExternalServiceError wraps whatever error survived all attempts.
type ExternalServiceError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("llm: %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
