package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/horizonte-ai/atlas/internal/fetcher"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
	"github.com/horizonte-ai/atlas/pkg/clearbit"
	"github.com/horizonte-ai/atlas/pkg/ipapi"
	"github.com/horizonte-ai/atlas/pkg/linkedin"
	"github.com/horizonte-ai/atlas/pkg/openai"
	"github.com/horizonte-ai/atlas/pkg/opencorporates"
	"github.com/horizonte-ai/atlas/pkg/places"
	"github.com/horizonte-ai/atlas/pkg/receitaws"
)

// NoKeyError signals a call skipped because its API key is not configured.
// A missing key is a structured failure, never a crash.
type NoKeyError struct {
	Service string
}

func (e *NoKeyError) Error() string {
	return e.Service + ": api key not configured"
}

// NotFoundError signals that the source answered but has no record for the
// company.
type NotFoundError struct {
	Service string
	Detail  string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return e.Service + ": no record found"
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Detail)
}

// InvalidResponseError signals a response that arrived but could not be
// used (unexpected shape, failure status in a 200 body).
type InvalidResponseError struct {
	Service string
	Detail  string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%s: invalid response: %s", e.Service, e.Detail)
}

// Classify maps an adapter error to the SourceResult error taxonomy.
func Classify(err error) model.ErrorType {
	if err == nil {
		return ""
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return model.ErrCircuitOpen
	}

	var noKey *NoKeyError
	if errors.As(err, &noKey) {
		return model.ErrAuth
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return model.ErrNotFound
	}

	var invalid *InvalidResponseError
	if errors.As(err, &invalid) {
		return model.ErrInvalidResponse
	}

	if resilience.IsRateLimited(err) {
		return model.ErrRateLimit
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ErrDNS
	}

	if code, ok := statusCode(err); ok {
		return classifyStatus(code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return model.ErrInvalidResponse
	}

	return model.ErrUnknown
}

// statusCode extracts an HTTP status from the typed errors the transport
// clients return.
func statusCode(err error) (int, bool) {
	var transient *resilience.TransientError
	if errors.As(err, &transient) && transient.StatusCode > 0 {
		return transient.StatusCode, true
	}
	var fetchErr *fetcher.HTTPError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode, true
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	var clearbitErr *clearbit.APIError
	if errors.As(err, &clearbitErr) {
		return clearbitErr.StatusCode, true
	}
	var placesErr *places.APIError
	if errors.As(err, &placesErr) {
		return placesErr.StatusCode, true
	}
	var linkedinErr *linkedin.APIError
	if errors.As(err, &linkedinErr) {
		return linkedinErr.StatusCode, true
	}
	var receitaErr *receitaws.APIError
	if errors.As(err, &receitaErr) {
		return receitaErr.StatusCode, true
	}
	var ocErr *opencorporates.APIError
	if errors.As(err, &ocErr) {
		return ocErr.StatusCode, true
	}
	var ipErr *ipapi.APIError
	if errors.As(err, &ipErr) {
		return ipErr.StatusCode, true
	}
	return 0, false
}

func classifyStatus(code int) model.ErrorType {
	switch {
	case code == 401 || code == 403:
		return model.ErrAuth
	case code == 404:
		return model.ErrNotFound
	case code == 408:
		return model.ErrTimeout
	case code == 429:
		return model.ErrRateLimit
	case code >= 500:
		return model.ErrHTTP5xx
	case code >= 400:
		return model.ErrHTTP4xx
	default:
		return model.ErrUnknown
	}
}
