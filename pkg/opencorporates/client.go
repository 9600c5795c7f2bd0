// Package opencorporates implements the free company-registry search. It
// backs the static fields of the cold cache tier: registration data never
// changes once filed.
package opencorporates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.opencorporates.com/v0.4"

// Client performs OpenCorporates API operations.
type Client interface {
	SearchCompanies(ctx context.Context, name, jurisdiction string) (*SearchResponse, error)
}

// SearchResponse is the response from GET /companies/search.
type SearchResponse struct {
	Results Results `json:"results"`
}

// Results wraps the paginated company list.
type Results struct {
	Companies  []CompanyWrapper `json:"companies"`
	TotalCount int              `json:"total_count"`
}

// CompanyWrapper matches the API's one-key nesting.
type CompanyWrapper struct {
	Company Company `json:"company"`
}

// Company is one registry entry.
type Company struct {
	Name              string `json:"name"`
	CompanyNumber     string `json:"company_number"`
	JurisdictionCode  string `json:"jurisdiction_code"`
	IncorporationDate string `json:"incorporation_date"`
	CompanyType       string `json:"company_type"`
	CurrentStatus     string `json:"current_status"`
	RegistryURL       string `json:"registry_url"`
	OpencorporatesURL string `json:"opencorporates_url"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opencorporates: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithAPIToken sets the optional API token for the higher rate tier.
func WithAPIToken(token string) Option {
	return func(c *httpClient) {
		c.apiToken = token
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiToken string
	baseURL  string
	http     *http.Client
}

// NewClient creates an OpenCorporates client. The token is optional; the
// anonymous tier is enough for single-company lookups.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchCompanies(ctx context.Context, name, jurisdiction string) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("order", "score")
	if jurisdiction != "" {
		q.Set("jurisdiction_code", jurisdiction)
	}
	if c.apiToken != "" {
		q.Set("api_token", c.apiToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/companies/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "opencorporates: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "opencorporates: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "opencorporates: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "opencorporates: unmarshal response")
	}

	return &result, nil
}
