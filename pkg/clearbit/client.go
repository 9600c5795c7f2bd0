// Package clearbit implements the paid company-enrichment lookup keyed by
// domain. Every successful call bills a flat fee, so callers cache hard.
package clearbit

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

const defaultBaseURL = "https://company-stream.clearbit.com"

// Client performs Clearbit Company API operations.
type Client interface {
	Find(ctx context.Context, domain string) (*Company, error)
}

// Company is the enrichment payload for one domain.
type Company struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	LegalName     string   `json:"legalName"`
	Domain        string   `json:"domain"`
	FoundedYear   int      `json:"foundedYear"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	Tech          []string `json:"tech"`
	Category      Category `json:"category"`
	Metrics       Metrics  `json:"metrics"`
	Geo           Geo      `json:"geo"`
	LinkedIn      Handle   `json:"linkedin"`
	EmailProvider bool     `json:"emailProvider"`
}

// Category classifies the company.
type Category struct {
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	SubIndustry string `json:"subIndustry"`
}

// Metrics holds size and revenue figures.
type Metrics struct {
	Employees              int    `json:"employees"`
	EmployeesRange         string `json:"employeesRange"`
	EstimatedAnnualRevenue string `json:"estimatedAnnualRevenue"`
	Raised                 int64  `json:"raised"`
}

// Geo locates the headquarters.
type Geo struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// Handle is a social-network handle.
type Handle struct {
	Handle string `json:"handle"`
}

// APIError is returned when Clearbit responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clearbit: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Clearbit Company API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
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

func (c *httpClient) Find(ctx context.Context, domain string) (*Company, error) {
	u := c.baseURL + "/v2/companies/find?domain=" + url.QueryEscape(domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result Company
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "clearbit: unmarshal response")
	}

	return &result, nil
}
