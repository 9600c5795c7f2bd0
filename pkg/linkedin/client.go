// Package linkedin implements the paid company-profile lookup through a
// LinkedIn data provider. Lookups key on the public company URL.
package linkedin

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

const defaultBaseURL = "https://nubela.co/proxycurl"

// Client performs company-profile lookups.
type Client interface {
	CompanyProfile(ctx context.Context, companyURL string) (*CompanyProfile, error)
}

// CompanyProfile is the provider's company payload.
type CompanyProfile struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Industry      string   `json:"industry"`
	CompanySize   []int    `json:"company_size"`
	HQ            Location `json:"hq"`
	FoundedYear   int      `json:"founded_year"`
	FollowerCount int      `json:"follower_count"`
	Specialities  []string `json:"specialities"`
	Website       string   `json:"website"`
}

// Location is a headquarters address.
type Location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// APIError is returned when the provider responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linkedin: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a company-profile client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CompanyProfile(ctx context.Context, companyURL string) (*CompanyProfile, error) {
	u := c.baseURL + "/api/linkedin/company?url=" + url.QueryEscape(companyURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "linkedin: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result CompanyProfile
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "linkedin: unmarshal response")
	}

	return &result, nil
}
