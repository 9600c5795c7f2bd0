package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const opencageBaseURL = "https://api.opencagedata.com"

// OpenCageProvider geocodes through the OpenCage API. It only reports
// itself available when a key is configured.
type OpenCageProvider struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// OpenCageOption configures the provider.
type OpenCageOption func(*OpenCageProvider)

// WithOpenCageBaseURL overrides the default endpoint.
func WithOpenCageBaseURL(url string) OpenCageOption {
	return func(p *OpenCageProvider) {
		p.baseURL = url
	}
}

// WithOpenCageHTTPClient overrides the default http.Client.
func WithOpenCageHTTPClient(hc *http.Client) OpenCageOption {
	return func(p *OpenCageProvider) {
		p.http = hc
	}
}

// NewOpenCageProvider creates the provider.
func NewOpenCageProvider(apiKey string, opts ...OpenCageOption) *OpenCageProvider {
	p := &OpenCageProvider{
		apiKey:  apiKey,
		baseURL: opencageBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements Provider.
func (p *OpenCageProvider) Name() string { return "opencage" }

// Available implements Provider.
func (p *OpenCageProvider) Available() bool { return p.apiKey != "" }

type opencageResponse struct {
	Results []struct {
		Formatted string `json:"formatted"`
		Geometry  struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Components struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"components"`
	} `json:"results"`
}

// Geocode implements Provider.
func (p *OpenCageProvider) Geocode(ctx context.Context, address string) (*Result, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("key", p.apiKey)
	q.Set("limit", "1")
	q.Set("no_annotations", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/geocode/v1/json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "opencage: create request")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "opencage: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "opencage: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("opencage: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result opencageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "opencage: unmarshal response")
	}

	if len(result.Results) == 0 {
		return &Result{Matched: false, Source: "opencage"}, nil
	}

	first := result.Results[0]
	city := first.Components.City
	if city == "" {
		city = first.Components.Town
	}
	return &Result{
		Latitude:         first.Geometry.Lat,
		Longitude:        first.Geometry.Lng,
		FormattedAddress: first.Formatted,
		City:             city,
		State:            first.Components.State,
		Country:          first.Components.Country,
		Source:           "opencage",
		Matched:          true,
	}, nil
}
