// Package receitaws implements the free Brazilian company-registry lookup
// by CNPJ. The public tier is unauthenticated and aggressively rate limited,
// so callers go through the resilience layer.
package receitaws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://receitaws.com.br"

var nonDigits = regexp.MustCompile(`\D`)

// Client performs CNPJ registry lookups.
type Client interface {
	Lookup(ctx context.Context, cnpj string) (*Company, error)
}

// Company is the registry payload for one CNPJ. The upstream answers 200
// with status ERROR for unknown numbers, so Status must be checked.
type Company struct {
	Status             string      `json:"status"`
	Message            string      `json:"message"`
	CNPJ               string      `json:"cnpj"`
	Nome               string      `json:"nome"`
	Fantasia           string      `json:"fantasia"`
	Abertura           string      `json:"abertura"`
	Situacao           string      `json:"situacao"`
	NaturezaJuridica   string      `json:"natureza_juridica"`
	Porte              string      `json:"porte"`
	CapitalSocial      string      `json:"capital_social"`
	Municipio          string      `json:"municipio"`
	UF                 string      `json:"uf"`
	AtividadePrincipal []Atividade `json:"atividade_principal"`
}

// Atividade is one CNAE activity entry.
type Atividade struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// OK reports whether the registry recognised the CNPJ.
func (c *Company) OK() bool { return c.Status == "OK" }

// APIError is returned when the registry responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("receitaws: HTTP %d: %s", e.StatusCode, e.Body)
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
	baseURL string
	http    *http.Client
}

// NewClient creates a ReceitaWS client. The public tier needs no key.
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

func (c *httpClient) Lookup(ctx context.Context, cnpj string) (*Company, error) {
	digits := nonDigits.ReplaceAllString(cnpj, "")
	if len(digits) != 14 {
		return nil, eris.Errorf("receitaws: cnpj must have 14 digits, got %d", len(digits))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/cnpj/"+digits, nil)
	if err != nil {
		return nil, eris.Wrap(err, "receitaws: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "receitaws: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "receitaws: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result Company
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "receitaws: unmarshal response")
	}

	return &result, nil
}
