// Package enrich gathers company facts from external data sources. Each
// source is an Adapter wrapped by a Monitor that enforces the circuit
// breaker and converts every outcome, including panics, into a uniform
// model.SourceResult. The fan-out runs selected adapters concurrently under
// a single deadline; reconciliation of the results lives in
// internal/reconcile.
package enrich

import (
	"context"

	"github.com/horizonte-ai/atlas/internal/model"
)

// Request carries the submission facts an adapter may use. Adapters ignore
// fields they have no use for; optional hints (CNPJ, LinkedIn URL, address)
// come from the submission or from sources that ran earlier.
type Request struct {
	Domain      string // normalised, no scheme
	WebsiteURL  string // as submitted, may be empty
	Company     string
	Industry    string
	City        string
	State       string
	Address     string
	CNPJ        string
	LinkedInURL string
}

// Adapter is a single external data source. Enrich returns fields from the
// shared lexicon (model.FieldLexicon); extra keys are kept for the session
// blob and the cold cache but are ignored by reconciliation.
type Adapter interface {
	Name() string
	Tier() model.SourceTier

	// Cost is the flat fee charged per successful call, in USD. Free
	// adapters return 0.
	Cost() float64

	Enrich(ctx context.Context, req Request) (map[string]any, error)
}
