package enrich

import (
	"context"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/clearbit"
)

// ClearbitAdapter buys firmographics by domain. A nil client means no key
// was configured and every call fails structurally.
type ClearbitAdapter struct {
	client clearbit.Client
}

// NewClearbitAdapter creates the paid enrichment adapter. client may be nil.
func NewClearbitAdapter(client clearbit.Client) *ClearbitAdapter {
	return &ClearbitAdapter{client: client}
}

func (a *ClearbitAdapter) Name() string           { return "clearbit" }
func (a *ClearbitAdapter) Tier() model.SourceTier { return model.TierPaid }
func (a *ClearbitAdapter) Cost() float64          { return 0.10 }

// Enrich looks the domain up in the provider's firmographic index.
func (a *ClearbitAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if a.client == nil {
		return nil, &NoKeyError{Service: "clearbit"}
	}
	if req.Domain == "" {
		return nil, &NotFoundError{Service: "clearbit", Detail: "no domain"}
	}

	comp, err := a.client.Find(ctx, req.Domain)
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	if comp.Name != "" {
		data["company_name"] = comp.Name
	}
	if comp.LegalName != "" {
		data["legal_name"] = comp.LegalName
	}
	if comp.Description != "" {
		data["description"] = comp.Description
	}
	if comp.Category.Industry != "" {
		data["industry"] = comp.Category.Industry
	}
	if comp.FoundedYear > 0 {
		data["founded_year"] = comp.FoundedYear
	}
	if comp.Metrics.Employees > 0 {
		data["employee_count"] = comp.Metrics.Employees
	} else if comp.Metrics.EmployeesRange != "" {
		data["employee_count"] = comp.Metrics.EmployeesRange
	}
	if comp.Metrics.EstimatedAnnualRevenue != "" {
		data["annual_revenue"] = comp.Metrics.EstimatedAnnualRevenue
	}
	if comp.Geo.City != "" {
		data["city"] = comp.Geo.City
	}
	if comp.Geo.State != "" {
		data["state"] = comp.Geo.State
	}
	if comp.Geo.Country != "" {
		data["country"] = comp.Geo.Country
	}
	if comp.LinkedIn.Handle != "" {
		data["linkedin_url"] = "https://www.linkedin.com/" + comp.LinkedIn.Handle
	}
	if len(comp.Tech) > 0 {
		data["website_tech"] = comp.Tech
	}
	if len(comp.Tags) > 0 {
		data["specialties"] = comp.Tags
	}
	return data, nil
}
