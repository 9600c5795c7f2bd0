package enrich

import (
	"context"
	"strconv"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/opencorporates"
)

// OpenCorporatesAdapter searches the open company registry by name within
// the Brazilian jurisdiction. It is the main feeder of the cold cache's
// static fields.
type OpenCorporatesAdapter struct {
	client opencorporates.Client
}

// NewOpenCorporatesAdapter creates the registry-search adapter.
func NewOpenCorporatesAdapter(client opencorporates.Client) *OpenCorporatesAdapter {
	return &OpenCorporatesAdapter{client: client}
}

func (a *OpenCorporatesAdapter) Name() string           { return "opencorporates" }
func (a *OpenCorporatesAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *OpenCorporatesAdapter) Cost() float64          { return 0 }

// Enrich searches for the company and takes the best-scored match.
func (a *OpenCorporatesAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if req.Company == "" {
		return nil, &NotFoundError{Service: "opencorporates", Detail: "no company name"}
	}

	resp, err := a.client.SearchCompanies(ctx, req.Company, "br")
	if err != nil {
		return nil, err
	}
	if len(resp.Results.Companies) == 0 {
		return nil, &NotFoundError{Service: "opencorporates", Detail: "no registry match"}
	}

	comp := resp.Results.Companies[0].Company
	data := map[string]any{}
	if comp.Name != "" {
		data["legal_name"] = comp.Name
	}
	if comp.CompanyNumber != "" {
		data["company_number"] = comp.CompanyNumber
	}
	if comp.JurisdictionCode != "" {
		data["jurisdiction"] = comp.JurisdictionCode
	}
	if comp.CurrentStatus != "" {
		data["registration_status"] = comp.CurrentStatus
	}
	if comp.OpencorporatesURL != "" {
		data["opencorporates_url"] = comp.OpencorporatesURL
	}
	// IncorporationDate comes as yyyy-mm-dd.
	if len(comp.IncorporationDate) >= 4 {
		if year, err := strconv.Atoi(comp.IncorporationDate[:4]); err == nil {
			data["founded_year"] = year
		}
	}
	return data, nil
}
