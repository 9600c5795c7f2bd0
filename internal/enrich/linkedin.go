package enrich

import (
	"context"
	"fmt"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/linkedin"
)

// LinkedInAdapter pulls the company profile behind the submitted LinkedIn
// URL. A nil client means no key was configured.
type LinkedInAdapter struct {
	client linkedin.Client
}

// NewLinkedInAdapter creates the paid profile adapter. client may be nil.
func NewLinkedInAdapter(client linkedin.Client) *LinkedInAdapter {
	return &LinkedInAdapter{client: client}
}

func (a *LinkedInAdapter) Name() string           { return "linkedin" }
func (a *LinkedInAdapter) Tier() model.SourceTier { return model.TierPaid }
func (a *LinkedInAdapter) Cost() float64          { return 0.03 }

// Enrich fetches the company profile for the submitted URL.
func (a *LinkedInAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if a.client == nil {
		return nil, &NoKeyError{Service: "linkedin"}
	}
	if req.LinkedInURL == "" {
		return nil, &NotFoundError{Service: "linkedin", Detail: "no linkedin url provided"}
	}

	prof, err := a.client.CompanyProfile(ctx, req.LinkedInURL)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"linkedin_url": req.LinkedInURL,
	}
	if prof.Name != "" {
		data["company_name"] = prof.Name
	}
	if prof.Description != "" {
		data["description"] = prof.Description
	}
	if prof.Industry != "" {
		data["industry"] = prof.Industry
	}
	if prof.FoundedYear > 0 {
		data["founded_year"] = prof.FoundedYear
	}
	if prof.FollowerCount > 0 {
		data["linkedin_followers"] = prof.FollowerCount
	}
	if len(prof.Specialities) > 0 {
		data["specialties"] = prof.Specialities
	}
	if prof.HQ.City != "" {
		data["city"] = prof.HQ.City
	}
	if prof.HQ.State != "" {
		data["state"] = prof.HQ.State
	}
	if prof.HQ.Country != "" {
		data["country"] = prof.HQ.Country
	}
	if size := formatCompanySize(prof.CompanySize); size != "" {
		data["employee_count"] = size
	}
	return data, nil
}

// formatCompanySize renders the provider's [min,max] pair as "min-max".
func formatCompanySize(size []int) string {
	switch {
	case len(size) >= 2 && size[0] > 0 && size[1] > 0:
		return fmt.Sprintf("%d-%d", size[0], size[1])
	case len(size) >= 1 && size[0] > 0:
		return fmt.Sprintf("%d", size[0])
	default:
		return ""
	}
}
