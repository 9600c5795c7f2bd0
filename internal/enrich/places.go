package enrich

import (
	"context"
	"strings"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/places"
)

// PlacesAdapter verifies the company's physical presence: rating, review
// volume and the place id. A nil client means no key was configured.
type PlacesAdapter struct {
	client places.Client
}

// NewPlacesAdapter creates the paid location-verification adapter.
// client may be nil.
func NewPlacesAdapter(client places.Client) *PlacesAdapter {
	return &PlacesAdapter{client: client}
}

func (a *PlacesAdapter) Name() string           { return "google_places" }
func (a *PlacesAdapter) Tier() model.SourceTier { return model.TierPaid }
func (a *PlacesAdapter) Cost() float64          { return 0.02 }

// Enrich text-searches for the company, narrowing by city when known.
func (a *PlacesAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if a.client == nil {
		return nil, &NoKeyError{Service: "google_places"}
	}
	if req.Company == "" {
		return nil, &NotFoundError{Service: "google_places", Detail: "no company name"}
	}

	query := req.Company
	if req.City != "" {
		query += " " + req.City
	}

	resp, err := a.client.TextSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, &NotFoundError{Service: "google_places", Detail: "no places match"}
	}

	p := resp.Places[0]
	data := map[string]any{}
	if p.ID != "" {
		data["place_id"] = p.ID
	}
	if p.Rating > 0 {
		data["rating"] = p.Rating
	}
	if p.UserRatingCount > 0 {
		data["reviews_count"] = p.UserRatingCount
	}
	if p.InternationalPhoneNumber != "" {
		data["phone"] = p.InternationalPhoneNumber
	}
	if p.FormattedAddress != "" {
		data["formatted_address"] = p.FormattedAddress
	}
	if p.BusinessStatus != "" {
		data["business_status"] = p.BusinessStatus
	}
	// A websiteUri pointing at another domain usually means the search
	// matched a different business; flag it for reconciliation logs.
	if p.WebsiteURI != "" && req.Domain != "" &&
		!strings.Contains(strings.ToLower(p.WebsiteURI), strings.ToLower(req.Domain)) {
		data["domain_mismatch"] = true
	}
	return data, nil
}
