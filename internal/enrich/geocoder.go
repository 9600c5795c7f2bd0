package enrich

import (
	"context"
	"strings"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/geocode"
)

// GeocodeAdapter verifies the company location through the free geocoding
// cascade. The Nominatim provider inside the cascade enforces the 1 req/s
// usage policy.
type GeocodeAdapter struct {
	cascade *geocode.Cascade
}

// NewGeocodeAdapter creates the location-verification adapter.
func NewGeocodeAdapter(cascade *geocode.Cascade) *GeocodeAdapter {
	return &GeocodeAdapter{cascade: cascade}
}

func (a *GeocodeAdapter) Name() string           { return "nominatim" }
func (a *GeocodeAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *GeocodeAdapter) Cost() float64          { return 0 }

// Enrich geocodes the best address the run knows so far.
func (a *GeocodeAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	address := buildAddress(req)
	if address == "" {
		return nil, &NotFoundError{Service: "nominatim", Detail: "no address to geocode"}
	}

	res, err := a.cascade.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	if !res.Matched {
		return nil, &NotFoundError{Service: "nominatim", Detail: "no match for address"}
	}

	data := map[string]any{
		"latitude":          res.Latitude,
		"longitude":         res.Longitude,
		"formatted_address": res.FormattedAddress,
		"geocode_source":    res.Source,
	}
	if res.City != "" {
		data["city"] = res.City
	}
	if res.State != "" {
		data["state"] = res.State
	}
	if res.Country != "" {
		data["country"] = res.Country
	}
	return data, nil
}

// buildAddress needs at least a street address or a city; a bare company
// name geocodes to noise.
func buildAddress(req Request) string {
	if req.Address != "" {
		return req.Address
	}
	if req.City == "" {
		return ""
	}
	parts := []string{req.City}
	if req.State != "" {
		parts = append(parts, req.State)
	}
	parts = append(parts, "Brasil")
	return strings.Join(parts, ", ")
}
