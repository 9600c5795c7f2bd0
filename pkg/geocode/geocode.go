// Package geocode resolves company addresses to coordinates through a
// cascade of providers: the free OpenStreetMap Nominatim endpoint first,
// then OpenCage when a key is configured.
package geocode

import (
	"context"

	"go.uber.org/zap"
)

// Result is one geocoding answer. City, State and Country are filled when
// the provider returns structured address components.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	City             string
	State            string
	Country          string
	Source           string
	Matched          bool
}

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, address string) (*Result, error)
	Available() bool
}

// Cascade tries providers in order until one matches.
type Cascade struct {
	providers []Provider
}

// NewCascade creates a Cascade over the given providers.
func NewCascade(providers ...Provider) *Cascade {
	return &Cascade{providers: providers}
}

// Geocode tries each available provider in order. Provider errors are
// logged and skipped; an unmatched Result is returned when all miss.
func (c *Cascade) Geocode(ctx context.Context, address string) (*Result, error) {
	if address == "" {
		return &Result{Matched: false, Source: "cascade"}, nil
	}

	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		result, err := p.Geocode(ctx, address)
		if err != nil {
			zap.L().Debug("geocode: provider error, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if result != nil && result.Matched {
			return result, nil
		}
	}

	return &Result{Matched: false, Source: "cascade"}, nil
}
