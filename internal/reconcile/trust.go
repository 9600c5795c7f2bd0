// Package reconcile merges the fan-out's per-source field contributions
// into one record, weighing each source by a configurable trust table and
// filling gaps by inference.
package reconcile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/horizonte-ai/atlas/internal/model"
)

// fallbackTrust is used for sources the table has never heard of.
const fallbackTrust = 50

// TrustConfig assigns a trust score ∈ [0,100] to every (source, field)
// pair. Lookup order: per-field override, per-source default, tier
// default, then fallbackTrust.
type TrustConfig struct {
	TierDefaults map[string]float64     `yaml:"tier_defaults"`
	Sources      map[string]SourceTrust `yaml:"sources"`
}

// SourceTrust configures one source.
type SourceTrust struct {
	Tier    string             `yaml:"tier"`
	Default float64            `yaml:"default"`
	Fields  map[string]float64 `yaml:"fields"`
}

// Trust returns the raw trust for a source reporting a field.
func (c *TrustConfig) Trust(source, field string) float64 {
	st, ok := c.Sources[source]
	if !ok {
		return fallbackTrust
	}
	if v, ok := st.Fields[field]; ok {
		return v
	}
	if st.Default > 0 {
		return st.Default
	}
	if v, ok := c.TierDefaults[st.Tier]; ok {
		return v
	}
	return fallbackTrust
}

// DefaultTrustConfig returns the built-in table. Registry sources score
// highest on legal facts, direct website observation on technical facts,
// and inference sources lowest everywhere.
func DefaultTrustConfig() *TrustConfig {
	return &TrustConfig{
		TierDefaults: map[string]float64{
			string(model.TierFree):    50,
			string(model.TierPaid):    75,
			string(model.TierPremium): 65,
		},
		Sources: map[string]SourceTrust{
			"receitaws": {
				Tier:    string(model.TierFree),
				Default: 85,
				Fields: map[string]float64{
					"cnpj":                98,
					"legal_name":          95,
					"registration_status": 95,
					"founded_year":        92,
					"cnae":                95,
					"industry":            80,
					"city":                85,
					"state":               85,
					"country":             90,
				},
			},
			"opencorporates": {
				Tier:    string(model.TierFree),
				Default: 78,
				Fields: map[string]float64{
					"legal_name":          85,
					"registration_status": 82,
					"founded_year":        80,
				},
			},
			"metadata": {
				Tier:    string(model.TierFree),
				Default: 55,
				Fields: map[string]float64{
					"company_name": 75,
					"description":  70,
					"website_tech": 85,
					"social_media": 80,
					"linkedin_url": 75,
					"phone":        60,
				},
			},
			"metadata_enhanced": {
				Tier:    string(model.TierFree),
				Default: 55,
				Fields: map[string]float64{
					"phone":        70,
					"cnpj":         85,
					"social_media": 80,
				},
			},
			"ipgeo": {
				Tier:    string(model.TierFree),
				Default: 35,
				Fields: map[string]float64{
					"country": 45,
				},
			},
			"groq_inference": {
				Tier:    string(model.TierFree),
				Default: 30,
				Fields: map[string]float64{
					"industry": 40,
				},
			},
			"nominatim": {
				Tier:    string(model.TierFree),
				Default: 60,
				Fields: map[string]float64{
					"city":    65,
					"state":   65,
					"country": 70,
				},
			},
			"clearbit": {
				Tier:    string(model.TierPaid),
				Default: 72,
				Fields: map[string]float64{
					"employee_count": 80,
					"annual_revenue": 78,
					"industry":       75,
					"website_tech":   70,
				},
			},
			"google_places": {
				Tier:    string(model.TierPaid),
				Default: 70,
				Fields: map[string]float64{
					"rating":        95,
					"reviews_count": 95,
					"place_id":      95,
					"phone":         80,
				},
			},
			"linkedin": {
				Tier:    string(model.TierPaid),
				Default: 72,
				Fields: map[string]float64{
					"linkedin_followers": 95,
					"linkedin_url":       90,
					"employee_count":     75,
					"specialties":        70,
				},
			},
			"openai_deep": {
				Tier:    string(model.TierPremium),
				Default: 55,
				Fields: map[string]float64{
					"description": 60,
					"industry":    60,
				},
			},
		},
	}
}

// LoadTrustConfig reads a YAML override file and lays it over the
// defaults. Overrides replace whole source entries, not single fields.
func LoadTrustConfig(path string) (*TrustConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read trust config %s", path)
	}

	var overrides TrustConfig
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse trust config")
	}

	cfg := DefaultTrustConfig()
	for tier, v := range overrides.TierDefaults {
		cfg.TierDefaults[tier] = v
	}
	for source, st := range overrides.Sources {
		cfg.Sources[source] = st
	}
	return cfg, nil
}
