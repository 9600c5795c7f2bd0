package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFromCoverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		coverage float64
		want     Tier
	}{
		{1.0, TierLegendary},
		{0.9, TierLegendary},
		{0.89, TierFull},
		{0.75, TierFull},
		{0.74, TierGood},
		{0.5, TierGood},
		{0.49, TierPartial},
		{0.25, TierPartial},
		{0.24, TierMinimal},
		{0, TierMinimal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFromCoverage(tt.coverage), "coverage %.2f", tt.coverage)
	}
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"company_name":   "TechStart",
		"legal_name":     "TechStart Tecnologia LTDA",
		"description":    "Plataforma SaaS B2B",
		"industry":       "Tecnologia",
		"employee_count": "10-25",
		"annual_revenue": "R$ 2 milhões",
		"founded_year":   2019.0,
		"city":           "São Paulo",
		"state":          "SP",
		"country":        "Brasil",
		"phone":          "+55 11 3333-4444",
	}

	// 11 of the 22 lexicon fields filled.
	assert.InDelta(t, 0.5, Coverage(fields), 0.001)
}

func TestCoverage_IgnoresEmptyAndUnknown(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"company_name": "TechStart",
		"city":         "",
		"state":        nil,
		"not_a_field":  "ignorado",
	}

	assert.InDelta(t, 1.0/22.0, Coverage(fields), 0.001)
	assert.Zero(t, Coverage(nil))
	assert.Zero(t, Coverage(map[string]any{}))
}

func TestEnabledSections(t *testing.T) {
	t.Parallel()

	full := EnabledSections(TierLegendary)
	assert.Len(t, full, 16)
	assert.Contains(t, full, SectionMarketSizing)
	assert.Contains(t, full, SectionOKRs)
	assert.Equal(t, full, EnabledSections(TierFull))
	assert.Equal(t, full, EnabledSections(TierGood))

	partial := EnabledSections(TierPartial)
	assert.Len(t, partial, 14)
	assert.NotContains(t, partial, SectionMarketSizing)
	assert.NotContains(t, partial, SectionOKRs)
	assert.Contains(t, partial, SectionScenarios)

	minimal := EnabledSections(TierMinimal)
	assert.Equal(t, []string{
		SectionPESTEL,
		SectionSWOT,
		SectionPositioning,
		SectionRecommendations,
	}, minimal)
}

func TestEnabledSections_ReturnsCopies(t *testing.T) {
	t.Parallel()

	got := EnabledSections(TierFull)
	require.NotEmpty(t, got)
	got[0] = "adulterado"

	assert.Equal(t, SectionPESTEL, EnabledSections(TierFull)[0])
}

func TestSectionEnabled(t *testing.T) {
	t.Parallel()

	assert.True(t, SectionEnabled(TierGood, SectionMarketSizing))
	assert.False(t, SectionEnabled(TierPartial, SectionMarketSizing))
	assert.False(t, SectionEnabled(TierPartial, SectionOKRs))
	assert.True(t, SectionEnabled(TierPartial, SectionRoadmap))
	assert.True(t, SectionEnabled(TierMinimal, SectionSWOT))
	assert.False(t, SectionEnabled(TierMinimal, SectionPorter))
}

func TestOKRQuarters(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, OKRQuarters(TierLegendary))
	assert.Equal(t, 4, OKRQuarters(TierFull))
	assert.Equal(t, 1, OKRQuarters(TierGood))
	assert.Equal(t, 0, OKRQuarters(TierPartial))
	assert.Equal(t, 0, OKRQuarters(TierMinimal))
}

func TestPartSections(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{SectionMarketSizing, SectionScenarios},
		partSections(TierFull, Part2WhereToGo),
	)
	assert.Equal(t,
		[]string{SectionScenarios},
		partSections(TierPartial, Part2WhereToGo),
	)
	assert.Equal(t,
		[]string{SectionBalancedScore, SectionRoadmap, SectionGrowthLoops},
		partSections(TierPartial, Part3HowToGetThere),
	)
	assert.Equal(t,
		[]string{SectionPESTEL, SectionSWOT, SectionPositioning},
		partSections(TierMinimal, Part1WhereWeAre),
	)
	assert.Empty(t, partSections(TierMinimal, Part3HowToGetThere))
}
