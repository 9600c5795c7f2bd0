package stage

import "github.com/horizonte-ai/atlas/internal/model"

// Tier is the data-quality label derived from input coverage. It gates
// which strategic-report sections stage 3 is asked to produce.
type Tier string

const (
	TierLegendary Tier = "legendary"
	TierFull      Tier = "full"
	TierGood      Tier = "good"
	TierPartial   Tier = "partial"
	TierMinimal   Tier = "minimal"
)

// Top-level keys of the four-part strategic report.
const (
	Part1WhereWeAre    = "parte_1_onde_estamos"
	Part2WhereToGo     = "parte_2_onde_queremos_ir"
	Part3HowToGetThere = "parte_3_como_chegar_la"
	Part4WhatToDoNow   = "parte_4_o_que_fazer_agora"
)

// ReportParts lists the four parts in order.
var ReportParts = []string{Part1WhereWeAre, Part2WhereToGo, Part3HowToGetThere, Part4WhatToDoNow}

// Section identifiers inside the four-part strategic report.
const (
	SectionPESTEL          = "analise_pestel"
	SectionPorter          = "sete_forcas_porter"
	SectionSWOT            = "analise_swot"
	SectionBlueOcean       = "oceano_azul"
	SectionPositioning     = "posicionamento_mercado"
	SectionMarketSizing    = "tam_sam_som"
	SectionScenarios       = "cenarios"
	SectionBalancedScore   = "balanced_scorecard"
	SectionOKRs            = "okrs_propostos"
	SectionRoadmap         = "roteiro_implementacao"
	SectionGrowthLoops     = "growth_loops"
	SectionRecommendations = "recomendacoes_prioritarias"
	SectionDecisionMatrix  = "matriz_decisao"
	SectionIntegrationMap  = "mapa_integracao"
	SectionCaseReferences  = "casos_brasileiros"
	SectionReviewCycle     = "ciclo_revisao"
)

// allSections is the full report in canonical order.
var allSections = []string{
	SectionPESTEL,
	SectionPorter,
	SectionSWOT,
	SectionBlueOcean,
	SectionPositioning,
	SectionMarketSizing,
	SectionScenarios,
	SectionBalancedScore,
	SectionOKRs,
	SectionRoadmap,
	SectionGrowthLoops,
	SectionRecommendations,
	SectionDecisionMatrix,
	SectionIntegrationMap,
	SectionCaseReferences,
	SectionReviewCycle,
}

// minimalSections is what a near-empty data footprint still earns.
var minimalSections = []string{
	SectionPESTEL,
	SectionSWOT,
	SectionPositioning,
	SectionRecommendations,
}

// TierFromCoverage maps the filled-field fraction to a tier.
func TierFromCoverage(coverage float64) Tier {
	switch {
	case coverage >= 0.9:
		return TierLegendary
	case coverage >= 0.75:
		return TierFull
	case coverage >= 0.5:
		return TierGood
	case coverage >= 0.25:
		return TierPartial
	default:
		return TierMinimal
	}
}

// Coverage is the fraction of lexicon fields present with non-empty values.
func Coverage(fields map[string]any) float64 {
	if len(fields) == 0 {
		return 0
	}
	filled := 0
	for _, name := range model.FieldLexicon {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		filled++
	}
	return float64(filled) / float64(len(model.FieldLexicon))
}

// EnabledSections is the one canonical tier → section mapping. The stage-3
// prompt and the report validators both consult it.
func EnabledSections(tier Tier) []string {
	switch tier {
	case TierLegendary, TierFull, TierGood:
		return append([]string(nil), allSections...)
	case TierPartial:
		out := make([]string, 0, len(allSections)-2)
		for _, s := range allSections {
			if s == SectionMarketSizing || s == SectionOKRs {
				continue
			}
			out = append(out, s)
		}
		return out
	default:
		return append([]string(nil), minimalSections...)
	}
}

// SectionEnabled reports whether a tier includes a section.
func SectionEnabled(tier Tier, section string) bool {
	for _, s := range EnabledSections(tier) {
		if s == section {
			return true
		}
	}
	return false
}

// OKRQuarters is how many quarters of OKRs the tier asks for. Good-tier
// reports keep OKRs but only for the first quarter.
func OKRQuarters(tier Tier) int {
	switch tier {
	case TierLegendary, TierFull:
		return 4
	case TierGood:
		return 1
	default:
		return 0
	}
}

// sectionPart places each section inside its report part.
var sectionPart = map[string]string{
	SectionPESTEL:          Part1WhereWeAre,
	SectionPorter:          Part1WhereWeAre,
	SectionSWOT:            Part1WhereWeAre,
	SectionBlueOcean:       Part1WhereWeAre,
	SectionPositioning:     Part1WhereWeAre,
	SectionMarketSizing:    Part2WhereToGo,
	SectionScenarios:       Part2WhereToGo,
	SectionBalancedScore:   Part3HowToGetThere,
	SectionOKRs:            Part3HowToGetThere,
	SectionRoadmap:         Part3HowToGetThere,
	SectionGrowthLoops:     Part3HowToGetThere,
	SectionRecommendations: Part4WhatToDoNow,
	SectionDecisionMatrix:  Part4WhatToDoNow,
	SectionIntegrationMap:  Part4WhatToDoNow,
	SectionCaseReferences:  Part4WhatToDoNow,
	SectionReviewCycle:     Part4WhatToDoNow,
}

// partSections returns the enabled sections that live in one report part,
// preserving canonical order.
func partSections(tier Tier, part string) []string {
	var out []string
	for _, s := range EnabledSections(tier) {
		if sectionPart[s] == part {
			out = append(out, s)
		}
	}
	return out
}
