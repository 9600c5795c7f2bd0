package stage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// sizeClass is the plausibility band a company falls into for SOM/TAM
// ratio checks.
type sizeClass string

const (
	sizeSmall  sizeClass = "small"
	sizeMedium sizeClass = "medium"
	sizeLarge  sizeClass = "large"
)

// somTamBands bounds SOM/TAM per company size. A corner bakery claiming
// 2% of a national market is a hallucination, not ambition.
var somTamBands = map[sizeClass][2]float64{
	sizeSmall:  {0.0001, 0.005},
	sizeMedium: {0.005, 0.02},
	sizeLarge:  {0.02, 0.10},
}

// Revenue ceilings follow the official Brazilian porte definitions:
// EPP tops out at R$ 4.8M, médio porte at R$ 300M.
const (
	smallRevenueCeiling  = 4_800_000
	mediumRevenueCeiling = 300_000_000
)

// Longer unit alternatives come first: Go alternation is leftmost-first,
// so "mil|milhões" would stop at "mil" inside "milhões".
var marketAmountRe = regexp.MustCompile(`(?i)R\$\s*([\d.,]+)\s*(trilh(?:ão|ao|ões|oes)|bilh(?:ão|ao|ões|oes)|milh(?:ão|ao|ões|oes)|mil)?`)

// parseMarketAmount turns a Brazilian currency string like "R$ 2,5 bilhões"
// into an absolute value. Bare numbers are accepted as already-absolute.
func parseMarketAmount(v any) (float64, bool) {
	if n, ok := numValue(v); ok {
		return n, n > 0
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}

	m := marketAmountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, ok := brazilianNumber(m[1])
	if !ok || n <= 0 {
		return 0, false
	}

	unit := strings.ToLower(m[2])
	switch {
	case unit == "":
		return n, true
	case strings.HasPrefix(unit, "trilh"):
		return n * 1e12, true
	case strings.HasPrefix(unit, "bilh"):
		return n * 1e9, true
	case strings.HasPrefix(unit, "milh"):
		return n * 1e6, true
	default:
		return n * 1e3, true
	}
}

// brazilianNumber parses "1.234,56" style numerals. A lone dot followed by
// exactly three digits is a thousands separator, otherwise a decimal point.
func brazilianNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case hasComma:
		s = strings.ReplaceAll(s, ",", ".")
	case hasDot:
		idx := strings.LastIndex(s, ".")
		if len(s)-idx-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

var employeeRangeRe = regexp.MustCompile(`(\d+)\s*(?:-|–|a\s)\s*(\d+)`)
var firstNumberRe = regexp.MustCompile(`\d+`)

// classifyCompanySize detects the plausibility band from employee count,
// falling back to revenue. Unknown companies get the small band, the
// strictest one.
func classifyCompanySize(employeeCount, revenue any) sizeClass {
	if n, ok := employeeFigure(employeeCount); ok {
		switch {
		case n < 50:
			return sizeSmall
		case n < 250:
			return sizeMedium
		default:
			return sizeLarge
		}
	}
	if n, ok := parseMarketAmount(revenue); ok {
		switch {
		case n <= smallRevenueCeiling:
			return sizeSmall
		case n <= mediumRevenueCeiling:
			return sizeMedium
		default:
			return sizeLarge
		}
	}
	return sizeSmall
}

// employeeFigure extracts a headcount from ints, floats, or strings like
// "10-25" (midpoint) and "cerca de 30".
func employeeFigure(v any) (float64, bool) {
	if n, ok := numValue(v); ok {
		return n, n > 0
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	if m := employeeRangeRe.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return (lo + hi) / 2, true
	}
	if m := firstNumberRe.FindString(s); m != "" {
		n, err := strconv.ParseFloat(m, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

// insufficientMarketSizing is the sentinel that replaces an implausible
// TAM/SAM/SOM block.
func insufficientMarketSizing() map[string]any {
	return map[string]any{
		"status":   "dados_insuficientes",
		"mensagem": "Não foi possível estimar TAM/SAM/SOM com segurança a partir dos dados disponíveis. Os valores projetados não passaram na validação de plausibilidade.",
		"o_que_fornecer": []any{
			"Faturamento anual aproximado dos últimos 12 meses",
			"Número de clientes ativos e ticket médio",
			"Região de atuação e segmentos de clientes atendidos",
		},
	}
}

// validateMarketSizing checks the TAM/SAM/SOM triple inside the strategy
// report for internal consistency and size-band plausibility, replacing it
// with the insufficient-data sentinel on violation. Returns the warnings
// raised; the report is mutated in place.
func validateMarketSizing(report map[string]any, employeeCount, revenue any) []string {
	part := asMap(report[Part2WhereToGo])
	if part == nil {
		return nil
	}
	block := asMap(part[SectionMarketSizing])
	if block == nil {
		return nil
	}
	if status, _ := block["status"].(string); status == "dados_insuficientes" {
		return nil
	}

	replace := func(reason string) []string {
		part[SectionMarketSizing] = insufficientMarketSizing()
		zap.L().Warn("market sizing replaced with insufficient-data sentinel",
			zap.String("reason", reason),
		)
		return []string{fmt.Sprintf("tam_sam_som substituído: %s", reason)}
	}

	tam, okTAM := parseMarketAmount(block["tam"])
	sam, okSAM := parseMarketAmount(block["sam"])
	som, okSOM := parseMarketAmount(block["som"])
	if !okTAM || !okSAM || !okSOM {
		return replace("valores não numéricos ou ausentes")
	}

	if !(som <= sam && sam <= tam) {
		return replace(fmt.Sprintf("ordem inválida (SOM %.0f, SAM %.0f, TAM %.0f)", som, sam, tam))
	}

	size := classifyCompanySize(employeeCount, revenue)
	band := somTamBands[size]
	ratio := som / tam
	if ratio < band[0] || ratio > band[1] {
		return replace(fmt.Sprintf("SOM/TAM %.4f fora da faixa [%.4f, %.4f] para porte %s", ratio, band[0], band[1], size))
	}
	return nil
}
