package reconcile

import (
	"regexp"
	"strconv"
	"strings"
)

// inferredDiscount scales the parent field's confidence for derived values.
const inferredDiscount = 0.8

// modernTech is the whitelist that feeds the digital-maturity score.
// Deliberately excludes legacy markers (wordpress, jquery, bootstrap):
// having a website is not maturity, running a modern stack is.
var modernTech = map[string]bool{
	"react":              true,
	"vue":                true,
	"angular":            true,
	"nextjs":             true,
	"nuxt":               true,
	"svelte":             true,
	"typescript":         true,
	"graphql":            true,
	"tailwind":           true,
	"docker":             true,
	"kubernetes":         true,
	"aws":                true,
	"google_cloud":       true,
	"azure":              true,
	"shopify":            true,
	"vtex":               true,
	"nuvemshop":          true,
	"google_analytics":   true,
	"google_tag_manager": true,
	"hotjar":             true,
	"rd_station":         true,
	"hubspot":            true,
	"salesforce":         true,
	"intercom":           true,
	"stripe":             true,
	"segment":            true,
	"amplitude":          true,
	"mixpanel":           true,
	"cloudflare":         true,
}

// inferGaps derives company_size and digital_maturity from the merged
// fields. Derived values carry a discounted confidence and the synthetic
// source "gap_inference".
func (e *Engine) inferGaps(out *Outcome) {
	if _, has := out.Fields["company_size"]; !has {
		if n, ok := employeeCountValue(out.Fields["employee_count"]); ok {
			out.Fields["company_size"] = sizeBand(n)
			out.Confidences["company_size"] = inferredDiscount * out.Confidences["employee_count"]
			out.Sources["company_size"] = "gap_inference"
		}
	}

	if _, has := out.Fields["digital_maturity"]; !has {
		if tech := toStringSlice(out.Fields["website_tech"]); len(tech) > 0 {
			out.Fields["digital_maturity"] = digitalMaturity(tech)
			out.Confidences["digital_maturity"] = inferredDiscount * out.Confidences["website_tech"]
			out.Sources["digital_maturity"] = "gap_inference"
		}
	}
}

// sizeBand maps a headcount to the Brazilian SEBRAE-style bands.
func sizeBand(employees float64) string {
	switch {
	case employees < 10:
		return "Micro"
	case employees < 50:
		return "Pequena"
	case employees < 250:
		return "Média"
	default:
		return "Grande"
	}
}

var (
	employeeRangeRe  = regexp.MustCompile(`(\d+)\s*(?:-|–|a\s)\s*(\d+)`)
	employeeNumberRe = regexp.MustCompile(`\d+`)
)

// employeeCountValue parses the merged employee_count, which may be a
// number or a provider range string ("11-50", "51 a 200", "500+").
// Ranges resolve to their midpoint.
func employeeCountValue(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		if m := employeeRangeRe.FindStringSubmatch(val); len(m) == 3 {
			lo, err1 := strconv.ParseFloat(m[1], 64)
			hi, err2 := strconv.ParseFloat(m[2], 64)
			if err1 == nil && err2 == nil {
				return (lo + hi) / 2, true
			}
		}
		if m := employeeNumberRe.FindString(val); m != "" {
			if n, err := strconv.ParseFloat(m, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// digitalMaturity counts whitelist hits: four or more is Alta, two is
// Média, anything less Baixa.
func digitalMaturity(tech []string) string {
	var hits int
	for _, t := range tech {
		if modernTech[strings.ToLower(strings.TrimSpace(t))] {
			hits++
		}
	}
	switch {
	case hits >= 4:
		return "Alta"
	case hits >= 2:
		return "Média"
	default:
		return "Baixa"
	}
}
