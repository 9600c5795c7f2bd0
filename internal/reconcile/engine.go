package reconcile

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
)

const maxListItems = 5

// listFields are merged by union instead of picking one winner.
var listFields = map[string]bool{
	"specialties":  true,
	"website_tech": true,
}

// Contribution is one source's offer for a field, trust already adjusted.
type Contribution struct {
	Source string  `json:"source"`
	Value  any     `json:"value"`
	Trust  float64 `json:"trust"`
}

// Decision records one contested merge for the reconciliation log.
type Decision struct {
	Field      string         `json:"field"`
	Winner     string         `json:"winner"`
	Value      any            `json:"value"`
	Strategy   string         `json:"strategy"`
	Contenders []Contribution `json:"contenders"`
}

// Outcome is the reconciled record. Every field maps to exactly one
// winning source; inferred fields map to "gap_inference".
type Outcome struct {
	Fields      map[string]any     `json:"fields"`
	Confidences map[string]float64 `json:"confidences"`
	Sources     map[string]string  `json:"sources"`
	Log         []Decision         `json:"log,omitempty"`
}

// Engine merges SourceResults under a trust table. Learned per-source
// multipliers from the suggestion-feedback loop scale raw trust before
// any comparison.
type Engine struct {
	trust  *TrustConfig
	adjust map[string]float64
}

// NewEngine creates an engine over the given trust table.
func NewEngine(trust *TrustConfig) *Engine {
	if trust == nil {
		trust = DefaultTrustConfig()
	}
	return &Engine{trust: trust, adjust: map[string]float64{}}
}

// SetAdjustments installs learned per-source confidence multipliers.
func (e *Engine) SetAdjustments(adjust map[string]float64) {
	if adjust == nil {
		adjust = map[string]float64{}
	}
	e.adjust = adjust
}

// Reconcile merges the successful results in their given order. The order
// matters: first-seen breaks trust ties, so callers must pass results in
// the registry's fixed source order.
func (e *Engine) Reconcile(results []model.SourceResult) *Outcome {
	contributions := map[string][]Contribution{}
	var fieldOrder []string

	for _, res := range results {
		if !res.Success || len(res.Data) == 0 {
			continue
		}
		for _, field := range model.FieldLexicon {
			value, ok := res.Data[field]
			if !ok || isEmptyValue(value) {
				continue
			}
			if len(contributions[field]) == 0 {
				fieldOrder = append(fieldOrder, field)
			}
			contributions[field] = append(contributions[field], Contribution{
				Source: res.SourceName,
				Value:  value,
				Trust:  e.adjustedTrust(res.SourceName, field),
			})
		}
	}

	out := &Outcome{
		Fields:      map[string]any{},
		Confidences: map[string]float64{},
		Sources:     map[string]string{},
	}

	for _, field := range fieldOrder {
		contribs := contributions[field]
		if len(contribs) == 1 {
			out.Fields[field] = contribs[0].Value
			out.Confidences[field] = contribs[0].Trust
			out.Sources[field] = contribs[0].Source
			continue
		}

		var decision Decision
		if listFields[field] {
			decision = mergeList(field, contribs)
		} else {
			decision = pickHighestTrust(field, contribs)
		}
		out.Fields[field] = decision.Value
		out.Confidences[field] = confidenceFor(decision, contribs)
		out.Sources[field] = decision.Winner
		out.Log = append(out.Log, decision)
	}

	validateCNPJ(out)
	e.inferGaps(out)

	zap.L().Debug("reconciliation complete",
		zap.Int("fields", len(out.Fields)),
		zap.Int("contested", len(out.Log)),
	)
	return out
}

// adjustedTrust multiplies raw trust by the source's learned factor,
// clamped to [0,100].
func (e *Engine) adjustedTrust(source, field string) float64 {
	trust := e.trust.Trust(source, field)
	if factor, ok := e.adjust[source]; ok && factor > 0 {
		trust *= factor
	}
	if trust > 100 {
		return 100
	}
	if trust < 0 {
		return 0
	}
	return trust
}

// mergeList unions the contributions preserving first-seen item order,
// capped at maxListItems. The first contributor is recorded as winner.
func mergeList(field string, contribs []Contribution) Decision {
	var merged []string
	seen := map[string]bool{}
	for _, c := range contribs {
		for _, item := range toStringSlice(c.Value) {
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			merged = append(merged, item)
			if len(merged) == maxListItems {
				break
			}
		}
		if len(merged) == maxListItems {
			break
		}
	}
	return Decision{
		Field:      field,
		Winner:     contribs[0].Source,
		Value:      merged,
		Strategy:   "list_union",
		Contenders: contribs,
	}
}

// pickHighestTrust takes the highest-trust contribution; earlier entries
// win ties.
func pickHighestTrust(field string, contribs []Contribution) Decision {
	best := contribs[0]
	for _, c := range contribs[1:] {
		if c.Trust > best.Trust {
			best = c
		}
	}
	return Decision{
		Field:      field,
		Winner:     best.Source,
		Value:      best.Value,
		Strategy:   "highest_trust",
		Contenders: contribs,
	}
}

// confidenceFor is the mean trust for unions, the winner's trust otherwise.
func confidenceFor(decision Decision, contribs []Contribution) float64 {
	if decision.Strategy == "list_union" {
		var sum float64
		for _, c := range contribs {
			sum += c.Trust
		}
		return sum / float64(len(contribs))
	}
	for _, c := range contribs {
		if c.Source == decision.Winner {
			return c.Trust
		}
	}
	return 0
}

var cnpjDigitsRe = regexp.MustCompile(`\D`)

// validateCNPJ normalises the merged CNPJ to bare digits and docks 10
// confidence points when it is not exactly 14 digits long.
func validateCNPJ(out *Outcome) {
	raw, ok := out.Fields["cnpj"]
	if !ok {
		return
	}
	digits := cnpjDigitsRe.ReplaceAllString(fmt.Sprintf("%v", raw), "")
	if len(digits) == 14 {
		out.Fields["cnpj"] = digits
		return
	}
	conf := out.Confidences["cnpj"] - 10
	if conf < 0 {
		conf = 0
	}
	out.Confidences["cnpj"] = conf
	zap.L().Debug("reconciliation: malformed cnpj",
		zap.String("cnpj", fmt.Sprintf("%v", raw)),
	)
}

// isEmptyValue filters contributions that would only add noise.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case map[string]string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// toStringSlice accepts the two shapes list fields arrive in: []string
// straight from an adapter, []any after a cache round-trip through JSON.
func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
