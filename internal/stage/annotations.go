package stage

import (
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"
)

// numericClaimRe finds market-style numeric claims: currency amounts and
// percentages.
var numericClaimRe = regexp.MustCompile(`(?i)R\$\s*[\d.,]+\s*(?:trilh(?:ão|ao|ões|oes)|bilh(?:ão|ao|ões|oes)|milh(?:ão|ao|ões|oes)|mil)?|\d+(?:[.,]\d+)?\s*%`)

// sourceAnnotationRe matches the required "(fonte: …)" / "(estimativa: …)"
// annotations.
var sourceAnnotationRe = regexp.MustCompile(`(?i)\((?:fonte|estimativa):\s*[^)]+\)`)

// annotationWindow is how far after a claim an annotation may appear and
// still count as attached to it.
const annotationWindow = 120

// maxAnnotationWarnings caps the scan output so a sloppy reply does not
// flood the logging summary.
const maxAnnotationWarnings = 20

// scanSourceAnnotations walks every string in the report and flags numeric
// claims with no source annotation nearby. Log-only: auto-deleting claims
// loses more signal than the occasional unsourced number costs.
func scanSourceAnnotations(report map[string]any) []string {
	var warnings []string
	walkStrings(report, "", func(path, text string) {
		if len(warnings) >= maxAnnotationWarnings {
			return
		}
		claims := numericClaimRe.FindAllStringIndex(text, -1)
		if claims == nil {
			return
		}
		annotations := sourceAnnotationRe.FindAllStringIndex(text, -1)
		for _, claim := range claims {
			if len(warnings) >= maxAnnotationWarnings {
				return
			}
			if annotationCovers(annotations, claim[1]) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf(
				"afirmação numérica sem fonte em %s: %q", path, snippet(text, claim[0], claim[1]),
			))
		}
	})
	return warnings
}

// annotationCovers reports whether any annotation starts within the window
// after a claim's end.
func annotationCovers(annotations [][]int, claimEnd int) bool {
	for _, a := range annotations {
		if a[0] >= claimEnd && a[0]-claimEnd <= annotationWindow {
			return true
		}
	}
	return false
}

// snippet cuts context around a claim, nudged to rune boundaries.
func snippet(text string, start, end int) string {
	const pad = 30
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := end + pad
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}

// walkStrings visits every string value in a JSON tree with its dotted
// path, in sorted key order so warnings come out deterministic.
// Bookkeeping branches are skipped.
func walkStrings(v any, path string, visit func(path, text string)) {
	switch node := v.(type) {
	case string:
		visit(path, node)
	case map[string]any:
		keys := make([]string, 0, len(node))
		for key := range node {
			if key == "_usage_stats" {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			walkStrings(node[key], childPath, visit)
		}
	case []any:
		for i, child := range node {
			walkStrings(child, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}
