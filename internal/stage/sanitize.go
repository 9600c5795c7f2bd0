package stage

import (
	"regexp"
	"strings"
	"unicode"
)

// maxExternalChars caps every external string fed into a prompt. Scraped
// pages and registry blobs can run to hundreds of kilobytes.
const maxExternalChars = 3000

// injectionRe matches known prompt-injection markers, case-insensitively.
var injectionRe = regexp.MustCompile(`(?i)(ignore\s+(?:all\s+)?previous\s+instructions|system\s*:|<\|im_start\|>|<\|im_end\|>)`)

// SanitizeString prepares one external string for prompt inclusion:
// control characters (except newline and tab) are dropped, injection
// markers removed, and the result truncated to maxExternalChars runes.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = injectionRe.ReplaceAllString(s, "")

	runes := []rune(s)
	if len(runes) > maxExternalChars {
		s = string(runes[:maxExternalChars])
	}
	return strings.TrimSpace(s)
}

// SanitizeMap deep-copies a JSON-shaped tree, sanitising every string
// value on the way. The input is never mutated.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, v := range m {
		out[key] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]any:
		return SanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = SanitizeString(item)
		}
		return out
	default:
		return v
	}
}
