package enrich

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSONObject pulls the outermost {…} out of a model reply and
// decodes it. Replies routinely wrap the JSON in markdown fences or prose.
func extractJSONObject(service, raw string) (map[string]any, error) {
	if m := fenceRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, &InvalidResponseError{Service: service, Detail: "no json object in reply"}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, &InvalidResponseError{Service: service, Detail: err.Error()}
	}
	return out, nil
}

// stringList coerces a decoded JSON value into at most max strings.
func stringList(v any, max int) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
			if len(out) == max {
				break
			}
		}
	}
	return out
}
