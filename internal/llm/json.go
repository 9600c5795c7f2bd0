package llm

import (
	"encoding/json"
	"strings"
)

// cleanResponse strips markdown fences and trims the reply down to the
// outermost {…} block. Models wrap JSON in fences or prose no matter how
// firmly the prompt forbids it.
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// repairTruncated closes unclosed brackets and braces in truncated JSON.
// Hitting the max-token ceiling mid-object is the single most common way
// long structured replies break.
func repairTruncated(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// A reply cut off inside a string needs the quote closed first.
	if inString {
		text = strings.TrimRight(text, "\\")
		text += `"`
	}

	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}

	return text
}

// extractJSON returns the first parseable rendering of the reply: cleaned,
// then truncation-repaired. The boolean reports whether repair was needed.
func extractJSON(text string) (string, bool, error) {
	cleaned := cleanResponse(text)
	if cleaned == "" || !strings.HasPrefix(cleaned, "{") {
		return "", false, errNoObject
	}
	if json.Valid([]byte(cleaned)) {
		return cleaned, false, nil
	}

	repaired := repairTruncated(cleaned)
	if json.Valid([]byte(repaired)) {
		return repaired, true, nil
	}
	return "", false, errUnparseable
}

var (
	errNoObject    = jsonError("no json object in reply")
	errUnparseable = jsonError("reply is not valid json even after repair")
)

type jsonError string

func (e jsonError) Error() string { return string(e) }
