package stages

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the first JSON object or array out of model output,
// tolerating code fences and surrounding prose. Returns "" when none found.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if fenced := extractFenced(text); fenced != "" {
		text = fenced
	}
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func extractFenced(text string) string {
	idx := strings.Index(text, "```")
	if idx < 0 {
		return ""
	}
	rest := text[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip an optional language tag on the fence line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// decodeJSON unmarshals the first JSON value found in text into v.
func decodeJSON(text string, v interface{}) bool {
	raw := extractJSON(text)
	if raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// firstLine trims model output down to a single usable line, stripping
// quotes models like to wrap queries in.
func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[:nl]
	}
	return strings.Trim(strings.TrimSpace(text), `"'`)
}
