package generator

import (
	"encoding/json"
	"strings"
)

// extractJSON returns the outermost JSON object in s. Models often wrap
// output in code fences or add prose around it.
func extractJSON(s string) (json.RawMessage, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				raw := json.RawMessage(s[start : i+1])
				return raw, json.Valid(raw)
			}
		}
	}
	return nil, false
}
