package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParseJSON decodes a model reply into T after checking it against schema.
// Models often wrap JSON in markdown fences or prose, so the first JSON
// object in the reply is used.
func ParseJSON[T any](reply string, schema string) (T, error) {
	var out T
	doc := extractJSON(reply)
	if doc == "" {
		return out, ErrEmptyResponse
	}

	if schema != "" {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewStringLoader(doc),
		)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return out, fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
		}
	}

	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return out, err
	}
	return out, nil
}

func extractJSON(text string) string {
	s := strings.TrimSpace(removeCodeFences(text))
	if s == "" {
		return ""
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	openCh, closeCh := byte('{'), byte('}')
	if s[start] == '[' {
		openCh, closeCh = '[', ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openCh:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func removeCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
