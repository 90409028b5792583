// Package extractor pulls values out of response bodies, either from an
// already decoded JSON document ([ExtractPath]) or from the raw bytes with
// JSON path and regex rules ([ExtractAll]).
package extractor

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Rule defines one extraction from a raw response body.
type Rule struct {
	// JSONPath is a gjson path expression (e.g., "$.user.id", "user.id")
	JSONPath string

	// Regex is a regex pattern with optional capture group
	Regex string

	// Variable is the variable name to store the extracted value
	Variable string

	// OnError, if true, extracts even from error responses (4xx/5xx)
	OnError bool
}

// ExtractPath walks a decoded JSON value along a dot separated path.
// Map segments are key lookups, list segments must be non-negative integer
// indexes. found is false whenever the path cannot be resolved.
func ExtractPath(data any, path string) (value any, found bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			current, found = node[part]
			if !found {
				return nil, false
			}
		case map[any]any:
			current, found = node[part]
			if !found {
				return nil, false
			}
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) || strings.HasPrefix(part, "+") {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// ExtractAll applies all rules to the response body and returns extracted
// key-value pairs. Failures are logged and produce an empty value.
func ExtractAll(body []byte, rules []Rule, logger *zap.Logger) map[string]string {
	result := make(map[string]string)

	if len(rules) == 0 {
		return result
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, rule := range rules {
		var value string

		if rule.JSONPath != "" {
			value = findJSONPath(body, rule.JSONPath, logger)
		} else if rule.Regex != "" {
			value = findRegex(body, rule.Regex, logger)
		}

		result[rule.Variable] = value
	}

	return result
}

// ForStatus returns the rules that apply to a response with the given
// status code. Error responses only use rules marked OnError.
func ForStatus(rules []Rule, status int) []Rule {
	if status < 400 {
		return rules
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.OnError {
			out = append(out, r)
		}
	}
	return out
}
