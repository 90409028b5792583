package variables

import (
	"regexp"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// Apply replaces {{name}} and {{name|default}} in template. A stored value
// wins over the default; an unknown name without a default is left as is.
func Apply(template string, store Store) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderRegex.FindStringSubmatch(match)
		key := strings.TrimSpace(parts[1])

		if store != nil {
			if val, ok := store.Get(key); ok {
				return val
			}
		}
		// {{key|}} has an empty default, {{key}} has none.
		if strings.Contains(match, "|") {
			return parts[2]
		}
		return match
	})
}

// ApplyValue substitutes placeholders in every string inside a decoded
// value. Maps and lists are copied; other values are returned unchanged.
func ApplyValue(v any, store Store) any {
	switch val := v.(type) {
	case string:
		return Apply(val, store)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = ApplyValue(inner, store)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = ApplyValue(inner, store)
		}
		return out
	}
	return v
}

// ApplyMap substitutes placeholders in every value of values.
func ApplyMap(values map[string]string, store Store) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = Apply(value, store)
	}
	return out
}
