package config

import (
	"fmt"
	"os"
	"regexp"
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::-(.*?))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in s. A variable that is
// unset and has no default is left as written.
func ExpandEnv(s string) string {
	return expandEnv(s, os.LookupEnv)
}

func expandEnv(s string, lookup func(string) (string, bool)) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := envPattern.FindStringSubmatch(m)
		if val, ok := lookup(groups[1]); ok {
			return val
		}
		// The default group is empty both for "${X:-}" and "${X}".
		if len(m) > len(groups[1])+3 {
			return groups[2]
		}
		return m
	})
}

// resolveTree expands environment references in every string of a decoded
// document and converts maps with non-string keys to map[string]any.
func resolveTree(v any, lookup func(string) (string, bool)) any {
	switch val := v.(type) {
	case string:
		return expandEnv(val, lookup)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = resolveTree(inner, lookup)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = resolveTree(inner, lookup)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = resolveTree(inner, lookup)
		}
		return out
	}
	return v
}
