// Package config loads run settings and API definition files.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Definition files and settings files are decoded into generic trees first.
// The helpers below turn tree values into typed fields. YAML yields native
// Go numbers and map[string]any or map[any]any; JSON numbers may arrive as
// json.Number. Empty strings and nil read as the zero value.

// lookupSetting returns the first candidate key present in settings, also
// trying each key in lower case so camelCase aliases written by hand match.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// number reads any numeric tree value, or a numeric string, as a float64.
func number(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("unsupported numeric type %T", value)
}

func blank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

// asInt reads counts such as expected_status, concurrency and max_retries.
// Floats truncate; numeric strings must be integers.
func asInt(value any) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	f, err := number(value)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// asFloat64 reads max_response_time (milliseconds) and the tracing sample
// rate.
func asFloat64(value any) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	f, err := number(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported float value %v: %w", value, err)
	}
	return f, nil
}

func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return false, fmt.Errorf("unsupported boolean type %T", value)
}

// asDuration reads endpoint and step timeouts, wait steps and backoff
// entries. Bare numbers, and numeric strings, are seconds with fractions
// allowed; other strings use time.ParseDuration ("250ms").
func asDuration(value any) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	if d, ok := value.(time.Duration); ok {
		return d, nil
	}
	f, err := number(value)
	if err == nil {
		return seconds(f), nil
	}
	if s, ok := value.(string); ok {
		return time.ParseDuration(strings.TrimSpace(s))
	}
	return 0, fmt.Errorf("unsupported duration type %T", value)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// asStringMap reads header and default_headers maps. Values are rendered as
// strings so `X-Version: 2` becomes "2".
func asStringMap(value any) (map[string]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return copyStringMap(v), nil
	case map[string]any:
		result := make(map[string]string, len(v))
		for k, val := range v {
			result[k], _ = asString(val)
		}
		return result, nil
	case map[any]any:
		result := make(map[string]string, len(v))
		for k, val := range v {
			key, _ := asString(k)
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("header key cannot be empty")
			}
			result[key], _ = asString(val)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported headers type %T", value)
}

// asStringSlice reads tag lists and the definitions setting. A single
// string is a one-element list.
func asStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			result[i], _ = asString(item)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported string slice type %T", value)
}

// toInterfaceSlice reads endpoint, scenario, step and message lists.
func toInterfaceSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	}
	return nil, fmt.Errorf("expected list, got %T", value)
}

// toStringKeyMap reads a nested block (tracing settings, extract rules)
// with keys trimmed and lower-cased.
func toStringKeyMap(value any) (map[string]any, error) {
	result := map[string]any{}
	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[any]any:
		for key, val := range v {
			str, _ := asString(key)
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return result, nil
}
