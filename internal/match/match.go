package match

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// missing stands in for an absent key when reporting.
type missing struct{}

// Match compares actual against the tree from the root.
func (t Tree) Match(actual any) []string {
	return DeepMatch(t, actual, "")
}

// MatchRaw decodes expected and matches it against actual. It is a
// convenience for callers holding an undecoded expectation map.
func MatchRaw(expected map[string]any, actual any) []string {
	return DeepMatch(Decode(expected), actual, "")
}

// DeepMatch compares actual against expected, prefixing reported paths with
// path. Every mismatch yields one error; matching never stops early.
func DeepMatch(expected Tree, actual any, path string) []string {
	obj, ok := asObject(actual)
	if !ok {
		return []string{fmt.Sprintf("%s: expected dict, got %s", label(path), describe(actual))}
	}

	var errs []string
	for _, f := range expected {
		full := f.Key
		if path != "" {
			full = path + "." + f.Key
		}
		val, present := obj[f.Key]
		errs = append(errs, matchField(f.Expect, val, present, full)...)
	}
	return errs
}

func matchField(exp Expectation, val any, present bool, path string) []string {
	at := label(path)
	var got any = val
	if !present {
		got = missing{}
	}

	switch exp.Kind {
	case KindRegex:
		if !present || val == nil {
			return []string{fmt.Sprintf("%s: key missing, expected regex match", at)}
		}
		if exp.PatternErr != nil {
			return []string{fmt.Sprintf("%s: invalid regex %q: %v", at, exp.PatternSrc, exp.PatternErr)}
		}
		s := Stringify(val)
		if !exp.Pattern.MatchString(s) {
			return []string{fmt.Sprintf("%s: %q does not match regex %q", at, s, exp.PatternSrc)}
		}

	case KindLength:
		n, ok := length(val)
		if !present || !ok {
			return []string{fmt.Sprintf("%s: expected iterable, got %s", at, TypeName(got))}
		}
		if exp.LengthErr != nil {
			return []string{fmt.Sprintf("%s: %v", at, exp.LengthErr)}
		}
		switch exp.LengthOp {
		case LengthGreater:
			if n <= exp.Length {
				return []string{fmt.Sprintf("%s: length %d not > %d", at, n, exp.Length)}
			}
		case LengthGreaterEqual:
			if n < exp.Length {
				return []string{fmt.Sprintf("%s: length %d not >= %d", at, n, exp.Length)}
			}
		case LengthLess:
			if n >= exp.Length {
				return []string{fmt.Sprintf("%s: length %d not < %d", at, n, exp.Length)}
			}
		default:
			if n != exp.Length {
				return []string{fmt.Sprintf("%s: length %d != %d", at, n, exp.Length)}
			}
		}

	case KindType:
		// An absent key is checked as null.
		if ok, known := IsType(val, exp.TypeName); known && !ok {
			return []string{fmt.Sprintf("%s: expected type:%s, got %s", at, exp.TypeName, TypeName(got))}
		}

	case KindExists:
		if exp.Exists && !present {
			return []string{fmt.Sprintf("%s: key does not exist", at)}
		}
		if !exp.Exists && present {
			return []string{fmt.Sprintf("%s: key should not exist but does", at)}
		}

	case KindNested:
		if _, ok := asObject(val); !present || !ok {
			return []string{fmt.Sprintf("%s: expected dict, got %s", at, TypeName(got))}
		}
		return DeepMatch(exp.Tree, val, path)

	default:
		// An absent key compares as null.
		if !Equal(exp.Literal, val) {
			return []string{fmt.Sprintf("%s: expected %s, got %s", at, Format(exp.Literal), Format(got))}
		}
	}
	return nil
}

// MatchHeaders checks response headers. Keys are looked up
// case-insensitively; regex expectations use search semantics and every
// other expectation is compared as its literal source string.
func MatchHeaders(expected Tree, actual http.Header) []string {
	var errs []string
	for _, f := range expected {
		values, ok := actual[http.CanonicalHeaderKey(f.Key)]
		if !ok {
			values, ok = lookupFold(actual, f.Key)
		}
		var got any = missing{}
		var gotStr string
		if ok && len(values) > 0 {
			gotStr = values[0]
			got = gotStr
		}

		if f.Expect.Kind == KindRegex {
			if f.Expect.PatternErr != nil {
				errs = append(errs, fmt.Sprintf("Header['%s']: invalid regex %q: %v", f.Key, f.Expect.PatternSrc, f.Expect.PatternErr))
				continue
			}
			if !ok || !f.Expect.Pattern.MatchString(gotStr) {
				errs = append(errs, fmt.Sprintf("Header['%s']: %s does not match regex %q", f.Key, Format(got), f.Expect.PatternSrc))
			}
			continue
		}

		want := Stringify(f.Expect.Raw)
		if f.Expect.Kind == KindLiteral {
			want = Stringify(f.Expect.Literal)
		}
		if !ok || gotStr != want {
			errs = append(errs, fmt.Sprintf("Header['%s']: expected %q, got %s", f.Key, want, Format(got)))
		}
	}
	return errs
}

func lookupFold(h http.Header, key string) ([]string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func label(path string) string {
	if path == "" {
		return "Body"
	}
	return "Body['" + path + "']"
}

func describe(v any) string {
	if list, ok := v.([]any); ok {
		return fmt.Sprintf("list (length %d)", len(list))
	}
	return TypeName(v)
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		return stringKeys(m), true
	}
	return nil, false
}

func length(v any) (int, bool) {
	switch val := v.(type) {
	case string:
		return utf8.RuneCountInString(val), true
	case []any:
		return len(val), true
	case map[string]any:
		return len(val), true
	case map[any]any:
		return len(val), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

// IsType reports whether v belongs to the named type. known is false for
// names outside the vocabulary, which callers treat as a pass.
func IsType(v any, name string) (ok, known bool) {
	switch strings.ToLower(name) {
	case "string", "str":
		_, ok = v.(string)
	case "int", "integer":
		ok = isInt(v)
	case "float":
		ok = isFloat(v)
	case "number":
		ok = isInt(v) || isFloat(v)
	case "bool", "boolean":
		_, ok = v.(bool)
	case "list", "array":
		_, ok = v.([]any)
		if !ok && v != nil {
			k := reflect.ValueOf(v).Kind()
			ok = k == reflect.Slice || k == reflect.Array
		}
	case "dict", "object":
		_, ok = asObject(v)
	case "null", "none":
		ok = v == nil
	default:
		return false, false
	}
	return ok, true
}

// TypeName names the type of a decoded value using the type: vocabulary.
func TypeName(v any) string {
	switch v.(type) {
	case missing:
		return "missing"
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case map[string]any, map[any]any:
		return "dict"
	case []any:
		return "list"
	}
	if isInt(v) {
		return "int"
	}
	if isFloat(v) {
		return "float"
	}
	return fmt.Sprintf("%T", v)
}

func isInt(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		return !strings.ContainsAny(n.String(), ".eE")
	}
	return false
}

func isFloat(v any) bool {
	switch n := v.(type) {
	case float32, float64:
		return true
	case json.Number:
		return strings.ContainsAny(n.String(), ".eE")
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Equal compares two decoded values. Numbers compare by value regardless
// of their Go representation.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return false
		}
		if ia, ib, ok := bothInts(a, b); ok {
			return ia == ib
		}
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}

	if ma, ok := asObject(a); ok {
		mb, ok := asObject(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	}

	if la, ok := a.([]any); ok {
		lb, ok := b.([]any)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func bothInts(a, b any) (int64, int64, bool) {
	if !isInt(a) || !isInt(b) {
		return 0, 0, false
	}
	ia, errA := strconv.ParseInt(fmt.Sprint(a), 10, 64)
	ib, errB := strconv.ParseInt(fmt.Sprint(b), 10, 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return ia, ib, true
}

// Stringify renders a decoded value the way regex and header checks see it.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, map[any]any, []any:
		b, err := json.Marshal(normalize(val))
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// Format renders a value for error messages.
func Format(v any) string {
	switch val := v.(type) {
	case missing:
		return "<missing>"
	case string:
		return strconv.Quote(val)
	}
	return Stringify(v)
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		m := stringKeys(val)
		for k, inner := range m {
			m[k] = normalize(inner)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = normalize(inner)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalize(inner)
		}
		return out
	}
	return v
}
