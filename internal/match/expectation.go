// Package match implements the expectation language used to validate
// response bodies and headers.
//
// An expectation tree is a map whose values are literals (exact match),
// operator-tagged strings, or nested trees:
//
//	regex:<pattern>   the value, rendered as a string, contains a match for pattern
//	len:<expr>        length of a list, string or object; expr is >N, >=N, <N or N
//	type:<name>       string|str, int|integer, float, number, bool|boolean,
//	                  list|array, dict|object, null|none
//	exists:<bool>     key presence (true|1|yes are truthy)
//	exact:<value>     literal comparison with the remainder, escaping the tags above
//
// Trees are decoded once with [Decode] and may be matched any number of times.
package match

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by an Expectation.
type Kind int

const (
	KindLiteral Kind = iota
	KindRegex
	KindLength
	KindType
	KindExists
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindRegex:
		return "regex"
	case KindLength:
		return "len"
	case KindType:
		return "type"
	case KindExists:
		return "exists"
	case KindNested:
		return "nested"
	default:
		return "unknown"
	}
}

// LengthOp is the comparison applied by a len: expectation.
type LengthOp int

const (
	LengthEqual LengthOp = iota
	LengthGreater
	LengthGreaterEqual
	LengthLess
)

// Expectation is one decoded node of an expectation tree.
type Expectation struct {
	Kind Kind

	// Literal holds the expected value for KindLiteral.
	Literal any

	// Pattern is the compiled regex for KindRegex. PatternErr is set
	// instead when the source did not compile.
	Pattern    *regexp.Regexp
	PatternSrc string
	PatternErr error

	LengthOp  LengthOp
	Length    int
	LengthSrc string
	LengthErr error

	TypeName string

	Exists bool

	Tree Tree

	// Raw is the value the expectation was decoded from.
	Raw any
}

// Field pairs a key with its expectation.
type Field struct {
	Key    string
	Expect Expectation
}

// Tree is a decoded expectation map. Fields are kept sorted by key so that
// matching reports errors in a stable order.
type Tree []Field

// Decode converts a raw expectation map into a Tree.
func Decode(raw map[string]any) Tree {
	if raw == nil {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tree := make(Tree, 0, len(keys))
	for _, k := range keys {
		tree = append(tree, Field{Key: k, Expect: DecodeValue(raw[k])})
	}
	return tree
}

// DecodeValue classifies a single expected value.
func DecodeValue(v any) Expectation {
	switch val := v.(type) {
	case map[string]any:
		return Expectation{Kind: KindNested, Tree: Decode(val), Raw: v}
	case map[any]any:
		return DecodeValue(stringKeys(val))
	case string:
		return decodeTagged(val)
	default:
		return Expectation{Kind: KindLiteral, Literal: v, Raw: v}
	}
}

func decodeTagged(s string) Expectation {
	switch {
	case strings.HasPrefix(s, "exact:"):
		return Expectation{Kind: KindLiteral, Literal: s[len("exact:"):], Raw: s}
	case strings.HasPrefix(s, "regex:"):
		src := s[len("regex:"):]
		re, err := regexp.Compile(src)
		return Expectation{Kind: KindRegex, Pattern: re, PatternSrc: src, PatternErr: err, Raw: s}
	case strings.HasPrefix(s, "len:"):
		exp := Expectation{Kind: KindLength, LengthSrc: s[len("len:"):], Raw: s}
		exp.LengthOp, exp.Length, exp.LengthErr = parseLength(exp.LengthSrc)
		return exp
	case strings.HasPrefix(s, "type:"):
		return Expectation{Kind: KindType, TypeName: s[len("type:"):], Raw: s}
	case strings.HasPrefix(s, "exists:"):
		flag := strings.ToLower(strings.TrimSpace(s[len("exists:"):]))
		return Expectation{Kind: KindExists, Exists: flag == "true" || flag == "1" || flag == "yes", Raw: s}
	default:
		return Expectation{Kind: KindLiteral, Literal: s, Raw: s}
	}
}

func parseLength(expr string) (LengthOp, int, error) {
	expr = strings.TrimSpace(expr)
	op := LengthEqual
	switch {
	case strings.HasPrefix(expr, ">="):
		op, expr = LengthGreaterEqual, expr[2:]
	case strings.HasPrefix(expr, ">"):
		op, expr = LengthGreater, expr[1:]
	case strings.HasPrefix(expr, "<"):
		op, expr = LengthLess, expr[1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(expr))
	if err != nil {
		return op, 0, fmt.Errorf("invalid length expression %q", expr)
	}
	return op, n, nil
}

func stringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}
