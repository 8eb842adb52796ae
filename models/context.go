package models

import (
	"fmt"
	"strings"
)

// Context carries the per-call facts a gate or evaluator decision is made
// against (task, requested amount, policy knobs). It is supplied by the
// caller and treated as read-only for the duration of one evaluation.
type Context map[string]any

// Lookup resolves a dotted path (e.g. "policy.hard_limit") through nested
// mappings. The second return value distinguishes an absent path from an
// explicit null: a missing key yields (nil, false), a key set to null yields
// (nil, true).
func (c Context) Lookup(path string) (any, bool) {
	if c == nil {
		return nil, false
	}
	var current any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		node, ok := asMapping(current)
		if !ok {
			return nil, false
		}
		value, ok := node[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// asMapping coerces the mapping shapes yaml.v3 and encoding/json produce.
func asMapping(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprintf("%v", k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// Normalize renders a value for rule comparison: lower-cased, whitespace
// trimmed string form. nil normalizes to the empty string.
func Normalize(value any) string {
	if value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		text = fmt.Sprintf("%v", value)
	}
	return strings.ToLower(strings.TrimSpace(text))
}
