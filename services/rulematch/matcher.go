// Package rulematch decides whether a rule's applies_if predicate selects a
// given trial context. It is shared by the success evaluator and the gate
// engine so both interpret predicates identically.
package rulematch

import "github.com/upb/redlab/models"

// Matches reports whether every key/value pair in appliesIf holds against the
// context. Keys resolve through nested mappings via dotted paths. Comparison
// is tolerant: both sides are coerced to strings, lowercased and trimmed, so
// 42, "42" and " 42 " all compare equal. A list value means membership: the
// context value must normalize equal to one of the list elements. An empty
// predicate matches everything.
func Matches(appliesIf map[string]interface{}, ctx models.Context) bool {
	for key, expected := range appliesIf {
		value, _ := ctx.Lookup(key)
		actual := models.Normalize(value)
		if !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

func matchValue(expected interface{}, actual string) bool {
	switch want := expected.(type) {
	case []interface{}:
		for _, candidate := range want {
			if models.Normalize(candidate) == actual {
				return true
			}
		}
		return false
	case []string:
		for _, candidate := range want {
			if models.Normalize(candidate) == actual {
				return true
			}
		}
		return false
	default:
		return models.Normalize(expected) == actual
	}
}
