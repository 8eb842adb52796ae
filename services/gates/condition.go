package gates

import (
	"strings"

	"github.com/upb/redlab/models"
	"github.com/upb/redlab/services"
)

// Condition is a single deny_if/warn_if predicate. Exactly one form is
// populated: a field comparison (Field/Op plus Value or ValueFrom) or a
// text_not_contains term list.
type Condition struct {
	Field     string
	Op        string
	Value     interface{}
	ValueFrom string

	NotContainsAny []string
}

var comparisonOps = map[string]struct{}{
	">": {}, ">=": {}, "<": {}, "<=": {}, "==": {},
}

// parseCondition validates a deny_if/warn_if mapping.
func parseCondition(raw interface{}, ruleID, kind string) (*Condition, error) {
	mapping, ok := toStringMap(raw)
	if !ok {
		return nil, services.NewConfigError(
			"%s for gate rule %q must be a mapping", kind, ruleID)
	}
	if terms, present := mapping["text_not_contains"]; present {
		if len(mapping) != 1 {
			return nil, services.NewConfigError(
				"%s for gate rule %q mixes text_not_contains with other keys", kind, ruleID)
		}
		parsed, err := parseTextNotContains(terms, ruleID, kind)
		if err != nil {
			return nil, err
		}
		return &Condition{NotContainsAny: parsed}, nil
	}

	cond := &Condition{}
	for key, value := range mapping {
		switch key {
		case "field":
			cond.Field = strings.TrimSpace(models.Stringify(value))
		case "op":
			cond.Op = strings.TrimSpace(models.Stringify(value))
		case "value":
			cond.Value = value
		case "value_from":
			cond.ValueFrom = strings.TrimSpace(models.Stringify(value))
		default:
			return nil, services.NewConfigError(
				"%s for gate rule %q has unsupported key %q", kind, ruleID, key)
		}
	}
	if cond.Field == "" {
		return nil, services.NewConfigError(
			"%s for gate rule %q missing 'field'", kind, ruleID)
	}
	if _, ok := comparisonOps[cond.Op]; !ok {
		return nil, services.NewConfigError(
			"%s for gate rule %q has unsupported op %q", kind, ruleID, cond.Op)
	}
	if cond.Value == nil && cond.ValueFrom == "" {
		return nil, services.NewConfigError(
			"%s for gate rule %q needs 'value' or 'value_from'", kind, ruleID)
	}
	return cond, nil
}

func parseTextNotContains(raw interface{}, ruleID, kind string) ([]string, error) {
	mapping, ok := toStringMap(raw)
	if !ok {
		return nil, services.NewConfigError(
			"text_not_contains in %s for gate rule %q must be a mapping with 'any'", kind, ruleID)
	}
	terms, present := mapping["any"]
	if !present || len(mapping) != 1 {
		return nil, services.NewConfigError(
			"text_not_contains in %s for gate rule %q must have exactly an 'any' list", kind, ruleID)
	}
	list, ok := terms.([]interface{})
	if !ok || len(list) == 0 {
		return nil, services.NewConfigError(
			"text_not_contains 'any' in %s for gate rule %q must be a non-empty list", kind, ruleID)
	}
	parsed := make([]string, 0, len(list))
	for _, term := range list {
		text := strings.TrimSpace(models.Stringify(term))
		if text != "" {
			parsed = append(parsed, text)
		}
	}
	if len(parsed) == 0 {
		return nil, services.NewConfigError(
			"text_not_contains 'any' in %s for gate rule %q must be a non-empty list", kind, ruleID)
	}
	return parsed, nil
}

// Holds reports whether the condition is satisfied for the given text and
// context. A threshold or field the context cannot resolve makes the
// condition vacuously false: a gate never denies on data that is not there.
func (c *Condition) Holds(text string, ctx models.Context) bool {
	if c == nil {
		return false
	}
	if len(c.NotContainsAny) > 0 {
		lowered := strings.ToLower(text)
		for _, term := range c.NotContainsAny {
			if strings.Contains(lowered, strings.ToLower(term)) {
				return false
			}
		}
		return true
	}

	actualRaw, found := ctx.Lookup(c.Field)
	if !found {
		return false
	}
	expectedRaw := c.Value
	if c.ValueFrom != "" {
		resolved, ok := ctx.Lookup(c.ValueFrom)
		if !ok {
			return false
		}
		expectedRaw = resolved
	}

	actual, actualOK := models.OptionalFloat(actualRaw)
	expected, expectedOK := models.OptionalFloat(expectedRaw)
	if actualOK && expectedOK {
		switch c.Op {
		case ">":
			return actual > expected
		case ">=":
			return actual >= expected
		case "<":
			return actual < expected
		case "<=":
			return actual <= expected
		case "==":
			return actual == expected
		}
		return false
	}
	// non-numeric operands only support equality
	if c.Op == "==" {
		return models.Normalize(actualRaw) == models.Normalize(expectedRaw)
	}
	return false
}

// isConditionShape reports whether an applies_if mapping is itself a
// field/op condition rather than a plain field-equality predicate. Rule
// authors use both forms interchangeably.
func isConditionShape(mapping map[string]interface{}) bool {
	if _, ok := mapping["field"]; !ok {
		return false
	}
	_, ok := mapping["op"]
	return ok
}
