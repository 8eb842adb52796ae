package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Tolerant scalar parsing for loosely-typed row streams. Rows arrive as
// arbitrary JSON written by multiple experiment scripts; numbers may be
// floats, strings, or missing entirely.

// Stringify renders any value as a string; nil becomes "".
func Stringify(value any) string {
	if value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprintf("%v", value)
}

// OptionalInt parses an integer from a scalar, tolerating float forms
// ("12.0") the way JSON-roundtripped counters arrive. Returns (0, false)
// when the value is absent or unparsable.
func OptionalInt(value any) (int, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	text := strings.TrimSpace(Stringify(value))
	if text == "" {
		return 0, false
	}
	if parsed, err := strconv.ParseFloat(text, 64); err == nil {
		return int(parsed), true
	}
	return 0, false
}

// OptionalFloat parses a float from a scalar. Returns (0, false) when the
// value is absent or unparsable.
func OptionalFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	text := strings.TrimSpace(Stringify(value))
	if text == "" {
		return 0, false
	}
	if parsed, err := strconv.ParseFloat(text, 64); err == nil {
		return parsed, true
	}
	return 0, false
}

// OptionalBool parses a boolean from a scalar. Only explicit boolean forms
// are accepted; anything else returns (false, false).
func OptionalBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	}
	return false, false
}
