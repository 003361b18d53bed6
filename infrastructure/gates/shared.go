// Package gates provides the five deterministic adherence gates that
// implement the ports.Gate interface, plus the ordered pipeline
// constructor. Each gate is stateless and independently testable;
// the pipeline always evaluates all five so the reason-code trail is
// complete regardless of where a task fails.
package gates

import (
	"strings"
)

// isTruthy interprets an arbitrary output value the way the evidence
// producers do: nil, false, zero numbers, blank strings, and empty
// collections are falsy; everything else is truthy.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// isEmptyValue reports whether an output value counts as empty for the
// output validation gate: nil, or a string that is blank after
// normalization. Other types are never empty; zero is a legitimate
// numeric output.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
