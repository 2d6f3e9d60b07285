package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluateCondition parses and evaluates a "<token> <op> <number>" string
// against the supplied indicator-value map, e.g. "rsi < 30" or
// "macdhist > 0". Tokens are looked up case-insensitively.
//
// Grounded on original_source's indicator_configs.rs, which scans a
// condition string for its comparison operator and numeric threshold the
// same way.
func evaluateCondition(cond string, values map[string]float64) (bool, error) {
	token, op, threshold, err := parseCondition(cond)
	if err != nil {
		return false, err
	}
	v, ok := values[token]
	if !ok {
		return false, fmt.Errorf("unknown indicator token %q", token)
	}
	switch op {
	case "<":
		return v < threshold, nil
	case "<=":
		return v <= threshold, nil
	case ">":
		return v > threshold, nil
	case ">=":
		return v >= threshold, nil
	case "==":
		return v == threshold, nil
	default:
		return false, fmt.Errorf("unsupported operator %q in condition %q", op, cond)
	}
}

var operators = []string{"<=", ">=", "==", "<", ">"}

func parseCondition(cond string) (token, op string, threshold float64, err error) {
	cond = strings.TrimSpace(cond)
	for _, candidate := range operators {
		if idx := strings.Index(cond, candidate); idx >= 0 {
			token = strings.ToLower(strings.TrimSpace(cond[:idx]))
			rest := strings.TrimSpace(cond[idx+len(candidate):])
			n, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return "", "", 0, fmt.Errorf("invalid threshold in condition %q: %w", cond, err)
			}
			return token, candidate, n, nil
		}
	}
	return "", "", 0, fmt.Errorf("no comparison operator found in condition %q", cond)
}

// extractThreshold scans a condition string for the first parseable number,
// falling back to def if none is found. Used to pull a user-supplied
// threshold out of a condition string even when the rest of the grammar
// (token, operator) is fixed by the strategy's built-in rule.
func extractThreshold(cond string, def float64) float64 {
	for _, field := range strings.Fields(cond) {
		field = strings.Trim(field, "<>=")
		if n, err := strconv.ParseFloat(field, 64); err == nil {
			return n
		}
	}
	return def
}
