package alerting

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ErrInvalidRule marks a rule that cannot be evaluated. Such rules are
// logged and skipped; they never abort an evaluation.
var ErrInvalidRule = errors.New("invalid alarm rule")

// floatEpsilon is the tolerance for float64 equality.
const floatEpsilon = 1e-9

// typecast normalizes a JSON scalar for comparison: "true"/"false" become
// booleans, numeric strings become float64, integer kinds become float64.
func typecast(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

// Compare evaluates `value op threshold`. It returns an error wrapping
// ErrInvalidRule when the operands cannot be compared with op.
func Compare(value any, op models.Operator, threshold any) (bool, error) {
	v, th := typecast(value), typecast(threshold)

	if op == models.OpContains {
		return contains(v, th)
	}

	switch a := v.(type) {
	case float64:
		b, ok := th.(float64)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare number with %T", ErrInvalidRule, th)
		}
		return compareThreshold(a, b, op)
	case bool:
		b, ok := th.(bool)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare bool with %T", ErrInvalidRule, th)
		}
		switch op {
		case models.OpEqual:
			return a == b, nil
		case models.OpNotEqual:
			return a != b, nil
		default:
			return false, fmt.Errorf("%w: operator %s not defined for bool", ErrInvalidRule, op)
		}
	case string:
		b, ok := th.(string)
		if !ok {
			b = FormatValue(th)
		}
		return compareStrings(a, b, op)
	case nil:
		return false, fmt.Errorf("%w: no value", ErrInvalidRule)
	default:
		// Objects and arrays compare by equality only.
		switch op {
		case models.OpEqual:
			return reflect.DeepEqual(v, th), nil
		case models.OpNotEqual:
			return !reflect.DeepEqual(v, th), nil
		default:
			return false, fmt.Errorf("%w: operator %s not defined for %T", ErrInvalidRule, op, v)
		}
	}
}

// compareThreshold compares a value against a threshold using the given operator.
func compareThreshold(value, threshold float64, op models.Operator) (bool, error) {
	switch op {
	case models.OpGreaterEqual:
		return value >= threshold, nil
	case models.OpGreater:
		return value > threshold, nil
	case models.OpLessEqual:
		return value <= threshold, nil
	case models.OpLess:
		return value < threshold, nil
	case models.OpEqual:
		return math.Abs(value-threshold) < floatEpsilon, nil
	case models.OpNotEqual:
		return math.Abs(value-threshold) >= floatEpsilon, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, op)
	}
}

func compareStrings(a, b string, op models.Operator) (bool, error) {
	switch op {
	case models.OpEqual:
		return a == b, nil
	case models.OpNotEqual:
		return a != b, nil
	case models.OpLess:
		return a < b, nil
	case models.OpLessEqual:
		return a <= b, nil
	case models.OpGreater:
		return a > b, nil
	case models.OpGreaterEqual:
		return a >= b, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, op)
	}
}

// contains reports whether value holds threshold: substring for strings,
// membership for lists.
func contains(value, threshold any) (bool, error) {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, FormatValue(threshold)), nil
	case []any:
		for _, el := range v {
			if reflect.DeepEqual(typecast(el), threshold) {
				return true, nil
			}
		}
		return false, nil
	case nil:
		return false, fmt.Errorf("%w: no value", ErrInvalidRule)
	default:
		return false, fmt.Errorf("%w: contains not defined for %T", ErrInvalidRule, value)
	}
}

// FormatValue renders a value for notification messages.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
