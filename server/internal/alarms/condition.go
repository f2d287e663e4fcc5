package alarms

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Condition is a comparison operator applied as `value <op> threshold`.
type Condition string

const (
	GreaterThan    Condition = ">"
	GreaterOrEqual Condition = ">="
	LessThan       Condition = "<"
	LessOrEqual    Condition = "<="
	Equal          Condition = "=="
	NotEqual       Condition = "!="
)

// ParseCondition returns the Condition spelled by s.
func ParseCondition(s string) (Condition, bool) {
	switch c := Condition(strings.TrimSpace(s)); c {
	case GreaterThan, GreaterOrEqual, LessThan, LessOrEqual, Equal, NotEqual:
		return c, true
	}
	return "", false
}

// Evaluate reports whether value satisfies cond against threshold.
//
// Ordering operators coerce both sides to float64: numbers as-is, bools as
// 1 or 0, strings when they parse as a number. Equality compares numbers by
// value regardless of integer or float kind, and strings and bools natively;
// operands of different kinds are never equal, so true == 1 is false even
// though true >= 1 holds. Any operand that cannot be
// compared yields false and a warning.
func Evaluate(value any, cond Condition, threshold any) bool {
	switch cond {
	case Equal:
		return equal(value, threshold)
	case NotEqual:
		return !equal(value, threshold)
	case GreaterThan, GreaterOrEqual, LessThan, LessOrEqual:
	default:
		slog.Warn("alarms: unknown condition", "condition", string(cond))
		return false
	}

	v, err := toFloat(value)
	if err != nil {
		slog.Warn("alarms: value not comparable", "condition", string(cond), "err", err)
		return false
	}
	t, err := toFloat(threshold)
	if err != nil {
		slog.Warn("alarms: threshold not comparable", "condition", string(cond), "err", err)
		return false
	}

	switch cond {
	case GreaterThan:
		return v > t
	case GreaterOrEqual:
		return v >= t
	case LessThan:
		return v < t
	default:
		return v <= t
	}
}

// number converts Go's numeric kinds to float64. Bools are not numbers here.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func toFloat(v any) (float64, error) {
	if f, ok := number(v); ok {
		return f, nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("string %q is not numeric", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// equal compares a and b for the == and != operators. A bool never equals a
// number (true != 1); only the ordering operators coerce bools.
func equal(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}
