package models

import "reflect"

// ConditionOp discriminates the shape of a transition condition.
type ConditionOp string

const (
	ConditionSlotEquals ConditionOp = "slotEquals"
	ConditionSlotExists ConditionOp = "slotExists"
	ConditionAnd        ConditionOp = "and"
	ConditionOr         ConditionOp = "or"
	ConditionNot        ConditionOp = "not"
	ConditionLiteral    ConditionOp = "literal"
)

// Condition is a recursive predicate over submitted slot data. Conditions are
// stored as template data, not code, so the transition graph stays
// data-driven and versionable alongside the template.
type Condition struct {
	Op    ConditionOp  `json:"op"`
	Slot  string       `json:"slot,omitempty"`
	Value any          `json:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
	Arg   *Condition   `json:"arg,omitempty"`
}

// Evaluate interprets the condition against slot data. A nil condition holds
// trivially. Unknown or malformed shapes evaluate to false: transitions fail
// closed rather than firing on conditions the interpreter cannot understand.
func (c *Condition) Evaluate(slotData map[string]any) bool {
	if c == nil {
		return true
	}

	switch c.Op {
	case ConditionSlotEquals:
		value, ok := slotData[c.Slot]
		if !ok {
			return false
		}

		return equalSlotValues(value, c.Value)
	case ConditionSlotExists:
		value, ok := slotData[c.Slot]

		return ok && value != nil
	case ConditionAnd:
		for _, arg := range c.Args {
			if arg == nil || !arg.Evaluate(slotData) {
				return false
			}
		}

		return true
	case ConditionOr:
		for _, arg := range c.Args {
			if arg != nil && arg.Evaluate(slotData) {
				return true
			}
		}

		return false
	case ConditionNot:
		if c.Arg == nil {
			return false
		}

		return !c.Arg.Evaluate(slotData)
	case ConditionLiteral:
		value, ok := c.Value.(bool)

		return ok && value
	default:
		return false
	}
}

// equalSlotValues compares a submitted slot value against a condition value.
// JSON decoding turns every number into float64, so numeric kinds are
// normalized before comparison.
func equalSlotValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}

		return false
	}

	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
