package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionNilHoldsTrivially(t *testing.T) {
	var c *Condition

	assert.True(t, c.Evaluate(map[string]any{}))
}

func TestConditionSlotEquals(t *testing.T) {
	c := &Condition{Op: ConditionSlotEquals, Slot: "status", Value: "done"}

	assert.True(t, c.Evaluate(map[string]any{"status": "done"}))
	assert.False(t, c.Evaluate(map[string]any{"status": "open"}))
	assert.False(t, c.Evaluate(map[string]any{}))
}

func TestConditionSlotEqualsNormalizesNumbers(t *testing.T) {
	// JSON decoding yields float64; authored templates may carry ints.
	c := &Condition{Op: ConditionSlotEquals, Slot: "count", Value: 3}

	assert.True(t, c.Evaluate(map[string]any{"count": float64(3)}))
	assert.False(t, c.Evaluate(map[string]any{"count": float64(4)}))
}

func TestConditionSlotExists(t *testing.T) {
	c := &Condition{Op: ConditionSlotExists, Slot: "evidence"}

	assert.True(t, c.Evaluate(map[string]any{"evidence": "photo.jpg"}))
	assert.False(t, c.Evaluate(map[string]any{"evidence": nil}))
	assert.False(t, c.Evaluate(map[string]any{}))
}

func TestConditionBooleanCombinators(t *testing.T) {
	hasAmount := &Condition{Op: ConditionSlotExists, Slot: "amount"}
	approved := &Condition{Op: ConditionSlotEquals, Slot: "approved", Value: true}

	and := &Condition{Op: ConditionAnd, Args: []*Condition{hasAmount, approved}}
	assert.True(t, and.Evaluate(map[string]any{"amount": 10, "approved": true}))
	assert.False(t, and.Evaluate(map[string]any{"amount": 10, "approved": false}))

	or := &Condition{Op: ConditionOr, Args: []*Condition{hasAmount, approved}}
	assert.True(t, or.Evaluate(map[string]any{"approved": true}))
	assert.False(t, or.Evaluate(map[string]any{}))

	not := &Condition{Op: ConditionNot, Arg: approved}
	assert.True(t, not.Evaluate(map[string]any{"approved": false}))
	assert.False(t, not.Evaluate(map[string]any{"approved": true}))
}

func TestConditionLiteral(t *testing.T) {
	assert.True(t, (&Condition{Op: ConditionLiteral, Value: true}).Evaluate(nil))
	assert.False(t, (&Condition{Op: ConditionLiteral, Value: false}).Evaluate(nil))
	assert.False(t, (&Condition{Op: ConditionLiteral, Value: "true"}).Evaluate(nil))
}

func TestConditionFailsClosed(t *testing.T) {
	unknown := &Condition{Op: "slotGreaterThan", Slot: "amount", Value: 5}
	assert.False(t, unknown.Evaluate(map[string]any{"amount": 10}))

	emptyNot := &Condition{Op: ConditionNot}
	assert.False(t, emptyNot.Evaluate(map[string]any{}))
}
