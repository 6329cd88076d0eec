package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTransitions(t *testing.T) {
	tests := []struct {
		from    RunStatus
		to      RunStatus
		allowed bool
	}{
		{RunStatusActive, RunStatusPaused, true},
		{RunStatusActive, RunStatusCompleted, true},
		{RunStatusActive, RunStatusCancelled, true},
		{RunStatusPaused, RunStatusActive, true},
		{RunStatusPaused, RunStatusCancelled, true},
		{RunStatusPaused, RunStatusCompleted, false},
		{RunStatusCompleted, RunStatusActive, false},
		{RunStatusCompleted, RunStatusCancelled, false},
		{RunStatusCancelled, RunStatusActive, false},
		{RunStatusCancelled, RunStatusPaused, false},
	}

	for _, tt := range tests {
		run := &Run{Status: tt.from}
		assert.Equal(t, tt.allowed, run.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRunIsTerminal(t *testing.T) {
	assert.False(t, (&Run{Status: RunStatusActive}).IsTerminal())
	assert.False(t, (&Run{Status: RunStatusPaused}).IsTerminal())
	assert.True(t, (&Run{Status: RunStatusCompleted}).IsTerminal())
	assert.True(t, (&Run{Status: RunStatusCancelled}).IsTerminal())
}

func TestTemplateLookups(t *testing.T) {
	template := &Template{
		States: []TemplateState{
			{Name: "second", Sequence: 1},
			{Name: "first", Sequence: 0},
		},
		Roles: []TemplateRole{{Name: "host"}},
		Slots: []TemplateSlot{{Name: "venue"}},
	}

	assert.Equal(t, "first", template.FirstState().Name)
	assert.Equal(t, "second", template.StateBySequence(1).Name)
	assert.Nil(t, template.StateBySequence(7))
	assert.NotNil(t, template.StateByName("first"))
	assert.Nil(t, template.StateByName("third"))
	assert.NotNil(t, template.RoleByName("host"))
	assert.Nil(t, template.RoleByName("guest"))
	assert.NotNil(t, template.SlotByName("venue"))
	assert.Nil(t, template.SlotByName("budget"))
}
