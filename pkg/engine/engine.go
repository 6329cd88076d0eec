// Package engine implements the pure transition decision logic for
// coordination runs. The engine performs no I/O: callers load the run,
// template and acting participant, and the engine decides whether a requested
// transition is legal and which state it leads to.
package engine

import (
	"fmt"
	"slices"

	"github.com/rouhapp/coordination/pkg/models"
)

// Decision is the outcome of validating a transition request. When Legal is
// false, Reason carries the specific unmet rule; MissingSlot and DeniedRole
// are set when the rejection names one.
type Decision struct {
	Legal       bool
	Reason      string
	MissingSlot string
	DeniedRole  string
	NextState   *models.TemplateState
}

func illegal(reason string) Decision {
	return Decision{Legal: false, Reason: reason}
}

// Validate decides whether the acting participant may advance the run out of
// its current state, and resolves the target state. Rules are applied in
// order: state-level role gate, required-slot completeness, target
// resolution, transition-level role restriction, and a recheck of the
// resolved transition's condition so an explicit target cannot bypass it.
func Validate(
	template *models.Template,
	current *models.TemplateState,
	actor *models.Participant,
	targetState string,
	slotData map[string]any,
) Decision {
	if len(current.AllowedRoles) > 0 && !slices.Contains(current.AllowedRoles, actor.RoleName) {
		decision := illegal(fmt.Sprintf("role %q is not allowed to act in state %q", actor.RoleName, current.Name))
		decision.DeniedRole = actor.RoleName

		return decision
	}

	for _, slot := range current.RequiredSlots {
		if value, ok := slotData[slot]; !ok || value == nil {
			decision := illegal(fmt.Sprintf("required slot %q is missing", slot))
			decision.MissingSlot = slot

			return decision
		}
	}

	var rule *models.TransitionRule

	var next *models.TemplateState

	if targetState != "" {
		next = template.StateByName(targetState)
		if next == nil {
			return illegal(fmt.Sprintf("target state %q does not exist in template", targetState))
		}

		if len(current.Transitions) > 0 {
			rule = ruleTo(current, targetState)
			if rule == nil {
				return illegal(fmt.Sprintf("no transition from state %q to state %q", current.Name, targetState))
			}
		}
	} else {
		rule = resolveRule(current, slotData)
		if rule != nil {
			next = template.StateByName(rule.To)
			if next == nil {
				return illegal(fmt.Sprintf("transition target %q does not exist in template", rule.To))
			}
		} else {
			// No rule resolved: fall back to the next state in sequence
			// order. This also covers a non-empty rule list where nothing
			// matched, which mirrors the template authors' expectation that
			// sequence order is the default path.
			next = template.StateBySequence(current.Sequence + 1)
			if next == nil {
				return illegal(fmt.Sprintf("no valid transition from state %q", current.Name))
			}
		}
	}

	if rule != nil {
		if len(rule.Roles) > 0 && !slices.Contains(rule.Roles, actor.RoleName) {
			decision := illegal(fmt.Sprintf("role %q may not take the transition to state %q", actor.RoleName, next.Name))
			decision.DeniedRole = actor.RoleName

			return decision
		}

		if !rule.Condition.Evaluate(slotData) {
			return illegal(fmt.Sprintf("condition for transition to state %q does not hold", next.Name))
		}
	}

	return Decision{Legal: true, NextState: next}
}

// resolveRule picks the transition rule for an implicit advance: the first
// rule whose condition holds, else the first unconditional rule.
func resolveRule(current *models.TemplateState, slotData map[string]any) *models.TransitionRule {
	for i := range current.Transitions {
		rule := &current.Transitions[i]
		if rule.Condition != nil && rule.Condition.Evaluate(slotData) {
			return rule
		}
	}

	for i := range current.Transitions {
		if current.Transitions[i].Condition == nil {
			return &current.Transitions[i]
		}
	}

	return nil
}

func ruleTo(current *models.TemplateState, target string) *models.TransitionRule {
	for i := range current.Transitions {
		if current.Transitions[i].To == target {
			return &current.Transitions[i]
		}
	}

	return nil
}
