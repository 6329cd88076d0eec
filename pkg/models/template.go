// Package models defines the core domain models for multi-party coordination runs.
package models

import "time"

// StateType classifies a template state within the coordination lifecycle.
type StateType string

const (
	StateTypeCollect   StateType = "collect"   // Gathering initial requirements
	StateTypeNegotiate StateType = "negotiate" // Discussion and refinement
	StateTypeCommit    StateType = "commit"    // Formal agreements
	StateTypeEvidence  StateType = "evidence"  // Proof of work or completion
	StateTypeSignoff   StateType = "signoff"   // Final validation and closure
)

// SlotType declares how a slot value is validated and rendered.
type SlotType string

const (
	SlotTypeText        SlotType = "text"
	SlotTypeNumber      SlotType = "number"
	SlotTypeDate        SlotType = "date"
	SlotTypeFile        SlotType = "file"
	SlotTypeLocation    SlotType = "location"
	SlotTypeCurrency    SlotType = "currency"
	SlotTypeBoolean     SlotType = "boolean"
	SlotTypeSelect      SlotType = "select"
	SlotTypeMultiselect SlotType = "multiselect"
	SlotTypeEmail       SlotType = "email"
	SlotTypePhone       SlotType = "phone"
	SlotTypeURL         SlotType = "url"
	SlotTypeJSON        SlotType = "json"
)

// TemplateCategory groups templates by business purpose.
type TemplateCategory string

const (
	CategoryGeneral            TemplateCategory = "general"
	CategoryServiceRequest     TemplateCategory = "service_request"
	CategoryApprovalWorkflow   TemplateCategory = "approval_workflow"
	CategoryEventCoordination  TemplateCategory = "event_coordination"
	CategoryGroupPurchase      TemplateCategory = "group_purchase"
	CategoryProjectManagement  TemplateCategory = "project_management"
	CategoryContentReview      TemplateCategory = "content_review"
	CategoryBookingReservation TemplateCategory = "booking_reservation"
	CategorySupplyChain        TemplateCategory = "supply_chain"
	CategoryCustomerSupport    TemplateCategory = "customer_support"
)

// TemplateComplexity is a rough sizing hint for template discovery.
type TemplateComplexity string

const (
	ComplexitySimple     TemplateComplexity = "simple"
	ComplexityModerate   TemplateComplexity = "moderate"
	ComplexityComplex    TemplateComplexity = "complex"
	ComplexityEnterprise TemplateComplexity = "enterprise"
)

// TransitionRule is one declarative edge out of a template state. Rules are
// evaluated in declared order; the first whose condition holds wins.
type TransitionRule struct {
	To        string     `json:"to"                  validate:"required"`
	Condition *Condition `json:"condition,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
}

// TemplateState is one phase of the coordination workflow. States are
// identified within a template by their unique name and ordered by Sequence.
type TemplateState struct {
	Name           string           `json:"name"                     validate:"required,max=100"`
	Type           StateType        `json:"type"                     validate:"required"`
	Description    string           `json:"description,omitempty"    validate:"max=300"`
	Sequence       int              `json:"sequence"                 validate:"min=0,max=100"`
	RequiredSlots  []string         `json:"required_slots,omitempty"`
	AllowedRoles   []string         `json:"allowed_roles,omitempty"`
	Transitions    []TransitionRule `json:"transitions,omitempty"`
	TimeoutMinutes *int             `json:"timeout_minutes,omitempty"`
	UIHints        map[string]any   `json:"ui_hints,omitempty"`
}

// TemplateRole declares who may participate and in what numbers.
type TemplateRole struct {
	Name            string         `json:"name"                       validate:"required,max=50"`
	Description     string         `json:"description,omitempty"      validate:"max=200"`
	MinParticipants int            `json:"min_participants"           validate:"min=0,max=100"`
	MaxParticipants *int           `json:"max_participants,omitempty"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	Constraints     map[string]any `json:"constraints,omitempty"`
}

// TemplateSlot declares a named, typed data field collected during a run.
// Validation, when present, is a JSON-schema document applied to submitted
// values for this slot.
type TemplateSlot struct {
	Name         string         `json:"name"                   validate:"required,max=50"`
	Type         SlotType       `json:"type"                   validate:"required"`
	Description  string         `json:"description,omitempty"  validate:"max=200"`
	Required     bool           `json:"required"`
	DefaultValue any            `json:"default_value,omitempty"`
	Validation   map[string]any `json:"validation,omitempty"`
	Visibility   []string       `json:"visibility,omitempty"`
	Editable     []string       `json:"editable,omitempty"`
}

// Template is an immutable, versioned definition of a coordination workflow:
// ordered states, participant roles, data slots and transition rules.
type Template struct {
	ID                     string             `json:"id"`
	Name                   string             `json:"name"        validate:"required,max=100"`
	Description            string             `json:"description" validate:"required,max=500"`
	Version                string             `json:"version"`
	IsActive               bool               `json:"is_active"`
	Roles                  []TemplateRole     `json:"roles"       validate:"required,min=1,max=20"`
	States                 []TemplateState    `json:"states"      validate:"required,min=1,max=50"`
	Slots                  []TemplateSlot     `json:"slots,omitempty"       validate:"max=100"`
	Category               TemplateCategory   `json:"category"`
	Complexity             TemplateComplexity `json:"complexity"`
	Tags                   []string           `json:"tags,omitempty"        validate:"max=10"`
	EstimatedDurationHours *int               `json:"estimated_duration_hours,omitempty"`
	Metadata               map[string]any     `json:"metadata,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// StateByName returns the state with the given name, or nil.
func (t *Template) StateByName(name string) *TemplateState {
	for i := range t.States {
		if t.States[i].Name == name {
			return &t.States[i]
		}
	}

	return nil
}

// StateBySequence returns the state with the given sequence index, or nil.
func (t *Template) StateBySequence(seq int) *TemplateState {
	for i := range t.States {
		if t.States[i].Sequence == seq {
			return &t.States[i]
		}
	}

	return nil
}

// FirstState returns the state with the lowest sequence index, or nil for an
// empty template.
func (t *Template) FirstState() *TemplateState {
	var first *TemplateState

	for i := range t.States {
		if first == nil || t.States[i].Sequence < first.Sequence {
			first = &t.States[i]
		}
	}

	return first
}

// RoleByName returns the role with the given name, or nil.
func (t *Template) RoleByName(name string) *TemplateRole {
	for i := range t.Roles {
		if t.Roles[i].Name == name {
			return &t.Roles[i]
		}
	}

	return nil
}

// SlotByName returns the slot with the given name, or nil.
func (t *Template) SlotByName(name string) *TemplateSlot {
	for i := range t.Slots {
		if t.Slots[i].Name == name {
			return &t.Slots[i]
		}
	}

	return nil
}
