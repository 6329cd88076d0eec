package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/rouhapp/coordination/pkg/cache"
	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

var (
	roleNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	stateNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	slotNamePattern  = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)
	versionPattern   = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
)

const maxTimeoutMinutes = 43200 // 30 days

// Template manages template definitions: creation with full cross-reference
// validation, cached reads, and listing. Templates are immutable once
// created; a change means a new version.
type Template struct {
	persistence persistence.Persistence
	cache       cache.TemplateCache
	validate    *validator.Validate
}

// NewTemplate creates a new template service.
func NewTemplate(persistence persistence.Persistence, templateCache cache.TemplateCache) *Template {
	return &Template{
		persistence: persistence,
		cache:       templateCache,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create validates and stores a new template definition.
func (s *Template) Create(ctx context.Context, template *models.Template) (*models.Template, error) {
	if err := s.validate.Struct(template); err != nil {
		return nil, NewValidationError("Create", "INVALID_TEMPLATE", err.Error(), ErrInvalidTemplate)
	}

	if err := validateTemplateConsistency(template); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template.ID = uuid.New().String()
	template.CreatedAt = now
	template.UpdatedAt = now

	if template.Version == "" {
		template.Version = "1.0"
	}

	if template.Category == "" {
		template.Category = models.CategoryGeneral
	}

	if template.Complexity == "" {
		template.Complexity = models.ComplexitySimple
	}

	template.IsActive = true

	err := s.persistence.Templates().Save(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	return template, nil
}

// FetchByID retrieves a template, consulting the cache first. Templates are
// immutable, so a cache hit never serves stale run-relevant data.
func (s *Template) FetchByID(ctx context.Context, id string) (*models.Template, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	template, err := s.persistence.Templates().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if template == nil {
		return nil, ErrTemplateNotFound
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, template)
	}

	return template, nil
}

// List returns all stored templates.
func (s *Template) List(ctx context.Context) ([]*models.Template, error) {
	return s.persistence.Templates().List(ctx)
}

// Delete removes a template and drops it from the cache.
func (s *Template) Delete(ctx context.Context, id string) error {
	existing, err := s.persistence.Templates().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		return ErrTemplateNotFound
	}

	err = s.persistence.Templates().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}

	return nil
}

// validateTemplateConsistency cross-checks roles, states and slots: every
// reference must resolve, sequences must be unique and consecutive from 0,
// and names must follow their conventions.
func validateTemplateConsistency(template *models.Template) error {
	if template.Version != "" && !versionPattern.MatchString(template.Version) {
		return NewValidationError("Create", "INVALID_VERSION",
			fmt.Sprintf("invalid version %q, expected major.minor or major.minor.patch", template.Version),
			ErrInvalidTemplate)
	}

	roleNames := make(map[string]bool, len(template.Roles))

	for _, role := range template.Roles {
		if !roleNamePattern.MatchString(role.Name) {
			return NewValidationError("Create", "INVALID_ROLE_NAME",
				fmt.Sprintf("role name %q must be lowercase alphanumeric with underscores", role.Name),
				ErrInvalidTemplate)
		}

		if roleNames[role.Name] {
			return NewValidationError("Create", "DUPLICATE_ROLE",
				fmt.Sprintf("duplicate role name %q", role.Name), ErrInvalidTemplate)
		}

		roleNames[role.Name] = true

		if role.MaxParticipants != nil && *role.MaxParticipants < role.MinParticipants {
			return NewValidationError("Create", "INVALID_PARTICIPANT_BOUNDS",
				fmt.Sprintf("role %q: max participants must be >= min participants", role.Name),
				ErrInvalidTemplate)
		}
	}

	slotNames := make(map[string]bool, len(template.Slots))

	for _, slot := range template.Slots {
		if !slotNamePattern.MatchString(slot.Name) {
			return NewValidationError("Create", "INVALID_SLOT_NAME",
				fmt.Sprintf("slot name %q must start lowercase and use camelCase", slot.Name),
				ErrInvalidTemplate)
		}

		if slotNames[slot.Name] {
			return NewValidationError("Create", "DUPLICATE_SLOT",
				fmt.Sprintf("duplicate slot name %q", slot.Name), ErrInvalidTemplate)
		}

		slotNames[slot.Name] = true

		for _, roleRef := range append(append([]string{}, slot.Visibility...), slot.Editable...) {
			if !roleNames[roleRef] {
				return NewValidationError("Create", "UNKNOWN_ROLE",
					fmt.Sprintf("slot %q references unknown role %q", slot.Name, roleRef),
					ErrInvalidTemplate)
			}
		}

		if slot.Validation != nil {
			if err := compileSlotSchema(slot.Name, slot.Validation); err != nil {
				return err
			}
		}
	}

	stateNames := make(map[string]bool, len(template.States))
	sequences := make(map[int]bool, len(template.States))

	for _, state := range template.States {
		if !stateNamePattern.MatchString(state.Name) {
			return NewValidationError("Create", "INVALID_STATE_NAME",
				fmt.Sprintf("state name %q must be lowercase alphanumeric with hyphens or underscores", state.Name),
				ErrInvalidTemplate)
		}

		if stateNames[state.Name] {
			return NewValidationError("Create", "DUPLICATE_STATE",
				fmt.Sprintf("duplicate state name %q", state.Name), ErrInvalidTemplate)
		}

		stateNames[state.Name] = true

		if sequences[state.Sequence] {
			return NewValidationError("Create", "DUPLICATE_SEQUENCE",
				fmt.Sprintf("state %q reuses sequence %d", state.Name, state.Sequence),
				ErrInvalidTemplate)
		}

		sequences[state.Sequence] = true

		if state.TimeoutMinutes != nil && (*state.TimeoutMinutes <= 0 || *state.TimeoutMinutes > maxTimeoutMinutes) {
			return NewValidationError("Create", "INVALID_TIMEOUT",
				fmt.Sprintf("state %q: timeout must be between 1 minute and 30 days", state.Name),
				ErrInvalidTemplate)
		}
	}

	for seq := range len(template.States) {
		if !sequences[seq] {
			return NewValidationError("Create", "INVALID_SEQUENCES",
				"state sequences must be consecutive starting from 0", ErrInvalidTemplate)
		}
	}

	for _, state := range template.States {
		for _, roleRef := range state.AllowedRoles {
			if !roleNames[roleRef] {
				return NewValidationError("Create", "UNKNOWN_ROLE",
					fmt.Sprintf("state %q references unknown role %q", state.Name, roleRef),
					ErrInvalidTemplate)
			}
		}

		for _, slotRef := range state.RequiredSlots {
			if !slotNames[slotRef] {
				return NewValidationError("Create", "UNKNOWN_SLOT",
					fmt.Sprintf("state %q references unknown slot %q", state.Name, slotRef),
					ErrInvalidTemplate)
			}
		}

		for _, rule := range state.Transitions {
			if !stateNames[rule.To] {
				return NewValidationError("Create", "UNKNOWN_STATE",
					fmt.Sprintf("state %q declares a transition to unknown state %q", state.Name, rule.To),
					ErrInvalidTemplate)
			}

			for _, roleRef := range rule.Roles {
				if !roleNames[roleRef] {
					return NewValidationError("Create", "UNKNOWN_ROLE",
						fmt.Sprintf("transition %q -> %q references unknown role %q", state.Name, rule.To, roleRef),
						ErrInvalidTemplate)
				}
			}
		}
	}

	return nil
}

// compileSlotSchema checks that a slot's validation rules form a loadable
// JSON schema, so bad schemas fail at template authoring time rather than
// when a participant submits data.
func compileSlotSchema(slotName string, schema map[string]any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return NewValidationError("Create", "INVALID_SLOT_SCHEMA",
			fmt.Sprintf("slot %q: validation rules are not serializable", slotName),
			ErrInvalidTemplate)
	}

	_, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return NewValidationError("Create", "INVALID_SLOT_SCHEMA",
			fmt.Sprintf("slot %q: invalid validation schema: %v", slotName, err),
			ErrInvalidTemplate)
	}

	return nil
}

// ValidateSlotValue checks one submitted value against the slot's JSON-schema
// validation rules, when present.
func ValidateSlotValue(slot *models.TemplateSlot, value any) error {
	if slot.Validation == nil {
		return nil
	}

	schemaRaw, err := json.Marshal(slot.Validation)
	if err != nil {
		return fmt.Errorf("failed to marshal slot schema: %w", err)
	}

	valueRaw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal slot value: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaRaw),
		gojsonschema.NewBytesLoader(valueRaw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate slot value: %w", err)
	}

	if !result.Valid() {
		return NewValidationError("ValidateSlotValue", "SLOT_VALIDATION",
			fmt.Sprintf("slot %q: %s", slot.Name, result.Errors()[0].String()),
			ErrSlotValidation)
	}

	return nil
}
