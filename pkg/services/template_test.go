package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rouhapp/coordination/pkg/models"
)

func validTemplate() *models.Template {
	return &models.Template{
		Name:        "review cycle",
		Description: "Author submits, reviewer signs off",
		Roles: []models.TemplateRole{
			{Name: "author", MinParticipants: 1},
			{Name: "reviewer", MinParticipants: 1},
		},
		Slots: []models.TemplateSlot{
			{Name: "document", Type: models.SlotTypeFile},
		},
		States: []models.TemplateState{
			{Name: "drafting", Type: models.StateTypeCollect, Sequence: 0, RequiredSlots: []string{"document"}},
			{Name: "reviewing", Type: models.StateTypeSignoff, Sequence: 1, AllowedRoles: []string{"reviewer"}},
		},
	}
}

func TestCreateTemplateDefaults(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.templates.Create(context.Background(), validTemplate())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "1.0", created.Version)
	assert.Equal(t, models.CategoryGeneral, created.Category)
	assert.Equal(t, models.ComplexitySimple, created.Complexity)
	assert.True(t, created.IsActive)
}

func TestCreateTemplateRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.Description = ""

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCreateTemplateRejectsBadVersion(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.Version = "v1"

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplateRejectsDuplicateRole(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.Roles = append(template.Roles, models.TemplateRole{Name: "author"})

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplateRejectsBadRoleName(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.Roles[0].Name = "Author"

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplateRejectsGappySequences(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.States[1].Sequence = 3

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplateRejectsUnknownReferences(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(template *models.Template)
	}{
		{"unknown allowed role", func(tm *models.Template) {
			tm.States[0].AllowedRoles = []string{"editor"}
		}},
		{"unknown required slot", func(tm *models.Template) {
			tm.States[0].RequiredSlots = []string{"summary"}
		}},
		{"unknown transition target", func(tm *models.Template) {
			tm.States[0].Transitions = []models.TransitionRule{{To: "archived"}}
		}},
		{"unknown transition role", func(tm *models.Template) {
			tm.States[0].Transitions = []models.TransitionRule{{To: "reviewing", Roles: []string{"editor"}}}
		}},
		{"unknown slot visibility role", func(tm *models.Template) {
			tm.Slots[0].Visibility = []string{"editor"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := validTemplate()
			tt.mutate(template)

			_, err := env.templates.Create(context.Background(), template)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTemplate)
		})
	}
}

func TestCreateTemplateRejectsBadSlotSchema(t *testing.T) {
	env := newTestEnv(t)

	template := validTemplate()
	template.Slots[0].Validation = map[string]any{"type": 42}

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCreateTemplateRejectsExcessiveTimeout(t *testing.T) {
	env := newTestEnv(t)

	timeout := maxTimeoutMinutes + 1
	template := validTemplate()
	template.States[0].TimeoutMinutes = &timeout

	_, err := env.templates.Create(context.Background(), template)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestFetchByIDUsesCache(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.templates.Create(context.Background(), validTemplate())
	require.NoError(t, err)

	first, err := env.templates.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)

	// Second fetch hits the cache; deleting from persistence underneath
	// does not affect it.
	require.NoError(t, env.persistence.Templates().Delete(context.Background(), created.ID))

	second, err := env.templates.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestDeleteTemplateInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.templates.Create(context.Background(), validTemplate())
	require.NoError(t, err)

	_, err = env.templates.FetchByID(context.Background(), created.ID)
	require.NoError(t, err)

	require.NoError(t, env.templates.Delete(context.Background(), created.ID))

	_, err = env.templates.FetchByID(context.Background(), created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestValidateSlotValue(t *testing.T) {
	slot := &models.TemplateSlot{
		Name:       "attendees",
		Type:       models.SlotTypeNumber,
		Validation: map[string]any{"type": "number", "minimum": 1, "maximum": 50},
	}

	require.NoError(t, ValidateSlotValue(slot, 10))

	err := ValidateSlotValue(slot, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSlotValidation)

	err = ValidateSlotValue(slot, "ten")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSlotValidation)

	unvalidated := &models.TemplateSlot{Name: "notes", Type: models.SlotTypeText}
	require.NoError(t, ValidateSlotValue(unvalidated, "anything"))
}
