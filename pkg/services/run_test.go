package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rouhapp/coordination/pkg/cache"
	"github.com/rouhapp/coordination/pkg/effects"
	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence/memory"
)

type testEnv struct {
	persistence *memory.Persistence
	templates   *Template
	runs        *Run
	guard       *Guard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.Default()
	p := memory.NewPersistence()
	templates := NewTemplate(p, cache.NewMemoryTemplateCache())
	dispatcher := effects.NewDispatcher(logger)
	runs := NewRun(p, templates, nil, dispatcher, logger, "http://app.local")
	guard := NewGuard(p, runs)

	return &testEnv{persistence: p, templates: templates, runs: runs, guard: guard}
}

func (e *testEnv) createTemplate(t *testing.T) *models.Template {
	t.Helper()

	created, err := e.templates.Create(context.Background(), &models.Template{
		Name:        "errand run",
		Description: "One person requests an errand, another fulfills it",
		Roles: []models.TemplateRole{
			{Name: "requester", MinParticipants: 1},
			{Name: "runner", MinParticipants: 1},
		},
		Slots: []models.TemplateSlot{
			{Name: "item", Type: models.SlotTypeText},
			{
				Name:       "price",
				Type:       models.SlotTypeNumber,
				Validation: map[string]any{"type": "number", "minimum": 0},
			},
		},
		States: []models.TemplateState{
			{
				Name:          "requested",
				Type:          models.StateTypeCollect,
				Sequence:      0,
				RequiredSlots: []string{"item"},
				AllowedRoles:  []string{"requester"},
			},
			{
				Name:         "accepted",
				Type:         models.StateTypeCommit,
				Sequence:     1,
				AllowedRoles: []string{"runner"},
			},
			{
				Name:     "delivered",
				Type:     models.StateTypeSignoff,
				Sequence: 2,
			},
		},
	})
	require.NoError(t, err)

	return created
}

func (e *testEnv) createRun(t *testing.T, templateID string) *models.Run {
	t.Helper()

	run, err := e.runs.Create(context.Background(), templateID, "tenant-1", "account-9",
		[]ParticipantRequest{
			{RoleName: "requester", AccountID: "account-9"},
			{RoleName: "runner"},
		}, nil)
	require.NoError(t, err)

	return run
}

// assertRunUnmoved checks a rejected advance left no trace: the state pointer
// still names the origin and the history gained no row.
func (e *testEnv) assertRunUnmoved(t *testing.T, runID, state string) {
	t.Helper()

	run, err := e.runs.FetchByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, state, run.CurrentState)

	history, err := e.runs.History(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsOpen())
}

func (e *testEnv) participantByRole(t *testing.T, runID, role string) *models.Participant {
	t.Helper()

	participant, err := e.persistence.Participants().GetByRole(context.Background(), runID, role)
	require.NoError(t, err)
	require.NotNil(t, participant)

	return participant
}

func TestCreateRunSeedsFirstState(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)

	run := env.createRun(t, template.ID)

	assert.Equal(t, models.RunStatusActive, run.Status)
	assert.Equal(t, "requested", run.CurrentState)

	open, err := env.persistence.RunStates().GetOpenByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "requested", open.StateName)

	participants, err := env.persistence.Participants().ListByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)

	for _, participant := range participants {
		assert.NotEmpty(t, participant.AccessToken)
	}

	runner := env.participantByRole(t, run.ID, "runner")
	assert.True(t, runner.IsGuest)

	requester := env.participantByRole(t, run.ID, "requester")
	assert.False(t, requester.IsGuest)
}

func TestCreateRunRejectsUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)

	_, err := env.runs.Create(context.Background(), template.ID, "tenant-1", "",
		[]ParticipantRequest{{RoleName: "driver"}}, nil)

	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCreateRunUnknownTemplate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.runs.Create(context.Background(), "no-such-template", "tenant-1", "", nil, nil)

	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	ctx := context.Background()

	paused, err := env.runs.Pause(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, paused.Status)

	resumed, err := env.runs.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusActive, resumed.Status)

	completed, err := env.runs.Complete(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestRunLifecycleConflicts(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	ctx := context.Background()

	run := env.createRun(t, template.ID)
	_, err := env.runs.Resume(ctx, run.ID)
	require.Error(t, err, "resuming an active run")
	assert.True(t, IsConflictError(err))

	_, err = env.runs.Cancel(ctx, run.ID)
	require.NoError(t, err)

	_, err = env.runs.Pause(ctx, run.ID)
	require.Error(t, err, "pausing a cancelled run")
	assert.True(t, IsConflictError(err))

	completedRun := env.createRun(t, template.ID)
	_, err = env.runs.Complete(ctx, completedRun.ID)
	require.NoError(t, err)

	_, err = env.runs.Cancel(ctx, completedRun.ID)
	require.Error(t, err, "cancelling a completed run")
	assert.True(t, IsConflictError(err))

	pausedRun := env.createRun(t, template.ID)
	_, err = env.runs.Pause(ctx, pausedRun.ID)
	require.NoError(t, err)

	_, err = env.runs.Complete(ctx, pausedRun.ID)
	require.Error(t, err, "completing a paused run")
	assert.True(t, IsConflictError(err))
}

func TestAdvanceStateHappyPath(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	ctx := context.Background()

	requester := env.participantByRole(t, run.ID, "requester")

	state, err := env.runs.AdvanceState(ctx, run.ID, requester.ID, "", map[string]any{"item": "coffee"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "accepted", state.StateName)

	updated, err := env.runs.FetchByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "accepted", updated.CurrentState)

	history, err := env.runs.History(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	open := 0

	for _, entry := range history {
		if entry.IsOpen() {
			open++
		}
	}

	assert.Equal(t, 1, open, "exactly one open history entry")
}

func TestAdvanceStateMissingRequiredSlot(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	requester := env.participantByRole(t, run.ID, "requester")

	_, err := env.runs.AdvanceState(context.Background(), run.ID, requester.ID, "", map[string]any{}, nil)
	require.Error(t, err)

	var transitionErr *TransitionError

	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "item", transitionErr.MissingSlot)
	assert.True(t, IsValidationError(err))

	env.assertRunUnmoved(t, run.ID, "requested")
}

func TestAdvanceStateRoleDenied(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	runner := env.participantByRole(t, run.ID, "runner")

	_, err := env.runs.AdvanceState(context.Background(), run.ID, runner.ID, "", map[string]any{"item": "coffee"}, nil)
	require.Error(t, err)

	var transitionErr *TransitionError

	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "runner", transitionErr.DeniedRole)

	env.assertRunUnmoved(t, run.ID, "requested")
}

func TestAdvanceStateRejectsInvalidSlotValue(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	requester := env.participantByRole(t, run.ID, "requester")

	_, err := env.runs.AdvanceState(context.Background(), run.ID, requester.ID, "",
		map[string]any{"item": "coffee", "price": -4}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSlotValidation)
}

func TestAdvanceStateRequiresActiveRun(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	ctx := context.Background()

	requester := env.participantByRole(t, run.ID, "requester")

	_, err := env.runs.Pause(ctx, run.ID)
	require.NoError(t, err)

	_, err = env.runs.AdvanceState(ctx, run.ID, requester.ID, "", map[string]any{"item": "coffee"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotActive)
}

func TestAdvanceStateRejectsForeignParticipant(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	other := env.createRun(t, template.ID)

	stranger := env.participantByRole(t, other.ID, "requester")

	_, err := env.runs.AdvanceState(context.Background(), run.ID, stranger.ID, "", map[string]any{"item": "coffee"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestAdvanceStateSerializesConcurrentAdvances(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	requester := env.participantByRole(t, run.ID, "requester")

	// Both racers target "accepted" from "requested". The second one runs
	// against the committed state pointer, so exactly one may win.
	var wg sync.WaitGroup

	results := make([]error, 2)

	for i := range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, results[i] = env.runs.AdvanceState(context.Background(), run.ID, requester.ID,
				"accepted", map[string]any{"item": "coffee"}, nil)
		}()
	}

	wg.Wait()

	successes := 0

	for _, err := range results {
		if err == nil {
			successes++
		}
	}

	assert.Equal(t, 1, successes)

	updated, err := env.runs.FetchByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "accepted", updated.CurrentState)
}

func TestGenerateAccessLinksRotatesTokens(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	ctx := context.Background()

	runner := env.participantByRole(t, run.ID, "runner")
	oldToken := runner.AccessToken

	links, err := env.runs.GenerateAccessLinks(ctx, run.ID, "runner")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Contains(t, links[0].Link, "http://app.local/r/"+run.ID)

	rotated := env.participantByRole(t, run.ID, "runner")
	assert.NotEqual(t, oldToken, rotated.AccessToken)

	stale, err := env.persistence.Participants().GetByToken(ctx, run.ID, oldToken)
	require.NoError(t, err)
	assert.Nil(t, stale, "rotated token no longer resolves")
}

func TestResolveGuestByRoleNameIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)

	run, err := env.runs.Create(context.Background(), template.ID, "tenant-1", "", nil, nil)
	require.NoError(t, err)

	first, err := env.runs.ResolveGuestByRoleName(context.Background(), run.ID, "runner")
	require.NoError(t, err)
	assert.True(t, first.IsGuest)

	second, err := env.runs.ResolveGuestByRoleName(context.Background(), run.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AccessToken, second.AccessToken)
}

func TestResolveGuestByRoleNameUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)

	_, err := env.runs.ResolveGuestByRoleName(context.Background(), run.ID, "driver")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestAddAndRemoveParticipant(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	ctx := context.Background()

	added, err := env.runs.AddParticipant(ctx, run.ID, ParticipantRequest{RoleName: "runner"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.AccessToken)

	_, err = env.runs.AddParticipant(ctx, run.ID, ParticipantRequest{RoleName: "driver"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	err = env.runs.RemoveParticipant(ctx, run.ID, added.ID)
	require.NoError(t, err)

	err = env.runs.RemoveParticipant(ctx, run.ID, added.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestRefreshExpiredLinksSkipsActiveParticipants(t *testing.T) {
	env := newTestEnv(t)
	template := env.createTemplate(t)
	run := env.createRun(t, template.ID)
	ctx := context.Background()

	// All participants were just created, so nothing is stale yet.
	links, err := env.runs.RefreshExpiredLinks(ctx, run.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, links)

	// With a zero threshold every participant counts as stale.
	links, err = env.runs.RefreshExpiredLinks(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}
