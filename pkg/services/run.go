package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rouhapp/coordination/pkg/effects"
	"github.com/rouhapp/coordination/pkg/engine"
	"github.com/rouhapp/coordination/pkg/eventbus"
	"github.com/rouhapp/coordination/pkg/events"
	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/otelhelper"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// Run orchestrates the run lifecycle: creation from templates, status
// changes, the transactional advance-state hot path, participant management
// and access-link rotation. Every mutation of a single run goes through one
// run transaction, so concurrent callers serialize on the run row.
type Run struct {
	persistence persistence.Persistence
	templates   *Template
	eventBus    eventbus.EventPublisher
	effects     *effects.Dispatcher
	logger      *slog.Logger
	linkBaseURL string
	tracer      trace.Tracer
}

// NewRun creates a new run service.
func NewRun(
	persistence persistence.Persistence,
	templates *Template,
	eventBus eventbus.EventPublisher,
	dispatcher *effects.Dispatcher,
	logger *slog.Logger,
	linkBaseURL string,
) *Run {
	return &Run{
		persistence: persistence,
		templates:   templates,
		eventBus:    eventBus,
		effects:     dispatcher,
		logger:      logger,
		linkBaseURL: linkBaseURL,
	}
}

// SetTracer enables span emission around state advances.
func (s *Run) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// ParticipantRequest describes one participant to enroll at run creation.
type ParticipantRequest struct {
	RoleName  string         `json:"role_name" validate:"required"`
	AccountID string         `json:"account_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AccessLink pairs a participant with a freshly minted shareable link.
type AccessLink struct {
	ParticipantID string `json:"participant_id"`
	RoleName      string `json:"role_name"`
	Link          string `json:"link"`
}

// Create instantiates a run from a template: seeds the first state by
// sequence, opens its history entry, and enrolls the requested participants,
// minting a fresh access token for each.
func (s *Run) Create(
	ctx context.Context,
	templateID, tenantID, initiatorID string,
	participants []ParticipantRequest,
	metadata map[string]any,
) (*models.Run, error) {
	template, err := s.templates.FetchByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	first := template.FirstState()
	if first == nil {
		return nil, NewValidationError("Create", "NO_STATES",
			fmt.Sprintf("template %q has no states", template.Name), ErrTemplateHasNoStates)
	}

	for _, request := range participants {
		if template.RoleByName(request.RoleName) == nil {
			return nil, NewValidationError("Create", "UNKNOWN_ROLE",
				fmt.Sprintf("role %q does not exist in template %q", request.RoleName, template.Name),
				ErrRoleNotInTemplate)
		}
	}

	now := time.Now().UTC()

	run := &models.Run{
		ID:           uuid.New().String(),
		TemplateID:   templateID,
		TenantID:     tenantID,
		Status:       models.RunStatusActive,
		CurrentState: first.Name,
		InitiatorID:  initiatorID,
		Metadata:     metadata,
		CreatedAt:    now,
	}

	err = s.persistence.RunTransaction(ctx, run.ID, func(ctx context.Context, tx persistence.Repositories) error {
		if err := tx.Runs().Save(ctx, run); err != nil {
			return err
		}

		initial := &models.RunState{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			StateName: first.Name,
			SlotData:  map[string]any{},
			ActorID:   initiatorID,
			EnteredAt: now,
		}

		if err := tx.RunStates().Save(ctx, initial); err != nil {
			return err
		}

		for _, request := range participants {
			token, err := mintToken()
			if err != nil {
				return err
			}

			participant := &models.Participant{
				ID:          uuid.New().String(),
				RunID:       run.ID,
				RoleName:    request.RoleName,
				AccountID:   request.AccountID,
				IsGuest:     request.AccountID == "",
				AccessToken: token,
				Metadata:    request.Metadata,
				CreatedAt:   now,
			}

			if err := tx.Participants().Save(ctx, participant); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	roles := make([]string, 0, len(participants))
	for _, request := range participants {
		roles = append(roles, request.RoleName)
	}

	s.emit(ctx, run.ID, events.RunCreated{
		BaseEvent:    s.baseEvent(events.RunCreatedEvent, events.ScopeRun, run),
		TemplateID:   templateID,
		InitialState: first.Name,
		Roles:        roles,
	})

	return run, nil
}

// FetchByID retrieves a run by its ID.
func (s *Run) FetchByID(ctx context.Context, runID string) (*models.Run, error) {
	run, err := s.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run == nil {
		return nil, ErrRunNotFound
	}

	return run, nil
}

// Start stamps a run as started. Runs are created active; starting twice is
// a conflict.
func (s *Run) Start(ctx context.Context, runID string) (*models.Run, error) {
	return s.changeStatus(ctx, runID, events.RunStartedEvent,
		func(run *models.Run, now time.Time) error {
			if run.Status != models.RunStatusActive || run.StartedAt != nil {
				return s.statusConflict("Start", run)
			}

			run.StartedAt = &now

			return nil
		})
}

// Pause suspends an active run.
func (s *Run) Pause(ctx context.Context, runID string) (*models.Run, error) {
	return s.changeStatus(ctx, runID, events.RunPausedEvent,
		func(run *models.Run, _ time.Time) error {
			if !run.CanTransitionTo(models.RunStatusPaused) {
				return s.statusConflict("Pause", run)
			}

			run.Status = models.RunStatusPaused

			return nil
		})
}

// Resume reactivates a paused run.
func (s *Run) Resume(ctx context.Context, runID string) (*models.Run, error) {
	return s.changeStatus(ctx, runID, events.RunResumedEvent,
		func(run *models.Run, _ time.Time) error {
			if run.Status != models.RunStatusPaused {
				return s.statusConflict("Resume", run)
			}

			run.Status = models.RunStatusActive

			return nil
		})
}

// Cancel terminates a run before completion.
func (s *Run) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	return s.changeStatus(ctx, runID, events.RunCancelledEvent,
		func(run *models.Run, now time.Time) error {
			if !run.CanTransitionTo(models.RunStatusCancelled) {
				return s.statusConflict("Cancel", run)
			}

			run.Status = models.RunStatusCancelled
			run.CancelledAt = &now

			return nil
		})
}

// Complete marks an active run as successfully finished.
func (s *Run) Complete(ctx context.Context, runID string) (*models.Run, error) {
	return s.changeStatus(ctx, runID, events.RunCompletedEvent,
		func(run *models.Run, now time.Time) error {
			if !run.CanTransitionTo(models.RunStatusCompleted) {
				return s.statusConflict("Complete", run)
			}

			run.Status = models.RunStatusCompleted
			run.CompletedAt = &now

			return nil
		})
}

func (s *Run) statusConflict(op string, run *models.Run) error {
	return NewValidationError(op, "INVALID_STATUS_TRANSITION",
		fmt.Sprintf("run %s is %s", run.ID, run.Status), ErrInvalidStatusTransition)
}

func (s *Run) changeStatus(
	ctx context.Context,
	runID string,
	eventType events.EventType,
	apply func(run *models.Run, now time.Time) error,
) (*models.Run, error) {
	var updated *models.Run

	var fromStatus models.RunStatus

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		run, err := tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		fromStatus = run.Status

		if err := apply(run, time.Now().UTC()); err != nil {
			return err
		}

		if err := tx.Runs().Update(ctx, run); err != nil {
			return err
		}

		updated = run

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, runID, events.RunStatusChanged{
		BaseEvent:  s.baseEvent(eventType, events.ScopeRun, updated),
		FromStatus: string(fromStatus),
		ToStatus:   string(updated.Status),
	})

	return updated, nil
}

// AdvanceState validates and applies one state transition in a single run
// transaction: the engine decides legality against the locked run's current
// state, the open history entry is closed, the new one opened, and the run's
// state pointer moved. Events and effect records go out only after commit.
func (s *Run) AdvanceState(
	ctx context.Context,
	runID, participantID, targetState string,
	slotData map[string]any,
	metadata map[string]any,
) (*models.RunState, error) {
	var span trace.Span

	if s.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, s.tracer, "run.advance_state",
			attribute.String(otelhelper.RunIDKey, runID),
			attribute.String(otelhelper.ParticipantIDKey, participantID),
			attribute.String(otelhelper.ToStateKey, targetState),
		)
		defer span.End()
	}

	var (
		newState    *models.RunState
		fromState   string
		actorRole   string
		run         *models.Run
		templateRef *models.Template
		nextType    models.StateType
	)

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		var err error

		run, err = tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		if run.Status != models.RunStatusActive {
			return NewValidationError("AdvanceState", "RUN_NOT_ACTIVE",
				fmt.Sprintf("run %s is %s", run.ID, run.Status), ErrRunNotActive)
		}

		templateRef, err = s.templates.FetchByID(ctx, run.TemplateID)
		if err != nil {
			return err
		}

		current := templateRef.StateByName(run.CurrentState)
		if current == nil {
			return ErrStateNotFound
		}

		participant, err := tx.Participants().GetByID(ctx, participantID)
		if err != nil {
			return err
		}

		if participant == nil || participant.RunID != runID {
			return ErrParticipantNotFound
		}

		if templateRef.RoleByName(participant.RoleName) == nil {
			return ErrRoleNotFound
		}

		if err := s.validateSlotData(templateRef, slotData); err != nil {
			return err
		}

		decision := engine.Validate(templateRef, current, participant, targetState, slotData)
		if !decision.Legal {
			return &TransitionError{
				Reason:      decision.Reason,
				MissingSlot: decision.MissingSlot,
				DeniedRole:  decision.DeniedRole,
			}
		}

		now := time.Now().UTC()

		open, err := tx.RunStates().GetOpenByRun(ctx, runID)
		if err != nil {
			return err
		}

		if open != nil {
			open.ExitedAt = &now
			if err := tx.RunStates().Update(ctx, open); err != nil {
				return err
			}
		}

		newState = &models.RunState{
			ID:        uuid.New().String(),
			RunID:     runID,
			StateName: decision.NextState.Name,
			SlotData:  slotData,
			ActorID:   participantID,
			EnteredAt: now,
		}

		if err := tx.RunStates().Save(ctx, newState); err != nil {
			return err
		}

		fromState = run.CurrentState
		actorRole = participant.RoleName
		nextType = decision.NextState.Type
		run.CurrentState = decision.NextState.Name

		if len(metadata) > 0 {
			if run.Metadata == nil {
				run.Metadata = map[string]any{}
			}

			maps.Copy(run.Metadata, metadata)
		}

		return tx.Runs().Update(ctx, run)
	})
	if err != nil {
		if span != nil {
			otelhelper.SetError(span, err)
		}

		return nil, err
	}

	if span != nil {
		span.SetAttributes(
			attribute.String(otelhelper.FromStateKey, fromState),
			attribute.String(otelhelper.ToStateKey, newState.StateName),
			attribute.String(otelhelper.RoleNameKey, actorRole),
		)
	}

	s.emit(ctx, runID, events.StateChanged{
		BaseEvent:     s.baseEvent(events.StateChangedEvent, events.ScopeRun, run),
		FromState:     fromState,
		ToState:       newState.StateName,
		ParticipantID: participantID,
		RoleName:      actorRole,
		SlotData:      slotData,
	})

	// The transition is already durable; effect dispatch is best-effort and
	// must never roll it back.
	s.effects.Dispatch(ctx, effects.EffectRecord{
		RunID:         runID,
		TenantID:      run.TenantID,
		FromState:     fromState,
		ToState:       newState.StateName,
		StateType:     string(nextType),
		ParticipantID: participantID,
		SlotData:      slotData,
		OccurredAt:    newState.EnteredAt,
	})

	return newState, nil
}

// validateSlotData applies per-slot JSON-schema rules to submitted values.
func (s *Run) validateSlotData(template *models.Template, slotData map[string]any) error {
	for name, value := range slotData {
		slot := template.SlotByName(name)
		if slot == nil {
			continue
		}

		if err := ValidateSlotValue(slot, value); err != nil {
			return err
		}
	}

	return nil
}

// History returns the run's full state history in entry order.
func (s *Run) History(ctx context.Context, runID string) ([]*models.RunState, error) {
	if _, err := s.FetchByID(ctx, runID); err != nil {
		return nil, err
	}

	return s.persistence.RunStates().ListByRun(ctx, runID)
}

// Participants returns the run's participants.
func (s *Run) Participants(ctx context.Context, runID string) ([]*models.Participant, error) {
	if _, err := s.FetchByID(ctx, runID); err != nil {
		return nil, err
	}

	return s.persistence.Participants().ListByRun(ctx, runID)
}

// AddParticipant enrolls a new participant mid-run, minting a fresh token.
func (s *Run) AddParticipant(ctx context.Context, runID string, request ParticipantRequest) (*models.Participant, error) {
	var participant *models.Participant

	var run *models.Run

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		var err error

		run, err = tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		template, err := s.templates.FetchByID(ctx, run.TemplateID)
		if err != nil {
			return err
		}

		if template.RoleByName(request.RoleName) == nil {
			return NewValidationError("AddParticipant", "UNKNOWN_ROLE",
				fmt.Sprintf("role %q does not exist in template %q", request.RoleName, template.Name),
				ErrRoleNotInTemplate)
		}

		token, err := mintToken()
		if err != nil {
			return err
		}

		participant = &models.Participant{
			ID:          uuid.New().String(),
			RunID:       runID,
			RoleName:    request.RoleName,
			AccountID:   request.AccountID,
			IsGuest:     request.AccountID == "",
			AccessToken: token,
			Metadata:    request.Metadata,
			CreatedAt:   time.Now().UTC(),
		}

		return tx.Participants().Save(ctx, participant)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, runID, events.ParticipantAdded{
		BaseEvent:     s.baseEvent(events.ParticipantAddedEvent, events.ScopeRun, run),
		ParticipantID: participant.ID,
		RoleName:      participant.RoleName,
		IsGuest:       participant.IsGuest,
	})

	return participant, nil
}

// RemoveParticipant deletes a participant from a run.
func (s *Run) RemoveParticipant(ctx context.Context, runID, participantID string) error {
	var (
		run      *models.Run
		roleName string
	)

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		var err error

		run, err = tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		participant, err := tx.Participants().GetByID(ctx, participantID)
		if err != nil {
			return err
		}

		if participant == nil || participant.RunID != runID {
			return ErrParticipantNotFound
		}

		roleName = participant.RoleName

		return tx.Participants().Delete(ctx, participantID)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, runID, events.ParticipantRemoved{
		BaseEvent:     s.baseEvent(events.ParticipantRemovedEvent, events.ScopeRun, run),
		ParticipantID: participantID,
		RoleName:      roleName,
	})

	return nil
}

// GenerateAccessLinks rotates the token of every participant matching the
// optional role filter and returns links embedding the new tokens. Rotation
// invalidates the previous token immediately: old and new token swap in one
// participant write.
func (s *Run) GenerateAccessLinks(ctx context.Context, runID, roleName string) ([]AccessLink, error) {
	links := make([]AccessLink, 0)

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		run, err := tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		participants, err := tx.Participants().ListByRun(ctx, runID)
		if err != nil {
			return err
		}

		for _, participant := range participants {
			if roleName != "" && participant.RoleName != roleName {
				continue
			}

			token, err := mintToken()
			if err != nil {
				return err
			}

			participant.AccessToken = token
			if err := tx.Participants().Update(ctx, participant); err != nil {
				return err
			}

			links = append(links, AccessLink{
				ParticipantID: participant.ID,
				RoleName:      participant.RoleName,
				Link:          buildAccessLink(s.linkBaseURL, runID, token),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return links, nil
}

// ResolveGuestByRoleName returns the existing participant for the role, or
// creates a fresh guest one. Idempotent: shareable role links resolve to the
// same participant on every visit.
func (s *Run) ResolveGuestByRoleName(ctx context.Context, runID, roleName string) (*models.Participant, error) {
	var (
		participant *models.Participant
		created     bool
		run         *models.Run
	)

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		var err error

		run, err = tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		template, err := s.templates.FetchByID(ctx, run.TemplateID)
		if err != nil {
			return err
		}

		if template.RoleByName(roleName) == nil {
			return ErrRoleNotFound
		}

		participant, err = tx.Participants().GetByRole(ctx, runID, roleName)
		if err != nil {
			return err
		}

		if participant != nil {
			return nil
		}

		token, err := mintToken()
		if err != nil {
			return err
		}

		participant = &models.Participant{
			ID:          uuid.New().String(),
			RunID:       runID,
			RoleName:    roleName,
			IsGuest:     true,
			AccessToken: token,
			CreatedAt:   time.Now().UTC(),
		}

		created = true

		return tx.Participants().Save(ctx, participant)
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.emit(ctx, runID, events.ParticipantAdded{
			BaseEvent:     s.baseEvent(events.ParticipantAddedEvent, events.ScopeRun, run),
			ParticipantID: participant.ID,
			RoleName:      roleName,
			IsGuest:       true,
		})
	}

	return participant, nil
}

// RefreshExpiredLinks rotates tokens for participants inactive past the
// threshold or holding no token at all, and returns the fresh links.
func (s *Run) RefreshExpiredLinks(ctx context.Context, runID string, inactivityThreshold time.Duration) ([]AccessLink, error) {
	links := make([]AccessLink, 0)
	cutoff := time.Now().UTC().Add(-inactivityThreshold)

	err := s.persistence.RunTransaction(ctx, runID, func(ctx context.Context, tx persistence.Repositories) error {
		run, err := tx.Runs().GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run == nil {
			return ErrRunNotFound
		}

		participants, err := tx.Participants().ListByRun(ctx, runID)
		if err != nil {
			return err
		}

		for _, participant := range participants {
			stale := participant.AccessToken == "" ||
				(participant.LastActiveAt != nil && participant.LastActiveAt.Before(cutoff)) ||
				(participant.LastActiveAt == nil && participant.CreatedAt.Before(cutoff))

			if !stale {
				continue
			}

			token, err := mintToken()
			if err != nil {
				return err
			}

			participant.AccessToken = token
			if err := tx.Participants().Update(ctx, participant); err != nil {
				return err
			}

			links = append(links, AccessLink{
				ParticipantID: participant.ID,
				RoleName:      participant.RoleName,
				Link:          buildAccessLink(s.linkBaseURL, runID, token),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return links, nil
}

// ListByStatus exposes run listing for external schedulers.
func (s *Run) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	return s.persistence.Runs().ListByStatus(ctx, status)
}

// Template resolves the template backing a run, via the cached template service.
func (s *Run) Template(ctx context.Context, run *models.Run) (*models.Template, error) {
	return s.templates.FetchByID(ctx, run.TemplateID)
}

// OpenState returns the run's current open history entry.
func (s *Run) OpenState(ctx context.Context, runID string) (*models.RunState, error) {
	return s.persistence.RunStates().GetOpenByRun(ctx, runID)
}

// EmitTimeout publishes a state timeout event on behalf of the sweeper.
func (s *Run) EmitTimeout(ctx context.Context, run *models.Run, state *models.RunState, timeoutMinutes int) {
	s.emit(ctx, run.ID, events.StateTimeout{
		BaseEvent:      s.baseEvent(events.StateTimeoutEvent, events.ScopeTenant, run),
		StateName:      state.StateName,
		EnteredAt:      state.EnteredAt,
		TimeoutMinutes: timeoutMinutes,
	})
}

func (s *Run) baseEvent(eventType events.EventType, scope events.EventScope, run *models.Run) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Scope:     scope,
		Timestamp: time.Now().UTC(),
		RunID:     run.ID,
		TenantID:  run.TenantID,
	}
}

// emit publishes an event to the sink. Delivery is best-effort: failures are
// logged and swallowed so a committed mutation never reports failure because
// of its notification.
func (s *Run) emit(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "run_id", key, "error", err)
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Run) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}
