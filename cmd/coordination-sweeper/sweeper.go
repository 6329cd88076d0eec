// Package main provides the coordination sweeper: a scheduler that detects
// state timeouts on active runs and rotates stale participant access links.
package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rouhapp/coordination/pkg/engine"
	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/services"
)

type Sweeper struct {
	logger              *slog.Logger
	runs                *services.Run
	inactivityThreshold time.Duration
	cron                *cron.Cron
}

func NewSweeper(logger *slog.Logger, runs *services.Run, inactivityThreshold time.Duration) *Sweeper {
	return &Sweeper{
		logger:              logger,
		runs:                runs,
		inactivityThreshold: inactivityThreshold,
	}
}

// Start schedules the sweep cycle. The schedule accepts standard cron
// expressions plus descriptors like "@every 1m".
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", schedule)

	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one cycle over all active runs. Timeouts only produce events;
// deciding what a timeout means (cancel, escalate, remind) belongs to
// consumers, not the sweeper.
func (s *Sweeper) Sweep(ctx context.Context) {
	runs, err := s.runs.ListByStatus(ctx, models.RunStatusActive)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list active runs", "error", err)

		return
	}

	now := time.Now().UTC()

	for _, run := range runs {
		s.sweepRun(ctx, run, now)
	}
}

func (s *Sweeper) sweepRun(ctx context.Context, run *models.Run, now time.Time) {
	template, err := s.runs.Template(ctx, run)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load template", "run_id", run.ID, "error", err)

		return
	}

	open, err := s.runs.OpenState(ctx, run.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load open state", "run_id", run.ID, "error", err)

		return
	}

	if open != nil {
		templateState := template.StateByName(open.StateName)
		if templateState != nil && engine.IsTimedOut(open, templateState, now) {
			s.logger.InfoContext(ctx, "State timed out",
				"run_id", run.ID,
				"state", open.StateName,
				"entered_at", open.EnteredAt,
			)
			s.runs.EmitTimeout(ctx, run, open, *templateState.TimeoutMinutes)
		}
	}

	links, err := s.runs.RefreshExpiredLinks(ctx, run.ID, s.inactivityThreshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to refresh access links", "run_id", run.ID, "error", err)

		return
	}

	if len(links) > 0 {
		s.logger.InfoContext(ctx, "Rotated stale access links", "run_id", run.ID, "count", len(links))
	}
}
