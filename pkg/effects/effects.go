// Package effects describes business side effects triggered by run
// transitions and dispatches them to external executors. Dispatch is
// best-effort: the transition itself is the source of truth, so executor
// failures are logged and never propagated back to the caller.
package effects

import (
	"context"
	"log/slog"
	"time"
)

// EffectRecord is an abstract description of one committed transition, handed
// to executors that perform business-level side effects (placing an order,
// sending an email). The core never interprets it.
type EffectRecord struct {
	RunID         string         `json:"run_id"`
	TenantID      string         `json:"tenant_id"`
	FromState     string         `json:"from_state"`
	ToState       string         `json:"to_state"`
	StateType     string         `json:"state_type"`
	ParticipantID string         `json:"participant_id"`
	SlotData      map[string]any `json:"slot_data,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Executor consumes effect records. Implementations live outside the core.
type Executor interface {
	Submit(ctx context.Context, record EffectRecord) error
}

// Dispatcher fans one effect record out to a fixed list of executors. The
// list is constructed at startup and passed in explicitly; there is no
// global registry.
type Dispatcher struct {
	logger    *slog.Logger
	executors []Executor
}

// NewDispatcher creates a dispatcher over the given executors.
func NewDispatcher(logger *slog.Logger, executors ...Executor) *Dispatcher {
	return &Dispatcher{logger: logger, executors: executors}
}

// Dispatch forwards the record to every executor. Failures are logged and
// swallowed; by the time dispatch happens the transition is already durable.
func (d *Dispatcher) Dispatch(ctx context.Context, record EffectRecord) {
	for _, executor := range d.executors {
		if err := executor.Submit(ctx, record); err != nil {
			d.logger.ErrorContext(ctx, "Effect executor failed",
				"run_id", record.RunID,
				"from_state", record.FromState,
				"to_state", record.ToState,
				"error", err,
			)
		}
	}
}

// LogExecutor records effect records to the log. It is the default executor
// in development setups.
type LogExecutor struct {
	logger *slog.Logger
}

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) Submit(ctx context.Context, record EffectRecord) error {
	e.logger.InfoContext(ctx, "Effect recorded",
		"run_id", record.RunID,
		"from_state", record.FromState,
		"to_state", record.ToState,
		"participant_id", record.ParticipantID,
	)

	return nil
}
