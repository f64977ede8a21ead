// Package execution tracks command module dispatches from pending to
// completed and correlates browser results by execution ID.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// Tracker creates and completes executions
type Tracker struct {
	store  store.Store
	events *eventlog.Log
	now    func() time.Time
}

// NewTracker creates an execution tracker
func NewTracker(st store.Store, events *eventlog.Log) *Tracker {
	return &Tracker{store: st, events: events, now: time.Now}
}

// Create queues module moduleID for session sessionID. Both must exist.
// The returned execution's ID is the correlation key for the result.
func (t *Tracker) Create(ctx context.Context, sessionID, moduleID int64) (*models.Execution, error) {
	if _, err := t.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := t.store.GetModule(ctx, moduleID); err != nil {
		return nil, err
	}

	exec, err := t.store.CreateExecution(ctx, &models.Execution{
		SessionID:  sessionID,
		ModuleID:   moduleID,
		Status:     models.ExecutionPending,
		ExecutedAt: t.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if _, err := t.events.Record(ctx, &sessionID, models.EventCommandSent, models.LevelInfo, map[string]any{
		"executionId": exec.ID,
		"moduleId":    moduleID,
	}); err != nil {
		return nil, err
	}
	return exec, nil
}

// Complete stores result on execution executionID on behalf of session
// sessionID. It fails with ErrSessionMismatch when the execution belongs to
// another session and with ErrAlreadyCompleted on a second completion; the
// first result is never overwritten.
func (t *Tracker) Complete(ctx context.Context, sessionID, executionID int64, result json.RawMessage) (*models.Execution, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if !json.Valid(result) {
		return nil, fmt.Errorf("%w: result is not valid JSON", models.ErrInvalid)
	}

	now := t.now()
	exec, err := t.store.UpdateExecution(ctx, executionID, func(e *models.Execution) error {
		if e.SessionID != sessionID {
			return fmt.Errorf("execution %d: %w", executionID, models.ErrSessionMismatch)
		}
		if e.Status == models.ExecutionCompleted {
			return fmt.Errorf("execution %d: %w", executionID, models.ErrAlreadyCompleted)
		}
		e.Status = models.ExecutionCompleted
		e.Result = result
		e.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := t.events.Record(ctx, &sessionID, models.EventCommandCompleted, models.LevelInfo, map[string]any{
		"executionId": exec.ID,
		"moduleId":    exec.ModuleID,
	}); err != nil {
		return nil, err
	}
	return exec, nil
}

// Get returns one execution
func (t *Tracker) Get(ctx context.Context, id int64) (*models.Execution, error) {
	return t.store.GetExecution(ctx, id)
}

// ListPending returns the executions a session has yet to report on
func (t *Tracker) ListPending(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return t.store.ListPendingExecutions(ctx, sessionID)
}

// ListAll returns every execution
func (t *Tracker) ListAll(ctx context.Context) ([]*models.Execution, error) {
	return t.store.ListExecutions(ctx)
}

// ListBySession returns a session's executions
func (t *Tracker) ListBySession(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return t.store.ListExecutionsBySession(ctx, sessionID)
}
