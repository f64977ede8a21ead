// Package dispatch ties the session registry, catalog and execution tracker
// to the two delivery paths: observer push over the hub and browser polling.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victoredede21/xss-educational-lab/internal/catalog"
	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/execution"
	"github.com/victoredede21/xss-educational-lab/internal/hub"
	"github.com/victoredede21/xss-educational-lab/internal/session"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// DefaultPollInterval is the hook script's poll period when none is configured
const DefaultPollInterval = 5 * time.Second

// Broadcaster delivers an event to every connected observer without blocking
type Broadcaster interface {
	Broadcast(v any)
}

// HookResponse is returned to a browser that registers
type HookResponse struct {
	SessionID      string                  `json:"sessionId"`
	PollIntervalMs int64                   `json:"pollIntervalMs"`
	HookURL        string                  `json:"hookUrl"`
	Commands       []models.PendingCommand `json:"commands"`
}

// Dispatcher orchestrates the hook protocol
type Dispatcher struct {
	sessions     *session.Manager
	catalog      *catalog.Catalog
	tracker      *execution.Tracker
	events       *eventlog.Log
	observers    Broadcaster
	pollInterval time.Duration
	logger       logrus.FieldLogger

	// publishMu orders execute_command before command_completed for the
	// same execution on every observer queue.
	publishMu sync.Mutex
}

// Config holds the dispatcher's collaborators
type Config struct {
	Sessions     *session.Manager
	Catalog      *catalog.Catalog
	Tracker      *execution.Tracker
	Events       *eventlog.Log
	Observers    Broadcaster
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		sessions:     cfg.Sessions,
		catalog:      cfg.Catalog,
		tracker:      cfg.Tracker,
		events:       cfg.Events,
		observers:    cfg.Observers,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}
}

// Hook registers (or re-registers) a browser and announces it to observers.
// baseURL is the externally visible server root used to build hookUrl.
func (d *Dispatcher) Hook(ctx context.Context, req models.RegisterRequest, baseURL string) (*HookResponse, error) {
	sess, created, err := d.sessions.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"ip":      sess.IPAddress,
		"created": created,
	}).Info("Browser hooked")

	d.observers.Broadcast(models.NewHookEvent{Type: models.EventTypeNewHook, Browser: sess})

	return &HookResponse{
		SessionID:      sess.Token,
		PollIntervalMs: d.pollInterval.Milliseconds(),
		HookURL:        strings.TrimRight(baseURL, "/") + "/hook.js",
		Commands:       []models.PendingCommand{},
	}, nil
}

// Poll records a heartbeat for token and returns its pending commands in
// creation order. Commands stay pending until a result arrives, so a
// browser may receive the same command on consecutive polls.
func (d *Dispatcher) Poll(ctx context.Context, token string) ([]models.PendingCommand, error) {
	sess, err := d.sessions.Heartbeat(ctx, token)
	if err != nil {
		return nil, err
	}

	pending, err := d.tracker.ListPending(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	commands := make([]models.PendingCommand, 0, len(pending))
	for _, exec := range pending {
		module, err := d.catalog.Get(ctx, exec.ModuleID)
		if err != nil {
			d.logger.WithError(err).WithField("execution", exec.ID).Warn("Skipping pending command with unknown module")
			continue
		}
		commands = append(commands, models.PendingCommand{ExecutionID: exec.ID, Code: module.Code})
	}
	return commands, nil
}

// Execute queues moduleID for sessionID and pushes execute_command to
// observers. The browser picks the command up on its next poll.
func (d *Dispatcher) Execute(ctx context.Context, sessionID, moduleID int64) (*models.Execution, error) {
	sess, err := d.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	module, err := d.catalog.Get(ctx, moduleID)
	if err != nil {
		return nil, d.fail(ctx, &sess.ID, "execute", err)
	}

	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	exec, err := d.tracker.Create(ctx, sess.ID, module.ID)
	if err != nil {
		return nil, d.fail(ctx, &sess.ID, "execute", err)
	}

	d.observers.Broadcast(models.ExecuteCommandEvent{
		Type:         models.EventTypeExecuteCommand,
		SessionID:    sess.ID,
		SessionToken: sess.Token,
		ExecutionID:  exec.ID,
		Command:      module.Code,
	})
	return exec, nil
}

// SubmitResult completes executionID on behalf of the session owning token
// and pushes command_completed to observers.
func (d *Dispatcher) SubmitResult(ctx context.Context, token string, executionID int64, result json.RawMessage) (*models.Execution, error) {
	sess, err := d.sessions.Heartbeat(ctx, token)
	if err != nil {
		return nil, err
	}
	if executionID <= 0 {
		return nil, d.fail(ctx, &sess.ID, "result", fmt.Errorf("%w: executionId is required", models.ErrInvalid))
	}

	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	exec, err := d.tracker.Complete(ctx, sess.ID, executionID, result)
	if err != nil {
		return nil, d.fail(ctx, &sess.ID, "result", err)
	}

	d.observers.Broadcast(models.CommandCompletedEvent{
		Type:      models.EventTypeCommandCompleted,
		Execution: exec,
	})
	return exec, nil
}

// DeleteSession removes a session with its executions and pushes the
// remaining session list to observers.
func (d *Dispatcher) DeleteSession(ctx context.Context, id int64) (bool, error) {
	deleted, err := d.sessions.Delete(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := d.BroadcastBrowsers(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to announce session deletion")
	}
	return true, nil
}

// BrowserUpdate is the observer-channel heartbeat for token
func (d *Dispatcher) BrowserUpdate(ctx context.Context, token string) error {
	if _, err := d.sessions.Heartbeat(ctx, token); err != nil {
		return err
	}
	return d.BroadcastBrowsers(ctx)
}

// BroadcastBrowsers pushes the current session list to observers
func (d *Dispatcher) BroadcastBrowsers(ctx context.Context) error {
	sessions, err := d.sessions.List(ctx)
	if err != nil {
		return err
	}
	d.observers.Broadcast(models.BrowsersUpdatedEvent{
		Type:     models.EventTypeBrowsersUpdated,
		Browsers: sessions,
	})
	return nil
}

// HandleObserverMessage implements hub.Handler
func (d *Dispatcher) HandleObserverMessage(ctx context.Context, msg hub.Message) error {
	switch msg.Type {
	case models.MessageBrowserUpdate:
		return d.BrowserUpdate(ctx, msg.SessionID)
	case models.MessageCommandResult:
		_, err := d.SubmitResult(ctx, msg.SessionID, msg.ExecutionID, msg.Result)
		return err
	default:
		return fmt.Errorf("%w: unknown message type %q", models.ErrInvalid, msg.Type)
	}
}

// fail records err as a command_error entry and returns it unchanged
func (d *Dispatcher) fail(ctx context.Context, sessionID *int64, op string, err error) error {
	if _, recErr := d.events.Record(ctx, sessionID, models.EventCommandError, models.LevelError, map[string]any{
		"operation": op,
		"error":     err.Error(),
	}); recErr != nil {
		d.logger.WithError(recErr).Error("Failed to record command error")
	}
	return err
}
