// Package eventlog is the append-only audit trail of hook protocol events.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// Log records protocol events to the store and mirrors them to the process log
type Log struct {
	store  store.Store
	logger logrus.FieldLogger
	now    func() time.Time
}

// New creates an event log. A nil logger discards the mirror output.
func New(st store.Store, logger logrus.FieldLogger) *Log {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Log{store: st, logger: logger, now: time.Now}
}

// Record appends an entry. sessionID may be nil for system-level events.
func (l *Log) Record(ctx context.Context, sessionID *int64, event string, level models.LogLevel, details map[string]any) (*models.LogEntry, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: event is required", models.ErrInvalid)
	}
	if level == "" {
		level = models.LevelInfo
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", models.ErrInvalid, level)
	}
	if details == nil {
		details = map[string]any{}
	}

	entry, err := l.store.CreateLog(ctx, &models.LogEntry{
		SessionID: sessionID,
		Event:     event,
		Level:     level,
		Details:   details,
		Timestamp: l.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", event, err)
	}

	fields := logrus.Fields{"event": event}
	if sessionID != nil {
		fields["browser_id"] = *sessionID
	}
	for k, v := range details {
		fields[k] = v
	}
	entryLog := l.logger.WithFields(fields)
	switch level {
	case models.LevelError:
		entryLog.Error("protocol event")
	case models.LevelWarning:
		entryLog.Warn("protocol event")
	default:
		entryLog.Info("protocol event")
	}
	return entry, nil
}

// List returns every entry, oldest first
func (l *Log) List(ctx context.Context) ([]*models.LogEntry, error) {
	return l.store.ListLogs(ctx)
}

// ListBySession returns the entries still attached to a session
func (l *Log) ListBySession(ctx context.Context, sessionID int64) ([]*models.LogEntry, error) {
	return l.store.ListLogsBySession(ctx, sessionID)
}
