package models

import "time"

// LogLevel is the severity of an event log entry
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Valid reports whether l is a known level
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Protocol events recorded by the server
const (
	EventBrowserHooked    = "browser_hooked"
	EventCommandSent      = "command_sent"
	EventCommandCompleted = "command_completed"
	EventCommandError     = "command_error"
	EventBrowserOffline   = "browser_offline"
	EventBrowserDeleted   = "browser_deleted"
)

// LogEntry is one append-only audit record. SessionID is nil for
// system-level events and is nulled when the session is deleted.
type LogEntry struct {
	ID        int64          `json:"id"`
	SessionID *int64         `json:"browserId"`
	Event     string         `json:"event"`
	Level     LogLevel       `json:"level"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Clone returns a copy with its own session pointer
func (l *LogEntry) Clone() *LogEntry {
	c := *l
	if l.SessionID != nil {
		id := *l.SessionID
		c.SessionID = &id
	}
	return &c
}
