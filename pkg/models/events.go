package models

// Observer event types pushed over the real-time channel
const (
	EventTypeNewHook          = "new_hook"
	EventTypeBrowsersUpdated  = "browsers_updated"
	EventTypeExecuteCommand   = "execute_command"
	EventTypeCommandCompleted = "command_completed"
)

// Inbound observer message types
const (
	MessageBrowserUpdate = "browser_update"
	MessageCommandResult = "command_result"
)

// NewHookEvent announces a new or re-registered session
type NewHookEvent struct {
	Type    string   `json:"type"`
	Browser *Session `json:"browser"`
}

// BrowsersUpdatedEvent carries the full session list after a change
type BrowsersUpdatedEvent struct {
	Type     string     `json:"type"`
	Browsers []*Session `json:"browsers"`
}

// ExecuteCommandEvent announces a freshly queued execution
type ExecuteCommandEvent struct {
	Type         string `json:"type"`
	SessionID    int64  `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	ExecutionID  int64  `json:"executionId"`
	Command      string `json:"command"`
}

// CommandCompletedEvent announces a completed execution
type CommandCompletedEvent struct {
	Type      string     `json:"type"`
	Execution *Execution `json:"execution"`
}
