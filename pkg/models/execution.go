package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of one dispatch
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionCompleted ExecutionStatus = "completed"
)

// Execution correlates a command module dispatched to a session with the
// result the browser eventually reports.
type Execution struct {
	ID          int64           `json:"id"`
	SessionID   int64           `json:"browserId"`
	ModuleID    int64           `json:"moduleId"`
	Status      ExecutionStatus `json:"status"`
	Result      json.RawMessage `json:"result"`
	ExecutedAt  time.Time       `json:"executedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy
func (e *Execution) Clone() *Execution {
	c := *e
	if e.Result != nil {
		c.Result = append(json.RawMessage(nil), e.Result...)
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// PendingCommand is what a polling browser receives for each pending execution
type PendingCommand struct {
	ExecutionID int64  `json:"executionId"`
	Code        string `json:"code"`
}
