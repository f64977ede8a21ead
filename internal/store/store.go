// Package store persists sessions, command modules, executions and log
// entries behind a single interface with an in-memory and a SQLite backend.
package store

import (
	"context"

	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// Store is the persistence contract used by the hook server. Lookups that
// miss return an error wrapping models.ErrNotFound.
//
// UpdateSession and UpdateExecution run mutate under the entity's lock (or
// inside a transaction) so read-modify-write cycles are serialized per row.
// mutate must not call back into the Store. Returning an error from mutate
// aborts the update and is passed through unchanged.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) (*models.Session, error)
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	FindSessionByOrigin(ctx context.Context, ip, userAgent string) (*models.Session, error)
	UpdateSession(ctx context.Context, id int64, mutate func(*models.Session) error) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	// DeleteSession removes the session and its executions and clears the
	// session reference on its log entries. It reports whether a row existed.
	DeleteSession(ctx context.Context, id int64) (bool, error)

	CreateModule(ctx context.Context, m *models.CommandModule) (*models.CommandModule, error)
	GetModule(ctx context.Context, id int64) (*models.CommandModule, error)
	ListModules(ctx context.Context) ([]*models.CommandModule, error)
	ListModulesByCategory(ctx context.Context, category string) ([]*models.CommandModule, error)

	CreateExecution(ctx context.Context, e *models.Execution) (*models.Execution, error)
	GetExecution(ctx context.Context, id int64) (*models.Execution, error)
	UpdateExecution(ctx context.Context, id int64, mutate func(*models.Execution) error) (*models.Execution, error)
	ListExecutions(ctx context.Context) ([]*models.Execution, error)
	ListExecutionsBySession(ctx context.Context, sessionID int64) ([]*models.Execution, error)
	ListPendingExecutions(ctx context.Context, sessionID int64) ([]*models.Execution, error)

	CreateLog(ctx context.Context, l *models.LogEntry) (*models.LogEntry, error)
	ListLogs(ctx context.Context) ([]*models.LogEntry, error)
	ListLogsBySession(ctx context.Context, sessionID int64) ([]*models.LogEntry, error)

	Close() error
}
