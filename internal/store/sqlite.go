package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// SQLite is a Store backed by a single SQLite database file
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. Foreign keys are enabled so session deletes cascade.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers and keeps the pragmas in effect
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sessionColumns = `id, token, ip_address, user_agent, browser, browser_version, os, platform, page_url, domain, port, referer, is_online, first_seen, last_seen`

func (s *SQLite) CreateSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(token, ip_address, user_agent, browser, browser_version, os, platform, page_url, domain, port, referer, is_online, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, sess.Token, sess.IPAddress, sess.UserAgent, sess.Browser, sess.BrowserVersion, sess.OS, sess.Platform,
		sess.PageURL, sess.Domain, sess.Port, sess.Referer, boolToInt(sess.IsOnline), ts(sess.FirstSeen), ts(sess.LastSeen))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SQLite) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	return sess, err
}

func (s *SQLite) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session token: %w", models.ErrNotFound)
	}
	return sess, err
}

func (s *SQLite) FindSessionByOrigin(ctx context.Context, ip, userAgent string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE ip_address = ? AND user_agent = ?`, ip, userAgent)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session origin %s: %w", ip, models.ErrNotFound)
	}
	return sess, err
}

func (s *SQLite) UpdateSession(ctx context.Context, id int64, mutate func(*models.Session) error) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE sessions SET
	ip_address = ?, user_agent = ?, browser = ?, browser_version = ?, os = ?, platform = ?,
	page_url = ?, domain = ?, port = ?, referer = ?, is_online = ?, last_seen = ?
WHERE id = ?
`, next.IPAddress, next.UserAgent, next.Browser, next.BrowserVersion, next.OS, next.Platform,
		next.PageURL, next.Domain, next.Port, next.Referer, boolToInt(next.IsOnline), ts(next.LastSeen), id)
	if err != nil {
		return nil, fmt.Errorf("update session %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update session %d: %w", id, err)
	}
	next.ID, next.Token, next.FirstSeen = current.ID, current.Token, current.FirstSeen
	return next, nil
}

func (s *SQLite) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSession(ctx context.Context, id int64) (bool, error) {
	// executions cascade and logs are nulled by the foreign keys
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session %d: %w", id, err)
	}
	return n > 0, nil
}

const moduleColumns = `id, name, description, category, icon, code`

func (s *SQLite) CreateModule(ctx context.Context, m *models.CommandModule) (*models.CommandModule, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO command_modules(name, description, category, icon, code) VALUES (?, ?, ?, ?, ?)
`, m.Name, m.Description, m.Category, m.Icon, m.Code)
	if err != nil {
		return nil, fmt.Errorf("create command module: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create command module: %w", err)
	}
	out := *m
	out.ID = id
	return &out, nil
}

func (s *SQLite) GetModule(ctx context.Context, id int64) (*models.CommandModule, error) {
	m, err := scanModule(s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM command_modules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command module %d: %w", id, models.ErrNotFound)
	}
	return m, err
}

func (s *SQLite) ListModules(ctx context.Context) ([]*models.CommandModule, error) {
	return s.queryModules(ctx, `SELECT `+moduleColumns+` FROM command_modules ORDER BY id`)
}

func (s *SQLite) ListModulesByCategory(ctx context.Context, category string) ([]*models.CommandModule, error) {
	return s.queryModules(ctx, `SELECT `+moduleColumns+` FROM command_modules WHERE category = ? ORDER BY id`, category)
}

func (s *SQLite) queryModules(ctx context.Context, query string, args ...any) ([]*models.CommandModule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list command modules: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CommandModule, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const executionColumns = `id, session_id, module_id, status, result, executed_at, completed_at`

func (s *SQLite) CreateExecution(ctx context.Context, e *models.Execution) (*models.Execution, error) {
	if _, err := s.GetSession(ctx, e.SessionID); err != nil {
		return nil, err
	}
	if _, err := s.GetModule(ctx, e.ModuleID); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO executions(session_id, module_id, status, result, executed_at, completed_at) VALUES (?, ?, ?, ?, ?, ?)
`, e.SessionID, e.ModuleID, string(e.Status), nullableJSON(e.Result), ts(e.ExecutedAt), nullableTS(e.CompletedAt))
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return s.GetExecution(ctx, id)
}

func (s *SQLite) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %d: %w", id, models.ErrNotFound)
	}
	return e, err
}

func (s *SQLite) UpdateExecution(ctx context.Context, id int64, mutate func(*models.Execution) error) (*models.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update execution: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanExecution(tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE executions SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(next.Status), nullableJSON(next.Result), nullableTS(next.CompletedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update execution %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update execution %d: %w", id, err)
	}
	next.ID, next.SessionID, next.ModuleID, next.ExecutedAt = current.ID, current.SessionID, current.ModuleID, current.ExecutedAt
	return next, nil
}

func (s *SQLite) ListExecutions(ctx context.Context) ([]*models.Execution, error) {
	return s.queryExecutions(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY id`)
}

func (s *SQLite) ListExecutionsBySession(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return s.queryExecutions(ctx, `SELECT `+executionColumns+` FROM executions WHERE session_id = ? ORDER BY id`, sessionID)
}

func (s *SQLite) ListPendingExecutions(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return s.queryExecutions(ctx, `SELECT `+executionColumns+` FROM executions WHERE session_id = ? AND status = ? ORDER BY id`,
		sessionID, string(models.ExecutionPending))
}

func (s *SQLite) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const logColumns = `id, session_id, event, level, details, timestamp`

func (s *SQLite) CreateLog(ctx context.Context, l *models.LogEntry) (*models.LogEntry, error) {
	details, err := json.Marshal(l.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal log details: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO logs(session_id, event, level, details, timestamp) VALUES (?, ?, ?, ?, ?)
`, nullableI64(l.SessionID), l.Event, string(l.Level), string(details), ts(l.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	out := l.Clone()
	out.ID = id
	return out, nil
}

func (s *SQLite) ListLogs(ctx context.Context) ([]*models.LogEntry, error) {
	return s.queryLogs(ctx, `SELECT `+logColumns+` FROM logs ORDER BY id`)
}

func (s *SQLite) ListLogsBySession(ctx context.Context, sessionID int64) ([]*models.LogEntry, error) {
	return s.queryLogs(ctx, `SELECT `+logColumns+` FROM logs WHERE session_id = ? ORDER BY id`, sessionID)
}

func (s *SQLite) queryLogs(ctx context.Context, query string, args ...any) ([]*models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.LogEntry, 0)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanSession(row scanner) (*models.Session, error) {
	var (
		sess                models.Session
		online              int
		firstSeen, lastSeen string
	)
	err := row.Scan(&sess.ID, &sess.Token, &sess.IPAddress, &sess.UserAgent, &sess.Browser, &sess.BrowserVersion,
		&sess.OS, &sess.Platform, &sess.PageURL, &sess.Domain, &sess.Port, &sess.Referer, &online, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	sess.IsOnline = online != 0
	if sess.FirstSeen, err = parseTS(firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if sess.LastSeen, err = parseTS(lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return &sess, nil
}

func scanModule(row scanner) (*models.CommandModule, error) {
	var m models.CommandModule
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.Icon, &m.Code); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		e           models.Execution
		status      string
		result      sql.NullString
		executedAt  string
		completedAt sql.NullString
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.ModuleID, &status, &result, &executedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = models.ExecutionStatus(status)
	if result.Valid {
		e.Result = json.RawMessage(result.String)
	}
	var err error
	if e.ExecutedAt, err = parseTS(executedAt); err != nil {
		return nil, fmt.Errorf("parse executed_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTS(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		e.CompletedAt = &t
	}
	return &e, nil
}

func scanLog(row scanner) (*models.LogEntry, error) {
	var (
		l         models.LogEntry
		sessionID sql.NullInt64
		level     string
		details   string
		timestamp string
	)
	if err := row.Scan(&l.ID, &sessionID, &l.Event, &level, &details, &timestamp); err != nil {
		return nil, err
	}
	if sessionID.Valid {
		id := sessionID.Int64
		l.SessionID = &id
	}
	l.Level = models.LogLevel(level)
	if details != "" && details != "null" {
		if err := json.Unmarshal([]byte(details), &l.Details); err != nil {
			return nil, fmt.Errorf("parse log details: %w", err)
		}
	}
	var err error
	if l.Timestamp, err = parseTS(timestamp); err != nil {
		return nil, fmt.Errorf("parse log timestamp: %w", err)
	}
	return &l, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableI64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
