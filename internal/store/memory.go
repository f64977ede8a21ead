package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

type originKey struct {
	ip        string
	userAgent string
}

// Memory is an in-process Store. All state is lost on restart.
type Memory struct {
	mu sync.RWMutex

	sessions   map[int64]*models.Session
	byToken    map[string]int64
	byOrigin   map[originKey]int64
	modules    map[int64]*models.CommandModule
	executions map[int64]*models.Execution
	logs       map[int64]*models.LogEntry

	nextSession   int64
	nextModule    int64
	nextExecution int64
	nextLog       int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[int64]*models.Session),
		byToken:    make(map[string]int64),
		byOrigin:   make(map[originKey]int64),
		modules:    make(map[int64]*models.CommandModule),
		executions: make(map[int64]*models.Execution),
		logs:       make(map[int64]*models.LogEntry),
	}
}

func (m *Memory) CreateSession(ctx context.Context, s *models.Session) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[s.Token]; exists {
		return nil, fmt.Errorf("create session: duplicate token")
	}
	key := originKey{s.IPAddress, s.UserAgent}
	if _, exists := m.byOrigin[key]; exists {
		return nil, fmt.Errorf("create session: duplicate origin %s", s.IPAddress)
	}

	m.nextSession++
	stored := s.Clone()
	stored.ID = m.nextSession
	stored.Status = ""
	m.sessions[stored.ID] = stored
	m.byToken[stored.Token] = stored.ID
	m.byOrigin[key] = stored.ID
	return stored.Clone(), nil
}

func (m *Memory) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, fmt.Errorf("session token: %w", models.ErrNotFound)
	}
	return m.sessions[id].Clone(), nil
}

func (m *Memory) FindSessionByOrigin(ctx context.Context, ip, userAgent string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOrigin[originKey{ip, userAgent}]
	if !ok {
		return nil, fmt.Errorf("session origin %s: %w", ip, models.ErrNotFound)
	}
	return m.sessions[id].Clone(), nil
}

func (m *Memory) UpdateSession(ctx context.Context, id int64, mutate func(*models.Session) error) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, models.ErrNotFound)
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	// identity columns are immutable
	next.ID = current.ID
	next.Token = current.Token
	next.FirstSeen = current.FirstSeen
	next.Status = ""

	oldKey := originKey{current.IPAddress, current.UserAgent}
	newKey := originKey{next.IPAddress, next.UserAgent}
	if oldKey != newKey {
		if other, taken := m.byOrigin[newKey]; taken && other != id {
			return nil, fmt.Errorf("update session %d: duplicate origin %s", id, next.IPAddress)
		}
		delete(m.byOrigin, oldKey)
		m.byOrigin[newKey] = id
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *Memory) ListSessions(ctx context.Context) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteSession(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	delete(m.sessions, id)
	delete(m.byToken, s.Token)
	delete(m.byOrigin, originKey{s.IPAddress, s.UserAgent})

	for execID, e := range m.executions {
		if e.SessionID == id {
			delete(m.executions, execID)
		}
	}
	for _, l := range m.logs {
		if l.SessionID != nil && *l.SessionID == id {
			l.SessionID = nil
		}
	}
	return true, nil
}

func (m *Memory) CreateModule(ctx context.Context, mod *models.CommandModule) (*models.CommandModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextModule++
	stored := *mod
	stored.ID = m.nextModule
	m.modules[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m *Memory) GetModule(ctx context.Context, id int64) (*models.CommandModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	mod, ok := m.modules[id]
	if !ok {
		return nil, fmt.Errorf("command module %d: %w", id, models.ErrNotFound)
	}
	out := *mod
	return &out, nil
}

func (m *Memory) ListModules(ctx context.Context) ([]*models.CommandModule, error) {
	return m.listModules(ctx, func(*models.CommandModule) bool { return true })
}

func (m *Memory) ListModulesByCategory(ctx context.Context, category string) ([]*models.CommandModule, error) {
	return m.listModules(ctx, func(mod *models.CommandModule) bool { return mod.Category == category })
}

func (m *Memory) listModules(ctx context.Context, keep func(*models.CommandModule) bool) ([]*models.CommandModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.CommandModule, 0, len(m.modules))
	for _, mod := range m.modules {
		if keep(mod) {
			c := *mod
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateExecution(ctx context.Context, e *models.Execution) (*models.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[e.SessionID]; !ok {
		return nil, fmt.Errorf("session %d: %w", e.SessionID, models.ErrNotFound)
	}
	if _, ok := m.modules[e.ModuleID]; !ok {
		return nil, fmt.Errorf("command module %d: %w", e.ModuleID, models.ErrNotFound)
	}

	m.nextExecution++
	stored := e.Clone()
	stored.ID = m.nextExecution
	m.executions[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %d: %w", id, models.ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *Memory) UpdateExecution(ctx context.Context, id int64, mutate func(*models.Execution) error) (*models.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %d: %w", id, models.ErrNotFound)
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.SessionID = current.SessionID
	next.ModuleID = current.ModuleID
	next.ExecutedAt = current.ExecutedAt
	m.executions[id] = next
	return next.Clone(), nil
}

func (m *Memory) ListExecutions(ctx context.Context) ([]*models.Execution, error) {
	return m.listExecutions(ctx, func(*models.Execution) bool { return true })
}

func (m *Memory) ListExecutionsBySession(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return m.listExecutions(ctx, func(e *models.Execution) bool { return e.SessionID == sessionID })
}

func (m *Memory) ListPendingExecutions(ctx context.Context, sessionID int64) ([]*models.Execution, error) {
	return m.listExecutions(ctx, func(e *models.Execution) bool {
		return e.SessionID == sessionID && e.Status == models.ExecutionPending
	})
}

func (m *Memory) listExecutions(ctx context.Context, keep func(*models.Execution) bool) ([]*models.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Execution, 0)
	for _, e := range m.executions {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateLog(ctx context.Context, l *models.LogEntry) (*models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLog++
	stored := l.Clone()
	stored.ID = m.nextLog
	m.logs[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) ListLogs(ctx context.Context) ([]*models.LogEntry, error) {
	return m.listLogs(ctx, func(*models.LogEntry) bool { return true })
}

func (m *Memory) ListLogsBySession(ctx context.Context, sessionID int64) ([]*models.LogEntry, error) {
	return m.listLogs(ctx, func(l *models.LogEntry) bool {
		return l.SessionID != nil && *l.SessionID == sessionID
	})
}

func (m *Memory) listLogs(ctx context.Context, keep func(*models.LogEntry) bool) ([]*models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.LogEntry, 0)
	for _, l := range m.logs {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op for the in-memory store
func (m *Memory) Close() error {
	return nil
}
