package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// Manager is the registry of hooked browser sessions
type Manager struct {
	store      store.Store
	events     *eventlog.Log
	staleAfter time.Duration
	now        func() time.Time

	// registerMu makes the origin lookup and insert in Register atomic
	registerMu sync.Mutex
}

// NewManager creates a session manager. staleAfter separates Idle from
// Offline sessions; zero selects models.DefaultStaleAfter.
func NewManager(st store.Store, events *eventlog.Log, staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = models.DefaultStaleAfter
	}
	return &Manager{
		store:      st,
		events:     events,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Register hooks a browser. A session already known for the same
// (ip, userAgent) pair is reused: it is marked online, its last-seen time is
// refreshed and any newly supplied page context is merged in. The boolean
// result reports whether a new session was created.
//
// Two different users behind the same NAT with the same user agent collide
// on one session. That is a known approximation of browser identity.
func (m *Manager) Register(ctx context.Context, req models.RegisterRequest) (*models.Session, bool, error) {
	req.IPAddress = strings.TrimSpace(req.IPAddress)
	req.UserAgent = strings.TrimSpace(req.UserAgent)
	if req.IPAddress == "" {
		return nil, false, fmt.Errorf("%w: ip is required", models.ErrInvalid)
	}
	if req.UserAgent == "" {
		return nil, false, fmt.Errorf("%w: userAgent is required", models.ErrInvalid)
	}

	m.registerMu.Lock()
	defer m.registerMu.Unlock()

	now := m.now()
	existing, err := m.store.FindSessionByOrigin(ctx, req.IPAddress, req.UserAgent)
	switch {
	case err == nil:
		sess, err := m.store.UpdateSession(ctx, existing.ID, func(s *models.Session) error {
			s.Touch(now)
			req.Patch().Apply(s)
			return nil
		})
		if err != nil {
			return nil, false, fmt.Errorf("refresh session %d: %w", existing.ID, err)
		}
		return m.withStatus(sess), false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, fmt.Errorf("lookup session origin: %w", err)
	}

	sess := &models.Session{
		Token:     uuid.New().String(),
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		IsOnline:  true,
		FirstSeen: now,
		LastSeen:  now,
	}
	req.Patch().Apply(sess)

	sess, err = m.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	id := sess.ID
	if _, err := m.events.Record(ctx, &id, models.EventBrowserHooked, models.LevelInfo, map[string]any{
		"sessionId": sess.Token,
		"ipAddress": sess.IPAddress,
	}); err != nil {
		return nil, false, err
	}
	return m.withStatus(sess), true, nil
}

// Heartbeat marks the session owning token as online and refreshes its
// last-seen time.
func (m *Manager) Heartbeat(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: sessionId is required", models.ErrInvalid)
	}
	sess, err := m.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess, err = m.store.UpdateSession(ctx, sess.ID, func(s *models.Session) error {
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.withStatus(sess), nil
}

// Get retrieves a session by its numeric ID
func (m *Manager) Get(ctx context.Context, id int64) (*models.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.withStatus(sess), nil
}

// GetByToken retrieves a session by the token issued at registration
func (m *Manager) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	sess, err := m.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return m.withStatus(sess), nil
}

// List returns all sessions, most recently seen first
func (m *Manager) List(ctx context.Context) ([]*models.Session, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		m.withStatus(s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastSeen.After(sessions[j].LastSeen)
	})
	return sessions, nil
}

// Update merges operator-supplied fields into a session
func (m *Manager) Update(ctx context.Context, id int64, patch models.SessionPatch) (*models.Session, error) {
	sess, err := m.store.UpdateSession(ctx, id, func(s *models.Session) error {
		patch.Apply(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.withStatus(sess), nil
}

// Delete removes a session along with its executions. Log entries survive
// with their session reference cleared.
func (m *Manager) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		if _, err := m.events.Record(ctx, nil, models.EventBrowserDeleted, models.LevelInfo, map[string]any{
			"browserId": id,
		}); err != nil {
			return true, err
		}
	}
	return deleted, nil
}

// Counts summarizes how many sessions are online
func (m *Manager) Counts(ctx context.Context) (models.SessionCounts, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return models.SessionCounts{}, err
	}
	counts := models.SessionCounts{Total: len(sessions)}
	for _, s := range sessions {
		if s.IsOnline {
			counts.Active++
		}
	}
	counts.Inactive = counts.Total - counts.Active
	return counts, nil
}

// Status derives the Active/Idle/Offline classification at the current time
func (m *Manager) Status(s *models.Session) models.SessionStatus {
	return s.DeriveStatus(m.now(), m.staleAfter)
}

func (m *Manager) withStatus(s *models.Session) *models.Session {
	s.Status = m.Status(s)
	return s
}
