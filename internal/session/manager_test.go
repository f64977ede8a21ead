package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, store.Store) {
	t.Helper()
	st := store.NewMemory()
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	m := NewManager(st, eventlog.New(st, nil), 5*time.Minute)
	m.now = clock.Now
	return m, clock, st
}

func TestRegisterReusesSessionForSameOrigin(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	first, created, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X", PageURL: "http://lab.local/a"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), first.ID)
	assert.True(t, first.IsOnline)
	assert.Equal(t, models.StatusActive, first.Status)
	assert.NotEmpty(t, first.Token)
	assert.True(t, first.FirstSeen.Equal(first.LastSeen))

	clock.Advance(30 * time.Second)
	second, created, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X", Referer: "http://lab.local/"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Token, second.Token)
	assert.True(t, second.FirstSeen.Equal(first.FirstSeen))
	assert.True(t, second.LastSeen.After(first.LastSeen))
	assert.Equal(t, "http://lab.local/a", second.PageURL, "unsupplied fields are kept")
	assert.Equal(t, "http://lab.local/", second.Referer)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterDistinguishesUserAgents(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	a, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X"})
	require.NoError(t, err)
	b, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "Y"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestRegisterValidatesOrigin(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, _, err := m.Register(context.Background(), models.RegisterRequest{UserAgent: "X"})
	assert.ErrorIs(t, err, models.ErrInvalid)
	_, _, err = m.Register(context.Background(), models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "  "})
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestConcurrentRegisterCreatesOneSession(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "10.0.0.1", UserAgent: "X"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterRecordsHookEventOnce(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestManager(t)

	_, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X"})
	require.NoError(t, err)
	_, _, err = m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X"})
	require.NoError(t, err)

	logs, err := st.ListLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventBrowserHooked, logs[0].Event)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	m, clock, st := newTestManager(t)

	sess, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X"})
	require.NoError(t, err)
	_, err = st.UpdateSession(ctx, sess.ID, func(s *models.Session) error {
		s.IsOnline = false
		return nil
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	beat, err := m.Heartbeat(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, beat.IsOnline)
	assert.True(t, beat.LastSeen.Equal(clock.Now()))

	_, err = m.Heartbeat(ctx, "not-a-token")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = m.Heartbeat(ctx, "")
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	sess, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.2.3.4", UserAgent: "X"})
	require.NoError(t, err)

	clock.Advance(-time.Minute)
	beat, err := m.Heartbeat(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, beat.LastSeen.Equal(sess.LastSeen))
}

func TestStatusDerivation(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		online   bool
		lastSeen time.Time
		want     models.SessionStatus
	}{
		{"online is active regardless of last seen", true, now.Add(-time.Hour), models.StatusActive},
		{"recently dropped is idle", false, now.Add(-3 * time.Minute), models.StatusIdle},
		{"stale is offline", false, now.Add(-10 * time.Minute), models.StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Session{IsOnline: tt.online, LastSeen: tt.lastSeen}
			assert.Equal(t, tt.want, s.DeriveStatus(now, models.DefaultStaleAfter))
		})
	}
}

func TestListSortsByRecency(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	_, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.1.1.1", UserAgent: "X"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = m.Register(ctx, models.RegisterRequest{IPAddress: "2.2.2.2", UserAgent: "X"})
	require.NoError(t, err)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2.2.2.2", all[0].IPAddress)
}

func TestDeleteAndCounts(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestManager(t)

	a, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.1.1.1", UserAgent: "X"})
	require.NoError(t, err)
	b, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "2.2.2.2", UserAgent: "X"})
	require.NoError(t, err)
	_, err = st.UpdateSession(ctx, b.ID, func(s *models.Session) error {
		s.IsOnline = false
		return nil
	})
	require.NoError(t, err)

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCounts{Total: 2, Active: 1, Inactive: 1}, counts)

	deleted, err := m.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = m.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = m.Get(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateMergesPatch(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	sess, _, err := m.Register(ctx, models.RegisterRequest{IPAddress: "1.1.1.1", UserAgent: "X", OS: "Linux"})
	require.NoError(t, err)

	updated, err := m.Update(ctx, sess.ID, models.SessionPatch{Browser: "Firefox"})
	require.NoError(t, err)
	assert.Equal(t, "Firefox", updated.Browser)
	assert.Equal(t, "Linux", updated.OS)

	_, err = m.Update(ctx, 99, models.SessionPatch{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
