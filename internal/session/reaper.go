package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

var errStillAlive = errors.New("session saw activity")

// Reaper periodically marks sessions offline once no heartbeat has been
// seen for offlineAfter. It never deletes sessions.
type Reaper struct {
	manager      *Manager
	offlineAfter time.Duration
	interval     time.Duration
	logger       logrus.FieldLogger

	// OnChange, when set, is called after a sweep that marked sessions offline
	OnChange func(ctx context.Context, marked []*models.Session)
}

// NewReaper creates a reaper for manager's sessions
func NewReaper(manager *Manager, offlineAfter, interval time.Duration, logger logrus.FieldLogger) *Reaper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reaper{
		manager:      manager,
		offlineAfter: offlineAfter,
		interval:     interval,
		logger:       logger,
	}
}

// Run sweeps every interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			marked, err := r.Sweep(ctx)
			if err != nil {
				r.logger.WithError(err).Warn("Session sweep failed")
				continue
			}
			if len(marked) > 0 && r.OnChange != nil {
				r.OnChange(ctx, marked)
			}
		}
	}
}

// Sweep marks stale online sessions offline and returns the ones it changed.
// Staleness is checked again inside the per-session update so a heartbeat
// that lands after the scan keeps the session online.
func (r *Reaper) Sweep(ctx context.Context) ([]*models.Session, error) {
	sessions, err := r.manager.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	var marked []*models.Session
	for _, candidate := range sessions {
		if !r.stale(candidate) {
			continue
		}
		sess, err := r.manager.store.UpdateSession(ctx, candidate.ID, func(s *models.Session) error {
			if !r.stale(s) {
				return errStillAlive
			}
			s.IsOnline = false
			return nil
		})
		if errors.Is(err, errStillAlive) || errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return marked, err
		}

		id := sess.ID
		if _, err := r.manager.events.Record(ctx, &id, models.EventBrowserOffline, models.LevelWarning, map[string]any{
			"lastSeen": sess.LastSeen,
		}); err != nil {
			return marked, err
		}
		marked = append(marked, r.manager.withStatus(sess))
	}
	return marked, nil
}

func (r *Reaper) stale(s *models.Session) bool {
	return s.IsOnline && r.manager.now().Sub(s.LastSeen) > r.offlineAfter
}
