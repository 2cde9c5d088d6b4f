package auth

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tailortalk/internal/apperr"
	appLog "tailortalk/internal/log"
)

const defaultRefreshWindow = 5 * time.Minute

// SweepResult summarizes one sweep.
type SweepResult struct {
	Refreshed int
	Removed   int
	Failed    int
}

// Sweep refreshes tokens that expire within the refresh window and removes
// expired tokens that cannot be refreshed.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	users, err := m.store.List()
	if err != nil {
		return res, err
	}

	now := m.now()
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		tok, err := m.store.Load(user)
		if err != nil {
			res.Failed++
			continue
		}
		if tok.Expiry.IsZero() || tok.Expiry.Sub(now) > defaultRefreshWindow {
			continue
		}

		if tok.RefreshToken == "" {
			if tok.Expiry.Before(now) {
				if err := m.store.Delete(user); err != nil {
					res.Failed++
					continue
				}
				res.Removed++
				appLog.Info("expired token removed", "user", user)
			}
			continue
		}

		// Expiry in the past forces the token source to refresh.
		stale := *tok
		stale.Expiry = now.Add(-time.Second)
		fresh, err := m.oauth.TokenSource(ctx, &stale).Token()
		if err != nil {
			res.Failed++
			appLog.Error("token refresh failed", apperr.Wrap(err, apperr.CodeAuthRequired, "refresh"), "user", user)
			continue
		}
		if err := m.store.Save(user, fresh); err != nil {
			res.Failed++
			continue
		}
		res.Refreshed++
	}

	return res, nil
}

// Sweeper runs Manager.Sweep on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweeper schedules sweeps with a standard five-field cron spec.
func NewSweeper(m *Manager, spec string, loc *time.Location) (*Sweeper, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Sweeper{
		manager: m,
		cron:    cron.New(cron.WithLocation(loc)),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "token sweep schedule").WithContext("spec", spec)
	}
	return s, nil
}

func (s *Sweeper) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Debug("token sweep still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := s.manager.Sweep(ctx)
	if err != nil {
		appLog.Error("token sweep failed", err)
		return
	}
	appLog.Info("token sweep completed", "refreshed", res.Refreshed, "removed", res.Removed, "failed", res.Failed)
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
