// Package session manages conversational off-ramp sessions: a hard 30 minute
// TTL fixed at creation, one active session per user, and a background sweep
// that garbage collects expired rows.
package session

import (
	"context"
	"time"

	"crossrail/internal/metrics"
	"crossrail/internal/models"
	"crossrail/internal/store"

	"go.uber.org/zap"
)

type Manager struct {
	sessions store.SessionStore
	cfg      models.SessionConfig

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewManager(sessions store.SessionStore, cfg models.SessionConfig) *Manager {
	return &Manager{
		sessions: sessions,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins a new session for the user at the first step, replacing any
// prior session.
func (m *Manager) Start(ctx context.Context, userId string) (*models.OfframpSession, error) {
	return m.sessions.CreateSession(ctx, userId, models.StepAmount, m.cfg.TTL)
}

// Advance merges partial data and moves the session to the given step.
// Expiry errors are the caller's signal to start over.
func (m *Manager) Advance(ctx context.Context, id string, step models.SessionStep, partial map[string]string) (*models.OfframpSession, error) {
	return m.sessions.UpdateSession(ctx, id, step, partial)
}

// Active returns the user's current non-expired session, or
// store.ErrNotFound.
func (m *Manager) Active(ctx context.Context, userId string) (*models.OfframpSession, error) {
	return m.sessions.GetActiveSession(ctx, userId)
}

// Clear removes a session on completion or explicit cancellation.
func (m *Manager) Clear(ctx context.Context, id string) error {
	return m.sessions.ClearSession(ctx, id)
}

// StartSweeper runs the periodic expired-session sweep until Stop is called.
// Correctness never depends on it; reads and updates check expiry themselves.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		defer close(m.doneChan)

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		zap.L().Info("Session sweeper started",
			zap.Duration("interval", m.cfg.SweepInterval))

		for {
			select {
			case <-m.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	deleted, err := m.sessions.DeleteExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		zap.L().Warn("Session sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		metrics.SessionsSwept.Add(float64(deleted))
		zap.L().Info("Swept expired sessions", zap.Int64("count", deleted))
	}
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopChan)
	<-m.doneChan
}
