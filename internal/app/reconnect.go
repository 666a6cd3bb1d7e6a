package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/interviewer/pkg/robot"
)

// Backoff is the reconnect schedule: the wait starts at Initial and doubles
// after every failed attempt up to Max.
type Backoff struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// DefaultBackoff retries ten times, waiting 1s, 2s, 4s ... up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{MaxRetries: 10, Initial: time.Second, Max: 30 * time.Second}
}

// reconnect replaces the robot connection. The old connection is closed
// first; between failed attempts it waits according to a.backoff. It returns
// an error wrapping [robot.ErrUnavailable] after the last failed attempt.
func (a *App) reconnect(ctx context.Context) error {
	if err := a.closeConn(); err != nil {
		slog.Debug("closing lost robot connection", "err", err)
	}
	a.mu.Lock()
	a.conn.Ping = nil
	a.mu.Unlock()

	retries := max(a.backoff.MaxRetries, 1)
	wait := a.backoff.Initial
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		slog.Info("attempting robot reconnection", "attempt", attempt, "max_retries", retries)

		conn, err := a.connect(ctx)
		if err == nil {
			a.mu.Lock()
			a.conn = conn
			a.mu.Unlock()
			slog.Info("robot reconnected", "attempt", attempt)
			return nil
		}
		lastErr = err
		slog.Warn("robot reconnection failed", "attempt", attempt, "err", err)

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, a.backoff.Max)
	}
	return fmt.Errorf("app: reconnect robot after %d attempts: %w: %w", retries, robot.ErrUnavailable, lastErr)
}
