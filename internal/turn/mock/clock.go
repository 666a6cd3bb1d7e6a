// Package mock provides test doubles for the turn package.
package mock

import (
	"context"
	"sync"
	"time"
)

// Clock is a virtual clock for turn.Clock. Sleep advances the virtual time
// immediately instead of waiting, so timing behaviour is deterministic and
// tests finish instantly.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time

	// Sleeps counts Sleep calls.
	Sleeps int
}

// NewClock returns a Clock starting at a fixed instant.
func NewClock() *Clock {
	t := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return &Clock{start: t, now: t}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the virtual time by d unless ctx is already done.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.Sleeps++
	return nil
}

// Elapsed returns the virtual time passed since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// Advance moves the virtual time forward by d without counting a sleep.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
