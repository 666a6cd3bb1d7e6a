// Package resilience guards calls to dependencies that may go away for a
// while, such as an outcome database, with a circuit breaker.
//
// A [Breaker] is closed while calls succeed. After MaxFailures consecutive
// failures it opens and rejects calls with [ErrOpen] until the cooldown has
// passed. It then lets a single probe through at a time (half-open) and
// closes again after enough consecutive successful probes; a failed probe
// reopens it.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Option configures a [Breaker].
type Option func(*Breaker)

// WithMaxFailures sets how many consecutive failures open the breaker.
// Default: 3.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
// Default: 1 minute.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many consecutive successful probes close a half-open
// breaker. Default: 1.
func WithProbes(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	now         func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	successes int
}

// New returns a closed Breaker. name labels its log lines.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: 3,
		cooldown:    time.Minute,
		probes:      1,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker is open. Errors caused by the caller's own
// cancellation are returned but not counted as failures.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release(probe)
		return err
	}
	b.record(probe, err)
	return err
}

// State reports the current mode. An open breaker whose cooldown has passed
// reports half-open; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Check reports [ErrOpen] while the breaker is open. It suits readiness probes.
func (b *Breaker) Check(context.Context) error {
	if b.State() == StateOpen {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return nil
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.state = StateHalfOpen
		b.successes = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.probes {
				b.state = StateClosed
				slog.Info("circuit breaker closed", "name", b.name)
			}
		}
		return
	}

	if b.state == StateHalfOpen {
		b.trip()
		slog.Warn("circuit breaker reopened", "name", b.name, "err", err)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures, "err", err)
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}
