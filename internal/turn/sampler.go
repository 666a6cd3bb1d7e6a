package turn

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/pkg/robot"
)

// ErrSamplerUsed is yielded when a sampler's sequence is iterated a second
// time. The activity sequence cannot be restarted.
var ErrSamplerUsed = errors.New("turn: activity sampler already consumed")

// teardownTimeout bounds the unsubscribe call made when a session ends, so a
// hung collaborator cannot keep a finished session alive.
const teardownTimeout = 2 * time.Second

// ActivitySampler owns one subscription to the activity sensor and turns it
// into a lazy sequence of activity tokens, one per poll interval.
type ActivitySampler struct {
	sensor      robot.ActivitySensor
	clock       Clock
	interval    time.Duration
	sensitivity float64

	baseline robot.ActivityToken
	started  bool
	used     bool
}

// NewActivitySampler returns a sampler over sensor. Call Start before
// iterating Tokens and Close once done.
func NewActivitySampler(sensor robot.ActivitySensor, clock Clock, interval time.Duration, sensitivity float64) *ActivitySampler {
	return &ActivitySampler{
		sensor:      sensor,
		clock:       clock,
		interval:    interval,
		sensitivity: sensitivity,
	}
}

// Start applies the configured sensitivity, subscribes to the sensor and
// reads the baseline token that the first sample is compared against. Any
// failure is wrapped with [robot.ErrUnavailable]; a failed Start leaves no
// subscription behind.
func (s *ActivitySampler) Start(ctx context.Context) error {
	if tuner, ok := s.sensor.(robot.SensitivityTuner); ok && s.sensitivity > 0 {
		if err := tuner.SetSensitivity(ctx, s.sensitivity); err != nil {
			return fmt.Errorf("turn: set sound sensitivity: %w: %w", robot.ErrUnavailable, err)
		}
	}
	if err := s.sensor.Subscribe(ctx, SoundTag); err != nil {
		return fmt.Errorf("turn: subscribe sound detection: %w: %w", robot.ErrUnavailable, err)
	}
	s.started = true

	tok, err := s.sensor.CurrentToken(ctx)
	if err != nil {
		s.Close(ctx)
		return fmt.Errorf("turn: read baseline activity: %w: %w", robot.ErrUnavailable, err)
	}
	s.baseline = tok
	return nil
}

// Baseline returns the token read by Start.
func (s *ActivitySampler) Baseline() robot.ActivityToken {
	return s.baseline
}

// Tokens returns the activity sequence. The first token is fetched
// immediately; every further token follows one poll interval after the
// consumer finished handling the previous one. Each fetch is bounded by the
// poll interval, so a stalled sensor cannot hold the sequence back. A fetch
// failure or timeout is yielded as a non-nil error and the sequence continues.
// When ctx is cancelled during the wait the sequence yields ctx.Err() and
// ends.
func (s *ActivitySampler) Tokens(ctx context.Context) iter.Seq2[robot.ActivityToken, error] {
	return func(yield func(robot.ActivityToken, error) bool) {
		if s.used {
			yield("", ErrSamplerUsed)
			return
		}
		s.used = true
		for {
			tok, err := s.fetch(ctx)
			if !yield(tok, err) {
				return
			}
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				yield("", err)
				return
			}
		}
	}
}

func (s *ActivitySampler) fetch(ctx context.Context) (robot.ActivityToken, error) {
	if s.interval <= 0 {
		return s.sensor.CurrentToken(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	return s.sensor.CurrentToken(ctx)
}

// Close unsubscribes from the sensor. Failures are logged and swallowed: no
// session is ever reused, so a dangling subscription cannot corrupt a later
// one. Close is safe to call more than once.
func (s *ActivitySampler) Close(ctx context.Context) {
	if !s.started {
		return
	}
	s.started = false

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := s.sensor.Unsubscribe(ctx, SoundTag); err != nil {
		observe.Logger(ctx).Warn("sound detection unsubscribe failed", "err", err)
	}
}
