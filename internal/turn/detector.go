package turn

import (
	"context"
	"time"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/pkg/robot"
)

// State is the voice-activity state of a listening session.
type State int

const (
	// StateIdle means no sound has been observed yet in this session.
	StateIdle State = iota

	// StateSpeaking means the activity token changed recently.
	StateSpeaking

	// StatePaused means the user spoke and has been silent for longer than
	// the pause threshold.
	StatePaused
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// PauseHandler reacts to pause-detected events. [FeedbackScheduler]
// implements it. Trigger is called synchronously from the poll loop and must
// not block. It reports whether a cue was actually dispatched.
type PauseHandler interface {
	Trigger(ctx context.Context) bool
}

// Events holds optional observers of a detector session. Nil fields are
// skipped. Callbacks run synchronously on the poll loop.
type Events struct {
	// OnSpeechStart fires on every Idle/Paused to Speaking edge.
	OnSpeechStart func()

	// OnPause fires for every pause-detected event, after the PauseHandler.
	OnPause func()

	// OnComplete fires once, when the utterance is judged complete.
	OnComplete func(Outcome)
}

// Outcome summarises a finished detector session.
type Outcome struct {
	// Spoke reports whether the session ever reached StateSpeaking.
	Spoke bool

	// Pauses counts Speaking to Paused transitions.
	Pauses int

	// Feedbacks counts pause-detected events, i.e. pauses that passed the
	// feedback cooldown. The cooldown restarts on each of them whether or not
	// a cue went out.
	Feedbacks int

	// Cues counts pause-detected events for which the PauseHandler actually
	// dispatched a backchannel. It is at most Feedbacks.
	Cues int

	// Polls counts activity samples taken after the baseline.
	Polls int

	// Duration is the session length from start to completion.
	Duration time.Duration
}

// SilenceDetector decides when the user has finished an open-ended answer.
// A SilenceDetector holds only immutable configuration; each Run starts a
// fresh session with its own state and timers.
type SilenceDetector struct {
	sensor   robot.ActivitySensor
	cfg      Config
	clock    Clock
	feedback PauseHandler
	events   Events
	metrics  *observe.Metrics
}

// DetectorOption configures a [SilenceDetector].
type DetectorOption func(*SilenceDetector)

// WithClock overrides the time source. Default: [SystemClock].
func WithClock(c Clock) DetectorOption {
	return func(d *SilenceDetector) { d.clock = c }
}

// WithPauseHandler sets the handler invoked on pause-detected events.
func WithPauseHandler(h PauseHandler) DetectorOption {
	return func(d *SilenceDetector) { d.feedback = h }
}

// WithEvents installs session observers.
func WithEvents(e Events) DetectorOption {
	return func(d *SilenceDetector) { d.events = e }
}

// WithDetectorMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithDetectorMetrics(m *observe.Metrics) DetectorOption {
	return func(d *SilenceDetector) { d.metrics = m }
}

// NewSilenceDetector returns a detector reading from sensor.
func NewSilenceDetector(sensor robot.ActivitySensor, cfg Config, opts ...DetectorOption) *SilenceDetector {
	d := &SilenceDetector{
		sensor: sensor,
		cfg:    cfg,
		clock:  SystemClock{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// session is the per-Run state of the detector.
type session struct {
	cfg Config

	state          State
	last           robot.ActivityToken
	startedAt      time.Time
	lastActivityAt time.Time
	lastFeedbackAt time.Time // zero until the first feedback

	out Outcome
}

// step is the result of feeding one sample to a session.
type step struct {
	onset    bool
	paused   bool
	feedback bool
	complete bool
}

func newSession(cfg Config, baseline robot.ActivityToken, now time.Time) *session {
	return &session{
		cfg:            cfg,
		state:          StateIdle,
		last:           baseline,
		startedAt:      now,
		lastActivityAt: now,
	}
}

// observe applies one activity sample taken at now.
func (s *session) observe(tok robot.ActivityToken, now time.Time) step {
	var st step
	s.out.Polls++

	if tok != s.last {
		s.last = tok
		s.lastActivityAt = now
		if s.state != StateSpeaking {
			s.state = StateSpeaking
			s.out.Spoke = true
			st.onset = true
		}
		return st
	}

	silence := now.Sub(s.lastActivityAt)
	if s.state == StateSpeaking && silence > s.cfg.PauseThreshold {
		s.state = StatePaused
		s.out.Pauses++
		st.paused = true
		if s.lastFeedbackAt.IsZero() || now.Sub(s.lastFeedbackAt) > s.cfg.FeedbackCooldown {
			s.lastFeedbackAt = now
			s.out.Feedbacks++
			st.feedback = true
		}
	}
	if silence > s.cfg.CompletionTimeout {
		s.out.Duration = now.Sub(s.startedAt)
		st.complete = true
	}
	return st
}

// Run listens until the utterance is complete: the activity token has not
// changed for longer than CompletionTimeout. A session in which the user never
// speaks completes the same way. Pauses longer than PauseThreshold that pass
// the feedback cooldown invoke the PauseHandler.
//
// Run subscribes to the sensor on entry and unsubscribes on every exit path.
// It returns an error wrapping [robot.ErrUnavailable] when the sensor cannot
// be subscribed or read at start, and ctx.Err() when ctx is cancelled.
// Individual fetch failures during the session count as "no change".
func (d *SilenceDetector) Run(ctx context.Context) (Outcome, error) {
	log := observe.Logger(ctx)

	sampler := NewActivitySampler(d.sensor, d.clock, d.cfg.PollInterval, d.cfg.SoundSensitivity)
	if err := sampler.Start(ctx); err != nil {
		d.metrics.RecordCollaboratorError(ctx, "activity", "start")
		return Outcome{}, err
	}
	defer sampler.Close(ctx)

	d.metrics.ActiveSessions.Add(ctx, 1)
	defer d.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s := newSession(d.cfg, sampler.Baseline(), d.clock.Now())
	log.Debug("waiting for user to speak")

	for tok, err := range sampler.Tokens(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return s.out, ctx.Err()
			}
			log.Warn("activity sample failed, treating as silence", "err", err)
			d.metrics.RecordCollaboratorError(ctx, "activity", "fetch")
			tok = s.last
		}

		st := s.observe(tok, d.clock.Now())
		if st.onset {
			log.Debug("speaking")
			if d.events.OnSpeechStart != nil {
				d.events.OnSpeechStart()
			}
		}
		if st.paused {
			log.Debug("paused", "feedback", st.feedback)
		}
		if st.feedback {
			d.metrics.Pauses.Add(ctx, 1)
			if d.feedback != nil && d.feedback.Trigger(ctx) {
				s.out.Cues++
			}
			if d.events.OnPause != nil {
				d.events.OnPause()
			}
		}
		if st.complete {
			log.Info("utterance complete",
				"spoke", s.out.Spoke,
				"pauses", s.out.Pauses,
				"cues", s.out.Cues,
				"duration", s.out.Duration,
			)
			d.metrics.RecordUtterance(ctx, s.out.Spoke, s.out.Duration.Seconds())
			if d.events.OnComplete != nil {
				d.events.OnComplete(s.out)
			}
			return s.out, nil
		}
	}

	// Only reached when the sequence ends without completion, which happens
	// on cancellation.
	return s.out, ctx.Err()
}
