// Package app wires the interviewer subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the robot bridge and
// the outcome stores, Run prepares the robot and conducts interviews, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRobot,
// WithConnector, WithOutcomeStore, WithClock). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/interviewer/internal/config"
	"github.com/MrWong99/interviewer/internal/health"
	"github.com/MrWong99/interviewer/internal/interview"
	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/internal/outcome"
	"github.com/MrWong99/interviewer/internal/phonetic"
	"github.com/MrWong99/interviewer/internal/resilience"
	"github.com/MrWong99/interviewer/internal/turn"
	"github.com/MrWong99/interviewer/pkg/robot"
	"github.com/MrWong99/interviewer/pkg/robot/bridge"
)

// saveTimeout bounds persisting one outcome, which happens after the
// interview even when its context was cancelled.
const saveTimeout = 10 * time.Second

// ConfigSource returns the configuration for the next interview.
// *config.Watcher satisfies it.
type ConfigSource interface {
	Current() *config.Config
}

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

// Connection is a live link to the robot.
type Connection struct {
	Robot robot.Robot

	// Ping probes the link for readiness checks. May be nil.
	Ping func(ctx context.Context) error

	// Close releases the link. May be nil.
	Close func() error
}

// Connector establishes a [Connection]. It is called once by New and again
// whenever a repeat-mode run loses the robot.
type Connector func(ctx context.Context) (Connection, error)

// BridgeConnector dials the robot bridge described by rc.
func BridgeConnector(rc config.RobotConfig) Connector {
	return func(ctx context.Context) (Connection, error) {
		c, err := bridge.Dial(ctx, rc.BridgeURL,
			bridge.WithConnectTimeout(rc.ConnectTimeout),
			bridge.WithRequestTimeout(rc.RequestTimeout),
		)
		if err != nil {
			return Connection{}, err
		}
		return Connection{Robot: c.Robot(), Ping: c.Ping, Close: c.Close}, nil
	}
}

// App owns all subsystem lifetimes and runs interviews.
type App struct {
	cfg     ConfigSource
	connect Connector
	store   outcome.Store
	metrics *observe.Metrics
	clock   turn.Clock
	backoff Backoff

	// mu guards conn, which a reconnect replaces.
	mu   sync.Mutex
	conn Connection

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRobot injects fixed robot collaborators instead of dialing the bridge.
// Such an app cannot reconnect.
func WithRobot(r robot.Robot) Option {
	return func(a *App) {
		a.conn = Connection{Robot: r}
		a.connect = nil
	}
}

// WithConnector replaces the bridge dialer.
func WithConnector(c Connector) Option {
	return func(a *App) { a.connect = c }
}

// WithOutcomeStore injects an outcome store instead of opening the
// configured ones.
func WithOutcomeStore(s outcome.Store) Option {
	return func(a *App) { a.store = s }
}

// WithConfigSource makes every interview read the latest configuration from
// src, typically a *config.Watcher. Startup-only settings are still read from
// the config passed to New.
func WithConfigSource(src ConfigSource) Option {
	return func(a *App) { a.cfg = src }
}

// WithClock overrides the time source of the listening sessions.
func WithClock(c turn.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(b Backoff) Option {
	return func(a *App) { a.backoff = b }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. Unless injected, it dials the robot bridge and opens
// the configured outcome stores. A bridge that cannot be reached is an error
// wrapping [robot.ErrUnavailable].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     staticConfig{cfg: cfg},
		connect: BridgeConnector(cfg.Robot),
		clock:   turn.SystemClock{},
		backoff: DefaultBackoff(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Robot ────────────────────────────────────────────────────────
	if a.conn.Robot.Speech == nil {
		conn, err := a.connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: connect robot: %w", err)
		}
		a.conn = conn
	}
	a.closers = append(a.closers, a.closeConn)

	// ── 2. Outcome stores ───────────────────────────────────────────────
	if a.store == nil {
		if err := a.initOutcomes(ctx, cfg.Outcomes); err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("app: init outcomes: %w", err)
		}
	}

	return a, nil
}

// initOutcomes opens every configured outcome store.
func (a *App) initOutcomes(ctx context.Context, oc config.OutcomesConfig) error {
	store, closeStores, err := OpenOutcomes(ctx, oc)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { closeStores(); return nil })
	a.store = store
	return nil
}

// OpenOutcomes opens the outcome stores selected by oc, each behind its own
// circuit breaker. It returns a nil store when none is configured. The
// returned func releases database connections.
func OpenOutcomes(ctx context.Context, oc config.OutcomesConfig) (outcome.Store, func(), error) {
	var (
		stores  outcome.Multi
		cleanup = func() {}
	)

	if oc.PostgresDSN != "" {
		pg, closePool, err := outcome.OpenPostgres(ctx, oc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		cleanup = closePool
		stores = append(stores, outcome.Guard(pg, resilience.New("outcomes.postgres")))
		slog.Info("outcome store ready", "backend", "postgres")
	}
	if oc.File != "" {
		stores = append(stores, outcome.Guard(outcome.NewFileStore(oc.File), resilience.New("outcomes.file")))
		slog.Info("outcome store ready", "backend", "file", "path", oc.File)
	}

	if len(stores) == 0 {
		return nil, cleanup, nil
	}
	return stores, cleanup, nil
}

// Checkers returns the readiness checks for the ops server: the robot link
// when it can be probed, and the outcome store when configured.
func (a *App) Checkers() []health.Checker {
	var checks []health.Checker
	if a.connection().Ping != nil {
		checks = append(checks, health.Checker{Name: "robot", Check: func(ctx context.Context) error {
			if ping := a.connection().Ping; ping != nil {
				return ping(ctx)
			}
			return errors.New("robot reconnecting")
		}})
	}
	if a.store != nil {
		checks = append(checks, health.Checker{Name: "outcomes", Check: func(ctx context.Context) error {
			return outcome.Ping(ctx, a.store)
		}})
	}
	return checks
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run prepares the robot and conducts one interview, or, in repeat mode,
// interviews back to back until ctx is cancelled. In repeat mode a lost robot
// is reconnected, and the run stops only when that fails or the app has no
// connector. Cancellation in repeat mode returns nil.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Current()
	if err := interview.Setup(ctx, a.connection().Robot.System, cfg.Robot.Volume); err != nil {
		return fmt.Errorf("app: setup: %w", err)
	}

	if !cfg.Runner.Repeat {
		_, err := a.RunOnce(ctx)
		return err
	}

	for n := 1; ; n++ {
		slog.Info("starting interview", "number", n)
		_, err := a.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, robot.ErrUnavailable):
			if a.connect == nil {
				return err
			}
			slog.Warn("robot unavailable, reconnecting", "number", n, "err", err)
			if err := a.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case err != nil:
			slog.Warn("interview failed", "number", n, "err", err)
		}

		delay := a.cfg.Current().Runner.RepeatDelay
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// RunOnce conducts a single interview with the current configuration and
// records its outcome. The result is never nil.
func (a *App) RunOnce(ctx context.Context) (*interview.Result, error) {
	cfg := a.cfg.Current()
	tc := cfg.TurnTaking()
	r := a.connection().Robot

	feedback := turn.NewFeedbackScheduler(r.Speech, tc.FeedbackPhrases,
		turn.WithFeedbackMetrics(a.metrics),
	)
	detector := turn.NewSilenceDetector(r.Activity, tc,
		turn.WithClock(a.clock),
		turn.WithPauseHandler(feedback),
		turn.WithDetectorMetrics(a.metrics),
	)

	kwOpts := []turn.KeywordOption{
		turn.WithKeywordClock(a.clock),
		turn.WithKeywordMetrics(a.metrics),
	}
	if cfg.Keyword.Phonetic {
		kwOpts = append(kwOpts, turn.WithWordMatcher(phonetic.New()))
	}
	keywords := turn.NewKeywordListener(r.Recognizer, tc, kwOpts...)

	ctrl := interview.NewController(r, keywords, detector, cfg.InterviewScript(),
		interview.WithLanguage(cfg.Robot.Language),
		interview.WithMetrics(a.metrics),
	)

	res, err := ctrl.Run(ctx)
	// Backchannel cues still in flight finish before the next interview.
	feedback.Wait()
	a.record(ctx, res)
	return res, err
}

// record persists res. Failures are logged only.
func (a *App) record(ctx context.Context, res *interview.Result) {
	rec := outcome.FromResult(res)
	log := observe.Logger(ctx).With("interview_id", rec.ID, "outcome", rec.Outcome)

	if a.store == nil {
		log.Info("interview finished", "answer", rec.Answer, "prompts", rec.Prompts)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := a.store.Save(ctx, rec); err != nil {
		log.Warn("failed to record interview outcome", "err", err)
		return
	}
	log.Info("interview recorded", "answer", rec.Answer, "prompts", rec.Prompts)
}

// Recent returns up to limit stored outcomes, newest first.
func (a *App) Recent(ctx context.Context, limit int) ([]outcome.Record, error) {
	if a.store == nil {
		return nil, errors.New("app: no outcome store configured")
	}
	return a.store.Recent(ctx, limit)
}

func (a *App) connection() Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// closeConn closes the current connection at most once.
func (a *App) closeConn() error {
	a.mu.Lock()
	closeFn := a.conn.Close
	a.conn.Close = nil
	a.mu.Unlock()
	if closeFn == nil {
		return nil
	}
	return closeFn()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
