package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/interviewer/internal/app"
	turnmock "github.com/MrWong99/interviewer/internal/turn/mock"
	"github.com/MrWong99/interviewer/pkg/robot"
	"github.com/MrWong99/interviewer/pkg/robot/mock"
)

// scriptedConnector hands out one scripted result per call.
type scriptedConnector struct {
	mu      sync.Mutex
	results []func() (app.Connection, error)
	calls   int
	closed  int
}

func (s *scriptedConnector) connect(context.Context) (app.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls
	s.calls++
	if n >= len(s.results) {
		return app.Connection{}, errors.New("refused")
	}
	return s.results[n]()
}

func (s *scriptedConnector) robot(r robot.Robot) func() (app.Connection, error) {
	return func() (app.Connection, error) {
		return app.Connection{
			Robot: r,
			Ping:  func(context.Context) error { return nil },
			Close: func() error {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.closed++
				return nil
			},
		}, nil
	}
}

func refused() (app.Connection, error) { return app.Connection{}, errors.New("refused") }

func quickBackoff(retries int) app.Backoff {
	return app.Backoff{MaxRetries: retries, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRun_RepeatReconnectsLostRobot(t *testing.T) {
	t.Parallel()

	lost, lostSpeech, _, _, _, _ := mock.NewRobot()
	lostSpeech.SayErr = errors.New("bridge closed")

	fresh, _, sensor, rec, _, _ := mock.NewRobot()
	sensor.Tokens = []robot.ActivityToken{"quiet"}
	rec.SampleFunc = func() mock.Sample { return heard("no") }

	conn := &scriptedConnector{}
	conn.results = []func() (app.Connection, error){conn.robot(lost), refused, conn.robot(fresh)}

	cfg := testConfig()
	cfg.Runner.Repeat = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &memStore{onSave: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	a, err := app.New(context.Background(), cfg,
		app.WithConnector(conn.connect),
		app.WithOutcomeStore(store),
		app.WithClock(turnmock.NewClock()),
		app.WithBackoff(quickBackoff(3)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if checks := a.Checkers(); len(checks) != 2 {
		t.Errorf("checkers = %d, want robot and outcomes", len(checks))
	}

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := store.saved()
	if len(recs) != 2 || recs[0].Outcome != "error" || recs[1].Outcome != "declined" {
		t.Errorf("outcomes = %+v, want [error declined]", recs)
	}
	if conn.calls != 3 {
		t.Errorf("connect calls = %d, want 3", conn.calls)
	}
	if conn.closed != 1 {
		t.Errorf("closed connections = %d, want the lost one", conn.closed)
	}

	_ = a.Shutdown(context.Background())
	if conn.closed != 2 {
		t.Errorf("closed connections after shutdown = %d, want 2", conn.closed)
	}
}

func TestRun_RepeatGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	lost, lostSpeech, _, _, _, _ := mock.NewRobot()
	lostSpeech.SayErr = errors.New("bridge closed")

	conn := &scriptedConnector{}
	conn.results = []func() (app.Connection, error){conn.robot(lost)}

	cfg := testConfig()
	cfg.Runner.Repeat = true
	a, err := app.New(context.Background(), cfg,
		app.WithConnector(conn.connect),
		app.WithOutcomeStore(&memStore{}),
		app.WithClock(turnmock.NewClock()),
		app.WithBackoff(quickBackoff(2)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	err = a.Run(context.Background())
	if !errors.Is(err, robot.ErrUnavailable) {
		t.Fatalf("Run err = %v, want ErrUnavailable", err)
	}
	if conn.calls != 3 {
		t.Errorf("connect calls = %d, want initial plus 2 retries", conn.calls)
	}
}

func TestNew_ConnectorFailure(t *testing.T) {
	t.Parallel()

	conn := &scriptedConnector{results: []func() (app.Connection, error){refused}}
	if _, err := app.New(context.Background(), testConfig(), app.WithConnector(conn.connect)); err == nil {
		t.Fatal("expected error when the first connection fails")
	}
}
