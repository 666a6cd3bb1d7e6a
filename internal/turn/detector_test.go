package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/interviewer/internal/turn/mock"
	"github.com/MrWong99/interviewer/pkg/robot"
	robotmock "github.com/MrWong99/interviewer/pkg/robot/mock"
)

// testConfig mirrors the documented example timings: 100 ms polls, 0.5 s
// pause threshold, 2 s completion timeout.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.PauseThreshold = 500 * time.Millisecond
	cfg.CompletionTimeout = 2 * time.Second
	cfg.FeedbackCooldown = 2 * time.Second
	return cfg
}

// tickScript builds a token sequence for the mock sensor: the baseline read
// at session start, followed by one token per poll tick starting at t=0.
func tickScript(baseline robot.ActivityToken, ticks ...robot.ActivityToken) []robot.ActivityToken {
	return append([]robot.ActivityToken{baseline}, ticks...)
}

// repeat returns n copies of tok.
func repeat(tok robot.ActivityToken, n int) []robot.ActivityToken {
	out := make([]robot.ActivityToken, n)
	for i := range out {
		out[i] = tok
	}
	return out
}

// speechThenPauseScript: distinct tokens at t=0.0..0.4, constant until t=1.0,
// a new token at t=1.1, then constant for the rest of the session.
func speechThenPauseScript() []robot.ActivityToken {
	var ticks []robot.ActivityToken
	for i := range 5 {
		ticks = append(ticks, robot.ActivityToken(fmt.Sprintf("s%d", i)))
	}
	ticks = append(ticks, repeat("s4", 6)...) // t=0.5..1.0
	ticks = append(ticks, "late")             // t=1.1, repeats afterwards
	return tickScript("baseline", ticks...)
}

// pauseRecorder is a PauseHandler that records the virtual time of each call.
type pauseRecorder struct {
	mu    sync.Mutex
	clock *mock.Clock
	at    []time.Duration
	busy  bool // report every cue as dropped
}

func (p *pauseRecorder) Trigger(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at = append(p.at, p.clock.Elapsed())
	return !p.busy
}

func TestSilenceDetector_SilentSessionCompletes(t *testing.T) {
	clk := mock.NewClock()
	sensor := &robotmock.ActivitySensor{Tokens: []robot.ActivityToken{"quiet"}}
	pauses := &pauseRecorder{clock: clk}

	completions := 0
	d := NewSilenceDetector(sensor, testConfig(),
		WithClock(clk),
		WithPauseHandler(pauses),
		WithEvents(Events{OnComplete: func(Outcome) { completions++ }}),
	)

	out, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Spoke {
		t.Error("Spoke = true, want false for a silent session")
	}
	if len(pauses.at) != 0 || out.Feedbacks != 0 || out.Pauses != 0 {
		t.Errorf("pauses = %v, feedbacks = %d, want none", pauses.at, out.Feedbacks)
	}
	if completions != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completions)
	}
	// Silence must strictly exceed 2.0 s; the first tick that does is 2.1 s.
	if out.Duration != 2100*time.Millisecond {
		t.Errorf("Duration = %v, want 2.1s", out.Duration)
	}
	if out.Polls < 20 || out.Polls > 22 {
		t.Errorf("Polls = %d, want about 20", out.Polls)
	}
}

func TestSilenceDetector_PauseThenCompletion(t *testing.T) {
	clk := mock.NewClock()
	sensor := &robotmock.ActivitySensor{Tokens: speechThenPauseScript()}
	pauses := &pauseRecorder{clock: clk}

	var onsets int
	d := NewSilenceDetector(sensor, testConfig(),
		WithClock(clk),
		WithPauseHandler(pauses),
		WithEvents(Events{OnSpeechStart: func() { onsets++ }}),
	)

	out, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(pauses.at) != 1 {
		t.Fatalf("pause-detected fired %d times, want 1 (at %v)", len(pauses.at), pauses.at)
	}
	if pauses.at[0] != time.Second {
		t.Errorf("pause-detected at %v, want 1s", pauses.at[0])
	}
	// The second pause at 1.7 s falls inside the 2 s cooldown.
	if out.Pauses != 2 || out.Feedbacks != 1 || out.Cues != 1 {
		t.Errorf("Pauses = %d, Feedbacks = %d, Cues = %d, want 2, 1 and 1", out.Pauses, out.Feedbacks, out.Cues)
	}
	if out.Duration != 3200*time.Millisecond {
		t.Errorf("Duration = %v, want 3.2s", out.Duration)
	}
	if onsets != 2 {
		t.Errorf("onsets = %d, want 2 (t=0 and t=1.1)", onsets)
	}
	if !out.Spoke {
		t.Error("Spoke = false, want true")
	}
}

func TestSilenceDetector_CooldownElapsedAllowsSecondFeedback(t *testing.T) {
	clk := mock.NewClock()
	sensor := &robotmock.ActivitySensor{Tokens: speechThenPauseScript()}
	pauses := &pauseRecorder{clock: clk}

	cfg := testConfig()
	cfg.FeedbackCooldown = 500 * time.Millisecond

	d := NewSilenceDetector(sensor, cfg, WithClock(clk), WithPauseHandler(pauses))
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []time.Duration{time.Second, 1700 * time.Millisecond}
	if len(pauses.at) != len(want) {
		t.Fatalf("pause-detected at %v, want %v", pauses.at, want)
	}
	for i := range want {
		if pauses.at[i] != want[i] {
			t.Errorf("pause %d at %v, want %v", i, pauses.at[i], want[i])
		}
	}
}

func TestSilenceDetector_SubscriptionLifecycle(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name             string
		sensor           *robotmock.ActivitySensor
		wantUnavailable  bool
		wantUnsubscribed int
	}{
		{
			name:             "clean run",
			sensor:           &robotmock.ActivitySensor{Tokens: []robot.ActivityToken{"q"}},
			wantUnsubscribed: 1,
		},
		{
			name:             "unsubscribe failure is swallowed",
			sensor:           &robotmock.ActivitySensor{Tokens: []robot.ActivityToken{"q"}, UnsubscribeErr: errBoom},
			wantUnsubscribed: 1,
		},
		{
			name:             "subscribe failure",
			sensor:           &robotmock.ActivitySensor{SubscribeErr: errBoom},
			wantUnavailable:  true,
			wantUnsubscribed: 0,
		},
		{
			name:             "baseline fetch failure",
			sensor:           &robotmock.ActivitySensor{TokenErr: errBoom},
			wantUnavailable:  true,
			wantUnsubscribed: 1,
		},
		{
			name:             "sensitivity failure",
			sensor:           &robotmock.ActivitySensor{SensitivityErr: errBoom},
			wantUnavailable:  true,
			wantUnsubscribed: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewSilenceDetector(tc.sensor, testConfig(), WithClock(mock.NewClock()))
			_, err := d.Run(context.Background())

			if tc.wantUnavailable {
				if !errors.Is(err, robot.ErrUnavailable) {
					t.Errorf("err = %v, want ErrUnavailable", err)
				}
				if !errors.Is(err, errBoom) {
					t.Errorf("err = %v, want wrapped cause", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got := len(tc.sensor.Unsubscribed); got != tc.wantUnsubscribed {
				t.Errorf("unsubscribe calls = %d, want %d", got, tc.wantUnsubscribed)
			}
		})
	}
}

func TestSilenceDetector_AppliesSensitivity(t *testing.T) {
	sensor := &robotmock.ActivitySensor{Tokens: []robot.ActivityToken{"q"}}
	cfg := testConfig()
	cfg.SoundSensitivity = 0.3

	d := NewSilenceDetector(sensor, cfg, WithClock(mock.NewClock()))
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sensor.SensitivityCall) != 1 || sensor.SensitivityCall[0] != 0.3 {
		t.Errorf("sensitivity calls = %v, want [0.3]", sensor.SensitivityCall)
	}
	if len(sensor.Subscribed) != 1 || sensor.Subscribed[0] != SoundTag {
		t.Errorf("subscribed = %v, want [%s]", sensor.Subscribed, SoundTag)
	}
}

func TestSilenceDetector_TransientFetchFailureCountsAsSilence(t *testing.T) {
	clk := mock.NewClock()
	calls := 0
	sensor := &robotmock.ActivitySensor{
		TokenFunc: func() (robot.ActivityToken, error) {
			calls++
			if calls%3 == 0 {
				return "", errors.New("flaky")
			}
			return "quiet", nil
		},
	}

	d := NewSilenceDetector(sensor, testConfig(), WithClock(clk))
	out, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Spoke {
		t.Error("a failed fetch must not be read as sound")
	}
	if out.Duration != 2100*time.Millisecond {
		t.Errorf("Duration = %v, want 2.1s", out.Duration)
	}
}

// stalledSensor answers the baseline read at once and then hangs on every
// fetch until its context gives up.
type stalledSensor struct {
	robotmock.ActivitySensor
	stall time.Duration
	reads atomic.Int32
}

func (s *stalledSensor) CurrentToken(ctx context.Context) (robot.ActivityToken, error) {
	if s.reads.Add(1) == 1 {
		return "quiet", nil
	}
	t := time.NewTimer(s.stall)
	defer t.Stop()
	select {
	case <-t.C:
		return "noise", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSilenceDetector_StalledSensorStillCompletes(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 50 * time.Millisecond
	cfg.PauseThreshold = 100 * time.Millisecond
	cfg.CompletionTimeout = 200 * time.Millisecond
	sensor := &stalledSensor{stall: time.Second}

	d := NewSilenceDetector(sensor, cfg)
	start := time.Now()
	out, err := d.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Spoke {
		t.Error("a timed-out fetch must not be read as sound")
	}
	// Each tick is at most one bounded fetch plus one sleep.
	if bound := cfg.CompletionTimeout + 2*cfg.PollInterval + 150*time.Millisecond; elapsed > bound {
		t.Errorf("Run took %v, want at most %v", elapsed, bound)
	}
	if len(sensor.Unsubscribed) != 1 {
		t.Errorf("unsubscribe calls = %d, want 1", len(sensor.Unsubscribed))
	}
}

func TestSilenceDetector_DroppedCueIsNotCounted(t *testing.T) {
	clk := mock.NewClock()
	sensor := &robotmock.ActivitySensor{Tokens: speechThenPauseScript()}
	pauses := &pauseRecorder{clock: clk, busy: true}

	d := NewSilenceDetector(sensor, testConfig(), WithClock(clk), WithPauseHandler(pauses))
	out, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pauses.at) != 1 || out.Feedbacks != 1 {
		t.Errorf("pause-detected = %d, Feedbacks = %d, want 1 and 1", len(pauses.at), out.Feedbacks)
	}
	if out.Cues != 0 {
		t.Errorf("Cues = %d, want 0 when the handler drops the cue", out.Cues)
	}
}

func TestSilenceDetector_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	sensor := &robotmock.ActivitySensor{
		TokenFunc: func() (robot.ActivityToken, error) {
			calls++
			if calls == 5 {
				cancel()
			}
			return robot.ActivityToken(fmt.Sprint(calls)), nil
		},
	}

	d := NewSilenceDetector(sensor, testConfig(), WithClock(mock.NewClock()))
	_, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(sensor.Unsubscribed) != 1 {
		t.Errorf("unsubscribe calls = %d, want 1 on cancellation", len(sensor.Unsubscribed))
	}
}

func TestSilenceDetector_FreshSessionPerRun(t *testing.T) {
	clk := mock.NewClock()
	script := speechThenPauseScript()
	idx := 0
	sensor := &robotmock.ActivitySensor{
		TokenFunc: func() (robot.ActivityToken, error) {
			tok := script[min(idx, len(script)-1)]
			idx++
			return tok, nil
		},
	}
	pauses := &pauseRecorder{clock: clk}

	cfg := testConfig()
	cfg.FeedbackCooldown = 10 * time.Second
	d := NewSilenceDetector(sensor, cfg, WithClock(clk), WithPauseHandler(pauses))

	first, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Second session: one sound right away, then silence. A cooldown leaked
	// from the first session would suppress its feedback.
	script = tickScript("again", "sound", "sound")
	idx = 0
	second, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.Feedbacks != 1 || second.Feedbacks != 1 {
		t.Errorf("feedbacks = %d then %d, want 1 and 1", first.Feedbacks, second.Feedbacks)
	}
	if second.Pauses != 1 {
		t.Errorf("second session pauses = %d, want 1", second.Pauses)
	}
	if second.Duration != 2100*time.Millisecond {
		t.Errorf("second Duration = %v, want 2.1s measured from its own start", second.Duration)
	}
	if len(sensor.Subscribed) != 2 || len(sensor.Unsubscribed) != 2 {
		t.Errorf("subscribe/unsubscribe = %d/%d, want 2/2", len(sensor.Subscribed), len(sensor.Unsubscribed))
	}
}

func TestSilenceDetector_FeedbackDoesNotBlockLoop(t *testing.T) {
	clk := mock.NewClock()
	sensor := &robotmock.ActivitySensor{Tokens: speechThenPauseScript()}
	speech := &robotmock.Speech{AsyncGate: make(chan struct{})}
	fb := NewFeedbackScheduler(speech, []string{"Okay"})

	d := NewSilenceDetector(sensor, testConfig(), WithClock(clk), WithPauseHandler(fb))

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run blocked on an unfinished backchannel dispatch")
	}

	if got := speech.SaidAsync(); len(got) != 0 {
		t.Errorf("dispatch finished before the gate opened: %v", got)
	}
	close(speech.AsyncGate)
	fb.Wait()
	if got := speech.SaidAsync(); len(got) != 1 || got[0] != "Okay" {
		t.Errorf("SayAsync calls = %v, want [Okay]", got)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StateSpeaking: "speaking",
		StatePaused:   "paused",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
