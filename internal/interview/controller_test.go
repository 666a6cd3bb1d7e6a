package interview

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/interviewer/internal/turn"
	turnmock "github.com/MrWong99/interviewer/internal/turn/mock"
	"github.com/MrWong99/interviewer/pkg/robot"
	"github.com/MrWong99/interviewer/pkg/robot/mock"
)

// rig is a controller wired to real turn sessions over mock collaborators and
// a virtual clock.
type rig struct {
	ctrl   *Controller
	speech *mock.Speech
	sensor *mock.ActivitySensor
	rec    *mock.Recognizer
	motors *mock.Motors
	clock  *turnmock.Clock
	script Script
}

func newRig(t *testing.T, samples ...mock.Sample) *rig {
	t.Helper()
	r, speech, sensor, rec, motors, _ := mock.NewRobot()
	sensor.Tokens = []robot.ActivityToken{"quiet"}
	rec.Samples = samples

	clk := turnmock.NewClock()
	cfg := turn.DefaultConfig()
	cfg.CompletionTimeout = 2 * time.Second
	cfg.KeywordTimeout = 5 * time.Second

	script := DefaultScript()
	kw := turn.NewKeywordListener(r.Recognizer, cfg, turn.WithKeywordClock(clk))
	det := turn.NewSilenceDetector(r.Activity, cfg, turn.WithClock(clk))

	return &rig{
		ctrl:   NewController(r, kw, det, script),
		speech: speech,
		sensor: sensor,
		rec:    rec,
		motors: motors,
		clock:  clk,
		script: script,
	}
}

func yes() mock.Sample {
	return mock.Sample{Rec: robot.Recognition{Word: "yes", Confidence: 0.8}, OK: true}
}

func no() mock.Sample {
	return mock.Sample{Rec: robot.Recognition{Word: "no", Confidence: 0.8}, OK: true}
}

func TestController_AcceptPath(t *testing.T) {
	r := newRig(t, mock.Sample{}, yes())

	res, err := r.ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPhases := []Phase{
		PhaseGreeting, PhaseAwaitYesNo,
		PhaseSelfIntro, PhaseAwaitUtterance,
		PhaseAskStrengths, PhaseAwaitUtterance,
		PhaseEnd,
	}
	if !slices.Equal(res.Phases, wantPhases) {
		t.Errorf("phases = %v, want %v", res.Phases, wantPhases)
	}
	wantSaid := []string{r.script.Greeting, r.script.Welcome, r.script.Strengths, r.script.Closing}
	if got := r.speech.Said(); !slices.Equal(got, wantSaid) {
		t.Errorf("prompts = %q, want %q", got, wantSaid)
	}
	if res.Prompts != 4 {
		t.Errorf("Prompts = %d, want 4", res.Prompts)
	}
	if !res.Accepted || res.Answer != "yes" || res.Outcome() != "accepted" {
		t.Errorf("result = %+v, want accepted yes", res)
	}
	if len(res.Utterances) != 2 {
		t.Errorf("utterances = %d, want 2", len(res.Utterances))
	}
	if !slices.Equal(r.motors.Calls, []string{"wake", "stand", "rest"}) {
		t.Errorf("motor calls = %v", r.motors.Calls)
	}
	if len(r.sensor.Subscribed) != 2 || len(r.sensor.Unsubscribed) != 2 {
		t.Errorf("sound sessions = %d/%d, want 2/2", len(r.sensor.Subscribed), len(r.sensor.Unsubscribed))
	}
}

func TestController_DeclineAndTimeoutEndEarly(t *testing.T) {
	tests := []struct {
		name       string
		samples    []mock.Sample
		wantAnswer string
	}{
		{"declined", []mock.Sample{no()}, "no"},
		{"timeout", nil, ""},
		{"low confidence yes", []mock.Sample{{Rec: robot.Recognition{Word: "yes", Confidence: 0.2}, OK: true}}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, tc.samples...)

			res, err := r.ctrl.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if want := []Phase{PhaseGreeting, PhaseAwaitYesNo, PhaseEnd}; !slices.Equal(res.Phases, want) {
				t.Errorf("phases = %v, want %v", res.Phases, want)
			}
			if want := []string{r.script.Greeting, r.script.Closing}; !slices.Equal(r.speech.Said(), want) {
				t.Errorf("prompts = %q, want %q", r.speech.Said(), want)
			}
			if res.Accepted || res.Answer != tc.wantAnswer || res.Outcome() != "declined" {
				t.Errorf("result = accepted %v answer %q outcome %s", res.Accepted, res.Answer, res.Outcome())
			}
			if r.sensor.Calls() != 0 {
				t.Error("silence detector ran on a declined interview")
			}
			if !slices.Contains(r.motors.Calls, "rest") {
				t.Error("motors not released")
			}
		})
	}
}

func TestController_PreparesRecognizer(t *testing.T) {
	r := newRig(t, no())

	if _, err := r.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(r.rec.Languages, []string{"English"}) {
		t.Errorf("languages = %v", r.rec.Languages)
	}
	if len(r.rec.Vocabularies) != 1 || !slices.Equal(r.rec.Vocabularies[0], []string{"yes", "no"}) {
		t.Errorf("vocabularies = %v, want [[yes no]]", r.rec.Vocabularies)
	}
	if len(r.motors.StandSpeeds) != 1 || r.motors.StandSpeeds[0] != 0.5 {
		t.Errorf("stand speeds = %v, want [0.5]", r.motors.StandSpeeds)
	}
	// Stale cleanup, session teardown, final cleanup.
	if len(r.rec.Unsubscribed) != 3 {
		t.Errorf("recogniser unsubscribes = %d, want 3", len(r.rec.Unsubscribed))
	}
}

func TestController_StaleUnsubscribeFailureIgnored(t *testing.T) {
	r := newRig(t, no())
	r.rec.UnsubscribeErr = errors.New("not subscribed")

	res, err := r.ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "no" {
		t.Errorf("Answer = %q, want no", res.Answer)
	}
}

func TestController_CollaboratorFailureStillEnds(t *testing.T) {
	errDown := errors.New("connection refused")

	tests := []struct {
		name      string
		breakRig  func(r *rig)
		wantSaid  int
		wantPhase []Phase
	}{
		{
			name:      "wake fails",
			breakRig:  func(r *rig) { r.motors.WakeErr = errDown },
			wantSaid:  1,
			wantPhase: []Phase{PhaseEnd},
		},
		{
			name:      "vocabulary fails",
			breakRig:  func(r *rig) { r.rec.VocabularyErr = errDown },
			wantSaid:  1,
			wantPhase: []Phase{PhaseEnd},
		},
		{
			name:      "recogniser subscribe fails",
			breakRig:  func(r *rig) { r.rec.SubscribeErr = errDown },
			wantSaid:  2,
			wantPhase: []Phase{PhaseGreeting, PhaseAwaitYesNo, PhaseEnd},
		},
		{
			name: "sound sensor fails",
			breakRig: func(r *rig) {
				r.rec.Samples = []mock.Sample{yes()}
				r.sensor.SubscribeErr = errDown
			},
			wantSaid:  3,
			wantPhase: []Phase{PhaseGreeting, PhaseAwaitYesNo, PhaseSelfIntro, PhaseAwaitUtterance, PhaseEnd},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			tc.breakRig(r)

			res, err := r.ctrl.Run(context.Background())
			if !errors.Is(err, robot.ErrUnavailable) {
				t.Fatalf("err = %v, want ErrUnavailable", err)
			}
			if !errors.Is(res.Err, errDown) {
				t.Errorf("Result.Err = %v, want wrapped cause", res.Err)
			}
			if res.Outcome() != "error" {
				t.Errorf("Outcome = %q, want error", res.Outcome())
			}
			if !slices.Equal(res.Phases, tc.wantPhase) {
				t.Errorf("phases = %v, want %v", res.Phases, tc.wantPhase)
			}
			said := r.speech.Said()
			if len(said) != tc.wantSaid || said[len(said)-1] != r.script.Closing {
				t.Errorf("prompts = %q, want %d ending with the closing", said, tc.wantSaid)
			}
			if r.motors.Calls[len(r.motors.Calls)-1] != "rest" {
				t.Errorf("motor calls = %v, want rest last", r.motors.Calls)
			}
		})
	}
}

func TestController_EndFailuresDoNotMaskOutcome(t *testing.T) {
	r := newRig(t, no())
	r.motors.RestErr = errors.New("joint overheated")

	res, err := r.ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome() != "declined" {
		t.Errorf("Outcome = %q, want declined", res.Outcome())
	}
}

func TestController_CancelledRunStillSaysGoodbye(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.ctrl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, robot.ErrUnavailable) {
		t.Error("cancellation reported as an unavailable collaborator")
	}
	said := r.speech.Said()
	if len(said) == 0 || said[len(said)-1] != r.script.Closing {
		t.Errorf("prompts = %q, want closing last", said)
	}
	if res.lastPhase() != PhaseEnd {
		t.Errorf("last phase = %q, want end", res.lastPhase())
	}
}

// stubKeywords always reports a timeout and counts its sessions.
type stubKeywords struct{ calls int }

func (s *stubKeywords) Listen(context.Context, []string) (string, bool, error) {
	s.calls++
	return "", false, nil
}

// stubUtterances fails the test if it is ever run.
type stubUtterances struct{ t *testing.T }

func (s stubUtterances) Run(context.Context) (turn.Outcome, error) {
	s.t.Error("utterance session started after a timeout")
	return turn.Outcome{}, nil
}

func TestController_RepeatedTimeoutsAreBounded(t *testing.T) {
	r, speech, _, _, _, _ := mock.NewRobot()
	kw := &stubKeywords{}
	ctrl := NewController(r, kw, stubUtterances{t: t}, DefaultScript())

	for i := range 3 {
		res, err := ctrl.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Prompts != 2 {
			t.Errorf("run %d: prompts = %d, want 2", i, res.Prompts)
		}
	}
	if kw.calls != 3 {
		t.Errorf("keyword sessions = %d, want one per interview", kw.calls)
	}
	if len(speech.Said()) != 6 {
		t.Errorf("total prompts = %d, want 6", len(speech.Said()))
	}
}

func TestScript_Vocabulary(t *testing.T) {
	s := Script{AcceptWords: []string{"yes", "sure"}, DeclineWords: []string{"no", "yes"}}
	if got, want := s.Vocabulary(), []string{"yes", "sure", "no"}; !slices.Equal(got, want) {
		t.Errorf("Vocabulary = %v, want %v", got, want)
	}
}
