// Package mock provides test doubles for the robot package interfaces.
//
// Every mock records its calls under a mutex and returns configurable errors.
// Sensor and recogniser feeds are scripted either as a fixed sequence (the
// last value repeats once the sequence is exhausted) or as a function, which
// lets tests tie the feed to a fake clock.
//
// Example:
//
//	sensor := &mock.ActivitySensor{Tokens: []robot.ActivityToken{"a", "a", "b"}}
//	rec := &mock.Recognizer{Samples: []mock.Sample{{}, {}, {Rec: robot.Recognition{Word: "yes", Confidence: 0.9}, OK: true}}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/interviewer/pkg/robot"
)

// Speech is a mock implementation of robot.SpeechOutput.
type Speech struct {
	mu sync.Mutex

	// SayErr, if non-nil, is returned by every Say call.
	SayErr error

	// SayAsyncErr, if non-nil, is returned by every SayAsync call.
	SayAsyncErr error

	// AsyncGate, if non-nil, makes SayAsync block until the channel is closed
	// or ctx is done. Used to prove callers do not wait on async dispatch.
	AsyncGate chan struct{}

	// SayCalls records the text of every Say call in order.
	SayCalls []string

	// SayAsyncCalls records the text of every SayAsync call in order.
	SayAsyncCalls []string
}

// Say records the call and returns SayErr.
func (s *Speech) Say(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SayCalls = append(s.SayCalls, text)
	return s.SayErr
}

// SayAsync waits on AsyncGate (if set), records the call and returns SayAsyncErr.
func (s *Speech) SayAsync(ctx context.Context, text string) error {
	if s.AsyncGate != nil {
		select {
		case <-s.AsyncGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SayAsyncCalls = append(s.SayAsyncCalls, text)
	return s.SayAsyncErr
}

// Said returns a copy of the Say call log. Thread-safe.
func (s *Speech) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.SayCalls)
}

// SaidAsync returns a copy of the SayAsync call log. Thread-safe.
func (s *Speech) SaidAsync() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.SayAsyncCalls)
}

var _ robot.SpeechOutput = (*Speech)(nil)

// ActivitySensor is a mock implementation of robot.ActivitySensor and
// robot.SensitivityTuner.
type ActivitySensor struct {
	mu sync.Mutex

	// TokenFunc, if set, produces every token. It takes precedence over Tokens.
	TokenFunc func() (robot.ActivityToken, error)

	// Tokens is the scripted token sequence. The last token repeats once the
	// sequence is exhausted; an empty sequence yields "".
	Tokens []robot.ActivityToken

	// SubscribeErr, UnsubscribeErr and TokenErr are returned by the matching
	// methods when non-nil.
	SubscribeErr   error
	UnsubscribeErr error
	TokenErr       error

	// SensitivityErr is returned by SetSensitivity when non-nil.
	SensitivityErr error

	// --- Call records ---

	Subscribed      []string
	Unsubscribed    []string
	TokenCalls      int
	SensitivityCall []float64
}

// Subscribe records the tag and returns SubscribeErr.
func (a *ActivitySensor) Subscribe(_ context.Context, tag string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Subscribed = append(a.Subscribed, tag)
	return a.SubscribeErr
}

// Unsubscribe records the tag and returns UnsubscribeErr.
func (a *ActivitySensor) Unsubscribe(_ context.Context, tag string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Unsubscribed = append(a.Unsubscribed, tag)
	return a.UnsubscribeErr
}

// CurrentToken returns the next scripted token.
func (a *ActivitySensor) CurrentToken(_ context.Context) (robot.ActivityToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.TokenCalls
	a.TokenCalls++
	if a.TokenErr != nil {
		return "", a.TokenErr
	}
	if a.TokenFunc != nil {
		return a.TokenFunc()
	}
	if len(a.Tokens) == 0 {
		return "", nil
	}
	if n >= len(a.Tokens) {
		n = len(a.Tokens) - 1
	}
	return a.Tokens[n], nil
}

// SetSensitivity records the value and returns SensitivityErr.
func (a *ActivitySensor) SetSensitivity(_ context.Context, sensitivity float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SensitivityCall = append(a.SensitivityCall, sensitivity)
	return a.SensitivityErr
}

// Calls returns the number of CurrentToken calls so far. Thread-safe.
func (a *ActivitySensor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.TokenCalls
}

var (
	_ robot.ActivitySensor   = (*ActivitySensor)(nil)
	_ robot.SensitivityTuner = (*ActivitySensor)(nil)
)

// Sample is one scripted recognition result.
type Sample struct {
	Rec robot.Recognition
	OK  bool
	Err error
}

// Recognizer is a mock implementation of robot.SpeechRecognizer.
type Recognizer struct {
	mu sync.Mutex

	// SampleFunc, if set, produces every sample. It takes precedence over
	// Samples.
	SampleFunc func() Sample

	// Samples is the scripted recognition sequence. Once exhausted, every
	// further call reports no recognition.
	Samples []Sample

	SubscribeErr   error
	UnsubscribeErr error
	LanguageErr    error
	VocabularyErr  error
	ClearErr       error

	// --- Call records ---

	Subscribed   []string
	Unsubscribed []string
	Languages    []string
	Vocabularies [][]string
	ClearCalls   int
	SampleCalls  int
}

// Subscribe records the tag and returns SubscribeErr.
func (r *Recognizer) Subscribe(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subscribed = append(r.Subscribed, tag)
	return r.SubscribeErr
}

// Unsubscribe records the tag and returns UnsubscribeErr.
func (r *Recognizer) Unsubscribe(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unsubscribed = append(r.Unsubscribed, tag)
	return r.UnsubscribeErr
}

// SetLanguage records the language and returns LanguageErr.
func (r *Recognizer) SetLanguage(_ context.Context, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Languages = append(r.Languages, language)
	return r.LanguageErr
}

// SetVocabulary records a copy of words and returns VocabularyErr.
func (r *Recognizer) SetVocabulary(_ context.Context, words []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Vocabularies = append(r.Vocabularies, slices.Clone(words))
	return r.VocabularyErr
}

// ClearRecognition records the call and returns ClearErr.
func (r *Recognizer) ClearRecognition(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ClearCalls++
	return r.ClearErr
}

// LatestRecognition returns the next scripted sample.
func (r *Recognizer) LatestRecognition(_ context.Context) (robot.Recognition, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.SampleCalls
	r.SampleCalls++
	var s Sample
	switch {
	case r.SampleFunc != nil:
		s = r.SampleFunc()
	case n < len(r.Samples):
		s = r.Samples[n]
	}
	return s.Rec, s.OK, s.Err
}

// Calls returns the number of LatestRecognition calls so far. Thread-safe.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SampleCalls
}

var _ robot.SpeechRecognizer = (*Recognizer)(nil)

// Motors is a mock implementation of robot.MotorSystem. Every call appends its
// name ("wake", "rest", "stand") to Calls.
type Motors struct {
	mu sync.Mutex

	WakeErr  error
	RestErr  error
	StandErr error

	Calls       []string
	StandSpeeds []float64
}

// Wake records the call and returns WakeErr.
func (m *Motors) Wake(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "wake")
	return m.WakeErr
}

// Rest records the call and returns RestErr.
func (m *Motors) Rest(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "rest")
	return m.RestErr
}

// StandPosture records the call and returns StandErr.
func (m *Motors) StandPosture(_ context.Context, speed float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "stand")
	m.StandSpeeds = append(m.StandSpeeds, speed)
	return m.StandErr
}

var _ robot.MotorSystem = (*Motors)(nil)

// System is a mock implementation of robot.SystemControl.
type System struct {
	mu sync.Mutex

	// State is returned by AutonomyState and updated by SetAutonomyState.
	State string

	MuteErr   error
	VolumeErr error
	StateErr  error
	SetErr    error

	MuteCalls   []bool
	VolumeCalls []int
	StateSets   []string
}

// SetMuted records the call and returns MuteErr.
func (s *System) SetMuted(_ context.Context, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MuteCalls = append(s.MuteCalls, muted)
	return s.MuteErr
}

// SetVolume records the call and returns VolumeErr.
func (s *System) SetVolume(_ context.Context, volume int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VolumeCalls = append(s.VolumeCalls, volume)
	return s.VolumeErr
}

// AutonomyState returns State, StateErr.
func (s *System) AutonomyState(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State, s.StateErr
}

// SetAutonomyState records the call, updates State and returns SetErr.
func (s *System) SetAutonomyState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateSets = append(s.StateSets, state)
	if s.SetErr != nil {
		return s.SetErr
	}
	s.State = state
	return nil
}

var _ robot.SystemControl = (*System)(nil)

// NewRobot returns a robot.Robot assembled from fresh mocks, along with the
// mocks themselves for inspection.
func NewRobot() (robot.Robot, *Speech, *ActivitySensor, *Recognizer, *Motors, *System) {
	sp := &Speech{}
	as := &ActivitySensor{}
	rc := &Recognizer{}
	mo := &Motors{}
	sy := &System{State: "solitary"}
	return robot.Robot{
		Speech:     sp,
		Activity:   as,
		Recognizer: rc,
		Motors:     mo,
		System:     sy,
	}, sp, as, rc, mo, sy
}
