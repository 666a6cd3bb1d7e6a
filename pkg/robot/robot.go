// Package robot defines the narrow capability interfaces the interviewer
// consumes from the robot it runs on.
//
// Each interface covers one collaborator role (speech output, sound activity,
// speech recognition, motors, system control) so that the turn-taking core
// never depends on a concrete hardware binding. Production code uses the
// WebSocket bridge client in [bridge]; tests use the recording doubles in
// [mock].
//
// All methods take a context and must return promptly once it is cancelled.
// Implementations must be safe for concurrent use: backchannel speech is
// dispatched from a separate goroutine while a listening session polls.
package robot

import (
	"context"
	"errors"
)

// ErrUnavailable reports that a collaborator could not be reached. Listening
// sessions wrap subscribe and initial-fetch failures with it; callers treat it
// as fatal for the whole interview.
var ErrUnavailable = errors.New("robot: collaborator unavailable")

// ActivityToken is an opaque, comparable snapshot of the sound activity
// sensor. Two consecutive equal tokens mean "no new sound"; any difference
// means sound was detected, regardless of magnitude. Callers must not
// interpret its contents.
type ActivityToken string

// Recognition is a single keyword recognition sample.
type Recognition struct {
	// Word is the recognised vocabulary word.
	Word string

	// Confidence is the recogniser's confidence in [0, 1].
	Confidence float64
}

// SpeechOutput speaks text through the robot.
type SpeechOutput interface {
	// Say speaks text and blocks until playback finishes.
	Say(ctx context.Context, text string) error

	// SayAsync queues text for playback and returns without waiting for it to
	// be spoken.
	SayAsync(ctx context.Context, text string) error
}

// ActivitySensor exposes the sound activity signal.
type ActivitySensor interface {
	// Subscribe starts sound detection on behalf of tag.
	Subscribe(ctx context.Context, tag string) error

	// Unsubscribe stops sound detection for tag.
	Unsubscribe(ctx context.Context, tag string) error

	// CurrentToken returns the latest activity token. The sensor must emit a
	// distinct token for every new sound event; a static value while sound is
	// continuously present would be read as silence.
	CurrentToken(ctx context.Context) (ActivityToken, error)
}

// SensitivityTuner is implemented by activity sensors whose detection
// threshold can be adjusted. Sensitivity is in [0, 1]; higher is more
// sensitive.
type SensitivityTuner interface {
	SetSensitivity(ctx context.Context, sensitivity float64) error
}

// SpeechRecognizer spots words from a closed vocabulary.
type SpeechRecognizer interface {
	// Subscribe starts recognition on behalf of tag.
	Subscribe(ctx context.Context, tag string) error

	// Unsubscribe stops recognition for tag.
	Unsubscribe(ctx context.Context, tag string) error

	// SetLanguage selects the recognition language (e.g. "English").
	SetLanguage(ctx context.Context, language string) error

	// SetVocabulary replaces the set of words the recogniser listens for.
	SetVocabulary(ctx context.Context, words []string) error

	// ClearRecognition discards any cached recognition so that a stale value
	// from a previous session is not reported again.
	ClearRecognition(ctx context.Context) error

	// LatestRecognition returns the most recent recognition. ok is false when
	// there is none or the sample was malformed.
	LatestRecognition(ctx context.Context) (rec Recognition, ok bool, err error)
}

// MotorSystem drives the robot's body.
type MotorSystem interface {
	// Wake turns stiffness on so the robot can move.
	Wake(ctx context.Context) error

	// Rest moves the robot to a safe resting position and releases the motors.
	Rest(ctx context.Context) error

	// StandPosture moves the robot into the standing posture at the given
	// fraction of maximum speed.
	StandPosture(ctx context.Context, speed float64) error
}

// SystemControl covers the one-shot setup calls made before an interview.
type SystemControl interface {
	// SetMuted mutes or unmutes the audio output.
	SetMuted(ctx context.Context, muted bool) error

	// SetVolume sets the output volume in [0, 100].
	SetVolume(ctx context.Context, volume int) error

	// AutonomyState returns the current autonomous-behaviour state.
	AutonomyState(ctx context.Context) (string, error)

	// SetAutonomyState switches the autonomous-behaviour state.
	SetAutonomyState(ctx context.Context, state string) error
}

// AutonomyDisabled is the autonomy state in which the robot does not
// arbitrate its own behaviour.
const AutonomyDisabled = "disabled"

// Robot bundles every collaborator role. The bridge client implements it in
// full; tests typically compose it from individual mocks.
type Robot struct {
	Speech     SpeechOutput
	Activity   ActivitySensor
	Recognizer SpeechRecognizer
	Motors     MotorSystem
	System     SystemControl
}
