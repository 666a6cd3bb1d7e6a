// Package turn implements the interviewer's turn-taking engine: a debounced,
// timeout-driven silence detector over a coarse sound-activity signal, the
// backchannel scheduler it drives, and a bounded keyword-spotting session for
// short closed answers.
//
// Every listening session owns its timers and its robot subscription for its
// own lifetime only. Exactly one session runs at a time; the dialogue
// controller sequences them.
package turn

import "time"

// Subscription tags used with the robot collaborators.
const (
	SoundTag  = "InterviewerApp_Sound"
	SpeechTag = "InterviewerApp"
)

// Config holds the timing and threshold parameters of the turn-taking engine.
// It is immutable for the duration of a session.
type Config struct {
	// PollInterval is the sampling period of every listening session.
	PollInterval time.Duration

	// PauseThreshold is the silence after speech that counts as a pause. It
	// must be strictly smaller than CompletionTimeout; this is checked by
	// configuration validation, not by the detector.
	PauseThreshold time.Duration

	// CompletionTimeout is the silence after which the utterance is complete.
	// Silence from the very start of a session also satisfies it.
	CompletionTimeout time.Duration

	// FeedbackCooldown is the minimum gap between two backchannel cues.
	FeedbackCooldown time.Duration

	// FeedbackPhrases are the backchannel cues to choose from.
	FeedbackPhrases []string

	// KeywordConfidenceThreshold is the exclusive lower bound on recognition
	// confidence for a keyword to count.
	KeywordConfidenceThreshold float64

	// KeywordTimeout bounds a keyword-listening session.
	KeywordTimeout time.Duration

	// SoundSensitivity is applied to sensors that implement
	// robot.SensitivityTuner before they are subscribed. Zero leaves the
	// sensor's own setting untouched.
	SoundSensitivity float64
}

// DefaultConfig returns the interviewer's stock timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:               100 * time.Millisecond,
		PauseThreshold:             500 * time.Millisecond,
		CompletionTimeout:          3 * time.Second,
		FeedbackCooldown:           2 * time.Second,
		FeedbackPhrases:            []string{"Okay", "Hmmm", "I see", "Go on"},
		KeywordConfidenceThreshold: 0.4,
		KeywordTimeout:             20 * time.Second,
		SoundSensitivity:           0.8,
	}
}
