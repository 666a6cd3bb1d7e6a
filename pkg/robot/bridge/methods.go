package bridge

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/MrWong99/interviewer/pkg/robot"
)

// Compile-time interface assertions.
var (
	_ robot.SpeechOutput     = (*Client)(nil)
	_ robot.MotorSystem      = (*Client)(nil)
	_ robot.SystemControl    = (*Client)(nil)
	_ robot.ActivitySensor   = (*SoundSensor)(nil)
	_ robot.SensitivityTuner = (*SoundSensor)(nil)
	_ robot.SpeechRecognizer = (*Recognizer)(nil)
)

type textParams struct {
	Text string `json:"text"`
}

type tagParams struct {
	Tag string `json:"tag"`
}

// ── Speech ─────────────────────────────────────────────────────────────────────

// Say speaks text and waits until playback finishes.
func (c *Client) Say(ctx context.Context, text string) error {
	return c.call(ctx, "tts.say", textParams{Text: text}, nil)
}

// SayAsync queues text for playback. The bridge acknowledges once queued.
func (c *Client) SayAsync(ctx context.Context, text string) error {
	return c.call(ctx, "tts.say_async", textParams{Text: text}, nil)
}

// ── Motors ─────────────────────────────────────────────────────────────────────

func (c *Client) Wake(ctx context.Context) error {
	return c.call(ctx, "motion.wake_up", nil, nil)
}

func (c *Client) Rest(ctx context.Context) error {
	return c.call(ctx, "motion.rest", nil, nil)
}

func (c *Client) StandPosture(ctx context.Context, speed float64) error {
	return c.call(ctx, "posture.go_to", struct {
		Posture string  `json:"posture"`
		Speed   float64 `json:"speed"`
	}{Posture: "Stand", Speed: speed}, nil)
}

// ── System ─────────────────────────────────────────────────────────────────────

func (c *Client) SetMuted(ctx context.Context, muted bool) error {
	return c.call(ctx, "audio.mute", struct {
		Muted bool `json:"muted"`
	}{muted}, nil)
}

func (c *Client) SetVolume(ctx context.Context, volume int) error {
	return c.call(ctx, "audio.set_volume", struct {
		Volume int `json:"volume"`
	}{volume}, nil)
}

func (c *Client) AutonomyState(ctx context.Context) (string, error) {
	var state string
	if err := c.call(ctx, "life.get_state", nil, &state); err != nil {
		return "", err
	}
	return state, nil
}

func (c *Client) SetAutonomyState(ctx context.Context, state string) error {
	return c.call(ctx, "life.set_state", struct {
		State string `json:"state"`
	}{state}, nil)
}

// ── Sound ──────────────────────────────────────────────────────────────────────

// SoundSensor is the sound activity role of a [Client].
type SoundSensor struct{ c *Client }

// Sound returns the sound activity role.
func (c *Client) Sound() *SoundSensor { return &SoundSensor{c: c} }

func (s *SoundSensor) Subscribe(ctx context.Context, tag string) error {
	return s.c.call(ctx, "sound.subscribe", tagParams{Tag: tag}, nil)
}

func (s *SoundSensor) Unsubscribe(ctx context.Context, tag string) error {
	return s.c.call(ctx, "sound.unsubscribe", tagParams{Tag: tag}, nil)
}

func (s *SoundSensor) SetSensitivity(ctx context.Context, sensitivity float64) error {
	return s.c.call(ctx, "sound.set_sensitivity", struct {
		Value float64 `json:"value"`
	}{sensitivity}, nil)
}

// CurrentToken returns the raw "SoundDetected" memory value, compacted, as an
// opaque token. The robot rewrites the value with a fresh timestamp on every
// sound event, so equality is all that matters.
func (s *SoundSensor) CurrentToken(ctx context.Context) (robot.ActivityToken, error) {
	var raw json.RawMessage
	if err := s.c.call(ctx, "memory.sound_detected", nil, &raw); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return robot.ActivityToken(raw), nil
	}
	return robot.ActivityToken(buf.String()), nil
}

// ── Speech recognition ────────────────────────────────────────────────────────

// Recognizer is the speech recognition role of a [Client].
type Recognizer struct{ c *Client }

// ASR returns the speech recognition role.
func (c *Client) ASR() *Recognizer { return &Recognizer{c: c} }

func (r *Recognizer) Subscribe(ctx context.Context, tag string) error {
	return r.c.call(ctx, "asr.subscribe", tagParams{Tag: tag}, nil)
}

func (r *Recognizer) Unsubscribe(ctx context.Context, tag string) error {
	return r.c.call(ctx, "asr.unsubscribe", tagParams{Tag: tag}, nil)
}

func (r *Recognizer) SetLanguage(ctx context.Context, language string) error {
	return r.c.call(ctx, "asr.set_language", struct {
		Language string `json:"language"`
	}{language}, nil)
}

func (r *Recognizer) SetVocabulary(ctx context.Context, words []string) error {
	return r.c.call(ctx, "asr.set_vocabulary", struct {
		Words []string `json:"words"`
	}{words}, nil)
}

func (r *Recognizer) ClearRecognition(ctx context.Context) error {
	return r.c.call(ctx, "asr.clear", nil, nil)
}

// LatestRecognition reads the "WordRecognized" memory value, which the robot
// stores as [word, confidence, word, confidence, ...]. Only the first pair is
// used. Any other shape, including an empty word, yields ok == false.
func (r *Recognizer) LatestRecognition(ctx context.Context) (robot.Recognition, bool, error) {
	var raw json.RawMessage
	if err := r.c.call(ctx, "memory.word_recognized", nil, &raw); err != nil {
		return robot.Recognition{}, false, err
	}
	rec, ok := parseRecognition(raw)
	return rec, ok, nil
}

func parseRecognition(raw json.RawMessage) (robot.Recognition, bool) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
		return robot.Recognition{}, false
	}
	var rec robot.Recognition
	if err := json.Unmarshal(pair[0], &rec.Word); err != nil || rec.Word == "" {
		return robot.Recognition{}, false
	}
	if err := json.Unmarshal(pair[1], &rec.Confidence); err != nil {
		return robot.Recognition{}, false
	}
	return rec, true
}
