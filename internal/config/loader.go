package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. An empty document yields the defaults. Unknown keys are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Robot
	if u, err := url.Parse(cfg.Robot.BridgeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Errorf("robot.bridge_url %q must be a ws:// or wss:// URL", cfg.Robot.BridgeURL))
	}
	errs = appendPositive(errs, "robot.connect_timeout", cfg.Robot.ConnectTimeout)
	errs = appendPositive(errs, "robot.request_timeout", cfg.Robot.RequestTimeout)
	if cfg.Robot.Volume < 0 || cfg.Robot.Volume > 100 {
		errs = append(errs, fmt.Errorf("robot.volume %d is out of range [0, 100]", cfg.Robot.Volume))
	}
	if strings.TrimSpace(cfg.Robot.Language) == "" {
		errs = append(errs, errors.New("robot.language is required"))
	}
	if cfg.Robot.SoundSensitivity < 0 || cfg.Robot.SoundSensitivity > 1 {
		errs = append(errs, fmt.Errorf("robot.sound_sensitivity %.2f is out of range [0, 1]", cfg.Robot.SoundSensitivity))
	}

	// Turn
	errs = appendPositive(errs, "turn.poll_interval", cfg.Turn.PollInterval)
	errs = appendPositive(errs, "turn.pause_threshold", cfg.Turn.PauseThreshold)
	errs = appendPositive(errs, "turn.completion_timeout", cfg.Turn.CompletionTimeout)
	errs = appendPositive(errs, "turn.feedback_cooldown", cfg.Turn.FeedbackCooldown)
	if cfg.Turn.PauseThreshold >= cfg.Turn.CompletionTimeout {
		errs = append(errs, fmt.Errorf("turn.pause_threshold %s must be less than turn.completion_timeout %s",
			cfg.Turn.PauseThreshold, cfg.Turn.CompletionTimeout))
	}
	if len(cfg.Turn.FeedbackPhrases) == 0 {
		errs = append(errs, errors.New("turn.feedback_phrases must not be empty"))
	}
	for i, p := range cfg.Turn.FeedbackPhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("turn.feedback_phrases[%d] is empty", i))
		}
	}

	// Keyword
	if cfg.Keyword.ConfidenceThreshold < 0 || cfg.Keyword.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("keyword.confidence_threshold %.2f is out of range [0, 1]", cfg.Keyword.ConfidenceThreshold))
	}
	errs = appendPositive(errs, "keyword.timeout", cfg.Keyword.Timeout)

	// Script
	prompts := []struct{ name, text string }{
		{"greeting", cfg.Script.Greeting},
		{"welcome", cfg.Script.Welcome},
		{"strengths", cfg.Script.Strengths},
		{"closing", cfg.Script.Closing},
	}
	for _, p := range prompts {
		if strings.TrimSpace(p.text) == "" {
			errs = append(errs, fmt.Errorf("script.%s is required", p.name))
		}
	}
	if len(cfg.Script.AcceptWords) == 0 {
		errs = append(errs, errors.New("script.accept_words must not be empty"))
	}
	for _, w := range cfg.Script.AcceptWords {
		if slices.Contains(cfg.Script.DeclineWords, w) {
			errs = append(errs, fmt.Errorf("script: %q is both an accept and a decline word", w))
		}
	}

	// Runner
	if cfg.Runner.RepeatDelay < 0 {
		errs = append(errs, fmt.Errorf("runner.repeat_delay %s must not be negative", cfg.Runner.RepeatDelay))
	}
	if cfg.Runner.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("runner.reload_interval %s must not be negative", cfg.Runner.ReloadInterval))
	}

	return errors.Join(errs...)
}

func appendPositive(errs []error, field string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, fmt.Errorf("%s must be positive", field))
	}
	return errs
}
