package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// ChangeFunc is called after the watched file changed to another valid
// configuration whose settings differ from the current one.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher re-reads a config file on a fixed interval and serves the latest
// valid version through [Watcher.Current]. Invalid edits are logged and
// ignored. Edits that only touch comments or formatting leave the current
// config in place and do not fire the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]

	// Only touched by the polling goroutine.
	seen fileStamp
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnChange sets the change callback.
func WithOnChange(fn ChangeFunc) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen = stamp
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run polls the file until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.seen.mtime) {
		return
	}

	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		slog.Warn("config: reload rejected, keeping previous configuration", "path", w.path, "err", err)
		return
	}
	sameBytes := stamp.sum == w.seen.sum
	w.seen = stamp
	if sameBytes {
		return
	}

	old := w.current.Load()
	d := Diff(old, cfg)
	if !d.Changed() {
		return
	}
	w.current.Store(cfg)

	slog.Info("config: reloaded", "path", w.path,
		"turn", d.TurnChanged, "keyword", d.KeywordChanged, "script", d.ScriptChanged)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: reloaded sections take effect after a restart", "sections", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// readStamped parses and validates the file at path and stamps it with its
// modification time and content digest.
func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
