package turn

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/pkg/robot"
)

// WordMatcher maps a recognised word onto an entry of vocabulary. It returns
// the canonical vocabulary entry and true on a match. phonetic.Matcher
// implements it.
type WordMatcher interface {
	Match(word string, vocabulary []string) (canonical string, confidence float64, matched bool)
}

// KeywordListener runs bounded keyword-spotting sessions against a speech
// recogniser. Like [SilenceDetector] it holds only configuration; every Listen
// call is an independent session.
type KeywordListener struct {
	rec       robot.SpeechRecognizer
	interval  time.Duration
	threshold float64
	timeout   time.Duration
	clock     Clock
	matcher   WordMatcher
	metrics   *observe.Metrics
}

// KeywordOption configures a [KeywordListener].
type KeywordOption func(*KeywordListener)

// WithKeywordClock overrides the time source. Default: [SystemClock].
func WithKeywordClock(c Clock) KeywordOption {
	return func(l *KeywordListener) { l.clock = c }
}

// WithWordMatcher adds a fallback matcher consulted when a recognised word is
// not literally one of the targets.
func WithWordMatcher(m WordMatcher) KeywordOption {
	return func(l *KeywordListener) { l.matcher = m }
}

// WithKeywordMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithKeywordMetrics(m *observe.Metrics) KeywordOption {
	return func(l *KeywordListener) { l.metrics = m }
}

// NewKeywordListener returns a listener using the keyword fields and poll
// interval of cfg.
func NewKeywordListener(rec robot.SpeechRecognizer, cfg Config, opts ...KeywordOption) *KeywordListener {
	l := &KeywordListener{
		rec:       rec,
		interval:  cfg.PollInterval,
		threshold: cfg.KeywordConfidenceThreshold,
		timeout:   cfg.KeywordTimeout,
		clock:     SystemClock{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Listen polls the recogniser until a sample with confidence strictly above
// the threshold names one of targets, returning that target and true, or until
// the timeout elapses, returning "" and false. A timeout is not an error.
//
// Listen subscribes on entry, clears any stale recognition, and unsubscribes
// on every exit path. It returns an error wrapping [robot.ErrUnavailable] when
// the subscription fails and ctx.Err() on cancellation. Failed or malformed
// samples count as "no match" for their tick. The session never runs longer
// than the timeout plus one poll interval, even when a fetch stalls: the
// fetches and sleeps run under a session deadline, and hitting it is a
// timeout like any other.
func (l *KeywordListener) Listen(ctx context.Context, targets []string) (string, bool, error) {
	log := observe.Logger(ctx)

	if err := l.rec.Subscribe(ctx, SpeechTag); err != nil {
		l.metrics.RecordCollaboratorError(ctx, "recognizer", "subscribe")
		return "", false, fmt.Errorf("turn: subscribe speech recognition: %w: %w", robot.ErrUnavailable, err)
	}
	defer l.unsubscribe(ctx)

	l.metrics.ActiveSessions.Add(ctx, 1)
	defer l.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if err := l.rec.ClearRecognition(ctx); err != nil {
		log.Warn("clearing stale recognition failed", "err", err)
	}

	sctx, cancel := context.WithTimeout(ctx, l.timeout+l.interval)
	defer cancel()
	timedOut := func() (string, bool, error) {
		log.Info("keyword timeout", "targets", targets, "timeout", l.timeout)
		l.metrics.RecordKeywordResult(ctx, "timeout")
		return "", false, nil
	}

	start := l.clock.Now()
	for {
		if l.clock.Now().Sub(start) > l.timeout {
			return timedOut()
		}

		rec, ok, err := l.rec.LatestRecognition(sctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			if sctx.Err() != nil {
				return timedOut()
			}
			log.Warn("recognition sample failed", "err", err)
			l.metrics.RecordCollaboratorError(ctx, "recognizer", "fetch")
		case ok && rec.Confidence > l.threshold:
			if word, hit := l.match(rec.Word, targets); hit {
				log.Info("keyword matched", "word", word, "heard", rec.Word, "confidence", rec.Confidence)
				l.metrics.RecordKeywordResult(ctx, "matched")
				return word, true, nil
			}
		}

		if err := l.clock.Sleep(sctx, l.interval); err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			return timedOut()
		}
	}
}

func (l *KeywordListener) match(word string, targets []string) (string, bool) {
	if slices.Contains(targets, word) {
		return word, true
	}
	if l.matcher == nil || strings.TrimSpace(word) == "" {
		return "", false
	}
	canonical, _, ok := l.matcher.Match(word, targets)
	return canonical, ok
}

func (l *KeywordListener) unsubscribe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := l.rec.Unsubscribe(ctx, SpeechTag); err != nil {
		observe.Logger(ctx).Warn("speech recognition unsubscribe failed", "err", err)
	}
}
