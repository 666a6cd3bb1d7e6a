package turn

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/interviewer/internal/observe"
)

// AsyncSpeaker is the part of robot.SpeechOutput the scheduler needs.
type AsyncSpeaker interface {
	SayAsync(ctx context.Context, text string) error
}

// defaultDispatchTimeout bounds a single backchannel dispatch.
const defaultDispatchTimeout = 5 * time.Second

// FeedbackScheduler picks a backchannel phrase and hands it to the speaker
// without blocking the caller. At most maxInFlight dispatches run at once;
// a trigger that finds them all busy is dropped rather than queued, since a
// late backchannel would land on top of the user's next sentence.
type FeedbackScheduler struct {
	speaker AsyncSpeaker
	phrases []string
	timeout time.Duration
	metrics *observe.Metrics

	mu  sync.Mutex
	rng *rand.Rand

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// FeedbackOption configures a [FeedbackScheduler].
type FeedbackOption func(*FeedbackScheduler)

// WithRand sets the random source used to choose phrases. Tests pass a seeded
// source to make the choice deterministic.
func WithRand(r *rand.Rand) FeedbackOption {
	return func(f *FeedbackScheduler) { f.rng = r }
}

// WithDispatchTimeout bounds each dispatch. Default: 5s.
func WithDispatchTimeout(d time.Duration) FeedbackOption {
	return func(f *FeedbackScheduler) { f.timeout = d }
}

// WithMaxInFlight sets how many dispatches may run concurrently. Default: 1.
func WithMaxInFlight(n int64) FeedbackOption {
	return func(f *FeedbackScheduler) { f.sem = semaphore.NewWeighted(n) }
}

// WithFeedbackMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithFeedbackMetrics(m *observe.Metrics) FeedbackOption {
	return func(f *FeedbackScheduler) { f.metrics = m }
}

// NewFeedbackScheduler returns a scheduler that speaks one of phrases through
// speaker on every Trigger.
func NewFeedbackScheduler(speaker AsyncSpeaker, phrases []string, opts ...FeedbackOption) *FeedbackScheduler {
	f := &FeedbackScheduler{
		speaker: speaker,
		phrases: append([]string(nil), phrases...),
		timeout: defaultDispatchTimeout,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sem:     semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Trigger selects a phrase uniformly at random and dispatches it on a separate
// goroutine. It returns immediately, reporting false when the cue was dropped
// because no phrases are configured or every dispatch slot is busy. Dispatch
// failures are logged, never retried, and never reported to the caller. The
// dispatch outlives ctx cancellation so a cue already chosen is not cut off by
// the session ending.
func (f *FeedbackScheduler) Trigger(ctx context.Context) bool {
	if len(f.phrases) == 0 {
		return false
	}
	phrase := f.choose()

	if !f.sem.TryAcquire(1) {
		observe.Logger(ctx).Debug("backchannel dropped, previous still dispatching", "phrase", phrase)
		f.metrics.RecordFeedback(ctx, "dropped")
		return false
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)
		defer cancel()

		if err := f.speaker.SayAsync(dctx, phrase); err != nil {
			observe.Logger(dctx).Warn("backchannel dispatch failed", "phrase", phrase, "err", err)
			f.metrics.RecordFeedback(dctx, "error")
			return
		}
		observe.Logger(dctx).Debug("backchannel dispatched", "phrase", phrase)
		f.metrics.RecordFeedback(dctx, "ok")
	}()
	return true
}

// Wait blocks until every dispatch started so far has finished. Listening
// sessions never call it; it exists for shutdown and tests.
func (f *FeedbackScheduler) Wait() {
	f.wg.Wait()
}

func (f *FeedbackScheduler) choose() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phrases[f.rng.IntN(len(f.phrases))]
}
