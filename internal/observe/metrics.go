// Package observe provides application-wide observability primitives for the
// interviewer: OpenTelemetry metrics, tracing helpers, a trace-aware slog
// logger, and HTTP middleware for the operations endpoints.
//
// Instruments are created through the OpenTelemetry Metrics API and scraped
// from the registry that [Init] wires up. Components that are not handed a
// [Metrics] fall back to [DefaultMetrics]; tests build their own with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all interviewer metrics.
const meterName = "github.com/MrWong99/interviewer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Turn taking ---

	// Pauses counts pause-detected events (backchannel opportunities that
	// passed the feedback cooldown).
	Pauses metric.Int64Counter

	// Utterances counts completed silence-detector sessions. Use with
	// attribute.Bool("spoke", ...).
	Utterances metric.Int64Counter

	// UtteranceDuration tracks how long a silence-detector session ran until
	// the utterance was judged complete.
	UtteranceDuration metric.Float64Histogram

	// KeywordResults counts keyword-listener outcomes. Use with
	//   attribute.String("result", "matched"|"timeout")
	KeywordResults metric.Int64Counter

	// FeedbackDispatches counts backchannel dispatches. Use with
	//   attribute.String("status", "ok"|"error"|"dropped")
	FeedbackDispatches metric.Int64Counter

	// --- Dialogue ---

	// Phases counts dialogue phases entered. Use with attribute.String("phase", ...).
	Phases metric.Int64Counter

	// Interviews counts finished interviews. Use with
	//   attribute.String("outcome", "accepted"|"declined"|"error")
	Interviews metric.Int64Counter

	// CollaboratorErrors counts failed robot calls. Use with
	//   attribute.String("collaborator", ...), attribute.String("op", ...)
	CollaboratorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a listening session owns a robot subscription.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operations endpoint latency.
	HTTPRequestDuration metric.Float64Histogram
}

// utteranceBuckets are histogram boundaries (in seconds) for a spoken answer.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Pauses, err = m.Int64Counter("interviewer.turn.pauses",
		metric.WithDescription("Pause-detected events that triggered a backchannel."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("interviewer.turn.utterances",
		metric.WithDescription("Completed utterances by whether the user spoke at all."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("interviewer.turn.utterance.duration",
		metric.WithDescription("Length of a listening session until the utterance completed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KeywordResults, err = m.Int64Counter("interviewer.keyword.results",
		metric.WithDescription("Keyword listener outcomes by result."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackDispatches, err = m.Int64Counter("interviewer.feedback.dispatches",
		metric.WithDescription("Backchannel dispatches by status."),
	); err != nil {
		return nil, err
	}
	if met.Phases, err = m.Int64Counter("interviewer.interview.phases",
		metric.WithDescription("Dialogue phases entered by phase name."),
	); err != nil {
		return nil, err
	}
	if met.Interviews, err = m.Int64Counter("interviewer.interviews",
		metric.WithDescription("Finished interviews by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("interviewer.collaborator.errors",
		metric.WithDescription("Failed robot collaborator calls by collaborator and operation."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("interviewer.active_sessions",
		metric.WithDescription("Listening sessions currently holding a robot subscription."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("interviewer.http.request.duration",
		metric.WithDescription("Operations endpoint latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordKeywordResult increments KeywordResults for result.
func (m *Metrics) RecordKeywordResult(ctx context.Context, result string) {
	m.KeywordResults.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFeedback increments FeedbackDispatches for status.
func (m *Metrics) RecordFeedback(ctx context.Context, status string) {
	m.FeedbackDispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordUtterance records a completed utterance and its session duration.
func (m *Metrics) RecordUtterance(ctx context.Context, spoke bool, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.Bool("spoke", spoke)))
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordPhase increments Phases for phase.
func (m *Metrics) RecordPhase(ctx context.Context, phase string) {
	m.Phases.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordInterview increments Interviews for outcome.
func (m *Metrics) RecordInterview(ctx context.Context, outcome string) {
	m.Interviews.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCollaboratorError increments CollaboratorErrors.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, op string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("op", op),
		),
	)
}
