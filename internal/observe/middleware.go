package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the operations endpoints (/healthz, /readyz, /metrics). It
// records request latency to [Metrics.HTTPRequestDuration] and logs each
// request at debug level; probes are frequent and uninteresting at info.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			// The matched pattern keeps cardinality bounded for unknown paths.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequestDuration.Record(r.Context(), elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.Int("status", rec.statusCode),
				),
			)
			slog.LogAttrs(r.Context(), slog.LevelDebug, "ops request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
