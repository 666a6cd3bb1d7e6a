package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_PassesStatusAndRecordsLatency(t *testing.T) {
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	handler := Middleware(m)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	found := findMetric(collect(t, reader), "interviewer.http.request.duration")
	if found == nil {
		t.Fatal("http duration metric not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v, want a single observation", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes
	if route, _ := attrs.Value("route"); route.AsString() != "GET /readyz" {
		t.Errorf("route attribute = %q, want the mux pattern", route.AsString())
	}
	if status, _ := attrs.Value("status"); status.AsInt64() != http.StatusServiceUnavailable {
		t.Errorf("status attribute = %d", status.AsInt64())
	}
}
