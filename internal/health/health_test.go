package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func passing(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func TestHealthz(t *testing.T) {
	h := New()
	h.now = func() time.Time { return h.started.Add(90*time.Second + 300*time.Millisecond) }

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Uptime != "1m30s" {
		t.Errorf("body = %+v, want ok with uptime 1m30s", body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{passing("robot"), passing("outcomes")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"robot": "ok", "outcomes": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				passing("outcomes"),
				{Name: "robot", Check: func(context.Context) error { return errors.New("bridge closed") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"robot": "fail: bridge closed", "outcomes": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("status field = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("checks[%q] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(Checker{Name: "a", Check: blocking}, Checker{Name: "b", Check: blocking})

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
		done <- rec.Code
	}()

	// Both checks must be in flight at the same time.
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestReadyz_CheckerHonoursTimeout(t *testing.T) {
	h := New(Checker{Name: "robot", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New(passing("robot")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}
