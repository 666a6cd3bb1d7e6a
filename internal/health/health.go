// Package health serves the liveness and readiness probes of the ops server.
//
//   - GET /healthz reports that the process is up, with its uptime.
//   - GET /readyz probes every registered [Checker] (for example the robot
//     bridge) and answers 503 when any of them fails.
//
// Responses are JSON: {"status":"ok"|"fail","checks":{name: "ok"|"fail: ..."}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
	now      func() time.Time
}

// New returns a Handler probing checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	uptime := h.now().Sub(h.started).Truncate(time.Second)
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: uptime.String()})
}

// Readyz runs all checkers concurrently, each under its own timeout, and
// answers 200 only when every one passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
