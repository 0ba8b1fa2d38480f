// Package health exposes the liveness and readiness probes for the
// translation server.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only when every registered [Checker]
//     (translator, synthesizer, state store) passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map naming each probe's outcome, so an operator can
// see which pipeline dependency is unhealthy without reading logs.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness probe. Provider reachability checks
// hit paid external APIs; they must not hold a readiness request open longer
// than this.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the
// dependency can serve the pipeline and an error describing the failure
// otherwise. See [TranslatorCheck], [SynthesizerCheck], and [StoreCheck].
type Checker struct {
	// Name keys this probe's result in the JSON response (e.g. "translator",
	// "store").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// probeResult is the JSON response body for both endpoints.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. Safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request, sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz answers 200 only when every registered [Checker] passes. Each
// checker runs under a [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := probeResult{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
