// Package health serves the capture daemon's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs the
// registered dependency checks (session ledger, spool directory) and answers
// 503 when any fails, with a per-check verdict in the body. Both respond
// with a JSON object carrying a top-level "status" of "ok" or "fail".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check; a hung dependency must not
// hold the probe open indefinitely.
const checkTimeout = 5 * time.Second

// Checker probes one dependency for readiness.
type Checker struct {
	// Name keys the check's verdict in the readiness response
	// (e.g. "ledger", "spool").
	Name string

	// Check returns nil when the dependency can serve. It must honor ctx.
	Check func(ctx context.Context) error
}

// result is the wire shape of both probe responses.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints over a fixed checker list. Safe for
// concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler. Checkers run sequentially in the given order on
// every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz reports liveness. Reaching the handler is the proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports readiness: 200 when every check passes, 503 otherwise.
// Each check gets its own [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, code, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 when encoding fails.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
