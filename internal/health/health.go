// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every registered [Checker] and answers 200 only when all of them
// pass; the body is a JSON object with "status" plus a per-check "checks"
// map so an operator can see which dependency is down.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Per-check deadline. A hung database ping should not stall the probe.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when healthy and must
// honor context cancellation.
type Checker struct {
	// Name keys the check in the JSON response, e.g. "database".
	Name string

	Check func(ctx context.Context) error
}

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the two probe endpoints. The checker list is frozen at
// construction, so the handler needs no locking.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. Readiness evaluates them in
// order.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, probeBody{Status: "ok"})
}

// Readyz runs every checker under checkTimeout and reports 503 when any of
// them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	body := probeBody{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			body.Checks[c.Name] = "fail: " + err.Error()
			body.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		body.Checks[c.Name] = "ok"
	}

	respond(w, code, body)
}

// Pinger reports backend connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker probes the settings and alert store backend.
func DatabaseChecker(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// ProviderChecker wraps a probe against an external analysis provider.
// Probes run on every readiness request, so keep them cheap.
func ProviderChecker(name string, probe func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: probe}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
