// Package health serves the liveness and readiness endpoints for relai.
//
// Liveness (/healthz) reports that the process is up and able to serve HTTP.
// Readiness (/readyz) runs the registered probes (the provider registry, the
// retrieval backend) concurrently and answers 503 until all of them pass.
// The response body is JSON: a top-level "status" plus one entry per probe
// with its outcome and how long it took.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultProbeTimeout bounds a single readiness probe.
const defaultProbeTimeout = 5 * time.Second

// Check is one named readiness probe. Probe returns nil when the dependency
// can serve traffic; it must respect context cancellation.
type Check struct {
	// Name keys the probe in the JSON response ("providers", "retriever").
	Name string

	// Probe tests the dependency.
	Probe func(ctx context.Context) error
}

// probeResult is the per-check entry in the readiness response.
type probeResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// response is the JSON body for both endpoints.
type response struct {
	Status string                 `json:"status"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler evaluates readiness probes and serves the two endpoints.
// The check list is fixed at construction; Handler is safe for concurrent use.
type Handler struct {
	checks       []Check
	probeTimeout time.Duration
}

// New builds a Handler over the given probes.
func New(checks ...Check) *Handler {
	c := make([]Check, len(checks))
	copy(c, checks)
	return &Handler{checks: c, probeTimeout: defaultProbeTimeout}
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

// healthz always answers 200: a process that reached this handler is alive.
func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// readyz runs every probe concurrently, each under its own timeout, and
// answers 503 when any of them fails.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]probeResult, len(h.checks))

	g, gctx := errgroup.WithContext(r.Context())
	for i, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, h.probeTimeout)
			defer cancel()

			start := time.Now()
			err := c.Probe(ctx)
			res := probeResult{
				Status:   "ok",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	resp := response{Status: "ok", Checks: make(map[string]probeResult, len(h.checks))}
	status := http.StatusOK
	for i, c := range h.checks {
		resp.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
