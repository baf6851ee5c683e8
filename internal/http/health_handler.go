package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves GET /healthz. Every named check must pass within the
// timeout for a 200.
type HealthHandler struct {
	checks    map[string]HealthCheck
	version   func() int64
	timeout   time.Duration
	responder responder
}

func NewHealthHandler(checks map[string]HealthCheck, version func() int64, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		version:   version,
		timeout:   2 * time.Second,
		responder: newResponder(logger),
	}
}

type healthResponse struct {
	Status            string            `json:"status"`
	RepositoryVersion int64             `json:"repository_version"`
	Checks            map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	if h.version != nil {
		resp.RepositoryVersion = h.version()
	}
	status := http.StatusOK
	for name, check := range h.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.checks))
		}
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.responder.writeJSON(r.Context(), w, status, resp)
}
