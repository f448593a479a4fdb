package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a health handler over named dependencies.
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{deps: deps, logger: logger}
}

// HandleLiveness serves GET /healthz.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadiness serves GET /readyz: every dependency must answer within
// a short deadline.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	WriteJSON(w, status, map[string]any{"checks": checks})
}
