package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/roomsync/pkg/metrics"
)

// StatsProvider reports runtime statistics for the health endpoint.
type StatsProvider interface {
	Stats(ctx context.Context) map[string]any
}

// HealthHandler serves liveness and metrics.
type HealthHandler struct {
	stats StatsProvider
}

// NewHealthHandler creates a new health handler. stats may be nil.
func NewHealthHandler(stats StatsProvider) *HealthHandler {
	return &HealthHandler{stats: stats}
}

// HandleHealth handles GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true}
	if h.stats != nil {
		for k, v := range h.stats.Stats(r.Context()) {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleMetrics handles GET /metrics from the custom registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
