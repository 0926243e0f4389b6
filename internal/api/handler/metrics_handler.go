package handler

import (
	"net/http"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/queue"
)

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	q       *queue.PriorityQueue
	workers int
}

func NewMetricsHandler(q *queue.PriorityQueue, workers int) *MetricsHandler {
	return &MetricsHandler{q: q, workers: workers}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	depths := h.q.Depths()
	byTier := make(map[string]int, len(domain.Priorities)+1)
	total := 0
	for _, p := range domain.Priorities {
		byTier[string(p)] = depths[p]
		total += depths[p]
	}
	byTier["total"] = total

	respondJSON(w, http.StatusOK, map[string]any{
		"queue_depth": byTier,
		"workers":     h.workers,
	})
}
