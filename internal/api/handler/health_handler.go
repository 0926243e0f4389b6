package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// HealthHandler serves the liveness probe endpoint. Registered checks
// (database, redis) turn it into a readiness probe as well.
type HealthHandler struct {
	checks map[string]Check
}

func NewHealthHandler() *HealthHandler { return &HealthHandler{checks: map[string]Check{}} }

// AddCheck registers a named dependency check.
func (h *HealthHandler) AddCheck(name string, c Check) {
	h.checks[name] = c
}

// Health handles GET /health
//
// @Summary  Liveness and dependency probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Failure  503  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": status}
	if len(results) > 0 {
		body["checks"] = results
	}
	respondJSON(w, code, body)
}
