package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler serves the liveness probe. When a store check is wired it
// also reports whether the queue database answers.
type HealthHandler struct {
	check func(ctx context.Context) error
}

// NewHealthHandler accepts a nil check, in which case only liveness is reported.
func NewHealthHandler(check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{check: check}
}

// Health handles GET /health
//
// @Summary  Liveness and store probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.check == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.check(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
}
