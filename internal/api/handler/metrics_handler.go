package handler

import (
	"net/http"
)

// BufferStats reports the in-process hand-off buffer occupancy.
type BufferStats interface {
	Depth() int
	Free() int
}

// MetricsHandler serves a human-readable JSON snapshot of the hand-off
// buffer. Raw Prometheus metrics (counters, histograms) are available at
// /metrics via promhttp and are separate from this endpoint.
type MetricsHandler struct {
	buf BufferStats
}

func NewMetricsHandler(buf BufferStats) *MetricsHandler {
	return &MetricsHandler{buf: buf}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time hand-off buffer snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	depth, free := h.buf.Depth(), h.buf.Free()
	respondJSON(w, http.StatusOK, map[string]any{
		"handoff": map[string]int{
			"depth":    depth,
			"free":     free,
			"capacity": depth + free,
		},
	})
}
