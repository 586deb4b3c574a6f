package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/api/handler"
	apimw "github.com/nftbridge/starknet-migrator/internal/api/middleware"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc handler.MigrationService,
	buf handler.BufferStats,
	storeCheck func(ctx context.Context) error,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	mh := handler.NewMigrationHandler(svc, logger)
	sh := handler.NewMetricsHandler(buf)
	hh := handler.NewHealthHandler(storeCheck)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/migrations", mh.Request)
		r.Get("/migrations/{wallet}/{project}", mh.State)
		r.Get("/customers/{wallet}/{project}/tokens", mh.CustomerTokens)

		// JSON buffer snapshot
		r.Get("/metrics", sh.GetMetrics)
	})

	return r
}
