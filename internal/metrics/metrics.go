package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nftbridge/starknet-migrator/internal/service"
	"github.com/nftbridge/starknet-migrator/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsEnqueued prometheus.Counter
	Rejections    *prometheus.CounterVec
	Mints         *prometheus.CounterVec
	MintLatency   prometheus.Histogram
	Skipped       *prometheus.CounterVec
	Reclaimed     prometheus.Counter
	Retried       prometheus.Counter
	HandoffDepth  prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migration_items_enqueued_total",
			Help: "Queue items returned by enqueue calls, new or already active.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_requests_rejected_total",
			Help: "Migration requests refused before enqueue, by reason.",
		}, []string{"reason"}),
		Mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_mints_total",
			Help: "Mint submissions by result (success, retryable, permanent).",
		}, []string{"result"}),
		MintLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "migration_mint_seconds",
			Help:    "Latency of accepted mint submissions.",
			Buckets: prometheus.DefBuckets,
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_items_skipped_total",
			Help: "Items finished or released without a mint, by reason.",
		}, []string{"reason"}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migration_items_reclaimed_total",
			Help: "Stale claims returned to pending.",
		}),
		Retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migration_items_retried_total",
			Help: "Retryable error items re-driven as new attempts.",
		}),
		HandoffDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_handoff_depth",
			Help: "Claimed items waiting in the in-process hand-off buffer.",
		}),
	}

	reg.MustRegister(
		m.ItemsEnqueued,
		m.Rejections,
		m.Mints,
		m.MintLatency,
		m.Skipped,
		m.Reclaimed,
		m.Retried,
		m.HandoffDepth,
	)

	return m
}

// WorkerHooks returns the callbacks expected by worker.NewPool.
// Centralises the prometheus observation calls so the worker package stays
// import-free of client_golang.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnMinted: func(latency time.Duration) {
			m.Mints.WithLabelValues("success").Inc()
			m.MintLatency.Observe(latency.Seconds())
		},
		OnFailed: func(retryable bool) {
			result := "permanent"
			if retryable {
				result = "retryable"
			}
			m.Mints.WithLabelValues(result).Inc()
		},
		OnSkipped:   func(reason string) { m.Skipped.WithLabelValues(reason).Inc() },
		OnReclaimed: func(n int) { m.Reclaimed.Add(float64(n)) },
		OnRetried:   func(n int) { m.Retried.Add(float64(n)) },
		OnDepth:     func(depth int) { m.HandoffDepth.Set(float64(depth)) },
	}
}

// ServiceHooks returns the callbacks expected by service.NewMigrationService.
func (m *Metrics) ServiceHooks() service.Hooks {
	return service.Hooks{
		OnEnqueued: func(n int) { m.ItemsEnqueued.Add(float64(n)) },
		OnRejected: func(reason string) { m.Rejections.WithLabelValues(reason).Inc() },
	}
}
