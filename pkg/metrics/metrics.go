// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncRunsTotal counts sync runs by mode and terminal status.
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgforge_sync_runs_total",
		Help: "Sync runs by mode and terminal status.",
	}, []string{"mode", "status"})

	// SyncDuration observes wall time of sync runs.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kgforge_sync_duration_seconds",
		Help:    "Wall time of sync runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"mode"})

	// SyncEntitiesSkipped counts per-entity mapping failures.
	SyncEntitiesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgforge_sync_entities_skipped_total",
		Help: "Entities skipped during sync due to mapping failures.",
	})

	// VersionsCreated counts committed schema versions.
	VersionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgforge_versions_created_total",
		Help: "Schema versions committed.",
	})

	// RollbacksTotal counts rollback operations by kind and outcome.
	RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgforge_rollbacks_total",
		Help: "Rollback operations by kind and outcome.",
	}, []string{"kind", "status"})

	// HTTPRequests counts API requests by path pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgforge_http_requests_total",
		Help: "API requests by route and status class.",
	}, []string{"route", "status"})
)

// ObserveHTTPRequest records one API request. Status is folded into its
// class (2xx, 4xx, 5xx) to bound label cardinality.
func ObserveHTTPRequest(route string, status int) {
	class := fmt.Sprintf("%dxx", status/100)
	HTTPRequests.WithLabelValues(route, class).Inc()
}

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
