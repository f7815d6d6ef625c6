package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statsync"

var (
	// SyncRuns counts orchestrator runs by kind (full, live) and outcome
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Scheduler runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// TenantSyncs counts per-tenant outcomes inside runs
	TenantSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_syncs_total",
			Help:      "Per-tenant sync outcomes (success, failed, skipped)",
		},
		[]string{"kind", "status"},
	)

	TenantSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_sync_duration_seconds",
			Help:      "Duration of a single tenant sync",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// TenantsSyncing is the current size of the overlap guard
	TenantsSyncing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenants_syncing",
			Help:      "Tenants currently holding the sync guard",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	CredentialsDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_deactivated_total",
			Help:      "Integrations automatically deactivated",
		},
		[]string{"provider", "reason"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider API requests by endpoint and outcome (success, failure, rejected)",
		},
		[]string{"endpoint", "outcome"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Provider circuit breaker state",
		},
		[]string{"name"},
	)
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
