package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ReconcileOperationsTotal  *prometheus.CounterVec
	ReconcileDuration         *prometheus.HistogramVec
	PrincipalsAddedTotal      prometheus.Counter
	SystemGroupsSkippedTotal  prometheus.Counter
	UsersConvertedTotal       prometheus.Counter
	DirectMembershipsStripped prometheus.Counter

	// Directory store metrics
	StoreSessionsTotal prometheus.Counter
	StoreErrorsTotal   *prometheus.CounterVec

	// Access gate metrics
	GateRejectionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one, which keeps tests independent.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dirsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ReconcileOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_reconcile_operations_total",
				Help: "Reconciliation operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dirsync_reconcile_duration_seconds",
				Help:    "Reconciliation operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PrincipalsAddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirsync_principals_added_total",
			Help: "External principal names appended to users",
		}),
		SystemGroupsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirsync_system_groups_skipped_total",
			Help: "System group memberships excluded from reconciliation",
		}),
		UsersConvertedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirsync_users_converted_total",
			Help: "Local users converted to external users",
		}),
		DirectMembershipsStripped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirsync_direct_memberships_stripped_total",
			Help: "Direct user memberships removed during migration phase 3",
		}),
		StoreSessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dirsync_store_sessions_total",
			Help: "Directory store service sessions opened",
		}),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_store_errors_total",
				Help: "Directory store failures by error kind",
			},
			[]string{"kind"},
		),
		GateRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsync_gate_rejections_total",
				Help: "Access gate rejections by reason",
			},
			[]string{"reason"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReconcileOperationsTotal,
		m.ReconcileDuration,
		m.PrincipalsAddedTotal,
		m.SystemGroupsSkippedTotal,
		m.UsersConvertedTotal,
		m.DirectMembershipsStripped,
		m.StoreSessionsTotal,
		m.StoreErrorsTotal,
		m.GateRejectionsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
