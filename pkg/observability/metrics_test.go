package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m)

	m.HTTPRequestsTotal.WithLabelValues("POST", "/migration-step2", "200").Inc()
	m.ReconcileOperationsTotal.WithLabelValues("reconcile_user", "ok").Inc()
	m.PrincipalsAddedTotal.Add(3)
	m.GateRejectionsTotal.WithLabelValues("forbidden").Inc()
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.StoreSessionsTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dirsync_store_sessions_total 1")
}
