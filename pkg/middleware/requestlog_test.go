package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/dirsync/pkg/observability"
)

func TestInstrumentAssignsRequestID(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	router := mux.NewRouter()
	router.Use(Instrument(logger, nil))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, observability.GetRequestID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestInstrumentKeepsCallerRequestID(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	router := mux.NewRouter()
	router.Use(Instrument(logger, nil))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "caller-chosen-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "caller-chosen-id", rec.Header().Get("X-Request-ID"))
}

func TestInstrumentRecordsMetricsByRouteTemplate(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(Instrument(logger, metrics))
	router.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", nil))

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/users/{id}", "404"))
	assert.Equal(t, float64(1), count)
}
