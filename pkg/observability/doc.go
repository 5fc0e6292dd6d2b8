// Package observability provides structured logging, Prometheus metrics, and
// health endpoints for the dirsync service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("userId", id).Info("reconciled user")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.ReconcileOperationsTotal.WithLabelValues("reconcile_user", "ok").Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/middleware: request logging middleware
package observability
