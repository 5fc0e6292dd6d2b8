package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dirsync/pkg/audit"
	"github.com/platinummonkey/dirsync/pkg/middleware"
	"github.com/platinummonkey/dirsync/pkg/observability"
	"github.com/platinummonkey/dirsync/pkg/reconcile"
)

// Server is the reconciliation API server.
type Server struct {
	engine  *reconcile.Engine
	trail   *audit.Trail
	router  *mux.Router
	gate    *middleware.Gate
	health  *observability.HealthChecker
	logger  *observability.Logger
	metrics *observability.Metrics

	defaultPrincipal string
	defaultIDP       string
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Engine *reconcile.Engine

	// Trail records gated mutations and gate denials. Optional; audit
	// failures are logged, never fatal to the request.
	Trail *audit.Trail

	// GateSecret and AllowedAccount configure the access gate.
	GateSecret     []byte
	AllowedAccount string

	// DB backs the readiness check. Optional.
	DB *sql.DB

	// DefaultPrincipal and DefaultIDP fill in absent provisioner
	// parameters. Default to reconcile defaults.
	DefaultPrincipal string
	DefaultIDP       string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// DefaultIDPName fills in for an absent idpName parameter.
const DefaultIDPName = "saml-idp"

// DefaultPrincipalName fills in for an absent principalName parameter on the
// provisioner endpoint.
const DefaultPrincipalName = "marketing:saml-idp"

// NewServer creates the API server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(nil)
	}
	if cfg.DefaultPrincipal == "" {
		cfg.DefaultPrincipal = DefaultPrincipalName
	}
	if cfg.DefaultIDP == "" {
		cfg.DefaultIDP = DefaultIDPName
	}

	var denials middleware.DenialRecorder
	if cfg.Trail != nil {
		denials = cfg.Trail
	}

	s := &Server{
		engine:           cfg.Engine,
		trail:            cfg.Trail,
		router:           mux.NewRouter(),
		gate:             middleware.NewGate(cfg.GateSecret, cfg.AllowedAccount, denials, cfg.Logger, cfg.Metrics),
		health:           observability.NewHealthChecker(cfg.DB),
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		defaultPrincipal: cfg.DefaultPrincipal,
		defaultIDP:       cfg.DefaultIDP,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Instrument(s.logger, s.metrics))

	// Provisioner routes: both verbs expose directory data, both gated.
	s.router.Handle("/group-provisioner", s.gated(s.addPrincipal)).Methods("POST")
	s.router.Handle("/group-provisioner", s.gated(s.getPrincipals)).Methods("GET")

	// Migration routes: POST mutates and is gated, GET is open usage info.
	s.router.Handle("/migration-step1", s.gated(s.migrationStep1)).Methods("POST")
	s.router.HandleFunc("/migration-step1", s.usage(usageStep1)).Methods("GET")
	s.router.Handle("/migration-step2", s.gated(s.migrationStep2)).Methods("POST")
	s.router.HandleFunc("/migration-step2", s.usage(usageStep2)).Methods("GET")
	s.router.Handle("/migration-step3", s.gated(s.migrationStep3)).Methods("POST")
	s.router.HandleFunc("/migration-step3", s.usage(usageStep3)).Methods("GET")
	s.router.Handle("/group-migration", s.gated(s.migrateGroup)).Methods("POST")
	s.router.HandleFunc("/group-migration", s.usage(usageGroupMigration)).Methods("GET")

	s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

func (s *Server) gated(h http.HandlerFunc) http.Handler {
	return s.gate.Handler(h)
}

// Router returns the configured router, usable as an http.Handler.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
