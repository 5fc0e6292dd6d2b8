package main

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/dirsync/pkg/api"
	"github.com/platinummonkey/dirsync/pkg/audit"
	"github.com/platinummonkey/dirsync/pkg/config"
	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/observability"
	"github.com/platinummonkey/dirsync/pkg/reconcile"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		return 1
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store, err := directory.OpenSQLiteStore(cfg.Directory.DBPath)
	if err != nil {
		logger.WithError(err).Error("failed to open directory store")
		return 1
	}
	defer store.Close()
	logger.WithField("dbPath", cfg.Directory.DBPath).Info("directory store opened")

	trail, err := audit.NewTrail(store.DB())
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit trail")
		return 1
	}

	engine := reconcile.NewEngine(store, reconcile.Config{
		ServiceUser: cfg.Directory.ServiceUser,
		SyncWindow:  cfg.Directory.SyncWindow,
		Logger:      logger,
		Metrics:     metrics,
	})

	server := api.NewServer(api.ServerConfig{
		Engine:           engine,
		Trail:            trail,
		GateSecret:       []byte(cfg.Gate.Secret),
		AllowedAccount:   cfg.Gate.AllowedAccount,
		DB:               store.DB(),
		DefaultPrincipal: cfg.Directory.DefaultPrincipal,
		DefaultIDP:       cfg.Directory.DefaultIDP,
		Logger:           logger,
		Metrics:          metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	if cfg.Directory.SweepSchedule != "" {
		sweeper, err := reconcile.NewSweeper(engine, cfg.Directory.SweepSchedule, trail, logger)
		if err != nil {
			logger.WithError(err).Error("failed to schedule timestamp sweeper")
			return 1
		}
		sweeper.Start()
		logger.WithField("schedule", cfg.Directory.SweepSchedule).Info("timestamp sweeper scheduled")
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			sweeper.Stop()
			return nil
		})
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("dirsync listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			shutdown.Trigger(err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		return 1
	}
	return 0
}
