// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/dirsync/pkg/observability"
	"github.com/platinummonkey/dirsync/pkg/reconcile"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Directory     DirectoryConfig
	Gate          GateConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DirectoryConfig holds directory store and reconciliation settings
type DirectoryConfig struct {
	// DBPath is the sqlite database path; ":memory:" for an in-memory store.
	DBPath string

	// ServiceUser is the technical identity store sessions run under.
	ServiceUser string

	// SyncWindow is how far sync timestamps are pushed into the future.
	SyncWindow time.Duration

	// SweepSchedule is a cron expression for the timestamp sweeper; empty
	// disables it.
	SweepSchedule string

	// DefaultIDP and DefaultPrincipal fill in absent request parameters.
	DefaultIDP       string
	DefaultPrincipal string
}

// GateConfig holds access gate settings
type GateConfig struct {
	// Secret signs and verifies gate tokens (HS256).
	Secret string

	// AllowedAccount is the single account admitted by the gate.
	AllowedAccount string
}

// ObservabilityConfig holds logging settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DIRSYNC_HOST", "0.0.0.0"),
			Port:            getEnv("DIRSYNC_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DIRSYNC_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DIRSYNC_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("DIRSYNC_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DIRSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Directory: DirectoryConfig{
			DBPath:           getEnv("DIRSYNC_DB_PATH", "dirsync.db"),
			ServiceUser:      getEnv("DIRSYNC_SERVICE_USER", reconcile.DefaultServiceUser),
			SyncWindow:       getEnvDuration("DIRSYNC_SYNC_WINDOW", reconcile.DefaultSyncWindow),
			SweepSchedule:    getEnv("DIRSYNC_SWEEP_SCHEDULE", ""),
			DefaultIDP:       getEnv("DIRSYNC_DEFAULT_IDP", "saml-idp"),
			DefaultPrincipal: getEnv("DIRSYNC_DEFAULT_PRINCIPAL", "marketing:saml-idp"),
		},
		Gate: GateConfig{
			Secret:         getEnv("DIRSYNC_GATE_SECRET", ""),
			AllowedAccount: getEnv("DIRSYNC_ALLOWED_ACCOUNT", reconcile.DefaultServiceUser),
		},
		Observability: ObservabilityConfig{
			LogLevel: observability.ParseLogLevel(strings.ToLower(getEnv("DIRSYNC_LOG_LEVEL", "info"))),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Directory.DBPath == "" {
		return fmt.Errorf("directory database path is required")
	}
	if c.Directory.ServiceUser == "" {
		return fmt.Errorf("service user is required")
	}
	if c.Directory.SyncWindow <= 0 {
		return fmt.Errorf("sync window must be positive")
	}
	if c.Gate.Secret == "" {
		return fmt.Errorf("gate secret is required (set DIRSYNC_GATE_SECRET)")
	}
	if c.Gate.AllowedAccount == "" {
		return fmt.Errorf("allowed account is required")
	}
	return nil
}

// Addr returns the host:port the server binds to.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
