package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	envDatabaseDriver        = "DATABASE_DRIVER"
	envDatabaseURL           = "DATABASE_URL"
	envServerPort            = "SERVER_PORT"
	envLogLevel              = "LOG_LEVEL"
	envRetryMaxAttempts      = "RETRY_MAX_ATTEMPTS"
	envRetryInitialInterval  = "RETRY_INITIAL_INTERVAL"
	envRetryMaxInterval      = "RETRY_MAX_INTERVAL"
	envReconcileAfterWrite   = "RECONCILE_AFTER_WRITE"
	envColdStartWorkers      = "COLD_START_WORKERS"
	envCORSAllowedOrigins    = "CORS_ALLOWED_ORIGINS"
	envDatabaseConnTimeout   = "DATABASE_CONNECT_TIMEOUT"
	envServerShutdownTimeout = "SERVER_SHUTDOWN_TIMEOUT"

	defaultDatabaseDriver        = "sqlite3"
	defaultDatabaseURL           = "bracket.db"
	defaultServerPort            = "8080"
	defaultLogLevel              = "info"
	defaultRetryMaxAttempts      = 3
	defaultRetryInitialInterval  = 100 * time.Millisecond
	defaultRetryMaxInterval      = 2 * time.Second
	defaultReconcileAfterWrite   = true
	defaultColdStartWorkers      = 4
	defaultDatabaseConnTimeout   = 5 * time.Second
	defaultServerShutdownTimeout = 10 * time.Second
)

var defaultCORSAllowedOrigins = []string{"*"}

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Engine   EngineConfig
	LogLevel slog.Level
}

type DatabaseConfig struct {
	Driver         string
	URL            string
	ConnectTimeout time.Duration
}

type ServerConfig struct {
	Port               string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type EngineConfig struct {
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	ReconcileAfterWrite  bool
	ColdStartWorkers     int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := Config{
		Database: DatabaseConfig{
			Driver:         envOrDefault(envDatabaseDriver, defaultDatabaseDriver),
			URL:            envOrDefault(envDatabaseURL, defaultDatabaseURL),
			ConnectTimeout: durationEnvOrDefault(envDatabaseConnTimeout, defaultDatabaseConnTimeout),
		},
		Server: ServerConfig{
			Port:               envOrDefault(envServerPort, defaultServerPort),
			CORSAllowedOrigins: listEnvOrDefault(envCORSAllowedOrigins, defaultCORSAllowedOrigins),
			ShutdownTimeout:    durationEnvOrDefault(envServerShutdownTimeout, defaultServerShutdownTimeout),
		},
		Engine: EngineConfig{
			RetryMaxAttempts:     intEnvOrDefault(envRetryMaxAttempts, defaultRetryMaxAttempts),
			RetryInitialInterval: durationEnvOrDefault(envRetryInitialInterval, defaultRetryInitialInterval),
			RetryMaxInterval:     durationEnvOrDefault(envRetryMaxInterval, defaultRetryMaxInterval),
			ReconcileAfterWrite:  boolEnvOrDefault(envReconcileAfterWrite, defaultReconcileAfterWrite),
			ColdStartWorkers:     intEnvOrDefault(envColdStartWorkers, defaultColdStartWorkers),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOrDefault(envLogLevel, defaultLogLevel))); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envLogLevel, err)
	}

	switch cfg.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported %s %q", envDatabaseDriver, cfg.Database.Driver)
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("%s must be between 1 and 65535, got %q", envServerPort, cfg.Server.Port)
	}
	if cfg.Engine.ColdStartWorkers == 0 {
		cfg.Engine.ColdStartWorkers = 1
	}

	return cfg, nil
}

func (c ServerConfig) Addr() string {
	return ":" + c.Port
}
