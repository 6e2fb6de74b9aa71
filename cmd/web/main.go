package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/live"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bracket",
		Short:         "Single-elimination bracket engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newReconcileCommand())
	cmd.AddCommand(newTopologyCommand())

	return cmd
}

// app is the wiring every command that touches the store shares.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	db          *sqlx.DB
	metrics     *metrics.Recorder
	hub         *live.Hub
	tournaments *service.TournamentService
	matches     *service.MatchService
	engine      *service.BracketService
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)

	database, err := db.Open(cfg.Database.Driver, cfg.Database.URL, cfg.Database.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(database.DB, cfg.Database.Driver); err != nil {
		database.Close()
		return nil, err
	}

	return newApp(cfg, logger, database), nil
}

func newApp(cfg config.Config, logger *slog.Logger, database *sqlx.DB) *app {
	recorder := metrics.NewRecorder()
	hub := live.NewHub(logger, originChecker(cfg.Server.CORSAllowedOrigins))
	tournamentStore := store.NewTournamentStore(database)

	engine := service.NewBracketService(tournamentStore, service.Config{
		Logger:    logger,
		Metrics:   recorder,
		Publisher: hub,
		Retry: service.RetryPolicy{
			MaxRetries:      uint64(max(cfg.Engine.RetryMaxAttempts, 0)),
			InitialInterval: cfg.Engine.RetryInitialInterval,
			MaxInterval:     cfg.Engine.RetryMaxInterval,
		},
		ReconcileAfterWrite: cfg.Engine.ReconcileAfterWrite,
	})

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          database,
		metrics:     recorder,
		hub:         hub,
		tournaments: service.NewTournamentService(tournamentStore, logger),
		matches:     service.NewMatchService(tournamentStore),
		engine:      engine,
	}
}

func (a *app) server() *server {
	return &server{
		db:          a.db,
		tournaments: a.tournaments,
		matches:     a.matches,
		engine:      a.engine,
		hub:         a.hub,
		metrics:     a.metrics,
	}
}

func (a *app) Close() error {
	return a.db.Close()
}
