package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API and the live bracket feed.

Migrations are applied on start, then every started tournament is reconciled
before the listener opens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.coldStart(ctx); err != nil {
		// Whatever is still off gets repaired by the next write or an explicit reconcile
		a.logger.Warn("cold start reconciliation incomplete", "err", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           newRouter(a.server(), a.cfg.Server.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// coldStart reconciles every started tournament on a bounded worker pool.
func (a *app) coldStart(ctx context.Context) error {
	started, err := a.tournaments.ListTournaments(ctx, bracket.TournamentStarted)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Engine.ColdStartWorkers)

	errs := make([]error, len(started))
	for i, t := range started {
		g.Go(func() error {
			res, err := a.engine.Reconcile(ctx, t.ID)
			if err != nil {
				a.logger.Error("cold start reconcile failed", "tournament_id", t.ID, "err", err)
				errs[i] = err
				return nil
			}
			if res.Repairs > 0 {
				a.logger.Info("cold start repaired tournament", "tournament_id", t.ID, "repairs", res.Repairs)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("cold start reconciliation finished", "tournaments", len(started))
	return errors.Join(errs...)
}

// originChecker admits websocket upgrades from the same origins CORS allows.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
