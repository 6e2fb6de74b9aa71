package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Apply schema migrations to the configured database.

By default the migrations compiled into the binary are used. --dir reads them
from a directory instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			database, err := db.Open(cfg.Database.Driver, cfg.Database.URL, cfg.Database.ConnectTimeout)
			if err != nil {
				return err
			}
			defer database.Close()

			if dir != "" {
				err = db.RunMigrationsFromDir(database.DB, cfg.Database.Driver, dir)
			} else {
				err = db.RunMigrations(database.DB, cfg.Database.Driver)
			}
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "driver", cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "read migrations from this directory")
	return cmd
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <tournament-id>",
		Short: "Repair a tournament's bracket from its round and slot arithmetic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tournament id %q: %w", args[0], err)
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Reconcile(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %s: %d repairs, %d matches touched\n", id, res.Repairs, len(res.Touched))
			return nil
		},
	}
}

type topologyRound struct {
	Round   int  `json:"round"`
	Matches int  `json:"matches"`
	Final   bool `json:"final,omitempty"`
}

type topologyOutput struct {
	Capacity  int             `json:"capacity"`
	Layout    bracket.Layout  `json:"layout"`
	SlotCount int             `json:"slot_count"`
	Total     int             `json:"total_matches"`
	Rounds    []topologyRound `json:"rounds"`
}

func newTopologyCommand() *cobra.Command {
	var (
		layout string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "topology <capacity>",
		Short: "Print the bracket shape for a capacity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid capacity %q: %w", args[0], err)
			}
			l, ok := bracket.ParseLayout(layout)
			if !ok {
				return fmt.Errorf("unknown layout %q", layout)
			}
			topo, err := bracket.NewTopology(capacity, l)
			if err != nil {
				return err
			}

			out := topologyOutput{
				Capacity:  topo.Capacity,
				Layout:    topo.Layout,
				SlotCount: topo.SlotCount(),
				Total:     topo.TotalMatches(),
			}
			for r := 1; r <= topo.Rounds(); r++ {
				out.Rounds = append(out.Rounds, topologyRound{Round: r, Matches: topo.MatchCount(r), Final: topo.IsFinal(r)})
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Fprintf(w, "capacity %d, layout %s, %d slots, %d matches\n", out.Capacity, out.Layout, out.SlotCount, out.Total)
			for _, r := range out.Rounds {
				suffix := ""
				if r.Final {
					suffix = " (final)"
				}
				fmt.Fprintf(w, "round %d: %d matches%s\n", r.Round, r.Matches, suffix)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layout, "layout", string(bracket.LayoutCompact), "bracket layout (compact|power_of_two)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
