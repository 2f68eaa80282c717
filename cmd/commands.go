package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/gigtrust/internal/adapters/repository"
	app "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/config"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/seed"
	"github.com/okian/gigtrust/pkg/clock"
	"github.com/okian/gigtrust/pkg/logger"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the overdue-payment sweep once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ logger.Logger, svc *app.Service) error {
				report, err := svc.Sweep(ctx)
				fmt.Fprintf(cmd.OutOrStdout(),
					"overdue=%d penalized=%d skipped=%d failed=%d newly_restricted=%d duration=%s\n",
					report.OverdueFound, report.Penalized, report.Skipped, report.Failed,
					report.NewlyRestricted, report.Duration())
				return err
			})
		},
	}
}

func rescoreCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "rescore USER_ID...",
		Short: "Recompute trust for the given users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, _ *config.Config, _ logger.Logger, svc *app.Service) error {
				for _, userID := range args {
					out, err := svc.Rescore(ctx, userID, r)
					if err != nil {
						return fmt.Errorf("rescore %s: %w", userID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s score=%d status=%s hold=%t affected=%d\n",
						userID, r, out.Score, out.Current, out.Hold, out.Affected)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleWorker), "profile role: worker or client")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, l, err := setup(ctx)
			if err != nil {
				return err
			}
			if cfg.DBDriver == config.DriverMemory {
				l.Info(ctx, "memory driver has no schema")
				return nil
			}
			store, err := repository.Open(ctx, cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			l.Info(ctx, "schema migrated", logger.String("driver", cfg.DBDriver))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var sc seed.Config
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the configured store with demo profiles, payments and events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, _, err := setup(ctx)
			if err != nil {
				return err
			}
			if cfg.DBDriver == config.DriverMemory {
				return errors.New("seeding the memory driver has no lasting effect")
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			st, err := seed.Populate(ctx, store, sc, clock.System{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workers=%d clients=%d payments=%d overdue=%d events=%d\n",
				st.Workers, st.Clients, st.Payments, st.Overdue, st.Events)
			return nil
		},
	}
	cmd.Flags().IntVar(&sc.Workers, "workers", 50, "worker profiles to create")
	cmd.Flags().IntVar(&sc.Clients, "clients", 20, "client profiles to create")
	cmd.Flags().IntVar(&sc.Payments, "payments", 40, "pending payments to create")
	cmd.Flags().IntVar(&sc.OverduePct, "overdue-pct", 25, "percentage of payments older than a day")
	cmd.Flags().IntVar(&sc.EventsPerUser, "events-per-user", 4, "maximum events per user")
	return cmd
}

func loadCmd() *cobra.Command {
	var (
		lc     seed.LoadConfig
		users  []string
		role   string
		events int
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replay generated events against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, _, err := setup(ctx); err != nil {
				return err
			}
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			reqs := seed.GenerateRequests(users, r, events, time.Now().UTC())
			st, err := seed.Submit(ctx, lc, reqs)
			fmt.Fprintf(cmd.OutOrStdout(), "submitted=%d accepted=%d backpressure=%d failed=%d duration=%s\n",
				st.Submitted, st.Accepted, st.Backpressure, st.Failed, st.Duration)
			return err
		},
	}
	cmd.Flags().StringVar(&lc.BaseURL, "url", "http://localhost:9080", "server base URL")
	cmd.Flags().IntVar(&lc.Workers, "concurrency", 8, "concurrent senders")
	cmd.Flags().DurationVar(&lc.Timeout, "timeout", 5*time.Second, "per-request timeout")
	cmd.Flags().StringSliceVar(&users, "users", []string{"w-demo-1", "w-demo-2", "w-demo-3"}, "user ids to target")
	cmd.Flags().StringVar(&role, "role", string(model.RoleWorker), "role of the targeted users")
	cmd.Flags().IntVar(&events, "events", 1000, "events to send")
	return cmd
}
