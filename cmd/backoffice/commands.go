package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elitemodel/backoffice/internal/api"
	"github.com/elitemodel/backoffice/internal/database"
	"github.com/elitemodel/backoffice/internal/notifications"
	"github.com/elitemodel/backoffice/internal/paymentref"
	"github.com/elitemodel/backoffice/internal/reconciliation"
	"github.com/elitemodel/backoffice/internal/repository"
	"github.com/elitemodel/backoffice/internal/services/scheduler"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the payment reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending schema migrations before starting")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		n, err := database.Migrate(ctx, a.db)
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Printf("backoffice: applied %d migration(s)", n)
		}
	}

	if a.cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.Deps{
		Reconciler:   a.engine,
		Issuer:       paymentref.NewIssuer(a.apps),
		Applications: a.apps,
		Notifier: notifications.NewSubmissionNotifier(
			notifications.WithLogger(a.logger),
			notifications.WithLocation(a.cfg.App.Location()),
		),
		Status:       a.status,
		DB:           a.db,
		Logger:       a.logger,
		CheckTimeout: time.Duration(a.cfg.Payments.TimeoutSeconds) * time.Second,
	})
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         a.cfg.Server.GetServerAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.NewService(
		scheduler.WithLogger(a.logger),
		scheduler.WithReconciler(a.engine),
		scheduler.WithPendingCounter(a.apps),
		scheduler.WithStatusStore(a.status),
		scheduler.WithLocation(a.cfg.App.Location()),
	)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Printf("backoffice: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			<-schedDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	a.logger.Printf("backoffice: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Printf("backoffice: http shutdown: %v", err)
	}
	cancel()
	<-schedDone
	return nil
}

func newReconcileCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one payment reconciliation pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.engine.Run(ctx)
			if !errors.Is(runErr, reconciliation.ErrRunInProgress) {
				if err := a.status.SetJSON(ctx, reconciliation.StatusKey, reconciliation.NewRunStatus(res, runErr), 24*time.Hour); err != nil {
					a.logger.Printf("backoffice: storing status: %v", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Abort the pass after this long")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := database.Migrate(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s), schema at v%d\n", n, database.LatestVersion())
			return nil
		},
	}
}

func newFeeCmd() *cobra.Command {
	fee := &cobra.Command{
		Use:   "fee",
		Short: "Show or change the required application fee",
	}

	fee.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the required application fee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(cmd, func(ctx context.Context, settings *repository.SettingsRepository) error {
				amount, err := settings.RequiredFee(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), amount.StringFixed(2))
				return nil
			})
		},
	})

	fee.AddCommand(&cobra.Command{
		Use:   "set AMOUNT",
		Short: "Set the required application fee, e.g. 2000 or 1500.50",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseFee(args[0])
			if err != nil {
				return err
			}
			return withSettings(cmd, func(ctx context.Context, settings *repository.SettingsRepository) error {
				if err := settings.SetRequiredFee(ctx, amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "required fee set to %s\n", amount.StringFixed(2))
				return nil
			})
		},
	})
	return fee
}

func withSettings(cmd *cobra.Command, fn func(context.Context, *repository.SettingsRepository) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, repository.NewSettingsRepository(db))
}

// parseFee accepts a plain decimal; a comma is taken as the decimal separator.
func parseFee(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(normalizeFee(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("fee must not be negative")
	}
	return amount.Round(2), nil
}

// normalizeFee turns "1.500,50" into "1500.50" and leaves "1500.50" alone.
func normalizeFee(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	return raw
}
