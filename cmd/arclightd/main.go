// arclightd is the Arclight background runtime: a worker pool draining the
// job queue, and the operator sweep for abandoned jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arclight-ai/arclight/internal/config"
	"github.com/arclight-ai/arclight/internal/embedding"
	"github.com/arclight-ai/arclight/internal/jobs"
	"github.com/arclight-ai/arclight/internal/quota"
	"github.com/arclight-ai/arclight/internal/storage"
	"github.com/arclight-ai/arclight/internal/storage/postgres"
	"github.com/arclight-ai/arclight/internal/storage/sqlite"
	"github.com/arclight-ai/arclight/internal/tenant"
	"github.com/arclight-ai/arclight/pkg/types"
)

// centralStore is the central datastore view: job queue plus control plane.
type centralStore interface {
	storage.JobStore
	storage.ControlPlaneStore
	Close() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "arclightd",
		Short: "Arclight background runtime",
		Long:  "arclightd runs the Arclight job workers and operator maintenance commands.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newWorkerCmd(&configPath))
	root.AddCommand(newSweepCmd(&configPath))
	return root
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			central, err := openCentral(cfg.ControlPlane.DSN)
			if err != nil {
				return err
			}
			defer central.Close()

			router, err := tenant.NewRouter(central, tenant.DefaultOpener, cfg.ControlPlane.MaxStoreHandles)
			if err != nil {
				return err
			}
			defer router.Close()

			resolver := func(ctx context.Context, tenantID string) (storage.QuotaStore, types.Tier, error) {
				cap, err := router.Resolve(ctx, tenantID)
				if err != nil {
					return nil, "", err
				}
				stores, err := router.OpenStores(cap)
				if err != nil {
					return nil, "", err
				}
				return stores.Quota(), cap.Tier, nil
			}
			ledger, err := quota.NewLedger(resolver, central)
			if err != nil {
				return err
			}

			provider := embedding.NewHTTPProvider(embedding.Config{
				BaseURL: cfg.Embedding.BaseURL,
				Model:   cfg.Embedding.Model,
				Timeout: cfg.Embedding.Timeout,
			})

			pool := jobs.NewPool(central, cfg.Worker.Workers, cfg.Worker.PollsPerSecond)
			pool.Register(jobs.NewLearningHandler(router, cfg.Worker.TurnWindow))
			pool.Register(jobs.NewExtractionHandler(router, ledger, provider))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("starting %d workers against %s", cfg.Worker.Workers, describeDSN(cfg.ControlPlane.DSN))
			return pool.Run(ctx)
		},
	}
}

func newSweepCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in_progress longer than the cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if olderThan == 0 {
				olderThan = cfg.Worker.SweepAfter
			}

			central, err := openCentral(cfg.ControlPlane.DSN)
			if err != nil {
				return err
			}
			defer central.Close()

			marked, err := jobs.Sweep(cmd.Context(), central, olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("swept %d abandoned job(s)\n", marked)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "abandonment cutoff (default: config sweep_after)")
	return cmd
}

// openCentral opens the central datastore. The shared tier makes both
// backends apply the control-plane schema.
func openCentral(dsn string) (centralStore, error) {
	if strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return postgres.New(dsn, types.TierShared)
	}
	return sqlite.New(dsn, types.TierShared)
}

// describeDSN gives a log-safe description of where the central store lives.
func describeDSN(dsn string) string {
	if strings.Contains(dsn, "://") || strings.Contains(dsn, "host=") {
		return "postgres control plane"
	}
	return "sqlite control plane at " + dsn
}
