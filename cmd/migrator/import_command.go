package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-catalog-migrator/migrate"
)

func newImportCommand(g *globalFlags) *cobra.Command {
	var (
		categoryIDs     []int
		limit           int
		startPage       int
		batchSize       int
		dryRun          bool
		continueOnError bool
		reset           bool
	)

	cmd := &cobra.Command{
		Use:   "import [entity...|all]",
		Short: "Import entities in dependency order, resuming from checkpoints",
		Long:  fmt.Sprintf("Import entities in dependency order, resuming from checkpoints.\nEntities: %v", migrate.Order),
		Example: "  migrator import categories products --limit 500\n" +
			"  migrator import all --dry-run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("category-ids") {
				cfg.Import.CategoryIDs = categoryIDs
			}
			if flags.Changed("continue-on-error") {
				cfg.Import.ContinueOnError = continueOnError
			}
			if flags.Changed("batch-size") {
				b := &cfg.Import.BatchSizes
				b.Categories, b.Users, b.Products = batchSize, batchSize, batchSize
				b.Variations, b.Orders, b.BlogPosts = batchSize, batchSize, batchSize
			}
			entities := args
			if slices.Contains(args, "all") {
				entities = nil
			}

			m, err := migrate.New(cfg, migrate.WithDryRun(dryRun))
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					slog.Error("release state lock", slog.Any("error", err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer announceShutdown(ctx)()

			var metricsServer *http.Server
			if cfg.MetricsAddr != "" {
				metricsServer = &http.Server{
					Addr:    cfg.MetricsAddr,
					Handler: promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}),
				}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics server failed", slog.Any("error", err))
					}
				}()
				slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
			}

			slog.Info("starting migration",
				slog.String("source", cfg.Commerce.BaseURL),
				slog.String("destination", cfg.Destination.BaseURL),
				slog.Any("entities", entities),
				slog.Bool("dry_run", dryRun),
			)
			startTime := time.Now()
			runs, runErr := m.Run(ctx, migrate.Options{
				Entities:  entities,
				Limit:     limit,
				StartPage: startPage,
				Reset:     reset,
			})

			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					slog.Error("metrics server shutdown failed", slog.Any("error", err))
				}
				cancel()
			}

			printSummary(cmd.OutOrStdout(), runs, m.MediaStats(), time.Since(startTime))
			if runErr != nil {
				return fmt.Errorf("migration stopped: %w", runErr)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntSliceVar(&categoryIDs, "category-ids", nil, "Only import products of these source categories")
	flags.IntVarP(&limit, "limit", "l", 0, "Maximum items per entity (0 uses the configured limit)")
	flags.IntVarP(&startPage, "page", "p", 0, "Source page to start from instead of the checkpoint")
	flags.IntVar(&batchSize, "batch-size", 0, "Source page size for every entity (1-100)")
	flags.BoolVar(&dryRun, "dry-run", false, "Read and transform without writing to the destination")
	flags.BoolVar(&continueOnError, "continue-on-error", true, "Count failed items and keep going")
	flags.BoolVar(&reset, "reset", false, "Discard checkpoints of the selected entities first")

	return cmd
}

// announceShutdown logs once if ctx is cancelled before the returned release
// func is called. A clean exit calls release first and logs nothing.
func announceShutdown(ctx context.Context) (release func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
		case <-done:
			if ctx.Err() == nil {
				return
			}
		}
		slog.Info("shutdown signal received, waiting for in-flight items to finish")
	}()
	return func() {
		close(done)
		<-finished
	}
}
