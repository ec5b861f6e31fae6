package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qaforge/qaforge/pkg/api"
	"github.com/qaforge/qaforge/pkg/config"
	"github.com/qaforge/qaforge/pkg/dispatch"
	"github.com/qaforge/qaforge/pkg/runner"
	"github.com/qaforge/qaforge/pkg/scanner"
	"github.com/qaforge/qaforge/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server",
	Long: `Start the API server together with the schedule scanner. Due
schedules are picked up in the background and their runs dispatched to
the configured test tools.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st := store.NewStore(log, &cfg.Database, loc)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if cfg.Catalog.ManifestPath != "" {
		manifest, err := store.LoadCatalogManifest(cfg.Catalog.ManifestPath)
		if err != nil {
			return fmt.Errorf("loading catalog manifest: %w", err)
		}

		if err := st.SeedCatalog(ctx, manifest); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}

		log.WithField("manifest", cfg.Catalog.ManifestPath).
			Info("Test catalog seeded")
	}

	registry := runner.NewDefaultRegistry(log,
		runner.ToolConfig(cfg.Runners.Unit),
		runner.ToolConfig(cfg.Runners.Load),
		runner.ToolConfig(cfg.Runners.Browser),
	)

	dispatcher := dispatch.NewDispatcher(log, st, registry, &dispatch.Config{
		GroupConcurrency: cfg.Runners.GroupConcurrency,
	})

	var sc *scanner.Scanner

	if cfg.Scheduler.Enabled {
		sc = scanner.New(log, st, dispatcher, cfg.Scheduler.ScanInterval)
		if err := sc.Start(ctx); err != nil {
			return fmt.Errorf("starting scanner: %w", err)
		}
	} else {
		log.Warn("Schedule scanner disabled; only manual runs will execute")
	}

	srv := api.NewServer(log, &cfg.Server, st, dispatcher, sc)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("API server stop error")
	}

	if sc != nil {
		if err := sc.Stop(); err != nil {
			log.WithError(err).Warn("Scanner stop error")
		}
	}

	if err := st.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}
