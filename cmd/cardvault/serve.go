package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/cardvault/internal/api"
	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/worker"
	"github.com/spf13/cobra"
)

var serveImportIfEmpty bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveImportIfEmpty, "import-if-empty", false,
		"Run an import from the configured sources when the catalog is missing or empty")
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Collection and stats cache; the database opens lazily
	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.Info("collection configured", "path", coll.Path(), "stats_cache", cfg.Stats.Cache)

	if serveImportIfEmpty {
		if err := importIfEmpty(ctx, coll); err != nil {
			return err
		}
	}
	if err := openAtStartup(ctx, coll); err != nil {
		return err
	}

	// 3. Backups
	backups, err := newBackupManager(cfg, coll)
	if err != nil {
		return err
	}

	// 4. HTTP router
	handler := api.NewHandler(coll, backups, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	// 5. HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 6. Workers
	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Backup.Interval); interval > 0 {
		startWorker(ctx, &wg, "backup", worker.NewBackupWorker(backups, interval).Run)
	}

	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Stop HTTP server (drains in-flight requests), then workers; the
	// collection closes last via cleanup.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

// openAtStartup runs any pending migration before the listener starts. A
// catalog that was never imported is served as unavailable; every other
// failure, a failed migration included, stops the process.
func openAtStartup(ctx context.Context, coll *collection.Collection) error {
	_, err := coll.Open(ctx)
	switch {
	case err == nil:
		return nil
	case collection.IsUnavailable(err):
		slog.Warn("catalog not imported yet, serving as unavailable", "path", coll.Path())
		return nil
	default:
		return fmt.Errorf("open catalog: %w", err)
	}
}

// importIfEmpty seeds a catalog that was never imported from the configured
// snapshot and inventory.
func importIfEmpty(ctx context.Context, coll *collection.Collection) error {
	h, err := coll.Open(ctx)
	switch {
	case collection.IsUnavailable(err):
	case err != nil:
		return err
	default:
		n, err := h.Store.CountItems(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}

	slog.Info("catalog empty, importing", "snapshot", cfg.Import.SnapshotPath, "inventory", cfg.Import.InventoryDir)
	_, err = runImportWith(ctx, coll, importSettingsFromConfig(cfg))
	return err
}
