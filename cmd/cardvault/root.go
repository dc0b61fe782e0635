package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/cardvault/internal/backup"
	"github.com/hyperengineering/cardvault/internal/cache"
	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/config"
	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool

	// cfg is loaded once per invocation before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cardvault",
	Short: "Cardvault - trading card collection tracker",
	Long: "Track a trading card collection against a full catalog snapshot: " +
		"import inventories, serve the catalog API, and report completion stats.",
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides CARDVAULT_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(setsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(backupCmd)
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
	slog.Debug("configuration loaded", "database", cfg.Database.Path)
	return nil
}

// newLogger builds the process logger. Logs go to w so command output on
// stdout stays machine-readable.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openCollection builds the collection and its stats cache from config. The
// returned cleanup closes the collection and the cache.
func openCollection(ctx context.Context, c *config.Config) (*collection.Collection, func(), error) {
	statsCache, closeCache, err := newStatsCache(ctx, c.Stats)
	if err != nil {
		return nil, nil, err
	}

	coll, err := collection.New(collection.Options{
		DBPath:              c.Database.Path,
		BackupBeforeMigrate: c.Database.BackupBeforeMigrate,
		MaxOpenConns:        c.Database.MaxOpenConns,
		Cache:               statsCache,
		StatsTTL:            time.Duration(c.Stats.CacheTTL),
	})
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	cleanup := func() {
		if err := coll.Close(); err != nil {
			slog.Error("collection close error", "error", err)
		}
		closeCache()
	}
	return coll, cleanup, nil
}

func newStatsCache(ctx context.Context, sc config.StatsConfig) (cache.Cache, func(), error) {
	if sc.Cache != "redis" {
		return cache.NewMemoryCache(time.Minute), func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:      sc.RedisAddr,
		Password:  sc.RedisPassword,
		DB:        sc.RedisDB,
		KeyPrefix: "cardvault:stats",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect stats cache: %w", err)
	}
	slog.Info("stats cache connected", "backend", "redis", "addr", sc.RedisAddr)
	return rc, func() {
		if err := rc.Close(); err != nil {
			slog.Error("stats cache close error", "error", err)
		}
	}, nil
}

func newScryfallClient(sc config.ScryfallConfig) *scryfall.Client {
	c := scryfall.DefaultConfig()
	if sc.BaseURL != "" {
		c.BaseURL = sc.BaseURL
	}
	if sc.RequestsPerSecond > 0 {
		c.RequestsPerSecond = sc.RequestsPerSecond
	}
	if sc.Burst > 0 {
		c.Burst = sc.Burst
	}
	if sc.MaxConcurrency > 0 {
		c.MaxConcurrency = sc.MaxConcurrency
	}
	c.MaxRetries = uint64(sc.MaxRetries)
	c.UserAgent = "cardvault/" + Version
	return scryfall.NewClient(c)
}

func newBackupManager(c *config.Config, source backup.Source) (*backup.Manager, error) {
	uploader, err := backup.NewUploader(c.Backup)
	if err != nil {
		return nil, err
	}
	return backup.NewManager(source, uploader, c.Backup.Dir, c.Backup.Retain), nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
