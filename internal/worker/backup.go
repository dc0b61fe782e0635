// Package worker runs the server's background jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/cardvault/internal/backup"
)

// BackupRunner takes one backup.
type BackupRunner interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// BackupWorker takes a backup at start and then once per interval. A backup
// in progress at shutdown runs to completion.
type BackupWorker struct {
	runner   BackupRunner
	interval time.Duration
	log      *slog.Logger

	failures int
}

func NewBackupWorker(runner BackupRunner, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		runner:   runner,
		interval: interval,
		log:      slog.With("component", "worker", "worker", "backup"),
	}
}

// Run blocks until ctx is cancelled.
func (w *BackupWorker) Run(ctx context.Context) {
	w.log.Info("backups scheduled", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *BackupWorker) tick(ctx context.Context) {
	if _, err := w.runner.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failures++
		w.log.Warn("backup failed", "error", err, "consecutive_failures", w.failures)
		return
	}
	w.failures = 0
}
