// Package backup writes point-in-time copies of the catalog database,
// prunes old copies, and optionally ships the newest one offsite.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const filePrefix = "cards-"

// Source writes a consistent copy of the database to dest.
type Source interface {
	Backup(ctx context.Context, dest string) error
}

// Result describes one completed backup.
type Result struct {
	Path     string        `json:"path"`
	Uploaded bool          `json:"uploaded"`
	Pruned   []string      `json:"pruned,omitempty"`
	Took     time.Duration `json:"took"`
}

// Manager takes backups into a directory and keeps the newest Retain files.
type Manager struct {
	source   Source
	uploader Uploader
	dir      string
	retain   int
	now      func() time.Time
}

// NewManager creates a Manager. retain <= 0 keeps every backup.
func NewManager(source Source, uploader Uploader, dir string, retain int) *Manager {
	if uploader == nil {
		uploader = &NoopUploader{}
	}
	return &Manager{
		source:   source,
		uploader: uploader,
		dir:      dir,
		retain:   retain,
		now:      time.Now,
	}
}

// Run takes one backup. Upload failures are logged and reported through
// Result.Uploaded; the local copy is kept either way.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	start := m.now()
	name := fmt.Sprintf("%s%s-%s.db", filePrefix, start.UTC().Format("20060102T150405Z"), ulid.Make())
	path := filepath.Join(m.dir, name)

	if err := m.source.Backup(ctx, path); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	res := &Result{Path: path}

	if _, noop := m.uploader.(*NoopUploader); !noop {
		if err := m.uploader.Upload(ctx, LatestObject, path); err != nil {
			slog.Warn("backup upload failed",
				"component", "backup",
				"action", "upload_failed",
				"path", path,
				"error", err,
			)
		} else {
			res.Uploaded = true
		}
	}

	pruned, err := m.prune()
	if err != nil {
		slog.Warn("backup pruning failed",
			"component", "backup",
			"action", "prune_failed",
			"error", err,
		)
	}
	res.Pruned = pruned
	res.Took = m.now().Sub(start)

	slog.Info("backup completed",
		"component", "backup",
		"action", "backup_complete",
		"path", path,
		"uploaded", res.Uploaded,
		"pruned", len(pruned),
		"duration_ms", res.Took.Milliseconds(),
	)
	return res, nil
}

// List returns backup files in the directory, oldest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		out = append(out, filepath.Join(m.dir, e.Name()))
	}
	// Names embed a UTC timestamp and a ULID, so lexical order is time order.
	sort.Strings(out)
	return out, nil
}

func (m *Manager) prune() ([]string, error) {
	if m.retain <= 0 {
		return nil, nil
	}
	files, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(files) <= m.retain {
		return nil, nil
	}

	stale := files[:len(files)-m.retain]
	var removed []string
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return removed, err
		}
		removed = append(removed, f)
	}
	return removed, nil
}

// LatestURL returns a download link for the newest offsite backup.
func (m *Manager) LatestURL(ctx context.Context) (string, time.Time, error) {
	return m.uploader.PresignedURL(ctx, LatestObject)
}
