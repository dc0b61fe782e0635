// Package collection owns the lifecycle of the catalog database: lazy
// opening, the stats aggregator bound to it, imports, and the meta.yaml
// sidecar.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/cardvault/internal/cache"
	"github.com/hyperengineering/cardvault/internal/importer"
	"github.com/hyperengineering/cardvault/internal/stats"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
)

// Options configures a Collection.
type Options struct {
	DBPath              string
	BackupBeforeMigrate bool
	MaxOpenConns        int

	// Cache backs the global stats view. Defaults to an in-process cache.
	Cache    cache.Cache
	StatsTTL time.Duration
}

// Collection hands out the single open handle to the catalog.
type Collection struct {
	opts Options

	mu     sync.RWMutex
	handle *Handle
	// failed latches a migration failure; later opens return it without
	// touching the database again.
	failed error
}

// Handle is an open catalog with its stats aggregator.
type Handle struct {
	Store *store.SQLiteStore
	Stats *stats.Aggregator

	metaPath string
	metaMu   sync.Mutex
	meta     *Meta
}

// New creates a Collection. Nothing is opened until first use.
func New(opts Options) (*Collection, error) {
	path, err := expandHome(opts.DBPath)
	if err != nil {
		return nil, err
	}
	opts.DBPath = path
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(time.Minute)
	}
	return &Collection{opts: opts}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// Path returns the database file path.
func (c *Collection) Path() string {
	return c.opts.DBPath
}

// Open returns the live handle, opening the database on first call. A
// missing database file is ErrStorageUnavailable: only an import creates it.
func (c *Collection) Open(ctx context.Context) (*Handle, error) {
	return c.open(ctx, false)
}

// OpenOrCreate is Open, creating an empty migrated database when none exists.
func (c *Collection) OpenOrCreate(ctx context.Context) (*Handle, error) {
	return c.open(ctx, true)
}

func (c *Collection) open(ctx context.Context, create bool) (*Handle, error) {
	// Fast path: already open
	c.mu.RLock()
	if h, failed := c.handle, c.failed; h != nil || failed != nil {
		c.mu.RUnlock()
		return h, failed
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.handle != nil || c.failed != nil {
		return c.handle, c.failed
	}

	s, err := store.NewSQLiteStore(ctx, store.Options{
		Path:                c.opts.DBPath,
		CreateIfMissing:     create,
		BackupBeforeMigrate: c.opts.BackupBeforeMigrate,
		MaxOpenConns:        c.opts.MaxOpenConns,
	})
	if errors.Is(err, store.ErrMigrationFailed) {
		slog.Error("schema migration failed, catalog disabled until restart",
			"component", "collection",
			"action", "migration_latched",
			"path", c.opts.DBPath,
			"error", err,
		)
		c.failed = err
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(filepath.Dir(c.opts.DBPath), "meta.yaml")
	meta, err := LoadMeta(metaPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load collection metadata: %w", err)
	}
	m := s.Migration()
	meta.LastOpened = time.Now().UTC()
	meta.SchemaVersion = m.ToVersion

	h := &Handle{
		Store:    s,
		Stats:    stats.New(s, c.opts.Cache, c.opts.StatsTTL),
		metaPath: metaPath,
		meta:     meta,
	}
	if err := h.saveMeta(); err != nil {
		slog.Warn("failed to save collection metadata",
			"component", "collection",
			"path", metaPath,
			"error", err,
		)
	}

	slog.Info("collection opened",
		"component", "collection",
		"action", "collection_opened",
		"path", c.opts.DBPath,
		"schema_version", m.ToVersion,
		"migrated_from", m.FromVersion,
		"needs_import", m.NeedsImport,
	)

	c.handle = h
	return h, nil
}

// Import runs the merger against the catalog, creating the database if
// needed, and records the report in the sidecar.
func (c *Collection) Import(ctx context.Context, snapshot importer.SnapshotSource, inventory importer.InventorySource, opts importer.Options) (*types.ImportReport, error) {
	h, err := c.OpenOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	m, err := importer.New(h.Store, opts)
	if err != nil {
		return nil, err
	}
	report, err := m.Run(ctx, snapshot, inventory)
	if err != nil {
		return nil, err
	}

	h.metaMu.Lock()
	h.meta.LastImport = report
	h.metaMu.Unlock()
	if err := h.saveMeta(); err != nil {
		slog.Warn("failed to record import in metadata",
			"component", "collection",
			"run_id", report.RunID,
			"error", err,
		)
	}
	return report, nil
}

// Close closes the handle if open. The collection can be reopened afterwards,
// except after a failed migration, which stays latched.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	err := c.handle.Store.Close()
	c.handle = nil
	return err
}

// Backup writes a consistent copy of the catalog to dest. A catalog that was
// never imported has nothing to back up and reports ErrStorageUnavailable.
func (c *Collection) Backup(ctx context.Context, dest string) error {
	h, err := c.Open(ctx)
	if err != nil {
		return err
	}
	return h.Store.Backup(ctx, dest)
}

// Meta returns a copy of the sidecar contents.
func (h *Handle) Meta() Meta {
	h.metaMu.Lock()
	defer h.metaMu.Unlock()
	return *h.meta
}

func (h *Handle) saveMeta() error {
	h.metaMu.Lock()
	defer h.metaMu.Unlock()
	return SaveMeta(h.metaPath, h.meta)
}

// Info is the summary shown by the info command.
type Info struct {
	Path          string              `json:"path"`
	SizeBytes     int64               `json:"size_bytes"`
	SchemaVersion int64               `json:"schema_version"`
	CatalogItems  int                 `json:"catalog_items"`
	NeedsImport   bool                `json:"needs_import"`
	Created       time.Time           `json:"created"`
	LastImport    *types.ImportReport `json:"last_import,omitempty"`
}

// Info reports the state of the open collection.
func (h *Handle) Info(ctx context.Context) (*Info, error) {
	version, err := h.Store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	n, err := h.Store.CountItems(ctx)
	if err != nil {
		return nil, err
	}
	meta := h.Meta()

	info := &Info{
		Path:          h.Store.Path(),
		SchemaVersion: version,
		CatalogItems:  n,
		NeedsImport:   n == 0,
		Created:       meta.Created,
		LastImport:    meta.LastImport,
	}
	if fi, err := os.Stat(h.Store.Path()); err == nil {
		info.SizeBytes = fi.Size()
	}
	return info, nil
}

// IsUnavailable reports whether err means the catalog cannot be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, store.ErrStorageUnavailable)
}
