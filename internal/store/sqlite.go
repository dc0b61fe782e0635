package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Options configures NewSQLiteStore.
type Options struct {
	Path string

	// CreateIfMissing allows a fresh database file to be created. When false,
	// a missing file is reported as ErrStorageUnavailable.
	CreateIfMissing bool

	// BackupBeforeMigrate writes a copy of a populated database before any
	// schema upgrade.
	BackupBeforeMigrate bool

	MaxOpenConns int

	// Now is the clock used to stamp last_updated. Defaults to time.Now.
	Now func() time.Time
}

// SQLiteStore is the SQLite-backed catalog.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	now       func() time.Time
	migration *MigrationResult

	// writeMu serializes writers so single-row updates are linearizable and
	// never wait out the busy timeout behind an import batch.
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the catalog database, applies pragmas, and runs any
// pending schema migrations before returning.
func NewSQLiteStore(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: database path is empty", ErrStorageUnavailable)
	}

	if _, err := os.Stat(opts.Path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s does not exist (run an import first)", ErrStorageUnavailable, opts.Path)
		}
		if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(opts.Path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	migrateOpts := MigrateOptions{}
	if opts.BackupBeforeMigrate {
		migrateOpts.BackupPrefix = opts.Path
	}
	result, err := Migrate(ctx, db, migrateOpts)
	if err != nil {
		db.Close()
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &SQLiteStore{
		db:        db,
		path:      opts.Path,
		now:       now,
		migration: result,
	}, nil
}

// dsn attaches per-connection pragmas so every pooled connection gets them.
func dsn(path string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)",
		"_txlock=immediate",
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// Migration returns what the migrator did when the store was opened.
func (s *SQLiteStore) Migration() *MigrationResult {
	return s.migration
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const itemColumns = `scryfall_id, name, set_name, collector_number, rarity,
	quantity, foil_quantity, price_cents, foil_price_cents,
	image_normal, image_art_crop, last_updated`

func scanItem(scanner interface{ Scan(...any) error }) (*types.CatalogItem, error) {
	var (
		item            types.CatalogItem
		rarity, updated string
		price, foil     sql.NullInt64
	)
	err := scanner.Scan(
		&item.ExternalID, &item.Name, &item.PartitionKey, &item.SequenceNumber, &rarity,
		&item.QuantityNormal, &item.QuantityFoil, &price, &foil,
		&item.ImagePrimaryURL, &item.ImageArtURL, &updated,
	)
	if err != nil {
		return nil, err
	}
	item.Rarity = types.Rarity(rarity)
	item.PriceNormal = centsToDecimal(price)
	item.PriceFoil = centsToDecimal(foil)
	item.LastUpdated = parseTime(updated)
	return &item, nil
}

func centsToDecimal(v sql.NullInt64) decimal.NullDecimal {
	if !v.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.New(v.Int64, -2))
}

// decimalToCents rounds to whole cents. Sub-cent precision is not kept.
func decimalToCents(v decimal.NullDecimal) sql.NullInt64 {
	if !v.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.Decimal.Shift(2).Round(0).IntPart(), Valid: true}
}

// GetItem returns the catalog row for externalID.
func (s *SQLiteStore) GetItem(ctx context.Context, externalID string) (*types.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM cards WHERE scryfall_id = ?", externalID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// UpdateQuantities overwrites both quantities of an existing row and stamps
// last_updated. Unknown ids return ErrNotFound; rows are never created here.
func (s *SQLiteStore) UpdateQuantities(ctx context.Context, externalID string, normal, foil int) (*types.CatalogItem, error) {
	if normal < 0 || foil < 0 {
		return nil, fmt.Errorf("quantities must be non-negative")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET quantity = ?, foil_quantity = ?, last_updated = ?
		WHERE scryfall_id = ?`,
		normal, foil, formatTime(s.now()), externalID)
	if err != nil {
		return nil, fmt.Errorf("update quantities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update quantities: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	return s.GetItem(ctx, externalID)
}

// UpsertCatalogRow inserts a catalog row if its id is not yet present.
// Existing rows are left untouched.
func (s *SQLiteStore) UpsertCatalogRow(ctx context.Context, item *types.CatalogItem) (UpsertResult, error) {
	var result UpsertResult
	err := s.RunBatch(ctx, func(b Batch) error {
		var err error
		result, err = b.UpsertCatalogRow(ctx, item, RefreshNone)
		return err
	})
	return result, err
}

// CountItems returns the number of catalog rows.
func (s *SQLiteStore) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := newMigrationProvider(s.db)
	if err != nil {
		return 0, err
	}
	return currentVersion(ctx, s.db, provider)
}

// Backup writes a consistent copy of the database to dest.
func (s *SQLiteStore) Backup(ctx context.Context, dest string) error {
	if dir := filepath.Dir(dest); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}
	return vacuumInto(ctx, s.db, dest)
}
