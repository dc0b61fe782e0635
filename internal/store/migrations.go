package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/hyperengineering/cardvault/migrations"
	"github.com/pressly/goose/v3"
)

// CurrentSchemaVersion is the layout version this build reads and writes.
const CurrentSchemaVersion int64 = 2

const versionTable = "goose_db_version"

// MigrateOptions controls a schema upgrade.
type MigrateOptions struct {
	// Target is the version to stop at. Zero means CurrentSchemaVersion.
	Target int64

	// BackupPrefix, when set, makes the migrator write a VACUUM INTO copy to
	// "<prefix>.pre-v<from>.bak" before upgrading a populated store.
	BackupPrefix string
}

// MigrationResult describes what happened when the store was opened.
type MigrationResult struct {
	FromVersion int64
	ToVersion   int64
	Applied     []int64
	NeedsImport bool
	BackupPath  string
}

// Migrate brings db to the target schema version and reports whether the
// catalog is empty. The emptiness check runs regardless of which versions
// were applied.
func Migrate(ctx context.Context, db *sql.DB, opts MigrateOptions) (*MigrationResult, error) {
	target := opts.Target
	if target == 0 {
		target = CurrentSchemaVersion
	}

	provider, err := newMigrationProvider(db)
	if err != nil {
		return nil, &MigrationError{To: target, Err: err}
	}

	from, err := currentVersion(ctx, db, provider)
	if err != nil {
		return nil, &MigrationError{To: target, Err: err}
	}

	result := &MigrationResult{FromVersion: from, ToVersion: from}

	if from > target {
		return nil, &MigrationError{From: from, To: target, Err: fmt.Errorf("database is newer than this build")}
	}

	if from < target {
		if from > 0 && opts.BackupPrefix != "" {
			path, err := backupBeforeMigrate(ctx, db, opts.BackupPrefix, from)
			if err != nil {
				return nil, &MigrationError{From: from, To: target, Err: err}
			}
			result.BackupPath = path
		}

		slog.Info("schema migration started",
			"component", "store",
			"action", "migrate_start",
			"from_version", from,
			"to_version", target,
		)

		applied, err := provider.UpTo(ctx, target)
		for _, r := range applied {
			if r.Error == nil && r.Source != nil {
				result.Applied = append(result.Applied, r.Source.Version)
			}
		}
		if err != nil {
			return nil, &MigrationError{From: from, To: target, Err: err}
		}
		result.ToVersion = target

		slog.Info("schema migration completed",
			"component", "store",
			"action", "migrate_complete",
			"from_version", from,
			"to_version", target,
			"applied", result.Applied,
		)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		return nil, fmt.Errorf("count catalog rows: %w", err)
	}
	result.NeedsImport = count == 0

	return result, nil
}

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectSQLite3, db, migrations.FS,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(
			goose.NewGoMigration(2,
				&goose.GoFunc{RunTx: upCardsV2, Mode: goose.TransactionEnabled},
				nil,
			),
		),
	)
}

// currentVersion returns 0 for a database goose has never touched.
func currentVersion(ctx context.Context, db *sql.DB, provider *goose.Provider) (int64, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", versionTable,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("check version table: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	return provider.GetDBVersion(ctx)
}

func backupBeforeMigrate(ctx context.Context, db *sql.DB, prefix string, from int64) (string, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		return "", fmt.Errorf("count rows before backup: %w", err)
	}
	if count == 0 {
		return "", nil
	}
	path := fmt.Sprintf("%s.pre-v%d.bak", prefix, from)
	if err := vacuumInto(ctx, db, path); err != nil {
		return "", err
	}
	slog.Info("pre-migration backup written",
		"component", "store",
		"action", "migrate_backup",
		"path", path,
		"rows", count,
	)
	return path, nil
}

// vacuumInto writes a consistent copy of the database to dest, replacing
// any existing file.
func vacuumInto(ctx context.Context, db *sql.DB, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// cardRowV1 is a row of the version 1 layout.
type cardRowV1 struct {
	ScryfallID      string
	Name            string
	SetName         string
	CollectorNumber string
	Rarity          string
	Games           string
	Quantity        int
	FoilQuantity    int
	Price           sql.NullFloat64
	FoilPrice       sql.NullFloat64
	LastUpdated     time.Time
}

// cardRowV2 is a row of the version 2 layout: integer cent prices, display
// images, normalized rarity. The availability list is retired because only
// rows available in the tracked medium are ever imported.
type cardRowV2 struct {
	ScryfallID      string
	Name            string
	SetName         string
	CollectorNumber string
	Rarity          string
	Quantity        int
	FoilQuantity    int
	PriceCents      sql.NullInt64
	FoilPriceCents  sql.NullInt64
	ImageNormal     string
	ImageArtCrop    string
	LastUpdated     time.Time
}

func migrateCardV1toV2(r cardRowV1) cardRowV2 {
	return cardRowV2{
		ScryfallID:      r.ScryfallID,
		Name:            r.Name,
		SetName:         r.SetName,
		CollectorNumber: r.CollectorNumber,
		Rarity:          string(types.ParseRarity(r.Rarity)),
		Quantity:        r.Quantity,
		FoilQuantity:    r.FoilQuantity,
		PriceCents:      dollarsToCents(r.Price),
		FoilPriceCents:  dollarsToCents(r.FoilPrice),
		LastUpdated:     r.LastUpdated,
	}
}

func dollarsToCents(v sql.NullFloat64) sql.NullInt64 {
	if !v.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(math.Round(v.Float64 * 100)), Valid: true}
}

const createCardsV2 = `
CREATE TABLE cards_v2 (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scryfall_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    set_name TEXT NOT NULL,
    collector_number TEXT NOT NULL DEFAULT '',
    rarity TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    foil_quantity INTEGER NOT NULL DEFAULT 0 CHECK (foil_quantity >= 0),
    price_cents INTEGER CHECK (price_cents >= 0),
    foil_price_cents INTEGER CHECK (foil_price_cents >= 0),
    image_normal TEXT NOT NULL DEFAULT '',
    image_art_crop TEXT NOT NULL DEFAULT '',
    last_updated TEXT NOT NULL
)`

var cardsV2Indexes = []string{
	"CREATE INDEX idx_cards_scryfall_id ON cards(scryfall_id)",
	"CREATE INDEX idx_cards_name ON cards(name)",
	"CREATE INDEX idx_cards_set_name ON cards(set_name, collector_number)",
}

// upCardsV2 rebuilds the cards table in the version 2 layout. The old table
// is dropped only after every row has been copied and the counts agree.
func upCardsV2(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, createCardsV2); err != nil {
		return fmt.Errorf("create v2 table: %w", err)
	}

	old, err := readCardsV1(ctx, tx)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards_v2 (
			scryfall_id, name, set_name, collector_number, rarity,
			quantity, foil_quantity, price_cents, foil_price_cents,
			image_normal, image_art_crop, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare v2 insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range old {
		n := migrateCardV1toV2(r)
		if _, err := stmt.ExecContext(ctx,
			n.ScryfallID, n.Name, n.SetName, n.CollectorNumber, n.Rarity,
			n.Quantity, n.FoilQuantity, n.PriceCents, n.FoilPriceCents,
			n.ImageNormal, n.ImageArtCrop, formatTime(n.LastUpdated),
		); err != nil {
			return fmt.Errorf("copy row %s: %w", r.ScryfallID, err)
		}
	}

	var copied int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards_v2").Scan(&copied); err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if copied != len(old) {
		return fmt.Errorf("verify copy: %d rows copied, %d expected", copied, len(old))
	}

	for _, q := range []string{
		"DROP TABLE cards",
		"ALTER TABLE cards_v2 RENAME TO cards",
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("swap tables: %w", err)
		}
	}
	for _, q := range cardsV2Indexes {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("rebuild indexes: %w", err)
		}
	}
	return nil
}

func readCardsV1(ctx context.Context, tx *sql.Tx) ([]cardRowV1, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT scryfall_id, name, set_name, collector_number, rarity, games,
		       quantity, foil_quantity, price, foil_price, last_updated
		FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read v1 rows: %w", err)
	}
	defer rows.Close()

	var out []cardRowV1
	for rows.Next() {
		var (
			r       cardRowV1
			updated any
		)
		if err := rows.Scan(
			&r.ScryfallID, &r.Name, &r.SetName, &r.CollectorNumber, &r.Rarity, &r.Games,
			&r.Quantity, &r.FoilQuantity, &r.Price, &r.FoilPrice, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan v1 row: %w", err)
		}
		r.LastUpdated = legacyTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// legacyTime accepts the shapes a TIMESTAMP column can come back as.
// Unparseable or missing values map to the zero time.
func legacyTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
