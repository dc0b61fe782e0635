package main

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/store"
)

func newServeCollection(t *testing.T, path string) *collection.Collection {
	t.Helper()
	c, err := collection.New(collection.Options{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenAtStartup_ToleratesUnimportedCatalog(t *testing.T) {
	useCapture(t)
	c := newServeCollection(t, filepath.Join(t.TempDir(), "cards.db"))

	if err := openAtStartup(context.Background(), c); err != nil {
		t.Errorf("openAtStartup() error = %v, want nil for a missing catalog", err)
	}
}

func TestOpenAtStartup_OpensImportedCatalog(t *testing.T) {
	useCapture(t)
	c := newServeCollection(t, filepath.Join(t.TempDir(), "cards.db"))
	if _, err := c.OpenOrCreate(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := openAtStartup(context.Background(), c); err != nil {
		t.Errorf("openAtStartup() error = %v", err)
	}
}

func TestOpenAtStartup_FailedMigrationStopsServe(t *testing.T) {
	useCapture(t)
	ctx := context.Background()

	// Given: a v1 database with a row the v2 layout rejects
	path := filepath.Join(t.TempDir(), "cards.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Migrate(ctx, db, store.MigrateOptions{Target: 1}); err != nil {
		t.Fatalf("migrate to v1: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO cards (scryfall_id, name, set_name, collector_number, rarity, games,
		                   quantity, foil_quantity, price, foil_price, last_updated)
		VALUES ('a', 'Bolt', 'Alpha', '161', 'common', 'paper', 1, 0, -1.0, NULL, NULL)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	// When: serve opens the catalog before listening
	err = openAtStartup(ctx, newServeCollection(t, path))

	// Then: startup fails with the migration error
	if !errors.Is(err, store.ErrMigrationFailed) {
		t.Errorf("openAtStartup() error = %v, want ErrMigrationFailed", err)
	}
}
