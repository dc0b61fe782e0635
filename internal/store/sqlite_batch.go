package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/cardvault/internal/types"
)

// RunBatch runs fn inside one write transaction. Readers on other connections
// see either the state before the batch or after it commits.
func (s *SQLiteStore) RunBatch(ctx context.Context, fn func(Batch) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteBatch{tx: tx, now: formatTime(s.now())}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// execer is the part of *sql.Tx a batch writes through.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqliteBatch struct {
	tx  execer
	now string
}

func (b *sqliteBatch) UpsertCatalogRow(ctx context.Context, item *types.CatalogItem, policy RefreshPolicy) (UpsertResult, error) {
	price := decimalToCents(item.PriceNormal)
	foil := decimalToCents(item.PriceFoil)

	res, err := b.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO cards (
			scryfall_id, name, set_name, collector_number, rarity,
			quantity, foil_quantity, price_cents, foil_price_cents,
			image_normal, image_art_crop, last_updated
		) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?)`,
		item.ExternalID, item.Name, item.PartitionKey, item.SequenceNumber, string(item.Rarity),
		price, foil, item.ImagePrimaryURL, item.ImageArtURL, b.now)
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("insert catalog row %s: %w", item.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("insert catalog row %s: %w", item.ExternalID, err)
	}
	if n == 1 {
		return UpsertInserted, nil
	}

	var refresh sql.Result
	switch policy {
	case RefreshPrices:
		refresh, err = b.tx.ExecContext(ctx, `
			UPDATE cards SET price_cents = ?, foil_price_cents = ?
			WHERE scryfall_id = ?
			  AND (price_cents IS NOT ? OR foil_price_cents IS NOT ?)`,
			price, foil, item.ExternalID, price, foil)
	case RefreshMetadata:
		refresh, err = b.tx.ExecContext(ctx, `
			UPDATE cards SET
				name = ?1, set_name = ?2, collector_number = ?3, rarity = ?4,
				price_cents = ?5, foil_price_cents = ?6,
				image_normal = ?7, image_art_crop = ?8
			WHERE scryfall_id = ?9
			  AND (name IS NOT ?1 OR set_name IS NOT ?2 OR collector_number IS NOT ?3
			       OR rarity IS NOT ?4 OR price_cents IS NOT ?5 OR foil_price_cents IS NOT ?6
			       OR image_normal IS NOT ?7 OR image_art_crop IS NOT ?8)`,
			item.Name, item.PartitionKey, item.SequenceNumber, string(item.Rarity),
			price, foil, item.ImagePrimaryURL, item.ImageArtURL, item.ExternalID)
	default:
		return UpsertUnchanged, nil
	}
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("refresh catalog row %s: %w", item.ExternalID, err)
	}
	n, err = refresh.RowsAffected()
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("refresh catalog row %s: %w", item.ExternalID, err)
	}
	if n == 1 {
		return UpsertRefreshed, nil
	}
	return UpsertUnchanged, nil
}

// SetQuantity stamps last_updated only when the stored value changes, so
// replaying the same inventory leaves rows byte-identical.
func (b *sqliteBatch) SetQuantity(ctx context.Context, externalID string, foil bool, qty int) error {
	if qty < 0 {
		return fmt.Errorf("quantity must be non-negative")
	}
	col := "quantity"
	if foil {
		col = "foil_quantity"
	}
	res, err := b.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE cards
		SET %[1]s = ?1,
		    last_updated = CASE WHEN %[1]s = ?1 THEN last_updated ELSE ?2 END
		WHERE scryfall_id = ?3`, col),
		qty, b.now, externalID)
	if err != nil {
		return fmt.Errorf("set quantity %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set quantity %s: %w", externalID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
