package store

import (
	"context"
	"fmt"

	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/shopspring/decimal"
)

// Aggregate computes the stats view for one partition, or for the whole
// catalog when partitionKey is empty. A single grouped query keeps every
// figure consistent with the same snapshot.
func (s *SQLiteStore) Aggregate(ctx context.Context, partitionKey string) (*types.StatsView, error) {
	query := `
		SELECT rarity,
		       COUNT(*),
		       SUM(CASE WHEN quantity > 0 OR foil_quantity > 0 THEN 1 ELSE 0 END),
		       SUM(quantity + foil_quantity),
		       SUM(quantity * COALESCE(price_cents, 0) + foil_quantity * COALESCE(foil_price_cents, 0))
		FROM cards`
	var args []any
	scope := types.ScopeGlobal
	if partitionKey != "" {
		query += " WHERE set_name = ?"
		args = append(args, partitionKey)
		scope = partitionKey
	}
	query += " GROUP BY rarity"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()

	view := types.EmptyStats(scope)
	var valueCents int64
	for rows.Next() {
		var (
			rarity               string
			total, owned, copies int
			cents                int64
		)
		if err := rows.Scan(&rarity, &total, &owned, &copies, &cents); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		view.TotalPossibleCount += total
		view.UniqueOwnedCount += owned
		view.TotalCopies += copies
		valueCents += cents
		if rarity != "" {
			view.ByRarity[types.Rarity(rarity)] = types.RarityStats{Total: total, Owned: owned, Copies: copies}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	view.TotalValue = centsValue(valueCents)
	view.ComputedAt = s.now().UTC()
	return view, nil
}

func centsValue(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
