package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperengineering/cardvault/internal/types"
)

// sequenceOrder sorts collector numbers numerically. Values that do not start
// with a digit sort after every numeric one, then lexically.
const sequenceOrder = `
	CASE WHEN collector_number GLOB '[0-9]*' THEN 0 ELSE 1 END,
	CAST(collector_number AS INTEGER),
	collector_number,
	scryfall_id`

// ListPartition returns the rows of one partition matching filter, ordered
// by collector number.
func (s *SQLiteStore) ListPartition(ctx context.Context, partitionKey string, filter types.ListFilter) ([]types.CatalogItem, error) {
	query := "SELECT " + itemColumns + " FROM cards WHERE set_name = ?"
	args := []any{partitionKey}

	if filter.Search != "" {
		query += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	if filter.Rarity != types.RarityUnset {
		query += " AND rarity = ?"
		args = append(args, string(filter.Rarity))
	}
	switch filter.Ownership {
	case types.OwnershipOwned:
		query += " AND (quantity > 0 OR foil_quantity > 0)"
	case types.OwnershipMissing:
		query += " AND quantity = 0 AND foil_quantity = 0"
	}
	query += " ORDER BY" + sequenceOrder

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list partition: %w", err)
	}
	defer rows.Close()

	items := []types.CatalogItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var partitionSortColumns = map[types.PartitionSort]string{
	types.SortByName:       "set_name",
	types.SortByCompletion: "CAST(owned_cards AS REAL) / total_possible",
	types.SortByValue:      "total_value_cents",
	types.SortByCopies:     "total_copies",
}

// ListPartitions summarizes every partition. Ties break on partition name.
func (s *SQLiteStore) ListPartitions(ctx context.Context, sort types.PartitionSort, desc bool) ([]types.PartitionSummary, error) {
	col, ok := partitionSortColumns[sort]
	if !ok {
		col = partitionSortColumns[types.SortByName]
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT set_name,
		       COUNT(*) AS total_possible,
		       SUM(CASE WHEN quantity > 0 OR foil_quantity > 0 THEN 1 ELSE 0 END) AS owned_cards,
		       SUM(quantity + foil_quantity) AS total_copies,
		       SUM(quantity * COALESCE(price_cents, 0) + foil_quantity * COALESCE(foil_price_cents, 0)) AS total_value_cents
		FROM cards
		GROUP BY set_name
		ORDER BY %s %s, set_name ASC`, col, dir))
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	out := []types.PartitionSummary{}
	for rows.Next() {
		var (
			p     types.PartitionSummary
			cents int64
		)
		if err := rows.Scan(&p.PartitionKey, &p.TotalPossible, &p.OwnedCount, &p.TotalCopies, &cents); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.TotalValue = centsValue(cents)
		out = append(out, p)
	}
	return out, rows.Err()
}
