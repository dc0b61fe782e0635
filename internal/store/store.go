package store

import (
	"context"

	"github.com/hyperengineering/cardvault/internal/types"
)

// Store defines the catalog storage contract.
type Store interface {
	GetItem(ctx context.Context, externalID string) (*types.CatalogItem, error)
	ListPartition(ctx context.Context, partitionKey string, filter types.ListFilter) ([]types.CatalogItem, error)
	ListPartitions(ctx context.Context, sort types.PartitionSort, desc bool) ([]types.PartitionSummary, error)
	UpdateQuantities(ctx context.Context, externalID string, normal, foil int) (*types.CatalogItem, error)
	UpsertCatalogRow(ctx context.Context, item *types.CatalogItem) (UpsertResult, error)
	Aggregate(ctx context.Context, partitionKey string) (*types.StatsView, error)
	CountItems(ctx context.Context) (int, error)
	SchemaVersion(ctx context.Context) (int64, error)
	RunBatch(ctx context.Context, fn func(Batch) error) error
	Backup(ctx context.Context, dest string) error
	Close() error
}

// Batch is the write surface available inside a single import transaction.
type Batch interface {
	// UpsertCatalogRow ensures the row exists. Ownership fields are never
	// touched for existing rows; catalog metadata is rewritten only as the
	// refresh policy allows.
	UpsertCatalogRow(ctx context.Context, item *types.CatalogItem, policy RefreshPolicy) (UpsertResult, error)

	// SetQuantity overwrites one finish's quantity. Returns ErrNotFound for
	// unknown ids.
	SetQuantity(ctx context.Context, externalID string, foil bool, qty int) error
}

// RefreshPolicy controls what a re-import rewrites on rows that already exist.
type RefreshPolicy string

const (
	RefreshNone     RefreshPolicy = "none"
	RefreshPrices   RefreshPolicy = "prices"
	RefreshMetadata RefreshPolicy = "metadata"
)

// ValidRefreshPolicy reports whether p is a known policy.
func ValidRefreshPolicy(p RefreshPolicy) bool {
	switch p {
	case RefreshNone, RefreshPrices, RefreshMetadata:
		return true
	}
	return false
}

// UpsertResult reports what an upsert did.
type UpsertResult int

const (
	UpsertUnchanged UpsertResult = iota
	UpsertInserted
	UpsertRefreshed
)
