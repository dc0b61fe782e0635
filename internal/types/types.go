package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Rarity is the rarity tier of a printing.
type Rarity string

const (
	RarityUnset    Rarity = ""
	RarityCommon   Rarity = "common"
	RarityUncommon Rarity = "uncommon"
	RarityRare     Rarity = "rare"
	RarityMythic   Rarity = "mythic"
	RarityOther    Rarity = "other"
)

// ParseRarity normalizes a raw rarity string from a catalog feed.
// Known tiers are kept, any other non-empty value becomes RarityOther.
func ParseRarity(s string) Rarity {
	switch r := Rarity(strings.ToLower(strings.TrimSpace(s))); r {
	case RarityUnset, RarityCommon, RarityUncommon, RarityRare, RarityMythic, RarityOther:
		return r
	default:
		return RarityOther
	}
}

// IsValidRarity reports whether s names a rarity tier usable as a filter.
func IsValidRarity(s string) bool {
	switch Rarity(s) {
	case RarityCommon, RarityUncommon, RarityRare, RarityMythic, RarityOther:
		return true
	}
	return false
}

// CatalogItem is one printing in the catalog together with its ownership state.
type CatalogItem struct {
	ExternalID      string              `json:"scryfall_id"`
	Name            string              `json:"name"`
	PartitionKey    string              `json:"set_name"`
	SequenceNumber  string              `json:"collector_number"`
	Rarity          Rarity              `json:"rarity"`
	QuantityNormal  int                 `json:"quantity"`
	QuantityFoil    int                 `json:"foil_quantity"`
	PriceNormal     decimal.NullDecimal `json:"price"`
	PriceFoil       decimal.NullDecimal `json:"foil_price"`
	ImagePrimaryURL string              `json:"image_normal,omitempty"`
	ImageArtURL     string              `json:"image_art_crop,omitempty"`
	LastUpdated     time.Time           `json:"last_updated"`
}

// Owned reports whether at least one copy of the printing is held.
func (c *CatalogItem) Owned() bool {
	return c.QuantityNormal > 0 || c.QuantityFoil > 0
}

// Copies returns the number of held copies across both finishes.
func (c *CatalogItem) Copies() int {
	return c.QuantityNormal + c.QuantityFoil
}

// Value returns the market value of the held copies. Missing prices contribute zero.
func (c *CatalogItem) Value() decimal.Decimal {
	v := decimal.Zero
	if c.PriceNormal.Valid {
		v = v.Add(c.PriceNormal.Decimal.Mul(decimal.NewFromInt(int64(c.QuantityNormal))))
	}
	if c.PriceFoil.Valid {
		v = v.Add(c.PriceFoil.Decimal.Mul(decimal.NewFromInt(int64(c.QuantityFoil))))
	}
	return v
}

// Ownership selects rows by whether they are held.
type Ownership string

const (
	OwnershipAll     Ownership = "all"
	OwnershipOwned   Ownership = "owned"
	OwnershipMissing Ownership = "missing"
)

// ListFilter narrows a partition listing. Zero value lists everything.
type ListFilter struct {
	Search    string
	Rarity    Rarity
	Ownership Ownership
}

// PartitionSort is the sort key for partition summaries.
type PartitionSort string

const (
	SortByName       PartitionSort = "name"
	SortByCompletion PartitionSort = "completion"
	SortByValue      PartitionSort = "value"
	SortByCopies     PartitionSort = "cards"
)

// ParsePartitionSort maps a request value onto a sort key, defaulting to name.
func ParsePartitionSort(s string) PartitionSort {
	switch p := PartitionSort(s); p {
	case SortByName, SortByCompletion, SortByValue, SortByCopies:
		return p
	case "copies":
		return SortByCopies
	default:
		return SortByName
	}
}

// PartitionSummary is one row of the partition overview.
type PartitionSummary struct {
	PartitionKey  string          `json:"set_name"`
	TotalPossible int             `json:"total_possible"`
	OwnedCount    int             `json:"owned_cards"`
	TotalCopies   int             `json:"total_copies"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// Completion returns the owned fraction of the partition in [0, 1].
func (p *PartitionSummary) Completion() float64 {
	if p.TotalPossible == 0 {
		return 0
	}
	return float64(p.OwnedCount) / float64(p.TotalPossible)
}

// ScopeGlobal names the whole-catalog stats scope.
const ScopeGlobal = "global"

// RarityStats is the per-rarity breakdown inside a StatsView.
type RarityStats struct {
	Total  int `json:"total"`
	Owned  int `json:"owned"`
	Copies int `json:"copies"`
}

// StatsView is a derived aggregate over the whole catalog or one partition.
type StatsView struct {
	Scope              string                 `json:"scope"`
	TotalCopies        int                    `json:"total_cards"`
	UniqueOwnedCount   int                    `json:"unique_cards"`
	TotalPossibleCount int                    `json:"total_possible"`
	TotalValue         decimal.Decimal        `json:"total_value"`
	ByRarity           map[Rarity]RarityStats `json:"by_rarity"`
	ComputedAt         time.Time              `json:"computed_at"`
	Stale              bool                   `json:"stale,omitempty"`
}

// EmptyStats returns a zeroed view for scope.
func EmptyStats(scope string) *StatsView {
	return &StatsView{
		Scope:      scope,
		TotalValue: decimal.Zero,
		ByRarity:   map[Rarity]RarityStats{},
	}
}

// InventoryRecord is one owned stack reported by an inventory source.
type InventoryRecord struct {
	PartitionLabel string
	Name           string
	SequenceNumber string
	Quantity       int
	IsFoil         bool
	ExternalID     string
	Source         string // file:line, for reporting
}

// ImportReport summarizes one run of the import merger.
type ImportReport struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	SnapshotRecords   int `json:"snapshot_records" yaml:"snapshot_records"`
	Seeded            int `json:"seeded" yaml:"seeded"`
	AlreadyPresent    int `json:"already_present" yaml:"already_present"`
	Refreshed         int `json:"refreshed" yaml:"refreshed"`
	UnavailableMedium int `json:"unavailable_in_medium" yaml:"unavailable_in_medium"`
	MalformedSnapshot int `json:"malformed_snapshot" yaml:"malformed_snapshot"`
	DuplicateSnapshot int `json:"duplicate_snapshot" yaml:"duplicate_snapshot"`

	InventoryRecords   int `json:"inventory_records" yaml:"inventory_records"`
	Applied            int `json:"applied" yaml:"applied"`
	Unresolved         int `json:"unresolved" yaml:"unresolved"`
	MalformedInventory int `json:"malformed_inventory" yaml:"malformed_inventory"`
	ResolvedByLookup   int `json:"resolved_by_lookup" yaml:"resolved_by_lookup"`
}

// Duration returns the wall time the import took.
func (r *ImportReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// UpdateQuantitiesRequest is the body of a quantity update.
type UpdateQuantitiesRequest struct {
	Quantity     *int `json:"quantity"`
	FoilQuantity *int `json:"foil_quantity"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SchemaVersion int64  `json:"schema_version"`
	CatalogItems  int    `json:"catalog_items"`
	NeedsImport   bool   `json:"needs_import"`
}
