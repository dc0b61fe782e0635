// Package importer merges a catalog snapshot and an ownership inventory into
// the catalog store.
//
// Phase A seeds catalog rows from the snapshot without touching ownership of
// rows that already exist. Phase B overwrites quantities from the inventory.
// Both phases run in one write batch, so readers see the store before the
// import or after it, never in between.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultMedium is the availability tag a printing needs to be catalogued.
const DefaultMedium = "paper"

var (
	// ErrMalformedRecord marks a snapshot entry missing a required field.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnresolvedRecord marks an inventory record whose id is not in the catalog.
	ErrUnresolvedRecord = errors.New("unresolved record")
)

// BatchRunner is the store surface the merger writes through.
type BatchRunner interface {
	RunBatch(ctx context.Context, fn func(store.Batch) error) error
}

// Resolver looks up the catalog printing for an inventory record that has no
// external id.
type Resolver interface {
	Lookup(ctx context.Context, name, setLabel, number string) (*scryfall.Card, error)
}

// Options configures a Merger.
type Options struct {
	// Medium filters snapshot entries by availability. Defaults to "paper".
	Medium string

	Refresh store.RefreshPolicy

	// Resolver, when set, fills in missing external ids before the batch opens.
	Resolver Resolver

	// ResolveConcurrency bounds in-flight lookups. Defaults to 4.
	ResolveConcurrency int

	Now func() time.Time
}

// Merger runs imports against a store.
type Merger struct {
	store BatchRunner
	opts  Options
}

// New creates a Merger.
func New(s BatchRunner, opts Options) (*Merger, error) {
	if opts.Medium == "" {
		opts.Medium = DefaultMedium
	}
	if opts.Refresh == "" {
		opts.Refresh = store.RefreshNone
	}
	if !store.ValidRefreshPolicy(opts.Refresh) {
		return nil, fmt.Errorf("unknown refresh policy %q", opts.Refresh)
	}
	if opts.ResolveConcurrency <= 0 {
		opts.ResolveConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Merger{store: s, opts: opts}, nil
}

type stackKey struct {
	id   string
	foil bool
}

// stack is the final quantity for one (id, finish) after last-write-wins,
// with the number of inventory records folded into it.
type stack struct {
	key     stackKey
	qty     int
	records int
	source  string
}

// Run performs one import. Either source may be nil to skip its phase.
// On error the store is left exactly as it was.
func (m *Merger) Run(ctx context.Context, snapshot SnapshotSource, inventory InventorySource) (*types.ImportReport, error) {
	report := &types.ImportReport{
		RunID:     ulid.Make().String(),
		StartedAt: m.opts.Now().UTC(),
	}
	log := slog.With("component", "importer", "run_id", report.RunID)

	log.Info("import started",
		"action", "import_start",
		"medium", m.opts.Medium,
		"refresh", m.opts.Refresh,
	)

	var stacks []stack
	if inventory != nil {
		records, malformed, err := inventory.Records(ctx)
		if err != nil {
			return nil, fmt.Errorf("read inventory: %w", err)
		}
		report.InventoryRecords = len(records) + malformed
		report.MalformedInventory = malformed

		resolved, err := m.resolveMissing(ctx, records)
		if err != nil {
			return nil, err
		}
		report.ResolvedByLookup = resolved

		var unresolved int
		stacks, unresolved = collapse(records, log)
		report.Unresolved += unresolved
	}

	err := m.store.RunBatch(ctx, func(b store.Batch) error {
		if snapshot != nil {
			if err := m.seed(ctx, b, snapshot, report, log); err != nil {
				return err
			}
		}
		return m.reconcile(ctx, b, stacks, report, log)
	})
	if err != nil {
		log.Error("import failed",
			"action", "import_failed",
			"error", err,
		)
		return nil, fmt.Errorf("import: %w", err)
	}

	report.FinishedAt = m.opts.Now().UTC()
	log.Info("import completed",
		"action", "import_complete",
		"duration_ms", report.Duration().Milliseconds(),
		"snapshot_records", report.SnapshotRecords,
		"seeded", report.Seeded,
		"already_present", report.AlreadyPresent,
		"refreshed", report.Refreshed,
		"unavailable_in_medium", report.UnavailableMedium,
		"malformed_snapshot", report.MalformedSnapshot,
		"inventory_records", report.InventoryRecords,
		"applied", report.Applied,
		"unresolved", report.Unresolved,
		"malformed_inventory", report.MalformedInventory,
		"resolved_by_lookup", report.ResolvedByLookup,
	)
	return report, nil
}

// seed is phase A.
func (m *Merger) seed(ctx context.Context, b store.Batch, src SnapshotSource, report *types.ImportReport, log *slog.Logger) error {
	seen := make(map[string]struct{})
	return src.Each(ctx, func(rec SnapshotRecord) error {
		report.SnapshotRecords++
		if rec.Err != nil {
			report.MalformedSnapshot++
			log.Debug("skipping undecodable snapshot entry", "position", rec.Position, "error", rec.Err)
			return nil
		}
		if !rec.Card.AvailableIn(m.opts.Medium) {
			report.UnavailableMedium++
			return nil
		}
		item, err := CatalogItemFromCard(&rec.Card)
		if err != nil {
			report.MalformedSnapshot++
			log.Debug("skipping snapshot entry", "position", rec.Position, "error", err)
			return nil
		}

		// A repeated id within one snapshot overwrites the earlier entry's
		// catalog fields; ownership is never touched.
		if _, dup := seen[item.ExternalID]; dup {
			report.DuplicateSnapshot++
			log.Debug("duplicate snapshot entry, keeping the later one",
				"scryfall_id", item.ExternalID,
				"position", rec.Position,
			)
			_, err := b.UpsertCatalogRow(ctx, item, store.RefreshMetadata)
			return err
		}
		seen[item.ExternalID] = struct{}{}

		res, err := b.UpsertCatalogRow(ctx, item, m.opts.Refresh)
		if err != nil {
			return err
		}
		switch res {
		case store.UpsertInserted:
			report.Seeded++
		case store.UpsertRefreshed:
			report.AlreadyPresent++
			report.Refreshed++
		default:
			report.AlreadyPresent++
		}
		return nil
	})
}

// reconcile is phase B.
func (m *Merger) reconcile(ctx context.Context, b store.Batch, stacks []stack, report *types.ImportReport, log *slog.Logger) error {
	for _, s := range stacks {
		err := b.SetQuantity(ctx, s.key.id, s.key.foil, s.qty)
		if errors.Is(err, store.ErrNotFound) {
			report.Unresolved += s.records
			log.Debug("inventory record not in catalog",
				"scryfall_id", s.key.id,
				"source", s.source,
				"error", ErrUnresolvedRecord,
			)
			continue
		}
		if err != nil {
			return err
		}
		report.Applied += s.records
	}
	return nil
}

// collapse folds records onto (id, finish) keeping the last quantity seen.
// Records without an id are counted as unresolved.
func collapse(records []types.InventoryRecord, log *slog.Logger) ([]stack, int) {
	index := make(map[stackKey]int, len(records))
	var (
		out        []stack
		unresolved int
	)
	for _, r := range records {
		if r.ExternalID == "" {
			unresolved++
			log.Debug("inventory record has no id",
				"name", r.Name,
				"source", r.Source,
				"error", ErrUnresolvedRecord,
			)
			continue
		}
		k := stackKey{id: r.ExternalID, foil: r.IsFoil}
		if i, ok := index[k]; ok {
			out[i].qty = r.Quantity
			out[i].records++
			out[i].source = r.Source
			continue
		}
		index[k] = len(out)
		out = append(out, stack{key: k, qty: r.Quantity, records: 1, source: r.Source})
	}
	return out, unresolved
}

// resolveMissing fills ExternalID in place for records that lack one. Lookup
// failures leave the record unresolved; only cancellation aborts.
func (m *Merger) resolveMissing(ctx context.Context, records []types.InventoryRecord) (int, error) {
	if m.opts.Resolver == nil {
		return 0, nil
	}

	found := make([]bool, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ResolveConcurrency)
	for i := range records {
		r := &records[i]
		if r.ExternalID != "" || r.Name == "" {
			continue
		}
		g.Go(func() error {
			card, err := m.opts.Resolver.Lookup(gctx, r.Name, r.PartitionLabel, r.SequenceNumber)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !errors.Is(err, scryfall.ErrNoMatch) {
					slog.Warn("inventory lookup failed",
						"component", "importer",
						"name", r.Name,
						"source", r.Source,
						"error", err,
					)
				}
				return nil
			}
			r.ExternalID = card.ID
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("resolve inventory: %w", err)
	}

	n := 0
	for _, ok := range found {
		if ok {
			n++
		}
	}
	return n, nil
}

// CatalogItemFromCard maps a snapshot card onto a catalog row with zero
// ownership. Unparseable or negative prices are treated as missing.
func CatalogItemFromCard(c *scryfall.Card) (*types.CatalogItem, error) {
	var missing []string
	if strings.TrimSpace(c.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.SetName) == "" {
		missing = append(missing, "set_name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedRecord, strings.Join(missing, ", "))
	}

	images := c.Images()
	return &types.CatalogItem{
		ExternalID:      c.ID,
		Name:            c.Name,
		PartitionKey:    c.SetName,
		SequenceNumber:  c.CollectorNumber,
		Rarity:          types.ParseRarity(c.Rarity),
		PriceNormal:     parsePrice(c.Prices.USD),
		PriceFoil:       parsePrice(c.Prices.USDFoil),
		ImagePrimaryURL: images.Normal,
		ImageArtURL:     images.ArtCrop,
	}, nil
}

func parsePrice(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
