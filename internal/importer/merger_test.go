package importer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/cardvault/internal/scryfall"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), store.Options{
		Path:            filepath.Join(t.TempDir(), "collection.db"),
		CreateIfMissing: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func paperCard(id, name, set, number string) scryfall.Card {
	return scryfall.Card{
		ID:              id,
		Name:            name,
		SetName:         set,
		CollectorNumber: number,
		Rarity:          "common",
		Games:           []string{"paper", "mtgo"},
	}
}

func newMerger(t testing.TB, s BatchRunner, opts Options) *Merger {
	t.Helper()
	m, err := New(s, opts)
	require.NoError(t, err)
	return m
}

func TestRun_SeedsAndReconcilesBothFinishes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := newMerger(t, s, Options{})

	snapshot := SliceSnapshot{
		paperCard("A", "Bolt", "Alpha", "1"),
		paperCard("B", "Lotus", "Alpha", "2"),
	}
	inventory := SliceInventory{
		{ExternalID: "A", Quantity: 2},
		{ExternalID: "A", Quantity: 1, IsFoil: true},
	}

	report, err := m.Run(ctx, snapshot, inventory)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Seeded)
	assert.Equal(t, 2, report.Applied)
	assert.Zero(t, report.Unresolved)
	assert.NotEmpty(t, report.RunID)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, a.QuantityNormal)
	assert.Equal(t, 1, a.QuantityFoil)

	b, err := s.GetItem(ctx, "B")
	require.NoError(t, err)
	assert.Zero(t, b.Copies())

	view, err := s.Aggregate(ctx, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, view.TotalPossibleCount)
	assert.Equal(t, 1, view.UniqueOwnedCount)
	assert.Equal(t, 3, view.TotalCopies)
}

func TestRun_SkipsUnavailableAndMalformedEntries(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := newMerger(t, s, Options{})

	digital := paperCard("D", "Digital", "Alpha", "3")
	digital.Games = []string{"arena"}
	noGames := paperCard("G", "NoGames", "Alpha", "4")
	noGames.Games = nil
	noName := paperCard("N", "", "Alpha", "5")

	snapshot := SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1"), digital, noGames, noName}

	report, err := m.Run(ctx, snapshot, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, report.SnapshotRecords)
	assert.Equal(t, 1, report.Seeded)
	assert.Equal(t, 2, report.UnavailableMedium)
	assert.Equal(t, 1, report.MalformedSnapshot)

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_ReimportKeepsOwnership(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := newMerger(t, s, Options{})

	_, err := m.Run(ctx, SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")}, SliceInventory{{ExternalID: "A", Quantity: 4}})
	require.NoError(t, err)

	// A snapshot-only re-run must not reset the owned count.
	report, err := m.Run(ctx, SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadyPresent)
	assert.Zero(t, report.Seeded)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4, a.QuantityNormal)
}

func TestRun_RefreshPrices(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	card := paperCard("A", "Bolt", "Alpha", "1")
	card.Prices.USD = strPtr("1.00")
	_, err := newMerger(t, s, Options{}).Run(ctx, SliceSnapshot{card}, SliceInventory{{ExternalID: "A", Quantity: 1}})
	require.NoError(t, err)

	card.Prices.USD = strPtr("2.50")

	report, err := newMerger(t, s, Options{}).Run(ctx, SliceSnapshot{card}, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Refreshed, "default policy leaves existing rows alone")

	report, err = newMerger(t, s, Options{Refresh: store.RefreshPrices}).Run(ctx, SliceSnapshot{card}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.True(t, a.PriceNormal.Decimal.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, 1, a.QuantityNormal)
}

func TestRun_UnknownIDsAreUnresolved(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := newMerger(t, s, Options{})

	report, err := m.Run(ctx,
		SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")},
		SliceInventory{
			{ExternalID: "missing", Quantity: 3},
			{Name: "No Id", Quantity: 1},
			{ExternalID: "A", Quantity: 1},
		})
	require.NoError(t, err)

	assert.Equal(t, 3, report.InventoryRecords)
	assert.Equal(t, 2, report.Unresolved)
	assert.Equal(t, 1, report.Applied)

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := newMerger(t, s, Options{})

	_, err := m.Run(ctx,
		SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")},
		SliceInventory{
			{ExternalID: "A", Quantity: 5},
			{ExternalID: "A", Quantity: 2},
		})
	require.NoError(t, err)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, a.QuantityNormal, "quantities overwrite, never sum")
}

type failingBatch struct {
	store.Batch
	failAfter int
	calls     int
}

func (f *failingBatch) SetQuantity(ctx context.Context, id string, foil bool, qty int) error {
	f.calls++
	if f.calls > f.failAfter {
		return errors.New("disk full")
	}
	return f.Batch.SetQuantity(ctx, id, foil, qty)
}

type failingRunner struct {
	s *store.SQLiteStore
}

func (r failingRunner) RunBatch(ctx context.Context, fn func(store.Batch) error) error {
	return r.s.RunBatch(ctx, func(b store.Batch) error {
		return fn(&failingBatch{Batch: b, failAfter: 1})
	})
}

func TestRun_FailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := newMerger(t, failingRunner{s}, Options{}).Run(ctx,
		SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1"), paperCard("B", "Lotus", "Alpha", "2")},
		SliceInventory{{ExternalID: "A", Quantity: 1}, {ExternalID: "B", Quantity: 1}})
	require.Error(t, err)

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "seeded rows roll back with the failed batch")
}

type fakeResolver struct {
	calls atomic.Int32
	ids   map[string]string
}

func (f *fakeResolver) Lookup(_ context.Context, name, _, _ string) (*scryfall.Card, error) {
	f.calls.Add(1)
	if id, ok := f.ids[name]; ok {
		return &scryfall.Card{ID: id}, nil
	}
	return nil, scryfall.ErrNoMatch
}

func TestRun_ResolvesMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	resolver := &fakeResolver{ids: map[string]string{"Bolt": "A"}}
	m := newMerger(t, s, Options{Resolver: resolver, ResolveConcurrency: 2})

	report, err := m.Run(ctx,
		SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")},
		SliceInventory{
			{Name: "Bolt", Quantity: 3, PartitionLabel: "Alpha"},
			{Name: "Nothing", Quantity: 1},
			{ExternalID: "A", Quantity: 1, IsFoil: true},
		})
	require.NoError(t, err)

	assert.Equal(t, int32(2), resolver.calls.Load(), "records with ids are not looked up")
	assert.Equal(t, 1, report.ResolvedByLookup)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Unresolved)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.QuantityNormal)
	assert.Equal(t, 1, a.QuantityFoil)
}

func TestRun_ReportTimings(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newMerger(t, openStore(t), Options{Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})

	report, err := m.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, report.Duration())
}

func TestNew_RejectsUnknownRefreshPolicy(t *testing.T) {
	_, err := New(openStore(t), Options{Refresh: "everything"})
	assert.Error(t, err)
}

func TestCatalogItemFromCard(t *testing.T) {
	c := paperCard("A", "Bolt", "Alpha", "1")
	c.Rarity = "special"
	c.Prices = scryfall.Prices{USD: strPtr("0.25"), USDFoil: strPtr("n/a")}
	c.CardFaces = []scryfall.CardFace{{ImageURIs: &scryfall.ImageURIs{Normal: "front.jpg", ArtCrop: "art.jpg"}}}

	item, err := CatalogItemFromCard(&c)
	require.NoError(t, err)
	assert.Equal(t, types.RarityOther, item.Rarity)
	assert.True(t, item.PriceNormal.Valid)
	assert.False(t, item.PriceFoil.Valid)
	assert.Equal(t, "front.jpg", item.ImagePrimaryURL)
	assert.Zero(t, item.Copies())

	_, err = CatalogItemFromCard(&scryfall.Card{Name: "x"})
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestRun_DuplicateSnapshotIDKeepsLastEntry(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	first := paperCard("A", "Bolt", "Alpha", "1")
	first.Prices.USD = strPtr("1.00")
	last := paperCard("A", "Lightning Bolt", "Alpha", "161")
	last.Prices.USD = strPtr("2.00")
	snapshot := SliceSnapshot{first, last}
	inventory := SliceInventory{{ExternalID: "A", Quantity: 3}}

	report, err := newMerger(t, s, Options{}).Run(ctx, snapshot, inventory)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Seeded)
	assert.Equal(t, 1, report.DuplicateSnapshot)

	a, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", a.Name)
	assert.Equal(t, "161", a.SequenceNumber)
	assert.True(t, a.PriceNormal.Decimal.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, 3, a.QuantityNormal)

	// A second run over the same snapshot settles on the same row.
	report, err = newMerger(t, s, Options{}).Run(ctx, snapshot, inventory)
	require.NoError(t, err)
	assert.Zero(t, report.Seeded)

	again, err := s.GetItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestRun_LogsInventoryRecordsWithoutID(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })

	s := openStore(t)
	inventory := SliceInventory{{Name: "Mystery Card", Quantity: 2, Source: "alpha_with_scryfall.csv:7"}}

	report, err := newMerger(t, s, Options{}).Run(context.Background(), SliceSnapshot{paperCard("A", "Bolt", "Alpha", "1")}, inventory)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unresolved)

	logs := buf.String()
	assert.Contains(t, logs, "inventory record has no id")
	assert.Contains(t, logs, "alpha_with_scryfall.csv:7")
	assert.Contains(t, logs, "Mystery Card")
}
