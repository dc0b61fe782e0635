package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/cardvault/internal/cache"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns a view whose copy count tracks a mutable counter.
type fakeSource struct {
	mu     sync.Mutex
	copies int
	err    error
	calls  atomic.Int32
}

func (f *fakeSource) Aggregate(ctx context.Context, partitionKey string) (*types.StatsView, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	scope := partitionKey
	if scope == "" {
		scope = types.ScopeGlobal
	}
	v := types.EmptyStats(scope)
	v.TotalCopies = f.copies
	v.TotalValue = decimal.NewFromInt(int64(f.copies))
	v.ComputedAt = time.Now().UTC()
	return v, nil
}

func (f *fakeSource) set(copies int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = copies
	f.err = err
}

func TestAggregator_GlobalCachedWithinWindow(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{copies: 1}
	agg := New(src, cache.NewMemoryCache(time.Minute), time.Minute)

	first, err := agg.GlobalJSON(ctx)
	require.NoError(t, err)

	// A write lands between the two reads.
	src.set(2, nil)

	second, err := agg.GlobalJSON(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "cached view must be byte-identical")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestAggregator_GlobalRefreshesAfterWindow(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{copies: 1}
	agg := New(src, cache.NewMemoryCache(time.Minute), 30*time.Millisecond)

	before, err := agg.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, before.TotalCopies)

	src.set(7, nil)
	time.Sleep(60 * time.Millisecond)

	after, err := agg.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, after.TotalCopies)
}

func TestAggregator_PartitionNeverCached(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{copies: 1}
	agg := New(src, cache.NewMemoryCache(time.Minute), time.Minute)

	_, err := agg.Partition(ctx, "Alpha")
	require.NoError(t, err)
	src.set(3, nil)

	view, err := agg.Partition(ctx, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalCopies)
	assert.Equal(t, "Alpha", view.Scope)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestAggregator_DegradesToLastGood(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{copies: 4}
	agg := New(src, cache.NewMemoryCache(time.Minute), 10*time.Millisecond)

	_, err := agg.Global(ctx)
	require.NoError(t, err)

	src.set(0, errors.New("database is locked"))
	time.Sleep(20 * time.Millisecond)

	view, err := agg.Global(ctx)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, 4, view.TotalCopies)
}

func TestAggregator_DegradesToZeroWithoutHistory(t *testing.T) {
	src := &fakeSource{}
	src.set(0, errors.New("disk I/O error"))
	agg := New(src, cache.NewMemoryCache(time.Minute), time.Minute)

	view, err := agg.Global(context.Background())
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, 0, view.TotalPossibleCount)
	assert.NotNil(t, view.ByRarity)

	part, err := agg.Partition(context.Background(), "Alpha")
	require.NoError(t, err)
	assert.True(t, part.Stale)
	assert.Equal(t, "Alpha", part.Scope)
}

func TestAggregator_StorageUnavailableIsFatal(t *testing.T) {
	src := &fakeSource{}
	src.set(0, fmt.Errorf("open: %w", store.ErrStorageUnavailable))
	agg := New(src, cache.NewMemoryCache(time.Minute), time.Minute)

	_, err := agg.Global(context.Background())
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)

	_, err = agg.Partition(context.Background(), "Alpha")
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

func TestAggregator_ConcurrentRefillsAgree(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{copies: 9}
	agg := New(src, cache.NewMemoryCache(time.Minute), time.Minute)

	var wg sync.WaitGroup
	results := make([]int, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := agg.Global(ctx)
			if assert.NoError(t, err) {
				results[i] = v.TotalCopies
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 9, r)
	}
}

func TestNew_DefaultTTL(t *testing.T) {
	agg := New(&fakeSource{}, cache.NewMemoryCache(time.Minute), 0)
	assert.Equal(t, DefaultTTL, agg.TTL())
}
