// Package stats derives collection statistics from the catalog store.
//
// Only the global view is cached. It is held for a fixed TTL and never
// invalidated by writes, so a quantity update may stay invisible in the
// global figures until the entry expires. Partition views are computed on
// every call.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/cardvault/internal/cache"
	"github.com/hyperengineering/cardvault/internal/store"
	"github.com/hyperengineering/cardvault/internal/types"
)

// DefaultTTL is how long the global view is served from cache.
const DefaultTTL = 5 * time.Second

const globalKey = "global"

// Source computes a fresh stats view. Empty partitionKey means global.
type Source interface {
	Aggregate(ctx context.Context, partitionKey string) (*types.StatsView, error)
}

// Aggregator serves stats views with a cached global scope.
type Aggregator struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration

	// lastGood holds the most recent successfully computed global view,
	// served marked stale when recomputation fails.
	lastGood atomic.Pointer[types.StatsView]
}

// New creates an Aggregator. A non-positive ttl selects DefaultTTL.
func New(source Source, c cache.Cache, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{source: source, cache: c, ttl: ttl}
}

// TTL returns the global cache window.
func (a *Aggregator) TTL() time.Duration {
	return a.ttl
}

// GlobalJSON returns the encoded global view. Calls inside one cache window
// return identical bytes.
func (a *Aggregator) GlobalJSON(ctx context.Context) ([]byte, error) {
	b, err := a.cache.Get(ctx, globalKey)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("stats cache read failed",
			"component", "stats",
			"action", "cache_get_failed",
			"error", err,
		)
	}

	view, err := a.source.Aggregate(ctx, "")
	if err != nil {
		return a.degraded(ctx, err)
	}
	a.lastGood.Store(view)

	b, err = json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	if err := a.cache.Set(ctx, globalKey, b, a.ttl); err != nil {
		slog.Warn("stats cache write failed",
			"component", "stats",
			"action", "cache_set_failed",
			"error", err,
		)
	}
	return b, nil
}

// Global returns the global view, from cache when fresh.
func (a *Aggregator) Global(ctx context.Context) (*types.StatsView, error) {
	b, err := a.GlobalJSON(ctx)
	if err != nil {
		return nil, err
	}
	var view types.StatsView
	if err := json.Unmarshal(b, &view); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &view, nil
}

// Partition computes the view for one partition. It is never cached.
func (a *Aggregator) Partition(ctx context.Context, partitionKey string) (*types.StatsView, error) {
	view, err := a.source.Aggregate(ctx, partitionKey)
	if err == nil {
		return view, nil
	}
	if fatal(ctx, err) {
		return nil, err
	}
	slog.Warn("partition stats unavailable, serving zeroed view",
		"component", "stats",
		"action", "aggregate_failed",
		"partition", partitionKey,
		"error", err,
	)
	empty := types.EmptyStats(partitionKey)
	empty.Stale = true
	return empty, nil
}

func (a *Aggregator) degraded(ctx context.Context, cause error) ([]byte, error) {
	if fatal(ctx, cause) {
		return nil, cause
	}

	var view types.StatsView
	if last := a.lastGood.Load(); last != nil {
		view = *last
	} else {
		view = *types.EmptyStats(types.ScopeGlobal)
	}
	view.Stale = true

	slog.Warn("global stats unavailable, serving degraded view",
		"component", "stats",
		"action", "aggregate_failed",
		"has_previous", a.lastGood.Load() != nil,
		"error", cause,
	)
	return json.Marshal(&view)
}

// fatal reports errors that must reach the caller instead of degrading.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, store.ErrStorageUnavailable)
}
