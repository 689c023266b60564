package cache

import (
	"context"

	"github.com/pairsnap/reserve-indexer/types"
)

// PriceStore is the subset of store.Store's surface C4 needs.
type PriceStore interface {
	RangePrices(ctx context.Context, token string, from, to uint64) ([]types.PricePoint, error)
	PutPrices(ctx context.Context, token string, points []types.PricePoint) error
	PrunePrices(ctx context.Context, token string, olderThan uint64) error
}

// PriceCache wraps the shared store's price series with the
// completeness check spec §4.4 requires: a range is only "complete" if
// it covers every block in [from, to], otherwise the caller must
// recompute via C5 and write back.
type PriceCache struct {
	store        PriceStore
	pruneHorizon uint64
}

// NewPriceCache builds a C4 handle. pruneHorizon is the number of
// blocks behind the current tip retained on each opportunistic prune
// (spec §4.4's "older_than = current_block - 20", made configurable
// per DESIGN.md's Open Question decision).
func NewPriceCache(store PriceStore, pruneHorizon uint64) *PriceCache {
	return &PriceCache{store: store, pruneHorizon: pruneHorizon}
}

// Range returns the cached points for [from, to] and whether the
// result is complete (exactly to-from+1 points).
func (c *PriceCache) Range(ctx context.Context, token string, from, to uint64) ([]types.PricePoint, bool, error) {
	points, err := c.store.RangePrices(ctx, token, from, to)
	if err != nil {
		return nil, false, err
	}
	want := int(to-from) + 1
	return points, len(points) == want, nil
}

// Put writes back a freshly computed series and opportunistically
// prunes anything older than the configured horizon behind `to`.
func (c *PriceCache) Put(ctx context.Context, token string, points []types.PricePoint, to uint64) error {
	if err := c.store.PutPrices(ctx, token, points); err != nil {
		return err
	}
	if c.pruneHorizon == 0 || to < c.pruneHorizon {
		return nil
	}
	return c.store.PrunePrices(ctx, token, to-c.pruneHorizon)
}
