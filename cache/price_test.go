package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/types"
)

type fakePriceStore struct {
	points       map[string][]types.PricePoint
	prunedBefore map[string]uint64
}

func newFakePriceStore() *fakePriceStore {
	return &fakePriceStore{points: map[string][]types.PricePoint{}, prunedBefore: map[string]uint64{}}
}

func (f *fakePriceStore) RangePrices(_ context.Context, token string, from, to uint64) ([]types.PricePoint, error) {
	var out []types.PricePoint
	for _, p := range f.points[token] {
		if p.BlockHeight >= from && p.BlockHeight <= to {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePriceStore) PutPrices(_ context.Context, token string, points []types.PricePoint) error {
	f.points[token] = append(f.points[token], points...)
	return nil
}

func (f *fakePriceStore) PrunePrices(_ context.Context, token string, olderThan uint64) error {
	f.prunedBefore[token] = olderThan
	var kept []types.PricePoint
	for _, p := range f.points[token] {
		if p.BlockHeight >= olderThan {
			kept = append(kept, p)
		}
	}
	f.points[token] = kept
	return nil
}

func TestPriceCacheRangeCompleteness(t *testing.T) {
	store := newFakePriceStore()
	c := NewPriceCache(store, 20)

	store.points["0xtoken"] = []types.PricePoint{
		{BlockHeight: 100, PriceUSD: 1}, {BlockHeight: 102, PriceUSD: 1.2},
	}
	points, complete, err := c.Range(context.Background(), "0xtoken", 100, 102)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.False(t, complete) // missing block 101

	store.points["0xtoken"] = append(store.points["0xtoken"], types.PricePoint{BlockHeight: 101, PriceUSD: 1.1})
	points, complete, err = c.Range(context.Background(), "0xtoken", 100, 102)
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.True(t, complete)
}

func TestPriceCachePutPrunesHorizon(t *testing.T) {
	store := newFakePriceStore()
	c := NewPriceCache(store, 20)

	require.NoError(t, c.Put(context.Background(), "0xtoken", []types.PricePoint{{BlockHeight: 200, PriceUSD: 1}}, 200))
	require.Equal(t, uint64(180), store.prunedBefore["0xtoken"])
}

func TestPriceCachePutSkipsPruneBeforeHorizon(t *testing.T) {
	store := newFakePriceStore()
	c := NewPriceCache(store, 20)

	require.NoError(t, c.Put(context.Background(), "0xtoken", []types.PricePoint{{BlockHeight: 5, PriceUSD: 1}}, 5))
	_, pruned := store.prunedBefore["0xtoken"]
	require.False(t, pruned)
}
