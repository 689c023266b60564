// Package cache provides C3 (pair metadata) and C4 (price cache). Both
// are backed by the shared Redis store; C3 additionally keeps a small
// in-process LRU memo in front of it using the teacher's own
// (declared-but-unused-by-it) github.com/hashicorp/golang-lru
// dependency, to avoid a Redis round trip on every pair lookup within a
// single worker process — metadata is immutable once discovered (spec
// §4.3), so an in-process memo never needs invalidation.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/pairsnap/reserve-indexer/types"
)

// MetadataStore is the subset of store.Store's surface C3 needs.
type MetadataStore interface {
	GetPairMetadata(ctx context.Context, pair string) (*types.PairMetadata, bool, error)
	PutPairMetadata(ctx context.Context, meta *types.PairMetadata) error
}

// Discoverer fetches (token0, token1, symbols, decimals) for a pair not
// yet in the shared store (spec §4.3). ChainDiscoverer makes two calls
// against the pair and three against each token, without batching.
type Discoverer interface {
	Discover(ctx context.Context, pair string) (*types.PairMetadata, error)
}

type MetadataCache struct {
	store MetadataStore
	disc  Discoverer
	lru   *lru.Cache
}

// NewMetadataCache builds an L1 LRU of size lruSize in front of store;
// misses fall through to store, and store misses fall through to disc.
func NewMetadataCache(store MetadataStore, disc Discoverer, lruSize int) *MetadataCache {
	if lruSize <= 0 {
		lruSize = 1024
	}
	c, _ := lru.New(lruSize)
	return &MetadataCache{store: store, disc: disc, lru: c}
}

// Get returns the pair's metadata, discovering and persisting it on a
// full cache miss. Concurrent misses on the same pair may duplicate the
// discovery call; that is acceptable (spec §4.3: writes are idempotent).
func (c *MetadataCache) Get(ctx context.Context, pair string) (*types.PairMetadata, error) {
	if v, ok := c.lru.Get(pair); ok {
		return v.(*types.PairMetadata), nil
	}

	meta, found, err := c.store.GetPairMetadata(ctx, pair)
	if err != nil {
		return nil, types.NewMetadataUnavailable(pair, err)
	}
	if found {
		c.lru.Add(pair, meta)
		return meta, nil
	}

	meta, err = c.disc.Discover(ctx, pair)
	if err != nil {
		return nil, types.NewMetadataUnavailable(pair, err)
	}
	if err := c.store.PutPairMetadata(ctx, meta); err != nil {
		// The discovery succeeded; a failed write-back is not fatal to
		// this call, but the metadata won't be shared with other
		// workers until a later successful write. Still usable now.
		return meta, nil
	}
	c.lru.Add(pair, meta)
	return meta, nil
}
