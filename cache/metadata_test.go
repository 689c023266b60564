package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/types"
)

type fakeMetadataStore struct {
	metas map[string]*types.PairMetadata
	puts  int
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{metas: map[string]*types.PairMetadata{}}
}

func (f *fakeMetadataStore) GetPairMetadata(_ context.Context, pair string) (*types.PairMetadata, bool, error) {
	m, ok := f.metas[pair]
	return m, ok, nil
}

func (f *fakeMetadataStore) PutPairMetadata(_ context.Context, meta *types.PairMetadata) error {
	f.puts++
	f.metas[meta.Pair] = meta
	return nil
}

type fakeDiscoverer struct {
	calls int
	meta  *types.PairMetadata
	err   error
}

func (f *fakeDiscoverer) Discover(_ context.Context, pair string) (*types.PairMetadata, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	m := *f.meta
	m.Pair = pair
	return &m, nil
}

func TestMetadataCacheMissFallsThroughToDiscovery(t *testing.T) {
	store := newFakeMetadataStore()
	disc := &fakeDiscoverer{meta: &types.PairMetadata{
		Token0: types.Token{Symbol: "WETH", Decimals: 18},
		Token1: types.Token{Symbol: "USDT", Decimals: 6},
	}}
	c := NewMetadataCache(store, disc, 0)

	meta, err := c.Get(context.Background(), "0xpair")
	require.NoError(t, err)
	require.Equal(t, "WETH", meta.Token0.Symbol)
	require.Equal(t, 1, disc.calls)
	require.Equal(t, 1, store.puts)

	// Second call hits the L1 LRU, not the discoverer again.
	_, err = c.Get(context.Background(), "0xpair")
	require.NoError(t, err)
	require.Equal(t, 1, disc.calls)
}

func TestMetadataCacheStoreHitSkipsDiscovery(t *testing.T) {
	store := newFakeMetadataStore()
	store.metas["0xpair"] = &types.PairMetadata{Pair: "0xpair", Token0: types.Token{Symbol: "WETH"}}
	disc := &fakeDiscoverer{}
	c := NewMetadataCache(store, disc, 0)

	meta, err := c.Get(context.Background(), "0xpair")
	require.NoError(t, err)
	require.Equal(t, "WETH", meta.Token0.Symbol)
	require.Equal(t, 0, disc.calls)
}

func TestMetadataCacheDiscoveryFailureWraps(t *testing.T) {
	store := newFakeMetadataStore()
	disc := &fakeDiscoverer{err: errors.New("rpc down")}
	c := NewMetadataCache(store, disc, 0)

	_, err := c.Get(context.Background(), "0xpair")
	require.Error(t, err)
	var pe *types.PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, types.KindMetadataUnavailable, pe.Kind)
}
