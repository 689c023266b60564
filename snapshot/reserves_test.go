package snapshot

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/types"
)

type fakeRPC struct {
	reserves  map[uint64][2]int64
	blockTime time.Time
	blockErr  error
}

func (f *fakeRPC) BatchCallOverRange(_ context.Context, _ common.Address, from, to uint64, pack func() ([]byte, error)) ([][]byte, error) {
	if _, err := pack(); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, to-from+1)
	for block := from; block <= to; block++ {
		r := f.reserves[block]
		b, err := chain.PairABI.Methods["getReserves"].Outputs.Pack(
			big.NewInt(r[0]), big.NewInt(r[1]), uint32(0),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeRPC) GetBlock(_ context.Context, _ uint64) (time.Time, error) {
	return f.blockTime, f.blockErr
}

type fakeMeta struct {
	meta *types.PairMetadata
}

func (f *fakeMeta) Get(_ context.Context, _ string) (*types.PairMetadata, error) {
	return f.meta, nil
}

func TestReservesBuilderBuild(t *testing.T) {
	rpc := &fakeRPC{
		reserves:  map[uint64][2]int64{100: {1000, 2000}, 101: {1100, 1900}},
		blockTime: time.Unix(123456, 0),
	}
	meta := &fakeMeta{meta: &types.PairMetadata{
		Token0: types.Token{Decimals: 0},
		Token1: types.Token{Decimals: 0},
	}}
	b := NewReservesBuilder(rpc, meta)

	wu := types.NewWorkUnit("B1", types.Epoch{Begin: 100, End: 101}, "0xpair")
	snap, err := b.Build(context.Background(), wu)
	require.NoError(t, err)
	require.Equal(t, float64(1000), snap.Token0Reserves["block100"])
	require.Equal(t, float64(2000), snap.Token1Reserves["block100"])
	require.Equal(t, float64(1100), snap.Token0Reserves["block101"])
	require.EqualValues(t, 123456, snap.Timestamp)
}

func TestReservesBuilderPartialBatchErrors(t *testing.T) {
	rpc := &fakeRPC{reserves: map[uint64][2]int64{100: {1, 2}}}
	meta := &fakeMeta{meta: &types.PairMetadata{}}

	// Request a 2-block range through a wrapper that drops the last
	// result, so the batch comes back one result short.
	shortRPC := &shortBatchRPC{fakeRPC: rpc}
	b2 := NewReservesBuilder(shortRPC, meta)
	wu := types.NewWorkUnit("B1", types.Epoch{Begin: 100, End: 101}, "0xpair")
	_, err := b2.Build(context.Background(), wu)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PartialBatch")
}

type shortBatchRPC struct {
	*fakeRPC
}

func (s *shortBatchRPC) BatchCallOverRange(ctx context.Context, addr common.Address, from, to uint64, pack func() ([]byte, error)) ([][]byte, error) {
	out, err := s.fakeRPC.BatchCallOverRange(ctx, addr, from, to, pack)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestReservesBuilderFallsBackToWallClockOnTimestampFailure(t *testing.T) {
	rpc := &fakeRPC{
		reserves: map[uint64][2]int64{100: {1, 2}},
		blockErr: errors.New("rpc down"),
	}
	meta := &fakeMeta{meta: &types.PairMetadata{}}
	b := NewReservesBuilder(rpc, meta)

	wu := types.NewWorkUnit("B1", types.Epoch{Begin: 100, End: 100}, "0xpair")
	before := time.Now().Unix()
	snap, err := b.Build(context.Background(), wu)
	require.NoError(t, err)
	require.GreaterOrEqual(t, snap.Timestamp, before)
}
