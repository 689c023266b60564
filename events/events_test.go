package events

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/types"
)

var (
	pairAddr = common.HexToAddress("0xpair00000000000000000000000000000000000")
	sender   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	to       = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func packSwap(amount0In, amount1In, amount0Out, amount1Out *big.Int) []byte {
	args := abi.Arguments{
		chain.PairABI.Events["Swap"].Inputs[1],
		chain.PairABI.Events["Swap"].Inputs[2],
		chain.PairABI.Events["Swap"].Inputs[3],
		chain.PairABI.Events["Swap"].Inputs[4],
	}
	data, err := args.Pack(amount0In, amount1In, amount0Out, amount1Out)
	if err != nil {
		panic(err)
	}
	return data
}

func swapLog(blockNum uint64, logIndex uint, amount0In, amount1In, amount0Out, amount1Out *big.Int) gethtypes.Log {
	return gethtypes.Log{
		Address: pairAddr,
		Topics: []common.Hash{
			chain.SwapTopic,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        packSwap(amount0In, amount1In, amount0Out, amount1Out),
		BlockNumber: blockNum,
		Index:       logIndex,
		TxHash:      common.HexToHash("0xabc"),
	}
}

// fakeRPC returns a fixed set of logs per topic, ignoring the block
// range (the tests construct ranges that already cover every log).
type fakeRPC struct {
	swap, mint, burn []gethtypes.Log
}

func (f *fakeRPC) GetLogs(_ context.Context, _ common.Address, _, _ uint64, topics [][]common.Hash) ([]gethtypes.Log, error) {
	switch topics[0][0] {
	case chain.SwapTopic:
		return f.swap, nil
	case chain.MintTopic:
		return f.mint, nil
	case chain.BurnTopic:
		return f.burn, nil
	}
	return nil, nil
}

type fakePricer struct {
	byToken map[common.Address]map[uint64]float64
}

func (f *fakePricer) PriceOverRange(_ context.Context, token common.Address, from, to uint64) (map[uint64]float64, error) {
	out := map[uint64]float64{}
	for block := from; block <= to; block++ {
		out[block] = f.byToken[token][block]
	}
	return out, nil
}

func testMeta() *types.PairMetadata {
	return &types.PairMetadata{
		Pair:   pairAddr.Hex(),
		Token0: types.Token{Address: "0xAAAA000000000000000000000000000000000000", Symbol: "TOK0", Decimals: 18},
		Token1: types.Token{Address: "0xBBBB000000000000000000000000000000000000", Symbol: "TOK1", Decimals: 6},
	}
}

func TestExtractSwapBothSidesKnown(t *testing.T) {
	meta := testMeta()
	token0 := common.HexToAddress(meta.Token0.Address)
	token1 := common.HexToAddress(meta.Token1.Address)

	rpc := &fakeRPC{swap: []gethtypes.Log{
		// 1 TOK0 in, 2000 TOK1 out.
		swapLog(100, 0, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(2000e6)),
	}}
	pricer := &fakePricer{byToken: map[common.Address]map[uint64]float64{
		token0: {100: 2000}, // $2000/TOK0
		token1: {100: 1},    // $1/TOK1
	}}

	x := NewExtractor(rpc, pricer)
	result, err := x.Extract(context.Background(), pairAddr, meta, 100, 100)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	ev := result.Events[0]
	require.Equal(t, "Swap", ev.Event)
	require.InDelta(t, 1, ev.Token0Amount, 1e-9)
	require.InDelta(t, 2000, ev.Token1Amount, 1e-9)
	// TradeUSD is the input side alone even when both sides are known: 1 TOK0 * 2000.
	require.InDelta(t, 2000, result.TotalTradeUSD, 1e-6)
	// fee = 0.30% of the 1 TOK0 input, priced at $2000.
	require.InDelta(t, 1*0.003*2000, result.TotalFeeUSD, 1e-6)
}

func TestExtractSwapOnlyInputSideKnown(t *testing.T) {
	meta := testMeta()
	token0 := common.HexToAddress(meta.Token0.Address)
	token1 := common.HexToAddress(meta.Token1.Address)

	rpc := &fakeRPC{swap: []gethtypes.Log{
		swapLog(100, 0, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(2000e6)),
	}}
	pricer := &fakePricer{byToken: map[common.Address]map[uint64]float64{
		token0: {100: 2000},
		token1: {100: 0}, // unknown
	}}

	x := NewExtractor(rpc, pricer)
	result, err := x.Extract(context.Background(), pairAddr, meta, 100, 100)
	require.NoError(t, err)
	require.InDelta(t, 2000, result.TotalTradeUSD, 1e-6) // input side alone
}

func TestExtractMintBothKnownSums(t *testing.T) {
	meta := testMeta()
	token0 := common.HexToAddress(meta.Token0.Address)
	token1 := common.HexToAddress(meta.Token1.Address)

	mintData, err := (abi.Arguments{
		chain.PairABI.Events["Mint"].Inputs[1],
		chain.PairABI.Events["Mint"].Inputs[2],
	}).Pack(new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), big.NewInt(20e6))
	require.NoError(t, err)

	rpc := &fakeRPC{mint: []gethtypes.Log{{
		Address:     pairAddr,
		Topics:      []common.Hash{chain.MintTopic, common.BytesToHash(sender.Bytes())},
		Data:        mintData,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xdef"),
	}}}
	pricer := &fakePricer{byToken: map[common.Address]map[uint64]float64{
		token0: {100: 2000},
		token1: {100: 1},
	}}

	x := NewExtractor(rpc, pricer)
	result, err := x.Extract(context.Background(), pairAddr, meta, 100, 100)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	require.Equal(t, "Mint", result.Events[0].Event)
	// 10 TOK0 * 2000 + 20 TOK1 * 1 = 20020.
	require.InDelta(t, 20020, result.TotalTradeUSD, 1e-6)
}

func TestExtractOrdersByBlockThenLogIndex(t *testing.T) {
	meta := testMeta()
	rpc := &fakeRPC{swap: []gethtypes.Log{
		swapLog(101, 1, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(1e6)),
		swapLog(100, 2, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(1e6)),
		swapLog(100, 0, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(1e6)),
	}}
	pricer := &fakePricer{byToken: map[common.Address]map[uint64]float64{}}

	x := NewExtractor(rpc, pricer)
	result, err := x.Extract(context.Background(), pairAddr, meta, 100, 101)
	require.NoError(t, err)
	require.Len(t, result.Events, 3)
	require.EqualValues(t, 100, result.Events[0].BlockNum)
	require.EqualValues(t, 0, result.Events[0].LogIndex)
	require.EqualValues(t, 100, result.Events[1].BlockNum)
	require.EqualValues(t, 2, result.Events[1].LogIndex)
	require.EqualValues(t, 101, result.Events[2].BlockNum)
}
