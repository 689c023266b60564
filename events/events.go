// Package events is C6: concurrent Swap/Mint/Burn log retrieval and
// decode, USD volume/fee extraction. The three-stream concurrent fetch
// is grounded on the teacher's peer/network.go fan-out pattern,
// generalized from "one goroutine per peer" to "one goroutine per
// event topic" via golang.org/x/sync/errgroup (the teacher's own
// golang.org/x/sync dependency).
package events

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/types"
)

// swapFeeBps is the constant-product swap fee spec §4.6 fixes: 30
// basis points charged on the input side only.
const swapFeeBps = 30

// RPC is the subset of rpc.Helper's surface C6 needs.
type RPC interface {
	GetLogs(ctx context.Context, address common.Address, from, to uint64, topics [][]common.Hash) ([]gethtypes.Log, error)
}

// Pricer is C5 as seen from C6: a price series for a token over a
// block range, keyed by block number.
type Pricer interface {
	PriceOverRange(ctx context.Context, token common.Address, from, to uint64) (map[uint64]float64, error)
}

// Extractor builds decoded trade records and USD volumes for a pair
// over a block range (spec §4.6).
type Extractor struct {
	rpc    RPC
	pricer Pricer
}

func NewExtractor(rpc RPC, pricer Pricer) *Extractor {
	return &Extractor{rpc: rpc, pricer: pricer}
}

// Result is the C6 output consumed by C8.
type Result struct {
	Events            []types.TradeEventRecord
	Token0TradeVolume float64
	Token1TradeVolume float64
	TotalTradeUSD     float64
	TotalFeeUSD       float64
}

// Extract fetches and decodes Swap/Mint/Burn logs for pairAddr over
// [from, to], then prices every trade against C5.
func (x *Extractor) Extract(ctx context.Context, pairAddr common.Address, meta *types.PairMetadata, from, to uint64) (*Result, error) {
	var swapLogs, mintLogs, burnLogs []gethtypes.Log

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		swapLogs, err = x.rpc.GetLogs(gctx, pairAddr, from, to, [][]common.Hash{{chain.SwapTopic}})
		return err
	})
	g.Go(func() (err error) {
		mintLogs, err = x.rpc.GetLogs(gctx, pairAddr, from, to, [][]common.Hash{{chain.MintTopic}})
		return err
	})
	g.Go(func() (err error) {
		burnLogs, err = x.rpc.GetLogs(gctx, pairAddr, from, to, [][]common.Hash{{chain.BurnTopic}})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	token0 := common.HexToAddress(meta.Token0.Address)
	token1 := common.HexToAddress(meta.Token1.Address)

	price0, err := x.pricer.PriceOverRange(ctx, token0, from, to)
	if err != nil {
		return nil, err
	}
	price1, err := x.pricer.PriceOverRange(ctx, token1, from, to)
	if err != nil {
		return nil, err
	}

	out := &Result{}
	for _, l := range swapLogs {
		rec, feeUSD, err := x.swapRecord(l, meta, price0, price1)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, rec)
		out.Token0TradeVolume += abs(rec.Token0Amount)
		out.Token1TradeVolume += abs(rec.Token1Amount)
		out.TotalTradeUSD += rec.TradeUSD
		out.TotalFeeUSD += feeUSD
	}
	for _, l := range mintLogs {
		rec, err := x.mintBurnRecord(l, "Mint", meta, price0, price1)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, rec)
		out.Token0TradeVolume += rec.Token0Amount
		out.Token1TradeVolume += rec.Token1Amount
		out.TotalTradeUSD += rec.TradeUSD
	}
	for _, l := range burnLogs {
		rec, err := x.mintBurnRecord(l, "Burn", meta, price0, price1)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, rec)
		out.Token0TradeVolume += rec.Token0Amount
		out.Token1TradeVolume += rec.Token1Amount
		out.TotalTradeUSD += rec.TradeUSD
	}

	sort.Slice(out.Events, func(i, j int) bool {
		if out.Events[i].BlockNum != out.Events[j].BlockNum {
			return out.Events[i].BlockNum < out.Events[j].BlockNum
		}
		return out.Events[i].LogIndex < out.Events[j].LogIndex
	})

	return out, nil
}

func (x *Extractor) swapRecord(l gethtypes.Log, meta *types.PairMetadata, price0, price1 map[uint64]float64) (types.TradeEventRecord, float64, error) {
	ev, sender, to, err := chain.UnpackSwap(l)
	if err != nil {
		return types.TradeEventRecord{}, 0, err
	}

	token0In := types.NewBigUintFromBigInt(ev.Amount0In).Scaled(meta.Token0.Decimals)
	token1In := types.NewBigUintFromBigInt(ev.Amount1In).Scaled(meta.Token1.Decimals)
	token0Out := types.NewBigUintFromBigInt(ev.Amount0Out).Scaled(meta.Token0.Decimals)
	token1Out := types.NewBigUintFromBigInt(ev.Amount1Out).Scaled(meta.Token1.Decimals)

	rec := types.TradeEventRecord{
		Event:    "Swap",
		TxHash:   l.TxHash.Hex(),
		LogIndex: uint(l.Index),
		BlockNum: l.BlockNumber,
		Sender:   sender.Hex(),
		To:       to.Hex(),
	}

	var inputPrice, outputPrice float64
	var feeAmount float64
	var haveInput, haveOutput bool

	if token1In == 0 {
		// token0 in, token1 out.
		rec.Token0Amount = token0In
		rec.Token1Amount = token1Out
		feeAmount = token0In
		inputPrice, haveInput = price0[l.BlockNumber], true
		outputPrice, haveOutput = price1[l.BlockNumber], true
	} else {
		// token1 in, token0 out.
		rec.Token0Amount = token0Out
		rec.Token1Amount = token1In
		feeAmount = token1In
		inputPrice, haveInput = price1[l.BlockNumber], true
		outputPrice, haveOutput = price0[l.BlockNumber], true
	}
	haveInput = haveInput && inputPrice != 0
	haveOutput = haveOutput && outputPrice != 0

	inputAmount := feeAmount
	var outputAmount float64
	if token1In == 0 {
		outputAmount = rec.Token1Amount
	} else {
		outputAmount = rec.Token0Amount
	}

	switch {
	case haveInput:
		rec.TradeUSD = inputAmount * inputPrice
	case haveOutput:
		rec.TradeUSD = outputAmount * outputPrice
	default:
		rec.TradeUSD = 0
	}

	feeUSD := 0.0
	if haveInput {
		feeUSD = feeAmount * inputPrice * swapFeeBps / 10000
	}
	return rec, feeUSD, nil
}

func (x *Extractor) mintBurnRecord(l gethtypes.Log, kind string, meta *types.PairMetadata, price0, price1 map[uint64]float64) (types.TradeEventRecord, error) {
	var amount0, amount1 *types.BigUint
	var sender, to common.Address
	var err error

	if kind == "Mint" {
		var ev chain.MintEvent
		ev, sender, err = chain.UnpackMint(l)
		if err != nil {
			return types.TradeEventRecord{}, err
		}
		amount0 = types.NewBigUintFromBigInt(ev.Amount0)
		amount1 = types.NewBigUintFromBigInt(ev.Amount1)
	} else {
		var ev chain.BurnEvent
		ev, sender, to, err = chain.UnpackBurn(l)
		if err != nil {
			return types.TradeEventRecord{}, err
		}
		amount0 = types.NewBigUintFromBigInt(ev.Amount0)
		amount1 = types.NewBigUintFromBigInt(ev.Amount1)
	}

	rec := types.TradeEventRecord{
		Event:        kind,
		TxHash:       l.TxHash.Hex(),
		LogIndex:     uint(l.Index),
		BlockNum:     l.BlockNumber,
		Sender:       sender.Hex(),
		To:           to.Hex(),
		Token0Amount: amount0.Scaled(meta.Token0.Decimals),
		Token1Amount: amount1.Scaled(meta.Token1.Decimals),
	}

	p0, ok0 := price0[l.BlockNumber]
	p1, ok1 := price1[l.BlockNumber]
	ok0 = ok0 && p0 != 0
	ok1 = ok1 && p1 != 0

	usd0 := rec.Token0Amount * p0
	usd1 := rec.Token1Amount * p1
	switch {
	case ok0 && ok1:
		rec.TradeUSD = usd0 + usd1
	case ok0:
		rec.TradeUSD = usd0 * 2
	case ok1:
		rec.TradeUSD = usd1 * 2
	default:
		rec.TradeUSD = 0
	}
	return rec, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
