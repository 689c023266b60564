// Package pricing is C5: the whitelist-cascade pricing engine. Its
// shape is lifted directly from
// original_source/pooler/callback_modules/uniswap/pricing.py's
// get_token_price_in_block_range/get_token_pair_price_and_white_token_reserves/get_token_derived_eth
// trio — iterate a configured whitelist of tokens, price the target
// token in terms of each whitelist token via pair reserves, bridge the
// whitelist token to ETH via the router, and reject any whitelist
// candidate whose bridged reserves dip below the minimum-liquidity
// threshold rather than partially filling from it.
package pricing

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/types"
)

// wethDecimals is fixed by spec §4.5: the router's getAmountsOut leg
// into WETH is always scaled by 18, regardless of the probing token's
// own decimals.
const wethDecimals = 18

// minLiquidityETH is the reserve-in-ETH threshold below which a
// whitelist candidate is abandoned outright (spec §4.5.d).
const minLiquidityETH = 1.0

// RPC is the subset of rpc.Helper's surface C5 needs: one batched call
// per block range, and a single call at the chain tip for the
// factory's getPair lookup (pairs, once created, never change).
type RPC interface {
	BatchCallOverRange(ctx context.Context, address common.Address, from, to uint64, pack func() ([]byte, error)) ([][]byte, error)
	CallLatest(ctx context.Context, address common.Address, pack func() ([]byte, error)) ([]byte, error)
}

// MetadataCache is C3 as seen from C5.
type MetadataCache interface {
	Get(ctx context.Context, pair string) (*types.PairMetadata, error)
}

// PriceCache is C4 as seen from C5.
type PriceCache interface {
	Range(ctx context.Context, token string, from, to uint64) ([]types.PricePoint, bool, error)
	Put(ctx context.Context, token string, points []types.PricePoint, to uint64) error
}

// Engine is C5.
type Engine struct {
	rpc     RPC
	meta    MetadataCache
	prices  PriceCache
	factory common.Address
	router  common.Address
	weth    common.Address

	// whitelist is the ordered set of bridge tokens tried against an
	// arbitrary priced token (spec §4.5.2: "iterate ... in declared
	// order", first threshold-meeting entry wins).
	whitelist []common.Address

	// stablecoins backs the WETH bootstrap cascade (spec §4.5.1): the
	// same shape as the whitelist cascade, but against configured
	// stablecoin/WETH pools directly, with no further ETH-USD
	// multiplication step.
	stablecoins []common.Address

	// symbols backs PriceBySymbol: the original pricing helper keys some
	// lookups by a "<SYMBOL>USDT"-style convention in addition to token
	// address (spec.md §4.6's note on the source's dual lookup
	// convention). Populated only through RegisterSymbol (cmd/worker
	// registers no symbols); for a registered symbol both accessors
	// resolve to the same underlying price series.
	symbols map[string]common.Address
}

// RegisterSymbol associates symbol (case-insensitive) with addr so
// PriceBySymbol can resolve it. Symbols not registered this way make
// PriceBySymbol return a Validation error.
func (e *Engine) RegisterSymbol(symbol string, addr common.Address) {
	if e.symbols == nil {
		e.symbols = make(map[string]common.Address)
	}
	e.symbols[strings.ToUpper(symbol)] = addr
}

// PriceByAddress is PriceOverRange under the name the symbol-keyed
// accessor's counterpart uses.
func (e *Engine) PriceByAddress(ctx context.Context, token common.Address, from, to uint64) (map[uint64]float64, error) {
	return e.PriceOverRange(ctx, token, from, to)
}

// PriceBySymbol resolves symbol (e.g. "WETH") through the registry
// populated by RegisterSymbol and prices it the same way PriceOverRange
// would by address.
func (e *Engine) PriceBySymbol(ctx context.Context, symbol string, from, to uint64) (map[uint64]float64, error) {
	addr, ok := e.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, types.NewValidation(fmt.Sprintf("no registered token for symbol %q", symbol), nil)
	}
	return e.PriceOverRange(ctx, addr, from, to)
}

// New builds C5. whitelist and stablecoins are both in priority order;
// the first entry meeting the liquidity threshold wins (spec §4.5:
// "not the deepest-liquidity one").
func New(rpc RPC, meta MetadataCache, prices PriceCache, factory, router, weth common.Address, whitelist, stablecoins []common.Address) *Engine {
	return &Engine{
		rpc:         rpc,
		meta:        meta,
		prices:      prices,
		factory:     factory,
		router:      router,
		weth:        weth,
		whitelist:   whitelist,
		stablecoins: stablecoins,
	}
}

// PriceOverRange implements price_over_range(token, from, to) (spec
// §4.5). Results are served from C4 when the cached range is complete,
// and written back through it on a successful fresh computation.
func (e *Engine) PriceOverRange(ctx context.Context, token common.Address, from, to uint64) (map[uint64]float64, error) {
	tokenHex := token.Hex()

	if cached, complete, err := e.prices.Range(ctx, tokenHex, from, to); err == nil && complete {
		return pointsToMap(cached), nil
	}

	var series map[uint64]float64
	var err error
	if token == e.weth {
		series, err = e.ethPriceUSD(ctx, from, to)
	} else {
		series, err = e.priceViaWhitelist(ctx, token, from, to)
	}
	if err != nil {
		return nil, types.NewPricingFailed(tokenHex, err)
	}

	if len(series) > 0 {
		if putErr := e.prices.Put(ctx, tokenHex, mapToPoints(series), to); putErr != nil {
			// A failed write-back does not invalidate a successful
			// computation; the next caller simply recomputes.
			_ = putErr
		}
	}
	return series, nil
}

func (e *Engine) priceViaWhitelist(ctx context.Context, token common.Address, from, to uint64) (map[uint64]float64, error) {
	var tokenInETH map[uint64]float64

	for _, white := range e.whitelist {
		pairAddr, err := e.getPair(ctx, white, token)
		if err != nil {
			return nil, err
		}
		if pairAddr == (common.Address{}) {
			continue
		}

		meta, err := e.meta.Get(ctx, pairAddr.Hex())
		if err != nil {
			return nil, err
		}

		tokenInWhite, whiteReserve, _, err := e.pairPriceAndWhiteReserve(ctx, pairAddr, meta, white, from, to)
		if err != nil {
			return nil, err
		}

		whiteInETH, err := e.tokenDerivedETH(ctx, white, meta, from, to)
		if err != nil {
			return nil, err
		}

		candidate := make(map[uint64]float64, to-from+1)
		belowThreshold := false
		for block := from; block <= to; block++ {
			whiteReserveInETH := whiteReserve[block] * whiteInETH[block]
			if whiteReserveInETH < minLiquidityETH {
				belowThreshold = true
				break
			}
			candidate[block] = tokenInWhite[block] * whiteInETH[block]
		}
		if belowThreshold {
			continue
		}
		tokenInETH = candidate
		break
	}

	if len(tokenInETH) == 0 {
		return zeroSeries(from, to), nil
	}

	ethUSD, err := e.ethPriceUSD(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]float64, len(tokenInETH))
	for block, v := range tokenInETH {
		out[block] = v * ethUSD[block]
	}
	return out, nil
}

// ethPriceUSD is the WETH bootstrap cascade (spec §4.5.1): same
// reserve-based pricing shape as the whitelist cascade, against
// configured stablecoin pools, with the stablecoin itself treated as
// pegged to one USD.
func (e *Engine) ethPriceUSD(ctx context.Context, from, to uint64) (map[uint64]float64, error) {
	for _, stable := range e.stablecoins {
		pairAddr, err := e.getPair(ctx, stable, e.weth)
		if err != nil {
			return nil, err
		}
		if pairAddr == (common.Address{}) {
			continue
		}
		meta, err := e.meta.Get(ctx, pairAddr.Hex())
		if err != nil {
			return nil, err
		}

		// Treat the stablecoin as the bridge ("white") side: the
		// returned price is then WETH (the pair's other side) priced
		// in the stablecoin, i.e. directly the USD price of ETH, and
		// otherReserve is WETH's own reserve for the liquidity check.
		wethPriceInStable, _, wethReserve, err := e.pairPriceAndWhiteReserve(ctx, pairAddr, meta, stable, from, to)
		if err != nil {
			return nil, err
		}

		belowThreshold := false
		for block := from; block <= to; block++ {
			if wethReserve[block] < minLiquidityETH {
				belowThreshold = true
				break
			}
		}
		if belowThreshold {
			continue
		}
		return wethPriceInStable, nil
	}
	return zeroSeries(from, to), nil
}

// pairPriceAndWhiteReserve computes, per block, the price of the pair's
// non-white side denominated in `white` (reserve_white/reserve_other,
// the marginal constant-product spot price), white's own reserve, and
// the other side's reserve — both in native decimal units. Ports
// get_token_pair_price_and_white_token_reserves.
func (e *Engine) pairPriceAndWhiteReserve(ctx context.Context, pairAddr common.Address, meta *types.PairMetadata, white common.Address, from, to uint64) (price, whiteReserve, otherReserve map[uint64]float64, err error) {
	raw, err := e.rpc.BatchCallOverRange(ctx, pairAddr, from, to, chain.PackGetReserves)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(raw) != int(to-from)+1 {
		return nil, nil, nil, types.NewPartialBatch(int(to-from)+1, len(raw))
	}

	whiteIsToken0 := common.HexToAddress(meta.Token0.Address) == white

	price = make(map[uint64]float64, len(raw))
	whiteReserve = make(map[uint64]float64, len(raw))
	otherReserve = make(map[uint64]float64, len(raw))
	for i, data := range raw {
		block := from + uint64(i)
		reserves, uerr := chain.UnpackGetReserves(data)
		if uerr != nil {
			return nil, nil, nil, uerr
		}
		r0 := types.NewBigUintFromBigInt(reserves.Reserve0).Scaled(meta.Token0.Decimals)
		r1 := types.NewBigUintFromBigInt(reserves.Reserve1).Scaled(meta.Token1.Decimals)

		if r0 == 0 || r1 == 0 {
			price[block], whiteReserve[block], otherReserve[block] = 0, 0, 0
			continue
		}
		if whiteIsToken0 {
			price[block] = r0 / r1
			whiteReserve[block] = r0
			otherReserve[block] = r1
		} else {
			price[block] = r1 / r0
			whiteReserve[block] = r1
			otherReserve[block] = r0
		}
	}
	return price, whiteReserve, otherReserve, nil
}

// tokenDerivedETH ports get_token_derived_eth: 1 for WETH itself,
// otherwise the router's 1-unit getAmountsOut([white, WETH]) quote per
// block.
func (e *Engine) tokenDerivedETH(ctx context.Context, white common.Address, meta *types.PairMetadata, from, to uint64) (map[uint64]float64, error) {
	if white == e.weth {
		return oneSeries(from, to), nil
	}

	decimals := meta.Token0.Decimals
	if common.HexToAddress(meta.Token1.Address) == white {
		decimals = meta.Token1.Decimals
	}
	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	path := []common.Address{white, e.weth}

	raw, err := e.rpc.BatchCallOverRange(ctx, e.router, from, to, func() ([]byte, error) {
		return chain.PackGetAmountsOut(amountIn, path)
	})
	if err != nil {
		return nil, err
	}
	if len(raw) != int(to-from)+1 {
		return nil, types.NewPartialBatch(int(to-from)+1, len(raw))
	}

	out := make(map[uint64]float64, len(raw))
	for i, data := range raw {
		block := from + uint64(i)
		amounts, err := chain.UnpackGetAmountsOut(data)
		if err != nil || len(amounts) == 0 {
			out[block] = 0
			continue
		}
		last := amounts[len(amounts)-1]
		if last.Sign() == 0 {
			out[block] = 0
			continue
		}
		out[block] = types.NewBigUintFromBigInt(last).Scaled(wethDecimals)
	}
	return out, nil
}

func (e *Engine) getPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	data, err := e.rpc.CallLatest(ctx, e.factory, func() ([]byte, error) {
		return chain.PackGetPair(a, b)
	})
	if err != nil {
		return common.Address{}, err
	}
	return chain.UnpackGetPair(data)
}

func zeroSeries(from, to uint64) map[uint64]float64 {
	out := make(map[uint64]float64, to-from+1)
	for block := from; block <= to; block++ {
		out[block] = 0
	}
	return out
}

func oneSeries(from, to uint64) map[uint64]float64 {
	out := make(map[uint64]float64, to-from+1)
	for block := from; block <= to; block++ {
		out[block] = 1
	}
	return out
}

func pointsToMap(points []types.PricePoint) map[uint64]float64 {
	out := make(map[uint64]float64, len(points))
	for _, p := range points {
		out[p.BlockHeight] = p.PriceUSD
	}
	return out
}

func mapToPoints(series map[uint64]float64) []types.PricePoint {
	out := make([]types.PricePoint, 0, len(series))
	for block, price := range series {
		out = append(out, types.PricePoint{BlockHeight: block, PriceUSD: price})
	}
	return out
}
