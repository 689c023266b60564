package cache

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/types"
)

// RPC is the subset of rpc.Helper's surface the chain discoverer needs:
// a single eth_call against the chain tip. token0/token1/name/symbol/
// decimals are immutable once a pair or token contract is deployed, so
// discovery always reads "latest" rather than any particular block.
type RPC interface {
	CallLatest(ctx context.Context, address common.Address, pack func() ([]byte, error)) ([]byte, error)
}

// ChainDiscoverer implements Discoverer against the live chain via C1,
// per spec §4.3: token0()/token1() on the pair, then
// name()/symbol()/decimals() on each token — eight calls in all, each a
// separate, unbatched eth_call at "latest", issued one after another.
type ChainDiscoverer struct {
	rpc RPC
}

func NewChainDiscoverer(h RPC) *ChainDiscoverer { return &ChainDiscoverer{rpc: h} }

func (d *ChainDiscoverer) Discover(ctx context.Context, pair string) (*types.PairMetadata, error) {
	pairAddr := common.HexToAddress(pair)

	token0Addr, err := d.callAddress(ctx, pairAddr, chain.PackToken0, chain.UnpackToken0)
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1Addr, err := d.callAddress(ctx, pairAddr, chain.PackToken1, chain.UnpackToken1)
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	token0, err := d.discoverToken(ctx, token0Addr)
	if err != nil {
		return nil, fmt.Errorf("token0 %s: %w", token0Addr, err)
	}
	token1, err := d.discoverToken(ctx, token1Addr)
	if err != nil {
		return nil, fmt.Errorf("token1 %s: %w", token1Addr, err)
	}

	return &types.PairMetadata{Pair: pair, Token0: token0, Token1: token1}, nil
}

func (d *ChainDiscoverer) discoverToken(ctx context.Context, addr common.Address) (types.Token, error) {
	name, err := d.callString(ctx, addr, chain.PackName, chain.UnpackName)
	if err != nil {
		return types.Token{}, fmt.Errorf("name: %w", err)
	}
	symbol, err := d.callString(ctx, addr, chain.PackSymbol, chain.UnpackSymbol)
	if err != nil {
		return types.Token{}, fmt.Errorf("symbol: %w", err)
	}
	decimals, err := d.callDecimals(ctx, addr)
	if err != nil {
		return types.Token{}, fmt.Errorf("decimals: %w", err)
	}
	return types.Token{Address: addr.Hex(), Name: name, Symbol: symbol, Decimals: decimals}, nil
}

func (d *ChainDiscoverer) callAddress(ctx context.Context, addr common.Address, pack func() ([]byte, error), unpack func([]byte) (common.Address, error)) (common.Address, error) {
	result, err := d.rpc.CallLatest(ctx, addr, pack)
	if err != nil {
		return common.Address{}, err
	}
	return unpack(result)
}

func (d *ChainDiscoverer) callString(ctx context.Context, addr common.Address, pack func() ([]byte, error), unpack func([]byte) (string, error)) (string, error) {
	result, err := d.rpc.CallLatest(ctx, addr, pack)
	if err != nil {
		return "", err
	}
	return unpack(result)
}

func (d *ChainDiscoverer) callDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	result, err := d.rpc.CallLatest(ctx, addr, chain.PackDecimals)
	if err != nil {
		return 0, err
	}
	return chain.UnpackDecimals(result)
}
