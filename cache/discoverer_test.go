package cache

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/chain"
)

// fakeRPC answers CallLatest by dispatching on the 4-byte method
// selector packed into the calldata, so one fake can stand in for the
// pair and both token contracts.
type fakeRPC struct {
	token0, token1           common.Address
	name0, symbol0           string
	name1, symbol1           string
	decimals0, decimals1     uint8
}

func (f *fakeRPC) CallLatest(_ context.Context, addr common.Address, pack func() ([]byte, error)) ([]byte, error) {
	data, err := pack()
	if err != nil {
		return nil, err
	}
	selector := string(data[:4])

	switch selector {
	case string(chain.PairABI.Methods["token0"].ID):
		return chain.PairABI.Methods["token0"].Outputs.Pack(f.token0)
	case string(chain.PairABI.Methods["token1"].ID):
		return chain.PairABI.Methods["token1"].Outputs.Pack(f.token1)
	case string(chain.ERC20ABI.Methods["name"].ID):
		return chain.ERC20ABI.Methods["name"].Outputs.Pack(f.nameFor(addr))
	case string(chain.ERC20ABI.Methods["symbol"].ID):
		return chain.ERC20ABI.Methods["symbol"].Outputs.Pack(f.symbolFor(addr))
	case string(chain.ERC20ABI.Methods["decimals"].ID):
		return chain.ERC20ABI.Methods["decimals"].Outputs.Pack(f.decimalsFor(addr))
	}
	panic("unexpected selector in fakeRPC")
}

func (f *fakeRPC) nameFor(addr common.Address) string {
	if addr == f.token0 {
		return f.name0
	}
	return f.name1
}

func (f *fakeRPC) symbolFor(addr common.Address) string {
	if addr == f.token0 {
		return f.symbol0
	}
	return f.symbol1
}

func (f *fakeRPC) decimalsFor(addr common.Address) uint8 {
	if addr == f.token0 {
		return f.decimals0
	}
	return f.decimals1
}

func TestChainDiscovererDiscover(t *testing.T) {
	f := &fakeRPC{
		token0:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		token1:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		name0:     "Wrapped Ether",
		symbol0:   "WETH",
		decimals0: 18,
		name1:     "Tether USD",
		symbol1:   "USDT",
		decimals1: 6,
	}
	d := NewChainDiscoverer(f)

	meta, err := d.Discover(context.Background(), "0xpair")
	require.NoError(t, err)
	require.Equal(t, "WETH", meta.Token0.Symbol)
	require.EqualValues(t, 18, meta.Token0.Decimals)
	require.Equal(t, "USDT", meta.Token1.Symbol)
	require.EqualValues(t, 6, meta.Token1.Decimals)
}
