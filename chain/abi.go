// Package chain holds the typed contract surfaces spec §6 requires
// (UniswapV2Pair, ERC20, UniswapV2Factory, UniswapV2Router) built on
// github.com/ethereum/go-ethereum/accounts/abi — the same package the
// teacher's own cmd/abigen wraps to generate bindings. Rather than
// generating a full bind.BoundContract per contract (which assumes a
// single eth_call per invocation), these are thin Pack/Unpack helpers:
// rpc.Helper builds the raw JSON-RPC batch itself (one eth_call per
// block, batched over a range) and calls back into chain to encode
// calldata and decode results.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const pairABIJSON = `[
  {"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"_reserve0","type":"uint112"},{"name":"_reserve1","type":"uint112"},{"name":"_blockTimestampLast","type":"uint32"}],"type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amount0In","type":"uint256"},{"indexed":false,"name":"amount1In","type":"uint256"},{"indexed":false,"name":"amount0Out","type":"uint256"},{"indexed":false,"name":"amount1Out","type":"uint256"},{"indexed":true,"name":"to","type":"address"}],"name":"Swap","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"}],"name":"Mint","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"},{"indexed":true,"name":"to","type":"address"}],"name":"Burn","type":"event"}
]`

const erc20ABIJSON = `[
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const factoryABIJSON = `[
  {"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"","type":"uint256"}],"name":"allPairs","outputs":[{"name":"","type":"address"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"allPairsLength","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const routerABIJSON = `[
  {"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}
]`

var (
	PairABI    = mustParse(pairABIJSON)
	ERC20ABI   = mustParse(erc20ABIJSON)
	FactoryABI = mustParse(factoryABIJSON)
	RouterABI  = mustParse(routerABIJSON)
)

func mustParse(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

// Event topic hashes, used by rpc.Helper.GetLogs to filter eth_getLogs.
var (
	SwapTopic = PairABI.Events["Swap"].ID
	MintTopic = PairABI.Events["Mint"].ID
	BurnTopic = PairABI.Events["Burn"].ID
)
