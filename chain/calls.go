package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reserves is the decoded result of UniswapV2Pair.getReserves().
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// PackGetReserves builds calldata for getReserves().
func PackGetReserves() ([]byte, error) { return PairABI.Pack("getReserves") }

// UnpackGetReserves decodes the return data of getReserves().
func UnpackGetReserves(data []byte) (Reserves, error) {
	out, err := PairABI.Unpack("getReserves", data)
	if err != nil {
		return Reserves{}, err
	}
	if len(out) != 3 {
		return Reserves{}, fmt.Errorf("getReserves: unexpected output arity %d", len(out))
	}
	return Reserves{
		Reserve0:           out[0].(*big.Int),
		Reserve1:           out[1].(*big.Int),
		BlockTimestampLast: out[2].(uint32),
	}, nil
}

func PackToken0() ([]byte, error) { return PairABI.Pack("token0") }
func PackToken1() ([]byte, error) { return PairABI.Pack("token1") }

func UnpackToken0(data []byte) (common.Address, error) { return unpackPairAddress(data, "token0") }
func UnpackToken1(data []byte) (common.Address, error) { return unpackPairAddress(data, "token1") }

func unpackPairAddress(data []byte, method string) (common.Address, error) {
	out, err := PairABI.Unpack(method, data)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func PackName() ([]byte, error)     { return ERC20ABI.Pack("name") }
func PackSymbol() ([]byte, error)   { return ERC20ABI.Pack("symbol") }
func PackDecimals() ([]byte, error) { return ERC20ABI.Pack("decimals") }

func UnpackName(data []byte) (string, error) {
	out, err := ERC20ABI.Unpack("name", data)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func UnpackSymbol(data []byte) (string, error) {
	out, err := ERC20ABI.Unpack("symbol", data)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func UnpackDecimals(data []byte) (uint8, error) {
	out, err := ERC20ABI.Unpack("decimals", data)
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// PackGetPair builds calldata for UniswapV2Factory.getPair(tokenA, tokenB).
func PackGetPair(tokenA, tokenB common.Address) ([]byte, error) {
	return FactoryABI.Pack("getPair", tokenA, tokenB)
}

func UnpackGetPair(data []byte) (common.Address, error) {
	out, err := FactoryABI.Unpack("getPair", data)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func PackAllPairsLength() ([]byte, error) { return FactoryABI.Pack("allPairsLength") }

func UnpackAllPairsLength(data []byte) (*big.Int, error) {
	out, err := FactoryABI.Unpack("allPairsLength", data)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func PackAllPairs(index *big.Int) ([]byte, error) { return FactoryABI.Pack("allPairs", index) }

func UnpackAllPairs(data []byte) (common.Address, error) {
	out, err := FactoryABI.Unpack("allPairs", data)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// PackGetAmountsOut builds calldata for UniswapV2Router.getAmountsOut,
// generalized over an arbitrary hop path (SPEC_FULL.md's router
// multi-hop helper); production pricing always passes a 2-hop path.
func PackGetAmountsOut(amountIn *big.Int, path []common.Address) ([]byte, error) {
	return RouterABI.Pack("getAmountsOut", amountIn, path)
}

func UnpackGetAmountsOut(data []byte) ([]*big.Int, error) {
	out, err := RouterABI.Unpack("getAmountsOut", data)
	if err != nil {
		return nil, err
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut: unexpected output type %T", out[0])
	}
	return amounts, nil
}

// SwapEvent, MintEvent, BurnEvent are the decoded non-indexed fields of
// the corresponding pair events; indexed fields (sender/to) come from
// the log's Topics, not Data, per the ABI in spec §6.
type SwapEvent struct {
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

type MintEvent struct {
	Amount0 *big.Int
	Amount1 *big.Int
}

type BurnEvent struct {
	Amount0 *big.Int
	Amount1 *big.Int
}

func UnpackSwap(log types.Log) (SwapEvent, common.Address, common.Address, error) {
	var ev SwapEvent
	if err := PairABI.UnpackIntoInterface(&ev, "Swap", log.Data); err != nil {
		return SwapEvent{}, common.Address{}, common.Address{}, err
	}
	if len(log.Topics) < 3 {
		return SwapEvent{}, common.Address{}, common.Address{}, fmt.Errorf("Swap log missing indexed topics")
	}
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	return ev, sender, to, nil
}

func UnpackMint(log types.Log) (MintEvent, common.Address, error) {
	var ev MintEvent
	if err := PairABI.UnpackIntoInterface(&ev, "Mint", log.Data); err != nil {
		return MintEvent{}, common.Address{}, err
	}
	if len(log.Topics) < 2 {
		return MintEvent{}, common.Address{}, fmt.Errorf("Mint log missing indexed topic")
	}
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	return ev, sender, nil
}

func UnpackBurn(log types.Log) (BurnEvent, common.Address, common.Address, error) {
	var ev BurnEvent
	if err := PairABI.UnpackIntoInterface(&ev, "Burn", log.Data); err != nil {
		return BurnEvent{}, common.Address{}, common.Address{}, err
	}
	if len(log.Topics) < 3 {
		return BurnEvent{}, common.Address{}, common.Address{}, fmt.Errorf("Burn log missing indexed topics")
	}
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	return ev, sender, to, nil
}
