package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackGetReserves(t *testing.T) {
	packed, err := PackGetReserves()
	require.NoError(t, err)
	require.Len(t, packed, 4) // selector only, no args

	args := PairABI.Methods["getReserves"].Outputs
	encoded, err := args.Pack(big.NewInt(1000), big.NewInt(2000), uint32(12345))
	require.NoError(t, err)

	r, err := UnpackGetReserves(encoded)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), r.Reserve0)
	require.Equal(t, big.NewInt(2000), r.Reserve1)
	require.EqualValues(t, 12345, r.BlockTimestampLast)
}

func TestUnpackSwap(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	dataArgs := abi.Arguments{
		PairABI.Events["Swap"].Inputs[1],
		PairABI.Events["Swap"].Inputs[2],
		PairABI.Events["Swap"].Inputs[3],
		PairABI.Events["Swap"].Inputs[4],
	}
	data, err := dataArgs.Pack(big.NewInt(1e18), big.NewInt(0), big.NewInt(0), big.NewInt(2000e6))
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			SwapTopic,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}

	ev, gotSender, gotTo, err := UnpackSwap(log)
	require.NoError(t, err)
	require.Equal(t, sender, gotSender)
	require.Equal(t, to, gotTo)
	require.Equal(t, big.NewInt(0), ev.Amount1In)
	require.Equal(t, big.NewInt(2000e6), ev.Amount1Out)
}
