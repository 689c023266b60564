package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	pairtypes "github.com/pairsnap/reserve-indexer/types"
)

func discardLogger() log.Logger {
	l := log.New()
	l.SetHandler(log.DiscardHandler())
	return l
}

// fakeLimiter admits or denies according to admit, returning retryAfter
// and err as given.
type fakeLimiter struct {
	admit      bool
	retryAfter time.Duration
	err        error
}

func (f *fakeLimiter) TryAdmit(_ context.Context, _ string, _ int) (bool, time.Duration, error) {
	return f.admit, f.retryAfter, f.err
}

// mockEthAPI answers eth_call with the block tag echoed back as the
// return payload, so tests can assert block ordering without a real
// contract.
type mockEthAPI struct{}

func (mockEthAPI) Call(_ context.Context, _ map[string]interface{}, blockTag string) (hexutil.Bytes, error) {
	return hexutil.Bytes([]byte(blockTag)), nil
}

func dialMockServer(t *testing.T) *gethrpc.Client {
	t.Helper()
	server := gethrpc.NewServer()
	require.NoError(t, server.RegisterName("eth", mockEthAPI{}))
	t.Cleanup(server.Stop)
	client := gethrpc.DialInProc(server)
	t.Cleanup(client.Close)
	return client
}

func TestBatchCallOverRangeOrdersResults(t *testing.T) {
	client := dialMockServer(t)
	h := &Helper{
		client:      client,
		limiter:     &fakeLimiter{admit: true},
		log:         discardLogger(),
		maxAttempts: 3,
		baseDelay:   time.Millisecond,
		maxDelay:    10 * time.Millisecond,
	}

	addr := common.HexToAddress("0xabc")
	results, err := h.BatchCallOverRange(context.Background(), addr, 100, 104, func() ([]byte, error) {
		return []byte{0x01}, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	require.Equal(t, "0x64", string(results[0])) // block 100 = 0x64
	require.Equal(t, "0x68", string(results[4])) // block 104 = 0x68
}

func TestCallLatestUsesLatestTag(t *testing.T) {
	client := dialMockServer(t)
	h := &Helper{
		client:      client,
		limiter:     &fakeLimiter{admit: true},
		log:         discardLogger(),
		maxAttempts: 3,
		baseDelay:   time.Millisecond,
		maxDelay:    10 * time.Millisecond,
	}

	result, err := h.CallLatest(context.Background(), common.HexToAddress("0xabc"), func() ([]byte, error) {
		return []byte{0x01}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "latest", string(result))
}

func TestBatchCallOverRangeRateLimited(t *testing.T) {
	client := dialMockServer(t)
	h := &Helper{
		client:  client,
		limiter: &fakeLimiter{admit: false, retryAfter: time.Second},
		log:     discardLogger(),
	}
	_, err := h.BatchCallOverRange(context.Background(), common.Address{}, 1, 1, func() ([]byte, error) { return []byte{}, nil })
	require.Error(t, err)
	ra, ok := pairtypes.RetryAfter(err)
	require.True(t, ok)
	require.Equal(t, time.Second, ra)
}
