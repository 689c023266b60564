// Package rpc is C1: batched eth_call over a block range, eth_getLogs,
// and block-header fetch, gated by the shared rate limiter and retried
// with bounded exponential backoff on transient transport errors.
//
// The batching strategy is grounded directly in
// github.com/ethereum/go-ethereum/rpc's own BatchCallContext: one
// JSON-RPC HTTP request carrying N "eth_call" sub-requests, each with a
// different block-tag override in its params, exactly as spec §4.2 and
// §6 describe. Helper does not limit how many calls run at once:
// concurrent callers (e.g. the three log streams C6 fetches per pair)
// are gated only by the rate limiter's admission check.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/pairsnap/reserve-indexer/metrics"
	pairtypes "github.com/pairsnap/reserve-indexer/types"
)

// Limiter is C2's contract as seen from C1.
type Limiter interface {
	TryAdmit(ctx context.Context, key string, weight int) (admitted bool, retryAfter time.Duration, err error)
}

// Helper is the injected RPC handle spec §9 calls for in place of a
// process-wide singleton.
type Helper struct {
	client  *gethrpc.Client
	limiter Limiter
	metrics *metrics.RPC
	log     log.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New dials the chain RPC endpoint once at process start.
func New(ctx context.Context, endpoint string, limiter Limiter, m *metrics.RPC) (*Helper, error) {
	client, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, pairtypes.NewTransport("dial rpc endpoint", err)
	}
	return &Helper{
		client:      client,
		limiter:     limiter,
		metrics:     m,
		log:         log.New("component", "rpc"),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}, nil
}

func (h *Helper) Close() { h.client.Close() }

func (h *Helper) backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.baseDelay
	b.MaxInterval = h.maxDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(h.maxAttempts-1))
}

// BatchCallOverRange issues one eth_call per block in [from, to] against
// address, with calldata built by pack(), in a single JSON-RPC batch.
// Results are returned in block order; len(results) == to-from+1 is
// guaranteed on success (a short batch response is PartialBatch).
func (h *Helper) BatchCallOverRange(ctx context.Context, address common.Address, from, to uint64, pack func() ([]byte, error)) ([][]byte, error) {
	if to < from {
		return nil, pairtypes.NewValidation(fmt.Sprintf("invalid range [%d,%d]", from, to), nil)
	}
	weight := int(to-from) + 1

	admitted, retryAfter, err := h.limiter.TryAdmit(ctx, "eth_call", weight)
	if err != nil {
		h.log.Debug("rate limiter store error, bypassing", "err", err)
	} else if !admitted {
		return nil, pairtypes.NewRateLimited(retryAfter)
	}

	data, err := pack()
	if err != nil {
		return nil, pairtypes.NewValidation("pack calldata", err)
	}

	callMsg := map[string]interface{}{
		"to":   address,
		"data": hexutil.Bytes(data),
	}

	batch := make([]gethrpc.BatchElem, weight)
	for i := range batch {
		block := from + uint64(i)
		result := new(hexutil.Bytes)
		batch[i] = gethrpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg, hexutil.EncodeUint64(block)},
			Result: result,
		}
	}

	start := time.Now()
	err = h.withRetry(ctx, func() error { return h.client.BatchCallContext(ctx, batch) })
	if h.metrics != nil {
		h.metrics.BatchCalls.Inc()
		h.metrics.BatchCallLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.BatchCallErrors.Inc()
		}
		return nil, pairtypes.NewTransport("batch eth_call", err)
	}

	results := make([][]byte, 0, weight)
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, pairtypes.NewTransport(fmt.Sprintf("eth_call block %d", from+uint64(i)), elem.Error)
		}
		rb, ok := elem.Result.(*hexutil.Bytes)
		if !ok || rb == nil {
			return nil, pairtypes.NewPartialBatch(weight, len(results))
		}
		results = append(results, []byte(*rb))
	}
	if len(results) != weight {
		return nil, pairtypes.NewPartialBatch(weight, len(results))
	}
	return results, nil
}

// CallLatest issues a single eth_call against the chain tip (block tag
// "latest"), used by pair/token metadata discovery (spec §4.3) where
// the queried values are immutable and block-range batching does not
// apply.
func (h *Helper) CallLatest(ctx context.Context, address common.Address, pack func() ([]byte, error)) ([]byte, error) {
	admitted, retryAfter, err := h.limiter.TryAdmit(ctx, "eth_call", 1)
	if err != nil {
		h.log.Debug("rate limiter store error, bypassing", "err", err)
	} else if !admitted {
		return nil, pairtypes.NewRateLimited(retryAfter)
	}

	data, err := pack()
	if err != nil {
		return nil, pairtypes.NewValidation("pack calldata", err)
	}
	callMsg := map[string]interface{}{
		"to":   address,
		"data": hexutil.Bytes(data),
	}

	var result hexutil.Bytes
	err = h.withRetry(ctx, func() error {
		return h.client.CallContext(ctx, &result, "eth_call", callMsg, "latest")
	})
	if err != nil {
		return nil, pairtypes.NewTransport("eth_call latest", err)
	}
	return []byte(result), nil
}

// GetLogs fetches the raw logs of address between [from,to] filtered by
// topics (spec §4.2.2); decoding is left to the caller. Weight charged
// to C2 is 1.
func (h *Helper) GetLogs(ctx context.Context, address common.Address, from, to uint64, topics [][]common.Hash) ([]types.Log, error) {
	admitted, retryAfter, err := h.limiter.TryAdmit(ctx, "eth_getLogs", 1)
	if err != nil {
		h.log.Debug("rate limiter store error, bypassing", "err", err)
	} else if !admitted {
		return nil, pairtypes.NewRateLimited(retryAfter)
	}

	filter := map[string]interface{}{
		"address":   address,
		"fromBlock": hexutil.EncodeUint64(from),
		"toBlock":   hexutil.EncodeUint64(to),
		"topics":    topics,
	}

	var logs []types.Log
	err = h.withRetry(ctx, func() error {
		return h.client.CallContext(ctx, &logs, "eth_getLogs", filter)
	})
	if err != nil {
		return nil, pairtypes.NewTransport("eth_getLogs", err)
	}
	return logs, nil
}

// blockHeader is the subset of eth_getBlockByNumber's result this
// pipeline needs.
type blockHeader struct {
	Number    *hexutil.Big `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// GetBlock fetches a block header by number.
func (h *Helper) GetBlock(ctx context.Context, number uint64) (ts time.Time, err error) {
	admitted, retryAfter, admitErr := h.limiter.TryAdmit(ctx, "eth_getBlockByNumber", 1)
	if admitErr != nil {
		h.log.Debug("rate limiter store error, bypassing", "err", admitErr)
	} else if !admitted {
		return time.Time{}, pairtypes.NewRateLimited(retryAfter)
	}

	var hdr blockHeader
	err = h.withRetry(ctx, func() error {
		return h.client.CallContext(ctx, &hdr, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	})
	if err != nil {
		return time.Time{}, pairtypes.NewTransport("eth_getBlockByNumber", err)
	}
	if hdr.Number == nil {
		return time.Time{}, pairtypes.NewTransport("eth_getBlockByNumber", fmt.Errorf("block %d not found", number))
	}
	return time.Unix(int64(hdr.Timestamp), 0).UTC(), nil
}

// withRetry retries transient transport errors with bounded exponential
// backoff and jitter (spec §4.2/§7), up to h.maxAttempts total attempts.
func (h *Helper) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if h.metrics != nil && attempt > 1 {
			h.metrics.Retries.Inc()
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(h.backoffPolicy(), ctx))
}

// AmountIn1Whole returns 1 unit of a token with the given decimals, the
// probe amount the pricing cascade quotes through getAmountsOut (spec
// §4.5.c).
func AmountIn1Whole(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
