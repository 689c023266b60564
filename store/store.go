// Package store wraps the shared Redis-compatible store behind the key
// schema spec §6 defines, grounded on besuscan's
// internal/infrastructure/cache.RedisCache (one shared client, typed
// helper methods per key shape) from the retrieval pack. cache, worker
// and distributor all share one *Store per process; Redis itself
// provides the cross-process coordination spec §5 requires ("no
// cross-process in-memory locking; all coordination is via the external
// store and the bus").
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairsnap/reserve-indexer/types"
)

type Store struct {
	rdb       *redis.Client
	namespace string
}

func New(rdb *redis.Client, namespace string) *Store {
	return &Store{rdb: rdb, namespace: namespace}
}

func Dial(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("dial redis %s: %w", addr, err)
	}
	return rdb, nil
}

// --- Pair metadata (C3) ---------------------------------------------

func (s *Store) tokensAddrKey(pair string) string {
	return fmt.Sprintf("uniswap:pairContract:%s:%s:PairContractTokensAddresses", s.namespace, pair)
}

func (s *Store) tokensDataKey(pair string) string {
	return fmt.Sprintf("uniswap:pairContract:%s:%s:PairContractTokensData", s.namespace, pair)
}

// GetPairMetadata returns (meta, found, err). found is false on a clean
// cache miss (no Redis error).
func (s *Store) GetPairMetadata(ctx context.Context, pair string) (*types.PairMetadata, bool, error) {
	addrs, err := s.rdb.HGetAll(ctx, s.tokensAddrKey(pair)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(addrs) == 0 {
		return nil, false, nil
	}
	data, err := s.rdb.HGetAll(ctx, s.tokensDataKey(pair)).Result()
	if err != nil {
		return nil, false, err
	}
	meta := &types.PairMetadata{
		Pair: pair,
		Token0: types.Token{
			Address: addrs["token0"],
			Symbol:  data["token0_symbol"],
			Name:    data["token0_name"],
		},
		Token1: types.Token{
			Address: addrs["token1"],
			Symbol:  data["token1_symbol"],
			Name:    data["token1_name"],
		},
	}
	if d, ok := data["token0_decimals"]; ok {
		fmt.Sscanf(d, "%d", &meta.Token0.Decimals)
	}
	if d, ok := data["token1_decimals"]; ok {
		fmt.Sscanf(d, "%d", &meta.Token1.Decimals)
	}
	return meta, true, nil
}

// PutPairMetadata populates the shared cache. Concurrent writers racing
// on the same pair is acceptable (spec §4.3: idempotent writes).
func (s *Store) PutPairMetadata(ctx context.Context, meta *types.PairMetadata) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.tokensAddrKey(meta.Pair),
		"token0", meta.Token0.Address,
		"token1", meta.Token1.Address,
	)
	pipe.HSet(ctx, s.tokensDataKey(meta.Pair),
		"token0_symbol", meta.Token0.Symbol,
		"token0_name", meta.Token0.Name,
		"token0_decimals", fmt.Sprintf("%d", meta.Token0.Decimals),
		"token1_symbol", meta.Token1.Symbol,
		"token1_name", meta.Token1.Name,
		"token1_decimals", fmt.Sprintf("%d", meta.Token1.Decimals),
	)
	_, err := pipe.Exec(ctx)
	return err
}

// --- Price cache (C4) -------------------------------------------------

func (s *Store) priceKey(token string) string {
	return fmt.Sprintf("uniswap:pairContract:%s:%s:cachedPairBlockHeightTokenPrice", s.namespace, token)
}

// PutPrices inserts or replaces price points for token, scored by block
// height.
func (s *Store) PutPrices(ctx context.Context, token string, points []types.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	key := s.priceKey(token)
	pipe := s.rdb.TxPipeline()
	members := make([]redis.Z, 0, len(points))
	for _, p := range points {
		// Drop any earlier point at this height so a changed price
		// replaces it instead of sitting beside it.
		height := fmt.Sprintf("%d", p.BlockHeight)
		pipe.ZRemRangeByScore(ctx, key, height, height)
		members = append(members, redis.Z{
			Score:  float64(p.BlockHeight),
			Member: fmt.Sprintf("%d:%f", p.BlockHeight, p.PriceUSD),
		})
	}
	pipe.ZAdd(ctx, key, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// RangePrices returns points with from <= block_height <= to.
func (s *Store) RangePrices(ctx context.Context, token string, from, to uint64) ([]types.PricePoint, error) {
	raw, err := s.rdb.ZRangeByScore(ctx, s.priceKey(token), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from),
		Max: fmt.Sprintf("%d", to),
	}).Result()
	if err != nil {
		return nil, err
	}
	points := make([]types.PricePoint, 0, len(raw))
	for _, m := range raw {
		var block uint64
		var price float64
		if _, err := fmt.Sscanf(m, "%d:%f", &block, &price); err != nil {
			continue
		}
		points = append(points, types.PricePoint{BlockHeight: block, PriceUSD: price})
	}
	return points, nil
}

// PrunePrices removes all points with block_height < olderThan (spec
// §4.4, called opportunistically on each write path).
func (s *Store) PrunePrices(ctx context.Context, token string, olderThan uint64) error {
	if olderThan == 0 {
		return nil
	}
	return s.rdb.ZRemRangeByScore(ctx, s.priceKey(token), "-inf", fmt.Sprintf("(%d", olderThan)).Err()
}

// --- Progress log -----------------------------------------------------

func (s *Store) progressKey(broadcastID string) string {
	return fmt.Sprintf("uniswap:cb:broadcastProcessingLogs:%s", broadcastID)
}

// AppendProgress appends an entry scored by wall-clock seconds (spec §3,
// §5: entries sharing a score may arrive in any order).
func (s *Store) AppendProgress(ctx context.Context, broadcastID string, entry types.ProgressLogEntry) error {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d", entry.WorkerID, entry.Action, entry.Status, entry.Info, entry.TS.UnixNano())
	score := float64(entry.TS.Unix())
	return s.rdb.ZAdd(ctx, s.progressKey(broadcastID), redis.Z{Score: score, Member: payload}).Err()
}

// TailProgress returns a broadcast's progress log entries ordered by
// score (wall-clock second); entries within the same second come back in
// lexicographic order of their encoded text, not in append order (used
// by cmd/indexerctl's diagnostics).
func (s *Store) TailProgress(ctx context.Context, broadcastID string) ([]string, error) {
	return s.rdb.ZRange(ctx, s.progressKey(broadcastID), 0, -1).Result()
}

// --- Dead-letter list --------------------------------------------------

func (s *Store) deadLetterKey(pair string) string {
	return fmt.Sprintf("uniswap:failed_pair_total_reserves_epochs:%s", pair)
}

// PushDeadLetter pushes a failed WorkUnit onto the per-pair retry list.
func (s *Store) PushDeadLetter(ctx context.Context, wu *types.WorkUnit) error {
	payload := fmt.Sprintf("%s|%d|%d", wu.BroadcastID, wu.Begin, wu.End)
	return s.rdb.RPush(ctx, s.deadLetterKey(wu.Contract), payload).Err()
}

// ListDeadLetters returns the raw queued entries for a pair (used by
// cmd/indexerctl's diagnostics, spec §9's out-of-band retry surface).
func (s *Store) ListDeadLetters(ctx context.Context, pair string) ([]string, error) {
	return s.rdb.LRange(ctx, s.deadLetterKey(pair), 0, -1).Result()
}

// Now is a package-level clock hook. Nothing in the module reads it:
// worker and distributor keep their own clocks (worker.Now and the
// Distributor's now field).
var Now = time.Now
