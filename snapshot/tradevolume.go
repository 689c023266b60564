package snapshot

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pairsnap/reserve-indexer/events"
	"github.com/pairsnap/reserve-indexer/types"
)

// Extractor is C6 as seen from C8.
type Extractor interface {
	Extract(ctx context.Context, pairAddr common.Address, meta *types.PairMetadata, from, to uint64) (*events.Result, error)
}

// TradeVolumeBuilder is C8.
type TradeVolumeBuilder struct {
	rpc       RPC
	extractor Extractor
	meta      MetadataCache
	log       log.Logger
}

func NewTradeVolumeBuilder(rpc RPC, extractor Extractor, meta MetadataCache) *TradeVolumeBuilder {
	return &TradeVolumeBuilder{rpc: rpc, extractor: extractor, meta: meta, log: log.New("component", "snapshot.tradevolume")}
}

// Build implements C8 (spec §4.8): composes C6 and C5, rounds the four
// committed totals to 6 decimal places, and orders events by (block,
// log_index) — the ordering is already guaranteed by C6's Extract.
// Timestamped the same way as C7 (original_source's
// pair_total_reserves.py callback stamps both snapshots from the same
// end-of-range block timestamp, falling back to wall clock on fetch
// failure).
func (b *TradeVolumeBuilder) Build(ctx context.Context, wu *types.WorkUnit) (*types.TradeVolumeSnapshot, error) {
	if err := wu.Validate(); err != nil {
		return nil, err
	}
	pairAddr := common.HexToAddress(wu.Contract)

	meta, err := b.meta.Get(ctx, wu.Contract)
	if err != nil {
		return nil, err
	}

	result, err := b.extractor.Extract(ctx, pairAddr, meta, wu.Begin, wu.End)
	if err != nil {
		return nil, err
	}

	ts, err := b.rpc.GetBlock(ctx, wu.End)
	var timestamp int64
	if err != nil {
		b.log.Error("get_block failed, falling back to wall clock", "contract", wu.Contract, "block", wu.End, "err", err)
		timestamp = time.Now().Unix()
	} else {
		timestamp = ts.Unix()
	}

	return &types.TradeVolumeSnapshot{
		Contract:          wu.Contract,
		BroadcastID:       wu.BroadcastID,
		ChainRange:        wu.Epoch(),
		Timestamp:         timestamp,
		TotalTradeUSD:     round6(result.TotalTradeUSD),
		TotalFeeUSD:       round6(result.TotalFeeUSD),
		Token0TradeVolume: round6(result.Token0TradeVolume),
		Token1TradeVolume: round6(result.Token1TradeVolume),
		Events:            result.Events,
	}, nil
}
