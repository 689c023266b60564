package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Epoch is a contiguous block range [Begin, End], Begin <= End.
type Epoch struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

func (e Epoch) Len() uint64 { return e.End - e.Begin + 1 }

func (e Epoch) Validate() error {
	if e.Begin > e.End {
		return NewValidation(fmt.Sprintf("epoch begin %d > end %d", e.Begin, e.End), nil)
	}
	return nil
}

// BroadcastEpoch is published once by the scheduler and consumed exactly
// once by the distributor (C9). Never mutated after creation.
type BroadcastEpoch struct {
	BroadcastID string            `json:"broadcast_id"`
	Begin       uint64            `json:"begin"`
	End         uint64            `json:"end"`
	Contracts mapset.Set[string] `json:"-"`
	// ContractsJSON backs (de)serialization since mapset.Set has no
	// native JSON codec; UnmarshalJSON below rebuilds Contracts from it
	// on decode.
	ContractsJSON []string `json:"contracts"`
}

// UnmarshalJSON decodes the wire shape and rebuilds the Contracts set
// that mapset.Set itself cannot (de)serialize.
func (b *BroadcastEpoch) UnmarshalJSON(data []byte) error {
	type wire BroadcastEpoch
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = BroadcastEpoch(w)
	b.Contracts = mapset.NewSet[string]()
	for _, c := range b.ContractsJSON {
		b.Contracts.Add(strings.ToLower(c))
	}
	return nil
}

func NewBroadcastEpoch(broadcastID string, begin, end uint64, contracts []string) *BroadcastEpoch {
	set := mapset.NewSet[string]()
	norm := make([]string, 0, len(contracts))
	for _, c := range contracts {
		lc := strings.ToLower(c)
		set.Add(lc)
		norm = append(norm, lc)
	}
	return &BroadcastEpoch{
		BroadcastID:   broadcastID,
		Begin:         begin,
		End:           end,
		Contracts:     set,
		ContractsJSON: norm,
	}
}

func (b *BroadcastEpoch) Epoch() Epoch { return Epoch{Begin: b.Begin, End: b.End} }

func (b *BroadcastEpoch) Validate() error {
	if b.BroadcastID == "" {
		return NewValidation("broadcast_id is empty", nil)
	}
	if err := b.Epoch().Validate(); err != nil {
		return err
	}
	if len(b.ContractsJSON) == 0 {
		return NewValidation("broadcast has no contracts", nil)
	}
	return nil
}

// WorkUnit is one (broadcast_id, epoch, contract) triple, fanned out by
// the distributor to the worker pool.
type WorkUnit struct {
	BroadcastID string `json:"broadcast_id"`
	Begin       uint64 `json:"begin"`
	End         uint64 `json:"end"`
	Contract    string `json:"contract"`
}

func NewWorkUnit(broadcastID string, epoch Epoch, contract string) *WorkUnit {
	return &WorkUnit{
		BroadcastID: broadcastID,
		Begin:       epoch.Begin,
		End:         epoch.End,
		Contract:    strings.ToLower(contract),
	}
}

func (w *WorkUnit) Epoch() Epoch { return Epoch{Begin: w.Begin, End: w.End} }

func (w *WorkUnit) Validate() error {
	if w.BroadcastID == "" {
		return NewValidation("work unit missing broadcast_id", nil)
	}
	if w.Contract == "" {
		return NewValidation("work unit missing contract", nil)
	}
	return w.Epoch().Validate()
}

// Token describes one side of a pair.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// PairMetadata is immutable once discovered for a pair (C3).
type PairMetadata struct {
	Pair   string `json:"pair"`
	Token0 Token  `json:"token0"`
	Token1 Token  `json:"token1"`
}

// ReservesPoint is the raw on-chain reserve pair at one block.
type ReservesPoint struct {
	BlockNum  uint64     `json:"block_num"`
	Reserve0  *BigUint   `json:"reserve0"`
	Reserve1  *BigUint   `json:"reserve1"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// BlockKey renders the literal "block{N}" key the audit service expects.
func BlockKey(n uint64) string { return fmt.Sprintf("block%d", n) }

// ReservesSnapshot is the committed artifact of C7.
type ReservesSnapshot struct {
	Contract      string             `json:"contract"`
	BroadcastID   string             `json:"broadcast_id"`
	ChainRange    Epoch              `json:"chain_range"`
	Token0Reserves map[string]float64 `json:"token0_reserves"`
	Token1Reserves map[string]float64 `json:"token1_reserves"`
	Timestamp     int64              `json:"timestamp"`
}

// TradeEventRecord is one decoded Swap/Mint/Burn log (C6).
type TradeEventRecord struct {
	Event        string  `json:"event"` // "Swap" | "Mint" | "Burn"
	TxHash       string  `json:"tx_hash"`
	LogIndex     uint    `json:"log_index"`
	BlockNum     uint64  `json:"block_num"`
	Token0Amount float64 `json:"token0_amount"`
	Token1Amount float64 `json:"token1_amount"`
	TradeUSD     float64 `json:"trade_usd"`
	Sender       string  `json:"sender,omitempty"`
	To           string  `json:"to,omitempty"`
}

// TradeVolumeSnapshot is the committed artifact of C8.
type TradeVolumeSnapshot struct {
	Contract          string             `json:"contract"`
	BroadcastID       string             `json:"broadcast_id"`
	ChainRange        Epoch              `json:"chain_range"`
	Timestamp         int64              `json:"timestamp"`
	TotalTradeUSD     float64            `json:"total_trade_usd"`
	TotalFeeUSD       float64            `json:"total_fee_usd"`
	Token0TradeVolume float64            `json:"token0_trade_volume"`
	Token1TradeVolume float64            `json:"token1_trade_volume"`
	Events            []TradeEventRecord `json:"events"`
}

// PricePoint is one block-height-scored USD price sample (C4).
type PricePoint struct {
	BlockHeight uint64  `json:"block_height"`
	PriceUSD    float64 `json:"price_usd"`
}

// ProgressLogEntry is appended to a per-broadcast ordered log (§3, §5).
type ProgressLogEntry struct {
	WorkerID string    `json:"worker_id"`
	Action   string    `json:"action"`
	Info     string    `json:"info"`
	Status   string    `json:"status"` // "Success" | "Failed"
	TS       time.Time `json:"ts"`
}
