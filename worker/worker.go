// Package worker is C10: consumes a WorkUnit, builds the reserves
// snapshot (C7) then the trade-volume snapshot (C8), commits each
// independently via C11, and dead-letters on build failure. Grounded on
// besuscan's handler shape (one struct holding injected collaborators,
// no mutable cross-message state) — the worker is stateless across
// messages per spec §4.10, all retry state lives in the store's
// dead-letter list.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pairsnap/reserve-indexer/metrics"
	"github.com/pairsnap/reserve-indexer/types"
)

// Now is overridden in tests for deterministic progress-log timestamps.
var Now = time.Now

// ReservesBuilder is C7 as seen from C10.
type ReservesBuilder interface {
	Build(ctx context.Context, wu *types.WorkUnit) (*types.ReservesSnapshot, error)
}

// TradeVolumeBuilder is C8 as seen from C10.
type TradeVolumeBuilder interface {
	Build(ctx context.Context, wu *types.WorkUnit) (*types.TradeVolumeSnapshot, error)
}

// Auditor is C11 as seen from C10.
type Auditor interface {
	CommitPayload(ctx context.Context, pair, stream string, payload interface{}) error
}

// DeadLetterStore is store.Store's dead-letter/progress surface as seen
// from C10.
type DeadLetterStore interface {
	PushDeadLetter(ctx context.Context, wu *types.WorkUnit) error
	AppendProgress(ctx context.Context, broadcastID string, entry types.ProgressLogEntry) error
}

const (
	streamReserves    = "pair_total_reserves"
	streamTradeVolume = "trade_volume"
)

// Worker is C10.
type Worker struct {
	store    DeadLetterStore
	resB     ReservesBuilder
	tvB      TradeVolumeBuilder
	audit    Auditor
	workerID string
	log      log.Logger
	metrics  *metrics.Worker
}

func New(store DeadLetterStore, resB ReservesBuilder, tvB TradeVolumeBuilder, audit Auditor, workerID string, m *metrics.Worker) *Worker {
	return &Worker{
		store:    store,
		resB:     resB,
		tvB:      tvB,
		audit:    audit,
		workerID: workerID,
		log:      log.New("component", "worker", "worker_id", workerID),
		metrics:  m,
	}
}

// HandleWorkUnit implements spec §4.10 steps 2-5 against an
// already-parsed, already-acknowledged WorkUnit (Run, below, handles
// the wire decode and ack).
func (w *Worker) HandleWorkUnit(ctx context.Context, wu *types.WorkUnit) {
	w.buildAndCommitReserves(ctx, wu)
	w.buildAndCommitTradeVolume(ctx, wu)
}

func (w *Worker) buildAndCommitReserves(ctx context.Context, wu *types.WorkUnit) {
	snap, err := w.resB.Build(ctx, wu)
	if err != nil {
		w.log.Error("PairReserves.SnapshotBuild: Failed", "contract", wu.Contract, "broadcast_id", wu.BroadcastID, "err", err)
		w.deadLetter(ctx, wu, "PairReserves.SnapshotBuild", err)
		return
	}
	if w.metrics != nil {
		w.metrics.ReservesBuilt.Inc()
	}
	// spec §9 decision #1: the WorkUnit's own contract is used for both
	// commits rather than reusing a field copied off the reserves
	// snapshot, which the source conflates with the trade-volume one.
	if err := w.audit.CommitPayload(ctx, wu.Contract, streamReserves, snap); err != nil {
		w.logCommit(ctx, "PairReserves.Commit", wu, err)
		return
	}
	w.logCommit(ctx, "PairReserves.Commit", wu, nil)
}

func (w *Worker) buildAndCommitTradeVolume(ctx context.Context, wu *types.WorkUnit) {
	snap, err := w.tvB.Build(ctx, wu)
	if err != nil {
		w.log.Error("TradeVolume.SnapshotBuild: Failed", "contract", wu.Contract, "broadcast_id", wu.BroadcastID, "err", err)
		w.deadLetter(ctx, wu, "TradeVolume.SnapshotBuild", err)
		return
	}
	if w.metrics != nil {
		w.metrics.TradeVolumeBuilt.Inc()
	}
	if err := w.audit.CommitPayload(ctx, wu.Contract, streamTradeVolume, snap); err != nil {
		w.logCommit(ctx, "TradeVolume.Commit", wu, err)
		return
	}
	w.logCommit(ctx, "TradeVolume.Commit", wu, nil)
}

func (w *Worker) deadLetter(ctx context.Context, wu *types.WorkUnit, action string, cause error) {
	if err := w.store.PushDeadLetter(ctx, wu); err != nil {
		w.log.Error("dead-letter push failed", "contract", wu.Contract, "err", err)
	}
	if w.metrics != nil {
		if action == "PairReserves.SnapshotBuild" {
			w.metrics.ReservesFailed.Inc()
		} else {
			w.metrics.TradeVolumeFailed.Inc()
		}
		w.metrics.DeadLettered.Inc()
	}
	w.appendProgress(ctx, wu, action, "Failed", cause)
}

func (w *Worker) logCommit(ctx context.Context, action string, wu *types.WorkUnit, err error) {
	status := "Success"
	if err != nil {
		status = "Failed"
		if w.metrics != nil {
			w.metrics.CommitsRejected.Inc()
		}
	} else if w.metrics != nil {
		w.metrics.CommitsOK.Inc()
	}
	w.appendProgress(ctx, wu, action, status, err)
}

func (w *Worker) appendProgress(ctx context.Context, wu *types.WorkUnit, action, status string, cause error) {
	info := ""
	if cause != nil {
		info = cause.Error()
	}
	entry := types.ProgressLogEntry{
		WorkerID: w.workerID,
		Action:   action,
		Info:     info,
		Status:   status,
		TS:       Now(),
	}
	if err := w.store.AppendProgress(ctx, wu.BroadcastID, entry); err != nil {
		w.log.Error("progress log append failed", "broadcast_id", wu.BroadcastID, "err", err)
	}
}

// Run drains msgs until the channel closes or ctx is cancelled,
// acknowledging each delivery immediately (spec §4.10 step 1: at-most-
// once, in-flight work is abandoned on shutdown and relies on the
// dead-letter list as the safety net for the next broadcast).
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := msg.Ack(false); err != nil {
				w.log.Error("ack failed", "err", err)
			}
			wu, err := decodeWorkUnit(msg.Body)
			if err != nil {
				w.log.Error("work unit parse failed, dropping", "err", err)
				continue
			}
			w.HandleWorkUnit(ctx, wu)
		}
	}
}

func decodeWorkUnit(body []byte) (*types.WorkUnit, error) {
	var wu types.WorkUnit
	if err := json.Unmarshal(body, &wu); err != nil {
		return nil, types.NewValidation("work unit parse", err)
	}
	if err := wu.Validate(); err != nil {
		return nil, err
	}
	return &wu, nil
}
