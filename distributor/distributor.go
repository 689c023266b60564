// Package distributor is C9: consumes a broadcast epoch off the shared
// callbacks queue, filters by routing-key project tag, and fans one
// WorkUnit publish out per contract. The ack-then-parse-then-publish
// shape is grounded on besuscan's BlockHandler.startConsumption
// (acknowledge before the handler body runs, log-and-continue on a
// malformed message rather than crashing the consume loop).
package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pairsnap/reserve-indexer/types"
)

// Publisher is bus.Publisher as seen from C9.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// ProgressStore is store.Store's progress-log surface as seen from C9.
type ProgressStore interface {
	AppendProgress(ctx context.Context, broadcastID string, entry types.ProgressLogEntry) error
}

// Distributor is C9.
type Distributor struct {
	publisher  Publisher
	progress   ProgressStore
	namespace  string
	projectTag string
	workerID   string
	log        log.Logger
	now        func() time.Time
}

func New(publisher Publisher, progress ProgressStore, namespace, projectTag, workerID string) *Distributor {
	return &Distributor{
		publisher:  publisher,
		progress:   progress,
		namespace:  namespace,
		projectTag: projectTag,
		workerID:   workerID,
		log:        log.New("component", "distributor"),
		now:        time.Now,
	}
}

// OutboundRoutingKey is the per-project subtopic key spec §6 fixes:
// "<project>-backend-callback:<namespace>.pair_total_reserves_worker.processor".
func (d *Distributor) OutboundRoutingKey() string {
	return fmt.Sprintf("%s-backend-callback:%s.pair_total_reserves_worker.processor", d.projectTag, d.namespace)
}

// HandleMessage implements steps 2-5 of spec §4.9 against an
// already-acknowledged inbound message (Run, below, handles the ack
// itself so this method stays pure and testable). Returns nil on every
// path except a truly unexpected programming error, matching the
// "log and drop" disposition for Validation-kind failures.
func (d *Distributor) HandleMessage(ctx context.Context, routingKey string, body []byte) error {
	if !d.matchesProjectTag(routingKey) {
		return nil
	}

	var epoch types.BroadcastEpoch
	if err := json.Unmarshal(body, &epoch); err != nil {
		d.log.Error("broadcast epoch parse failed, dropping", "routing_key", routingKey, "err", err)
		return nil
	}
	if err := epoch.Validate(); err != nil {
		d.log.Error("broadcast epoch invalid, dropping", "broadcast_id", epoch.BroadcastID, "err", err)
		return nil
	}

	contracts := epoch.Contracts.ToSlice()
	sort.Strings(contracts)

	published, failed := 0, 0
	for _, contract := range contracts {
		wu := types.NewWorkUnit(epoch.BroadcastID, epoch.Epoch(), contract)
		payload, err := json.Marshal(wu)
		if err != nil {
			d.log.Error("work unit marshal failed", "contract", contract, "err", err)
			failed++
			continue
		}
		if err := d.publisher.Publish(ctx, d.OutboundRoutingKey(), payload); err != nil {
			d.log.Error("work unit publish unroutable, lost for this broadcast", "contract", contract, "broadcast_id", epoch.BroadcastID, "err", err)
			failed++
			continue
		}
		published++
	}

	status := "Success"
	if failed > 0 {
		status = "Failed"
	}
	entry := types.ProgressLogEntry{
		WorkerID: d.workerID,
		Action:   "RabbitMQ.Publish",
		Info:     fmt.Sprintf("published=%d failed=%d", published, failed),
		Status:   status,
		TS:       d.now(),
	}
	if err := d.progress.AppendProgress(ctx, epoch.BroadcastID, entry); err != nil {
		d.log.Error("progress log append failed", "broadcast_id", epoch.BroadcastID, "err", err)
	}
	return nil
}

// Run drains msgs until the channel closes or ctx is cancelled,
// acknowledging each delivery immediately per spec §4.9 step 1 (at-most-
// once: the work is idempotent at the audit service so losing an
// in-flight message to a crash is an acceptable trade against the
// complexity of ack-after-publish).
func (d *Distributor) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := msg.Ack(false); err != nil {
				d.log.Error("ack failed", "err", err)
			}
			if err := d.HandleMessage(ctx, msg.RoutingKey, msg.Body); err != nil {
				d.log.Error("handle message failed", "err", err)
			}
		}
	}
}

// matchesProjectTag implements spec §4.9 step 2: only process routing
// keys whose second dotted segment equals the configured project tag.
func (d *Distributor) matchesProjectTag(routingKey string) bool {
	parts := strings.SplitN(routingKey, ".", 3)
	if len(parts) < 2 {
		return false
	}
	return parts[1] == d.projectTag
}
