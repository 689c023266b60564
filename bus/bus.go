// Package bus wraps github.com/rabbitmq/amqp091-go behind the
// declare/publish/consume surface C9 and C10 need: topic-exchange
// routing, persistent (delivery_mode=2) mandatory publishes, and a
// prefetch=1 manual-ack consume loop. Grounded on besuscan's
// apps/worker queues.Consumer/queues.Publisher wrapper (block_handler.go
// in the retrieval pack): one shared *amqp.Connection per process,
// queue/exchange declared idempotently before use. There is no
// reconnect logic: when the connection or channel closes, the delivery
// channel returned by Consume closes and is not reopened.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Bus owns the AMQP connection and channel shared by a Publisher and any
// number of Consumers in one process.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  log.Logger
}

// Dial opens the AMQP connection and a single channel, and puts that
// channel into publisher-confirm mode off (the teacher wrapper does not
// use confirms; unroutable mandatory publishes surface through the
// channel's NotifyReturn instead, which Publisher.Publish below wires
// up per call).
func Dial(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Bus{conn: conn, ch: ch, log: log.New("component", "bus")}, nil
}

func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

// DeclareTopicExchange idempotently declares a durable topic exchange.
func (b *Bus) DeclareTopicExchange(name string) error {
	return b.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

// DeclareQueue idempotently declares a durable queue and binds it to
// exchange under routingKey.
func (b *Bus) DeclareQueue(queue, exchange, routingKey string) error {
	if _, err := b.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return b.ch.QueueBind(queue, routingKey, exchange, false, nil)
}

// Publisher publishes persistent, mandatory messages to one topic
// exchange. mandatory=true means an unroutable message is returned on
// the channel's NotifyReturn rather than silently dropped; Publish
// returns that as a plain error (not a types.BusPublishReject), and the
// distributor logs it and counts the contract as failed.
type Publisher struct {
	bus      *Bus
	exchange string
	returns  chan amqp.Return
}

// NewPublisher registers a NotifyReturn listener on the shared channel
// so mandatory-unroutable publishes can be detected. One Publisher per
// exchange per process is expected.
func NewPublisher(b *Bus, exchange string) *Publisher {
	returns := make(chan amqp.Return, 8)
	b.ch.NotifyReturn(returns)
	return &Publisher{bus: b, exchange: exchange, returns: returns}
}

// Publish sends body to routingKey with persistent delivery and
// mandatory=true. It waits up to a short grace period for an async
// NotifyReturn signaling an unroutable message; if none arrives the
// publish is assumed routed (amqp091-go gives no positive ack without
// full publisher-confirms, which the teacher wrapper also does not
// use).
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	err := p.bus.ch.PublishWithContext(ctx, p.exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	select {
	case ret := <-p.returns:
		return fmt.Errorf("unroutable publish to %s/%s: %s", ret.Exchange, ret.RoutingKey, ret.ReplyText)
	case <-time.After(50 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consumer pulls deliveries off one queue with manual ack.
type Consumer struct {
	bus   *Bus
	queue string
	log   log.Logger
}

func NewConsumer(b *Bus, queue string) *Consumer {
	return &Consumer{bus: b, queue: queue, log: log.New("component", "bus.consumer", "queue", queue)}
}

// Consume starts delivering messages with auto-ack disabled; callers
// must Ack/Nack each amqp.Delivery themselves (worker/distributor
// always acknowledge eagerly, before processing, per spec §5's default
// policy; there is no ack-after-commit mode).
func (c *Consumer) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	msgs, err := c.bus.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return msgs, nil
}
