package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// DefaultExchange is the topic exchange route events are published to with
// routing key route.updated.<vehicleId>.
const DefaultExchange = "fleet.routes"

// AMQPBroker publishes and consumes route events over RabbitMQ.
type AMQPBroker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	exchange string
	logger   log.FieldLogger
}

// DialAMQP connects to url and declares the exchange.
func DialAMQP(url, exchange string, logger log.FieldLogger) (*AMQPBroker, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	logger.WithField("exchange", exchange).Info("Connected to RabbitMQ")
	return &AMQPBroker{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// RoutingKey returns the routing key for vehicleID.
func RoutingKey(vehicleID int64) string {
	return "route.updated." + strconv.FormatInt(vehicleID, 10)
}

// Publish sends ev to the exchange.
func (b *AMQPBroker) Publish(ctx context.Context, ev RouteUpdated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, RoutingKey(ev.VehicleID), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.At,
		Body:        body,
	})
}

// Consume binds an exclusive queue for vehicleID (zero means every vehicle)
// and forwards events to target until ctx ends.
func (b *AMQPBroker) Consume(ctx context.Context, vehicleID int64, target Publisher) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	key := "route.updated.*"
	if vehicleID != 0 {
		key = RoutingKey(vehicleID)
	}
	if err := ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var ev RouteUpdated
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				b.logger.WithError(err).Warn("Ignoring malformed AMQP route event")
				continue
			}
			if err := target.Publish(ctx, ev); err != nil {
				b.logger.WithError(err).Warn("Failed to forward AMQP route event")
			}
		}
	}
}

// Close closes the channel and connection.
func (b *AMQPBroker) Close() error {
	b.ch.Close()
	return b.conn.Close()
}
