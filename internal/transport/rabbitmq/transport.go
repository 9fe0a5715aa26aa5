// Package rabbitmq provides a RabbitMQ implementation of the transport
// interface. Each room is a fanout exchange; every join binds its own
// exclusive, auto-deleted queue to it, so all members see every message.
package rabbitmq

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

// Transport implements transport.Transport over AMQP
type Transport struct {
	*base.BaseTransport
	config *Config
	pool   Channels

	mu   sync.Mutex
	subs map[*base.Subscription]struct{}
}

// NewTransport validates the configuration and opens the connection pool
func NewTransport(config *Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error())
	}
	pool, err := NewConnectionPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}
	return NewTransportWithPool(config, pool)
}

// NewTransportWithPool creates a transport over pool, which tests replace
// with an in-memory exchange
func NewTransportWithPool(config *Config, pool Channels) (*Transport, error) {
	b, err := base.NewBaseTransport("rabbitmq", config)
	if err != nil {
		return nil, err
	}
	return &Transport{
		BaseTransport: b,
		config:        config,
		pool:          pool,
		subs:          make(map[*base.Subscription]struct{}),
	}, nil
}

func (t *Transport) exchange(room string) string {
	return t.config.ExchangePrefix + room
}

// Join declares the room exchange and binds a private queue to it
func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := t.pool.Open()
	if err != nil {
		return nil, errors.ConnectionError("failed to open RabbitMQ channel", err)
	}

	exchange := t.exchange(room)
	if err := ch.DeclareRoom(exchange); err != nil {
		ch.Close()
		return nil, errors.ConnectionError("failed to declare exchange "+exchange, err)
	}
	deliveries, err := ch.Subscribe(exchange)
	if err != nil {
		ch.Close()
		return nil, errors.ConnectionError("failed to subscribe to "+exchange, err)
	}

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(context.Context) error {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		// Closing the channel cancels the consumer, which deletes the queue
		ch.Close()
		return nil
	})

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.Pump(func() {
		for {
			select {
			case <-sub.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					t.Logger().Info("RabbitMQ message channel closed", logging.String("room", room))
					return
				}
				if !sub.Deliver(context.Background(), convertDelivery(room, d)) {
					return
				}
			}
		}
	})

	t.Logger().Debug("Bound queue to RabbitMQ exchange", logging.String("exchange", exchange))
	return sub, nil
}

// Send publishes msg to the room exchange
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.TimeoutError("publish to " + room)
	}

	ch, err := t.pool.Open()
	if err != nil {
		return errors.ConnectionError("failed to open RabbitMQ channel", err)
	}
	defer ch.Close()

	exchange := t.exchange(room)
	if err := ch.DeclareRoom(exchange); err != nil {
		return errors.ConnectionError("failed to declare exchange "+exchange, err)
	}

	out := base.Stamp(room, msg)
	headers := make(amqp.Table, len(out.Headers))
	for k, v := range out.Headers {
		headers[k] = v
	}

	err = ch.Publish(exchange, amqp.Publishing{
		MessageId:   out.ID,
		ContentType: out.ContentType(),
		Headers:     headers,
		Body:        out.Body,
		Timestamp:   out.Timestamp,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish message to RabbitMQ", err)
	}
	return nil
}

// Health checks the connection by opening a channel
func (t *Transport) Health() error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	ch, err := t.pool.Open()
	if err != nil {
		return errors.ConnectionError("failed to open RabbitMQ channel for health check", err)
	}
	ch.Close()
	return nil
}

// Close leaves every room and closes all pooled connections
func (t *Transport) Close() error {
	if !t.MarkClosed() {
		return nil
	}

	t.mu.Lock()
	subs := make([]*base.Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Leave(context.Background())
	}
	t.pool.Close()
	return nil
}

func convertDelivery(room string, d amqp.Delivery) *transport.Message {
	headers := base.HeaderConverter{}.ToStringMap(map[string]interface{}(d.Headers))
	if d.ContentType != "" {
		headers[transport.HeaderContentType] = d.ContentType
	}
	return &transport.Message{
		Room:      room,
		ID:        d.MessageId,
		Headers:   headers,
		Body:      d.Body,
		Timestamp: d.Timestamp,
	}
}
