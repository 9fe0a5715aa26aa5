// Package redis provides a Redis pub/sub implementation of the transport
// interface. Each room is a channel; joining subscribes to it and sending
// publishes an envelope holding the message headers and body.
package redis

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

// Transport implements transport.Transport over Redis pub/sub
type Transport struct {
	*base.BaseTransport
	config *Config
	client *redis.Client

	mu   sync.Mutex
	subs map[*base.Subscription]struct{}
}

// NewTransport validates config and connects to Redis
func NewTransport(config *Config) (*Transport, error) {
	b, err := base.NewBaseTransport("redis", config)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}

	return &Transport{
		BaseTransport: b,
		config:        config,
		client:        client,
		subs:          make(map[*base.Subscription]struct{}),
	}, nil
}

func (t *Transport) channel(room string) string {
	return t.config.ChannelPrefix + room
}

// Join subscribes to the room's channel. It returns once Redis has
// confirmed the subscription, so sends made afterwards are received.
func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}

	ps := t.client.Subscribe(ctx, t.channel(room))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.ConnectionError("failed to subscribe to room "+room, err)
	}

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(context.Context) error {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		return ps.Close()
	})

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	ch := ps.Channel()
	sub.Pump(func() {
		for {
			select {
			case <-sub.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, err := base.DecodeEnvelope(room, []byte(m.Payload))
				if err != nil {
					t.Logger().Warn("Dropping malformed Redis message",
						logging.String("room", room),
						logging.Err(err),
					)
					continue
				}
				if !sub.Deliver(context.Background(), msg) {
					return
				}
			}
		}
	})

	t.Logger().Debug("Subscribed to Redis channel", logging.String("channel", t.channel(room)))
	return sub, nil
}

// Send publishes msg on the room's channel
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}

	payload, err := base.EncodeEnvelope(base.Stamp(room, msg))
	if err != nil {
		return errors.InternalError("failed to encode message", err)
	}

	if err := t.client.Publish(ctx, t.channel(room), payload).Err(); err != nil {
		if ctx.Err() != nil {
			return errors.TimeoutError("publish to " + room)
		}
		return errors.ConnectionError("failed to publish message to Redis", err)
	}
	return nil
}

// Health checks the health of the Redis connection by sending a PING command
func (t *Transport) Health() error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.config.Timeout)
	defer cancel()
	return t.client.Ping(ctx).Err()
}

// Close leaves every room and closes the Redis connection
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
	return t.client.Close()
}
