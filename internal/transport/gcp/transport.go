// Package gcp provides a Google Cloud Pub/Sub implementation of the
// transport interface. Each room is a topic, created on first use. Every
// join creates a subscription of its own, deleted again when the room is
// left, so each member receives every message published after it joined.
package gcp

import (
	"context"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/utils"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

// Attributes carrying message fields Pub/Sub has no slot for
const (
	attrMessageID = "roomgraph-id"
	attrTimestamp = "roomgraph-ts"
)

// orphanExpiry lets Pub/Sub drop subscriptions of members that died
// without leaving. One day is the shortest expiry Pub/Sub accepts.
const orphanExpiry = 24 * time.Hour

type Transport struct {
	*base.BaseTransport
	config *Config
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[*base.Subscription]struct{}
}

// NewTransport connects to Pub/Sub with credentials from the config, or
// application default credentials when none are set
func NewTransport(config *Config, opts ...option.ClientOption) (*Transport, error) {
	b, err := base.NewBaseTransport("gcp", config)
	if err != nil {
		return nil, err
	}

	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	} else if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Pub/Sub client", err)
	}

	return &Transport{
		BaseTransport: b,
		config:        config,
		client:        client,
		topics:        make(map[string]*pubsub.Topic),
		subs:          make(map[*base.Subscription]struct{}),
	}, nil
}

// resourceID maps a room onto the characters Pub/Sub accepts in resource names
func resourceID(prefix, room string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-', r == '~', r == '+':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// topic returns the room topic, creating it on first use
func (t *Transport) topic(ctx context.Context, room string) (*pubsub.Topic, error) {
	id := resourceID(t.config.TopicPrefix, room)

	t.mu.Lock()
	topic, ok := t.topics[id]
	t.mu.Unlock()
	if ok {
		return topic, nil
	}

	topic = t.client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to check topic existence", err)
	}
	if !exists {
		created, err := t.client.CreateTopic(ctx, id)
		switch {
		case err == nil:
			topic = created
			t.Logger().Info("Created Pub/Sub topic", logging.String("topic_id", id))
		case status.Code(err) == codes.AlreadyExists:
		default:
			return nil, errors.ConnectionError("failed to create topic "+id, err)
		}
	}

	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.DelayThreshold = time.Millisecond

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.topics[id]; ok {
		topic.Stop()
		return existing, nil
	}
	t.topics[id] = topic
	return topic, nil
}

// Join creates a private subscription on the room topic
func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}

	topic, err := t.topic(ctx, room)
	if err != nil {
		return nil, err
	}

	subID := resourceID(t.config.SubscriptionPrefix, room) + "-" + utils.NewMessageID()
	ps, err := t.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:            topic,
		AckDeadline:      time.Duration(t.config.AckDeadline) * time.Second,
		ExpirationPolicy: orphanExpiry,
	})
	if err != nil {
		return nil, errors.ConnectionError("failed to create subscription", err)
	}
	ps.ReceiveSettings.MaxOutstandingMessages = t.config.MaxOutstandingMessages
	ps.ReceiveSettings.NumGoroutines = 1

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(ctx context.Context) error {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		if err := ps.Delete(ctx); err != nil {
			return errors.ConnectionError("failed to delete subscription "+subID, err)
		}
		return nil
	})

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.Pump(func() {
		rctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-sub.Done():
				cancel()
			case <-rctx.Done():
			}
		}()

		err := ps.Receive(rctx, func(ctx context.Context, m *pubsub.Message) {
			m.Ack()
			sub.Deliver(ctx, fromPubsubMessage(room, m))
		})
		if err != nil && rctx.Err() == nil {
			t.Logger().Error("Pub/Sub receive failed", err, logging.String("subscription_id", subID))
		}
	})

	t.Logger().Debug("Created Pub/Sub subscription", logging.String("subscription_id", subID))
	return sub, nil
}

// Send publishes msg to the room topic and waits for the server ack
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}

	topic, err := t.topic(ctx, room)
	if err != nil {
		return err
	}

	result := topic.Publish(ctx, toPubsubMessage(base.Stamp(room, msg)))
	if _, err := result.Get(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.TimeoutError("publish to " + room)
		}
		return errors.ConnectionError("failed to publish message", err)
	}
	return nil
}

// Health lists topics to check the API is reachable
func (t *Transport) Health() error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := t.client.Topics(ctx).Next(); err != nil && err != iterator.Done {
		return errors.ConnectionError("Pub/Sub is unreachable", err)
	}
	return nil
}

// Close deletes the subscriptions of all members and closes the client
func (t *Transport) Close() error {
	if !t.MarkClosed() {
		return nil
	}

	t.mu.Lock()
	subs := make([]*base.Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	topics := make([]*pubsub.Topic, 0, len(t.topics))
	for _, topic := range t.topics {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.Timeout)
	defer cancel()
	for _, sub := range subs {
		if err := sub.Leave(ctx); err != nil {
			t.Logger().Warn("Failed to leave room on close", logging.String("room", sub.Room()), logging.Err(err))
		}
	}
	for _, topic := range topics {
		topic.Stop()
	}
	return t.client.Close()
}

func toPubsubMessage(msg *transport.Message) *pubsub.Message {
	attrs := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		attrs[k] = v
	}
	attrs[attrMessageID] = msg.ID
	attrs[attrTimestamp] = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	return &pubsub.Message{Data: msg.Body, Attributes: attrs}
}

func fromPubsubMessage(room string, m *pubsub.Message) *transport.Message {
	headers := make(map[string]string, len(m.Attributes))
	for k, v := range m.Attributes {
		headers[k] = v
	}

	id := headers[attrMessageID]
	if id == "" {
		id = m.ID
	}
	delete(headers, attrMessageID)

	ts := m.PublishTime
	if parsed, err := time.Parse(time.RFC3339Nano, headers[attrTimestamp]); err == nil {
		ts = parsed
	}
	delete(headers, attrTimestamp)

	return &transport.Message{
		Room:      room,
		ID:        id,
		Headers:   headers,
		Body:      m.Data,
		Timestamp: ts,
	}
}
