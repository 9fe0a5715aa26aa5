// Package kafka provides a Kafka implementation of the transport interface.
// Each room maps to a topic. Every join consumes with a consumer group of
// its own starting at the latest offset, so each member sees every message
// sent after it joined.
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/utils"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

type Transport struct {
	*base.BaseTransport
	config   *Config
	producer *kafka.Producer

	mu   sync.Mutex
	subs map[*base.Subscription]struct{}
}

func NewTransport(config *Config) (*Transport, error) {
	b, err := base.NewBaseTransport("kafka", config)
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(configMap(config, kafka.ConfigMap{
		"client.id": config.ClientID,
	}))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}

	t := &Transport{
		BaseTransport: b,
		config:        config,
		producer:      producer,
		subs:          make(map[*base.Subscription]struct{}),
	}
	go t.logProducerEvents()
	return t, nil
}

// configMap builds the client configuration shared by producer and consumers
func configMap(config *Config, extra kafka.ConfigMap) *kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(config.Brokers, ","),
	}

	// Add security configuration
	if config.SecurityProtocol != "PLAINTEXT" {
		m["security.protocol"] = config.SecurityProtocol
	}

	if config.usesSASL() {
		m["sasl.mechanism"] = config.SASLMechanism
		m["sasl.username"] = config.SASLUsername
		m["sasl.password"] = config.SASLPassword
	}

	for k, v := range extra {
		m[k] = v
	}
	return &m
}

// topicName maps a room onto the characters Kafka accepts in topic names
func topicName(prefix, room string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (t *Transport) logProducerEvents() {
	for e := range t.producer.Events() {
		if err, ok := e.(kafka.Error); ok {
			t.Logger().Warn("Kafka producer error", logging.Err(err))
		}
	}
}

// Join starts a consumer with a fresh group on the room topic
func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topic := topicName(t.config.TopicPrefix, room)
	consumer, err := kafka.NewConsumer(configMap(t.config, kafka.ConfigMap{
		"client.id":                t.config.ClientID + "-consumer",
		"group.id":                 t.config.GroupPrefix + "-" + utils.NewSessionID(),
		"session.timeout.ms":       6000,
		"auto.offset.reset":        "latest",
		"enable.auto.commit":       false,
		"allow.auto.create.topics": true,
	}))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka consumer", err)
	}

	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return nil, errors.ConnectionError("failed to subscribe to topic "+topic, err)
	}

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(context.Context) error {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		return nil
	})

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	// The consumer is only touched from the pump goroutine
	sub.Pump(func() {
		defer consumer.Close()
		for {
			select {
			case <-sub.Done():
				return
			default:
			}

			msg, err := consumer.ReadMessage(t.config.PollInterval)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				t.Logger().Warn("Kafka consumer error", logging.String("topic", topic), logging.Err(err))
				continue
			}
			if !sub.Deliver(context.Background(), fromKafkaMessage(room, msg)) {
				return
			}
		}
	})

	t.Logger().Debug("Consuming Kafka topic", logging.String("topic", topic))
	return sub, nil
}

// Send produces msg to the room topic and waits for the delivery report
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}

	out := base.Stamp(room, msg)
	topic := topicName(t.config.TopicPrefix, room)
	kmsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(out.ID),
		Value:          out.Body,
		Timestamp:      out.Timestamp,
		Headers:        toKafkaHeaders(out.Headers),
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := t.producer.Produce(kmsg, deliveryChan); err != nil {
		return errors.ConnectionError("failed to produce message", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return errors.InternalError("unexpected Kafka delivery event", nil)
		}
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("delivery failed", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("produce to " + topic)
	}
}

func (t *Transport) Health() error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if _, err := t.producer.GetMetadata(nil, false, int(5*time.Second/time.Millisecond)); err != nil {
		return errors.ConnectionError("Kafka metadata request failed", err)
	}
	return nil
}

// Close stops every consumer and flushes the producer
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

	t.producer.Flush(int(t.config.Timeout / time.Millisecond))
	t.producer.Close()
	return nil
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for key, value := range headers {
		out = append(out, kafka.Header{Key: key, Value: []byte(value)})
	}
	return out
}

func fromKafkaMessage(room string, msg *kafka.Message) *transport.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &transport.Message{
		Room:      room,
		ID:        string(msg.Key),
		Headers:   headers,
		Body:      msg.Value,
		Timestamp: msg.Timestamp,
	}
}
