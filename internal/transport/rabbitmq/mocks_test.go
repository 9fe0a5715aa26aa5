package rabbitmq_test

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"roomgraph/internal/transport/rabbitmq"
)

// fakeExchange stands in for a RabbitMQ server: every queue subscribed to
// an exchange receives a copy of what is published to it
type fakeExchange struct {
	mu        sync.Mutex
	declared  map[string]int
	queues    map[string]map[int]chan amqp.Delivery
	published []amqp.Publishing
	seq       int
	closed    bool
	openErr   error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		declared: make(map[string]int),
		queues:   make(map[string]map[int]chan amqp.Delivery),
	}
}

func (f *fakeExchange) Open() (rabbitmq.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeChannel{server: f}, nil
}

func (f *fakeExchange) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeExchange) queueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, qs := range f.queues {
		n += len(qs)
	}
	return n
}

func (f *fakeExchange) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeChannel struct {
	server *fakeExchange
	owned  map[string][]int
	once   sync.Once
}

func (c *fakeChannel) DeclareRoom(exchange string) error {
	f := c.server
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared[exchange]++
	return nil
}

func (c *fakeChannel) Publish(exchange string, msg amqp.Publishing) error {
	f := c.server
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declared[exchange] == 0 {
		return fmt.Errorf("no exchange %s", exchange)
	}
	f.published = append(f.published, msg)
	for _, q := range f.queues[exchange] {
		q <- amqp.Delivery{
			Exchange:    exchange,
			MessageId:   msg.MessageId,
			ContentType: msg.ContentType,
			Headers:     msg.Headers,
			Body:        msg.Body,
			Timestamp:   msg.Timestamp,
		}
	}
	return nil
}

func (c *fakeChannel) Subscribe(exchange string) (<-chan amqp.Delivery, error) {
	f := c.server
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declared[exchange] == 0 {
		return nil, fmt.Errorf("no exchange %s", exchange)
	}
	f.seq++
	q := make(chan amqp.Delivery, 16)
	if f.queues[exchange] == nil {
		f.queues[exchange] = make(map[int]chan amqp.Delivery)
	}
	f.queues[exchange][f.seq] = q
	if c.owned == nil {
		c.owned = make(map[string][]int)
	}
	c.owned[exchange] = append(c.owned[exchange], f.seq)
	return q, nil
}

func (c *fakeChannel) Close() {
	c.once.Do(func() {
		f := c.server
		f.mu.Lock()
		defer f.mu.Unlock()
		for exchange, ids := range c.owned {
			for _, id := range ids {
				close(f.queues[exchange][id])
				delete(f.queues[exchange], id)
			}
		}
	})
}
