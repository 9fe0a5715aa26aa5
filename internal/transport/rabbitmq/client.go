package rabbitmq

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"roomgraph/internal/common/logging"
)

// ConnectionPool spreads channels over a fixed set of connections, taken
// round robin. A connection found closed is redialled in its slot.
type ConnectionPool struct {
	url    string
	dial   func(url string) (*amqp.Connection, error)
	logger logging.Logger

	mu     sync.Mutex
	conns  []*amqp.Connection
	next   int
	closed bool
}

func NewConnectionPool(url string, size int) (*ConnectionPool, error) {
	if size < 1 {
		size = 1
	}
	p := &ConnectionPool{
		url:    url,
		dial:   amqp.Dial,
		logger: logging.Component("rabbitmq_pool"),
		conns:  make([]*amqp.Connection, size),
	}
	for i := range p.conns {
		conn, err := p.dial(url)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
		}
		p.conns[i] = conn
	}
	return p, nil
}

func (p *ConnectionPool) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}

	slot := p.next
	p.next = (p.next + 1) % len(p.conns)
	if conn := p.conns[slot]; conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	p.logger.Warn("Redialling closed RabbitMQ connection", logging.Int("slot", slot))
	conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to redial RabbitMQ: %w", err)
	}
	p.conns[slot] = conn
	return conn, nil
}

// Open starts a channel on the next connection. Channels on one connection
// are independent, so a long-lived consumer shares it with publishers.
func (p *ConnectionPool) Open() (Channel, error) {
	conn, err := p.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &roomChannel{ch: ch}, nil
}

func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, conn := range p.conns {
		if conn != nil {
			conn.Close()
		}
	}
}

type roomChannel struct {
	ch *amqp.Channel
}

func (c *roomChannel) DeclareRoom(exchange string) error {
	return c.ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil)
}

func (c *roomChannel) Publish(exchange string, msg amqp.Publishing) error {
	return c.ch.Publish(exchange, "", false, false, msg)
}

func (c *roomChannel) Subscribe(exchange string) (<-chan amqp.Delivery, error) {
	queue, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue.Name, err)
	}
	deliveries, err := c.ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue %s: %w", queue.Name, err)
	}
	return deliveries, nil
}

func (c *roomChannel) Close() {
	c.ch.Close()
}
