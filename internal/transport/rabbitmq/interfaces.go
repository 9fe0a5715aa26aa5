package rabbitmq

import (
	"github.com/streadway/amqp"
)

// Channels opens AMQP channels. *ConnectionPool implements it; tests
// substitute an in-memory exchange.
type Channels interface {
	Open() (Channel, error)
	Close()
}

// Channel is what a room needs from an AMQP channel
type Channel interface {
	// DeclareRoom declares the durable fanout exchange of a room
	DeclareRoom(exchange string) error
	Publish(exchange string, msg amqp.Publishing) error
	// Subscribe binds a private auto-deleted queue to exchange and
	// consumes it. Closing the channel deletes the queue.
	Subscribe(exchange string) (<-chan amqp.Delivery, error)
	Close()
}

var (
	_ Channels = (*ConnectionPool)(nil)
	_ Channel  = (*roomChannel)(nil)
)
