// Package transport defines how roomgraph reaches rooms: joining a room
// yields a Subscription delivering every message sent to it, and Send
// publishes into a room. Implementations live in the subpackages.
package transport

import (
	"context"
	"time"
)

// Transport joins rooms and sends messages into them. A message sent to a
// room is delivered to every live subscription of that room, including
// subscriptions held by the sender.
type Transport interface {
	Name() string
	Join(ctx context.Context, room string) (Subscription, error)
	Send(ctx context.Context, room string, msg *Message) error
	Health() error
	Close() error
}

// Subscription is one membership of a room. Messages is closed after Leave
// returns or when the transport drops the membership.
type Subscription interface {
	Room() string
	Messages() <-chan *Message
	Leave(ctx context.Context) error
}

// Config is implemented by every transport's configuration
type Config interface {
	Validate() error
	GetConnectionString() string
	GetType() string
}

// Factory builds a transport from its configuration
type Factory interface {
	Create(config Config) (Transport, error)
	GetType() string
}

// Message is a payload travelling through a room
type Message struct {
	Room      string
	ID        string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

// HeaderContentType names the codec used for Body
const HeaderContentType = "content-type"

// HeaderOrigin carries the source room a roomgraph session forwarded the message from
const HeaderOrigin = "x-roomgraph-origin"

// ContentType returns the content type header, if any
func (m *Message) ContentType() string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[HeaderContentType]
}
