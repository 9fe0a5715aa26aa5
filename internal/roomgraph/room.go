package roomgraph

import (
	"context"
	"time"

	"roomgraph/internal/transport"
)

// Room is a joined room: the transport subscription and the distributor
// consuming it. Rooms are shared through the service's pool.
type Room struct {
	name        string
	sub         transport.Subscription
	transport   transport.Transport
	distributor *Distributor
	joinedAt    time.Time
}

func (r *Room) Name() string { return r.name }

func (r *Room) JoinedAt() time.Time { return r.joinedAt }

// Distributor returns the distributor consuming the room
func (r *Room) Distributor() *Distributor { return r.distributor }

// Forward sends msg into the room, stamping origin as the forwarding source
func (r *Room) Forward(ctx context.Context, msg *transport.Message, origin string) error {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[transport.HeaderOrigin] = origin

	return r.transport.Send(ctx, r.name, &transport.Message{
		Headers:   headers,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	})
}

// close stops the distributor, finishing its current batch, and then
// leaves the room.
func (r *Room) close(ctx context.Context) error {
	r.distributor.Stop(ctx)
	err := r.sub.Leave(ctx)
	r.distributor.markClosed()
	return err
}
