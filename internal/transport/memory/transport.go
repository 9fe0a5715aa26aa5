// Package memory is an in-process transport. Rooms exist while someone is
// joined; a send reaches every subscription of the room at that moment.
package memory

import (
	"context"
	"sync"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

type Transport struct {
	*base.BaseTransport
	config *Config

	mu    sync.RWMutex
	rooms map[string]map[*base.Subscription]struct{}
}

func NewTransport(config *Config) (*Transport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	b, err := base.NewBaseTransport("memory", config)
	if err != nil {
		return nil, err
	}
	return &Transport{
		BaseTransport: b,
		config:        config,
		rooms:         make(map[string]map[*base.Subscription]struct{}),
	}, nil
}

func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(context.Context) error {
		t.remove(room, sub)
		return nil
	})

	t.mu.Lock()
	members, ok := t.rooms[room]
	if !ok {
		members = make(map[*base.Subscription]struct{})
		t.rooms[room] = members
	}
	members[sub] = struct{}{}
	t.mu.Unlock()

	t.Logger().Debug("Joined room", logging.String("room", room))
	return sub, nil
}

// remove waits for in-flight sends to observe the closed subscription
func (t *Transport) remove(room string, sub *base.Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.rooms[room]
	delete(members, sub)
	if len(members) == 0 {
		delete(t.rooms, room)
	}
}

// Send delivers msg to every member of room, blocking while a member's
// queue is full. Sending to a room nobody has joined drops the message.
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}

	out := base.Stamp(room, msg)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for sub := range t.rooms[room] {
		delivered := *out
		if !sub.Deliver(ctx, &delivered) {
			if err := ctx.Err(); err != nil {
				return errors.TimeoutError("send to " + room)
			}
		}
	}
	return nil
}

// Members returns the number of live subscriptions of room
func (t *Transport) Members(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}

func (t *Transport) Health() error {
	return t.CheckOpen()
}

// Close ends every subscription
func (t *Transport) Close() error {
	if !t.MarkClosed() {
		return nil
	}

	t.mu.RLock()
	var subs []*base.Subscription
	for _, members := range t.rooms {
		for sub := range members {
			subs = append(subs, sub)
		}
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.Leave(context.Background())
	}
	return nil
}
