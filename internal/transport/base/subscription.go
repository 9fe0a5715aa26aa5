package base

import (
	"context"
	"sync"

	"roomgraph/internal/transport"
)

// DefaultBuffer is the message channel capacity used when none is configured
const DefaultBuffer = 256

// Subscription implements transport.Subscription.
//
// Messages enter either through a pump goroutine started with Pump, which
// owns the channel and closes it on exit, or through direct Deliver calls.
// Leave waits for in-flight direct Delivers before closing the channel, so
// Deliver may race Leave from any goroutine.
type Subscription struct {
	room     string
	messages chan *transport.Message
	done     chan struct{}
	stopped  chan struct{}
	cleanup  func(ctx context.Context) error

	// sending is read-held by Deliver and write-held while the channel closes
	sending sync.RWMutex

	mu       sync.Mutex
	pumped   bool
	leaveErr error
	leaving  sync.Once
}

// NewSubscription creates a subscription for room. cleanup runs once on
// Leave, after Done is closed.
func NewSubscription(room string, buffer int, cleanup func(ctx context.Context) error) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{
		room:     room,
		messages: make(chan *transport.Message, buffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		cleanup:  cleanup,
	}
}

func (s *Subscription) Room() string { return s.room }

func (s *Subscription) Messages() <-chan *transport.Message { return s.messages }

// Done is closed when Leave starts
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Pump runs produce in its own goroutine. produce must return once Done is
// closed or its source is exhausted; the message channel is closed after it
// returns.
func (s *Subscription) Pump(produce func()) {
	s.mu.Lock()
	s.pumped = true
	s.mu.Unlock()

	go func() {
		defer close(s.stopped)
		defer close(s.messages)
		produce()
	}()
}

// Deliver queues msg, blocking while the buffer is full. It returns false
// if the subscription is being left or ctx ends first.
func (s *Subscription) Deliver(ctx context.Context, msg *transport.Message) bool {
	s.sending.RLock()
	defer s.sending.RUnlock()

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.messages <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Leave ends the membership. Only the first call does work; later calls
// return its result.
func (s *Subscription) Leave(ctx context.Context) error {
	s.leaving.Do(func() {
		close(s.done)

		var err error
		if s.cleanup != nil {
			err = s.cleanup(ctx)
		}

		s.mu.Lock()
		pumped := s.pumped
		s.mu.Unlock()

		if pumped {
			select {
			case <-s.stopped:
			case <-ctx.Done():
				if err == nil {
					err = ctx.Err()
				}
			}
		} else {
			s.sending.Lock()
			close(s.messages)
			s.sending.Unlock()
		}
		s.leaveErr = err
	})
	return s.leaveErr
}
