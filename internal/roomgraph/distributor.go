package roomgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/events"
	"roomgraph/internal/transport"
)

// DistributorState is the lifecycle position of a distributor
type DistributorState int32

const (
	Joining DistributorState = iota
	Active
	Leaving
	Closed
)

func (s DistributorState) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// DistributorConfig tunes a distributor
type DistributorConfig struct {
	// BatchSize caps how many queued messages share one counter snapshot
	BatchSize int
	// SendTimeout bounds each forward
	SendTimeout time.Duration
	// StatsEvery logs a progress line every that many events; 0 disables it
	StatsEvery int
}

// Distributor consumes one room and forwards each event to the destinations
// registered for that room. Per destination only the first matching rule
// forwards, so an event reaches each destination at most once.
type Distributor struct {
	room     string
	sub      transport.Subscription
	codec    events.Codec
	counter  func(room string) *Counter
	lookup   func(room string) (*Room, bool)
	config   DistributorConfig
	observer Observer
	logger   logging.Logger

	state     atomic.Int32
	seen      atomic.Uint64
	forwarded atomic.Uint64
	failed    atomic.Uint64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newDistributor(
	room string,
	sub transport.Subscription,
	codec events.Codec,
	counter func(string) *Counter,
	lookup func(string) (*Room, bool),
	config DistributorConfig,
	observer Observer,
	logger logging.Logger,
) *Distributor {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Distributor{
		room:     room,
		sub:      sub,
		codec:    codec,
		counter:  counter,
		lookup:   lookup,
		config:   config,
		observer: observer,
		logger:   logger.WithFields(logging.String("room", room)),
		done:     make(chan struct{}),
	}
}

func (d *Distributor) Room() string { return d.room }

func (d *Distributor) State() DistributorState { return DistributorState(d.state.Load()) }

// Seen returns the number of events consumed so far
func (d *Distributor) Seen() uint64 { return d.seen.Load() }

// Forwarded returns the number of successful forwards
func (d *Distributor) Forwarded() uint64 { return d.forwarded.Load() }

// Failed returns the number of forwards that were dropped
func (d *Distributor) Failed() uint64 { return d.failed.Load() }

// Start begins consuming the subscription
func (d *Distributor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.state.Store(int32(Active))
	go d.run(ctx)
}

// Stop ends consumption after the batch in progress and waits for it, or
// for ctx to end.
func (d *Distributor) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		d.state.Store(int32(Leaving))
		if d.cancel != nil {
			d.cancel()
		} else {
			close(d.done)
		}
	})
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("Gave up waiting for distributor to finish its batch")
	}
}

func (d *Distributor) markClosed() {
	d.state.Store(int32(Closed))
}

func (d *Distributor) run(ctx context.Context) {
	defer close(d.done)

	messages := d.sub.Messages()
	batch := make([]*transport.Message, 0, d.config.BatchSize)

	for {
		batch = batch[:0]

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() == nil {
					d.logger.Warn("Room subscription ended")
				}
				return
			}
			batch = append(batch, msg)
		}

	drain:
		for len(batch) < d.config.BatchSize {
			select {
			case msg, ok := <-messages:
				if !ok {
					break drain
				}
				batch = append(batch, msg)
			default:
				break drain
			}
		}

		d.distribute(batch)
	}
}

// distribute forwards a batch against a single snapshot of the counter
func (d *Distributor) distribute(batch []*transport.Message) {
	destinations := d.counter(d.room).Snapshot()

	for _, msg := range batch {
		event, err := events.CodecFor(msg.ContentType(), d.codec).Decode(msg.Body)
		if err != nil {
			d.observer.DecodeFailed(d.room)
			d.logger.Warn("Dropping undecodable message",
				logging.String("message_id", msg.ID),
				logging.Err(err),
			)
			continue
		}

		seen := d.seen.Add(1)
		d.observer.EventSeen(d.room)
		if every := uint64(d.config.StatsEvery); every > 0 && seen%every == 0 {
			d.logger.Info("Seen events in room", logging.Uint64("count", seen))
		}

		for _, dst := range destinations {
			for _, rule := range dst.Rules {
				if !rule.Match(event) {
					continue
				}
				d.forward(dst.Room, msg)
				break
			}
		}
	}
}

func (d *Distributor) forward(dst string, msg *transport.Message) {
	room, ok := d.lookup(dst)
	if !ok {
		d.failed.Add(1)
		d.observer.ForwardFailed(d.room, dst, ReasonNotJoined)
		d.logger.Warn("Destination room not joined, dropping event", logging.String("destination", dst))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
	defer cancel()

	if err := room.Forward(ctx, msg, d.room); err != nil {
		reason := ReasonSend
		if ctx.Err() != nil || errors.IsType(err, errors.ErrTypeTimeout) {
			reason = ReasonTimeout
		}
		d.failed.Add(1)
		d.observer.ForwardFailed(d.room, dst, reason)
		d.logger.Warn("Failed to forward event",
			logging.String("destination", dst),
			logging.String("reason", reason),
			logging.Err(err),
		)
		return
	}

	d.forwarded.Add(1)
	d.observer.EventForwarded(d.room, dst)
}
