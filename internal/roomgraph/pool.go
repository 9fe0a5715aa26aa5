package roomgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
)

// JoinFunc creates the shared value for name
type JoinFunc[T any] func(ctx context.Context, name string) (T, error)

// LeaveFunc tears down a value created by JoinFunc
type LeaveFunc[T any] func(ctx context.Context, name string, value T) error

// EntryState is the lifecycle position of a pool entry
type EntryState int

const (
	EntryJoining EntryState = iota
	EntryActive
	EntryLeaving
)

func (s EntryState) String() string {
	switch s {
	case EntryJoining:
		return "joining"
	case EntryActive:
		return "active"
	case EntryLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

type poolEntry[T any] struct {
	name  string
	refs  int
	ready chan struct{}
	value T
	err   error

	// closing is set when the last reference is gone and closed once the
	// entry has been torn down.
	closing chan struct{}
}

// Pool shares one joined value per name between any number of holders.
//
// The first Acquire of a name runs the join; concurrent Acquires wait for
// the same join. When the last Handle is released the value is torn down,
// and an Acquire arriving during teardown waits for it to finish and then
// joins again. A failed join is reported to every waiter and forgotten.
type Pool[T any] struct {
	join  JoinFunc[T]
	leave LeaveFunc[T]

	// joins run under ctx so that a waiter giving up does not abort a
	// join other waiters share.
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry[T]
	closed  bool
}

// EntryInfo describes a pool entry
type EntryInfo struct {
	Name  string
	Refs  int
	State EntryState
}

// NewPool creates a pool. Joins run under a context derived from ctx.
func NewPool[T any](ctx context.Context, join JoinFunc[T], leave LeaveFunc[T], logger logging.Logger) *Pool[T] {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool[T]{
		join:    join,
		leave:   leave,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		entries: make(map[string]*poolEntry[T]),
	}
}

// Handle is one reference to a pooled value. Release it exactly once.
type Handle[T any] struct {
	pool     *Pool[T]
	entry    *poolEntry[T]
	released atomic.Bool
}

func (h *Handle[T]) Name() string { return h.entry.name }

func (h *Handle[T]) Value() T { return h.entry.value }

// Release drops the reference. Releasing the last reference tears the value
// down before returning. A second Release panics with a lifecycle error.
func (h *Handle[T]) Release(ctx context.Context) {
	if !h.released.CompareAndSwap(false, true) {
		panic(errors.LifecycleError(fmt.Sprintf("handle for %s released twice", h.entry.name)))
	}
	h.pool.release(ctx, h.entry)
}

// Acquire returns a handle for name, joining it if nobody holds it. If ctx
// ends while the join is in flight the caller's reference is dropped and
// ctx.Err() returned; the join itself carries on for other waiters.
func (p *Pool[T]) Acquire(ctx context.Context, name string) (*Handle[T], error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		e := p.entries[name]
		if e != nil && e.closing != nil {
			closing := e.closing
			p.mu.Unlock()

			select {
			case <-closing:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if e == nil {
			e = &poolEntry[T]{name: name, ready: make(chan struct{})}
			p.entries[name] = e
			go p.runJoin(e)
		}
		e.refs++
		p.mu.Unlock()

		select {
		case <-e.ready:
			if e.err != nil {
				return nil, e.err
			}
			return &Handle[T]{pool: p, entry: e}, nil

		case <-ctx.Done():
			go p.release(context.Background(), e)
			return nil, ctx.Err()
		}
	}
}

func (p *Pool[T]) runJoin(e *poolEntry[T]) {
	value, err := p.join(p.ctx, e.name)

	p.mu.Lock()
	defer p.mu.Unlock()

	e.value, e.err = value, err
	if err != nil && p.entries[e.name] == e && e.closing == nil {
		delete(p.entries, e.name)
	}
	close(e.ready)
}

func (p *Pool[T]) release(ctx context.Context, e *poolEntry[T]) {
	p.mu.Lock()
	e.refs--
	if e.refs < 0 {
		p.mu.Unlock()
		panic(errors.LifecycleError(fmt.Sprintf("reference count of %s below zero", e.name)))
	}
	if e.refs > 0 {
		p.mu.Unlock()
		return
	}
	e.closing = make(chan struct{})
	p.mu.Unlock()

	<-e.ready
	if e.err == nil && p.leave != nil {
		if err := p.leave(ctx, e.name, e.value); err != nil {
			p.logger.Warn("Failed to leave cleanly",
				logging.String("room", e.name),
				logging.Err(err),
			)
		}
	}

	p.mu.Lock()
	if p.entries[e.name] == e {
		delete(p.entries, e.name)
	}
	close(e.closing)
	p.mu.Unlock()
}

// Get returns the value for name if it is joined and not being torn down.
// It does not take a reference.
func (p *Pool[T]) Get(name string) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	e, ok := p.entries[name]
	if !ok || e.closing != nil {
		return zero, false
	}
	select {
	case <-e.ready:
		if e.err != nil {
			return zero, false
		}
		return e.value, true
	default:
		return zero, false
	}
}

// Refs returns the number of references held on name
func (p *Pool[T]) Refs(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		return e.refs
	}
	return 0
}

// Entries lists the pool's entries sorted by name
func (p *Pool[T]) Entries() []EntryInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EntryInfo, 0, len(p.entries))
	for _, e := range p.entries {
		state := EntryJoining
		switch {
		case e.closing != nil:
			state = EntryLeaving
		case isClosed(e.ready):
			state = EntryActive
		}
		out = append(out, EntryInfo{Name: e.name, Refs: e.refs, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close refuses further acquires and cancels joins still in flight.
// Outstanding handles stay valid and must still be released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
