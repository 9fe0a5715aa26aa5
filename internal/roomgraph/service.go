// Package roomgraph distributes events between rooms.
//
// A Service runs sessions, each forwarding the events of a source room that
// match a rule into a destination room. Rooms are joined on demand and
// shared: every joined room has one Distributor, and every source room has
// one Counter holding the (destination, rule) pairs registered by the
// sessions reading from it. A room is left when the last session using it
// stops.
package roomgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/common/utils"
	"roomgraph/internal/common/validation"
	"roomgraph/internal/events"
	"roomgraph/internal/rules"
	"roomgraph/internal/transport"

	"golang.org/x/sync/errgroup"
)

// Config tunes a Service
type Config struct {
	// StartRetry governs retries of a whole session start
	StartRetry utils.RetryConfig

	Distributor DistributorConfig

	// LeaveTimeout bounds the teardown of a room
	LeaveTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	retry := utils.DefaultRetryConfig()
	retry.InitialDelay = 500 * time.Millisecond
	retry.MaxDelay = 10 * time.Second
	return Config{
		StartRetry: retry,
		Distributor: DistributorConfig{
			BatchSize:   64,
			SendTimeout: 5 * time.Second,
			StatsEvery:  100,
		},
		LeaveTimeout: 10 * time.Second,
	}
}

// Option customises a Service
type Option func(*Service)

func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

// Service owns the room pool, the per-source counters and the sessions
type Service struct {
	transport transport.Transport
	codec     events.Codec
	config    Config
	logger    logging.Logger
	observer  Observer

	ctx    context.Context
	cancel context.CancelFunc
	rooms  *Pool[*Room]

	srcsMu sync.Mutex
	srcs   map[string]*Counter

	sessionsMu sync.RWMutex
	sessions   map[string]*Session
	closed     bool
}

// RoomInfo describes a joined room
type RoomInfo struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	References   int       `json:"references"`
	Destinations int       `json:"destinations"`
	Seen         uint64    `json:"events_seen"`
	Forwarded    uint64    `json:"events_forwarded"`
	Failed       uint64    `json:"events_failed"`
	JoinedAt     time.Time `json:"joined_at,omitempty"`
}

func NewService(tr transport.Transport, codec events.Codec, config Config, opts ...Option) *Service {
	if config.LeaveTimeout <= 0 {
		config.LeaveTimeout = 10 * time.Second
	}
	if config.StartRetry.MaxAttempts <= 0 {
		config.StartRetry.MaxAttempts = 1
	}
	if codec == nil {
		codec = events.JSONCodec{}
	}

	s := &Service{
		transport: tr,
		codec:     codec,
		config:    config,
		logger:    logging.Component("roomgraph"),
		observer:  nopObserver{},
		srcs:      make(map[string]*Counter),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.rooms = NewPool[*Room](s.ctx, s.joinRoom, s.leaveRoom, s.logger)
	return s
}

func (s *Service) joinRoom(ctx context.Context, name string) (*Room, error) {
	sub, err := s.transport.Join(ctx, name)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to join room %s", name), err)
	}

	room := &Room{
		name:      name,
		sub:       sub,
		transport: s.transport,
		joinedAt:  time.Now(),
	}
	room.distributor = newDistributor(name, sub, s.codec, s.counter, s.rooms.Get,
		s.config.Distributor, s.observer, s.logger)
	room.distributor.Start()

	s.observer.RoomJoined(name)
	s.logger.Info("Joined room", logging.String("room", name))
	return room, nil
}

func (s *Service) leaveRoom(ctx context.Context, name string, room *Room) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.LeaveTimeout)
	defer cancel()

	err := room.close(ctx)
	s.observer.RoomLeft(name)
	s.logger.Info("Left room",
		logging.String("room", name),
		logging.Uint64("events_seen", room.distributor.Seen()),
	)
	return err
}

// counter returns the counter of a source room, or nil
func (s *Service) counter(room string) *Counter {
	s.srcsMu.Lock()
	defer s.srcsMu.Unlock()
	return s.srcs[room]
}

func (s *Service) register(req Request) {
	s.srcsMu.Lock()
	defer s.srcsMu.Unlock()

	counter, ok := s.srcs[req.Source]
	if !ok {
		counter = NewCounter()
		s.srcs[req.Source] = counter
	}
	counter.Increment(req.Destination, req.Rule)
}

func (s *Service) unregister(req Request) {
	s.srcsMu.Lock()
	defer s.srcsMu.Unlock()

	counter, ok := s.srcs[req.Source]
	if !ok {
		panic(errors.LifecycleError("no counter for source room " + req.Source))
	}
	counter.Decrement(req.Destination, req.Rule)
	if counter.IsEmpty() {
		delete(s.srcs, req.Source)
	}
}

func (s *Service) forget(session *Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, session.id)
	s.sessionsMu.Unlock()
	s.observer.SessionStopped(session.request.Source, session.request.Destination)
}

// Validate normalises a request, filling in the match-all rule
func (req *Request) Validate() error {
	if err := validation.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Rule == nil {
		req.Rule = rules.MatchAll()
	}
	return nil
}

// Start runs a new session. The whole setup is retried according to the
// start retry settings when rooms cannot be joined; a failed attempt leaves
// nothing behind.
func (s *Service) Start(ctx context.Context, req Request) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	retry := s.config.StartRetry
	retry.RetryableErrors = func(err error) bool {
		return errors.IsType(err, errors.ErrTypeConnection) || errors.IsType(err, errors.ErrTypeTimeout)
	}
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("Session start failed, retrying",
			logging.String("src_room", req.Source),
			logging.String("dst_room", req.Destination),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}

	var session *Session
	err := utils.RetryWithBackoff(ctx, retry, func() error {
		var err error
		session, err = s.startOnce(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) startOnce(ctx context.Context, req Request) (*Session, error) {
	s.sessionsMu.RLock()
	closed := s.closed
	s.sessionsMu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}

	id := utils.NewSessionID()
	session := &Session{
		id:        id,
		request:   req,
		service:   s,
		createdAt: time.Now(),
		state:     Starting,
		done:      make(chan struct{}),
		logger: s.logger.WithFields(
			logging.String("session_id", id),
			logging.String("src_room", req.Source),
			logging.String("dst_room", req.Destination),
			logging.String("rule", req.Rule.String()),
		),
	}

	s.register(req)

	var src, dst *Handle[*Room]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.rooms.Acquire(gctx, req.Source)
		src = h
		return err
	})
	g.Go(func() error {
		h, err := s.rooms.Acquire(gctx, req.Destination)
		dst = h
		return err
	})

	if err := g.Wait(); err != nil {
		s.unwind(req, src, dst)
		session.setState(Failed)
		if errors.IsType(err, errors.ErrTypeConnection) || err == ErrPoolClosed {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("session start cancelled: %w", ctx.Err())
		}
		return nil, errors.ConnectionError("failed to acquire rooms", err)
	}

	session.src, session.dst = src, dst

	s.sessionsMu.Lock()
	if s.closed {
		s.sessionsMu.Unlock()
		s.unwind(req, src, dst)
		session.setState(Failed)
		return nil, ErrServiceClosed
	}
	life, cancel := context.WithCancel(s.ctx)
	session.cancel = cancel
	s.sessions[id] = session
	s.sessionsMu.Unlock()

	session.setState(Running)
	go session.watch(life)

	s.observer.SessionStarted(req.Source, req.Destination)
	session.logger.Info("Session started")
	return session, nil
}

// unwind reverses a partial start in the opposite order
func (s *Service) unwind(req Request, src, dst *Handle[*Room]) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.LeaveTimeout)
	defer cancel()

	if dst != nil {
		dst.Release(ctx)
	}
	if src != nil {
		src.Release(ctx)
	}
	s.unregister(req)
}

// Stop stops the session with the given id
func (s *Service) Stop(ctx context.Context, id string) error {
	session, ok := s.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	return session.Stop(ctx)
}

// Session looks up a running session
func (s *Service) Session(id string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Sessions lists the running sessions ordered by creation time
func (s *Service) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Info())
	}
	s.sessionsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Rooms lists the rooms currently in the pool
func (s *Service) Rooms() []RoomInfo {
	entries := s.rooms.Entries()
	out := make([]RoomInfo, 0, len(entries))
	for _, e := range entries {
		info := RoomInfo{Name: e.Name, References: e.Refs, State: e.State.String()}
		if room, ok := s.rooms.Get(e.Name); ok {
			d := room.Distributor()
			info.State = d.State().String()
			info.Seen = d.Seen()
			info.Forwarded = d.Forwarded()
			info.Failed = d.Failed()
			info.JoinedAt = room.JoinedAt()
		}
		if c := s.counter(e.Name); c != nil {
			info.Destinations = len(c.Snapshot())
		}
		out = append(out, info)
	}
	return out
}

// Counter returns the rules registered for a source room, or nil
func (s *Service) Counter(room string) *Counter {
	return s.counter(room)
}

// Publish encodes e and sends it into room without joining it
func (s *Service) Publish(ctx context.Context, room string, e *events.Event) error {
	body, err := s.codec.Encode(e)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("failed to encode event: %v", err))
	}
	return s.transport.Send(ctx, room, &transport.Message{
		ID:        utils.NewMessageID(),
		Headers:   map[string]string{transport.HeaderContentType: s.codec.ContentType()},
		Body:      body,
		Timestamp: time.Now(),
	})
}

// Close stops every session and refuses new ones
func (s *Service) Close(ctx context.Context) error {
	s.sessionsMu.Lock()
	if s.closed {
		s.sessionsMu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessionsMu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(sessions))
	for _, session := range sessions {
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			if err := session.Stop(ctx); err != nil {
				errs <- err
			}
		}(session)
	}
	wg.Wait()
	close(errs)

	s.rooms.Close()
	s.cancel()

	if err, ok := <-errs; ok {
		return fmt.Errorf("failed to stop all sessions: %w", err)
	}
	return nil
}
