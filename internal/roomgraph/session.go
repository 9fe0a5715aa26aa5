package roomgraph

import (
	"context"
	"sync"
	"time"

	"roomgraph/internal/common/logging"
	"roomgraph/internal/rules"
)

// SessionState is the lifecycle position of a session
type SessionState int32

const (
	Starting SessionState = iota
	Running
	Stopping
	Stopped
	Failed
)

func (s SessionState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request asks for events of Source matching Rule to be forwarded to
// Destination. A nil Rule forwards everything.
type Request struct {
	Source      string            `json:"src_room" yaml:"src_room" validate:"required,room_name"`
	Destination string            `json:"dst_room" yaml:"dst_room" validate:"required,room_name,nefield=Source"`
	Rule        *rules.Rule       `json:"rule,omitempty" yaml:"rule,omitempty"`
	Options     map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Session is one running roomgraph directive. It holds a counter
// registration and a reference on both rooms until stopped.
type Session struct {
	id        string
	request   Request
	service   *Service
	createdAt time.Time
	logger    logging.Logger

	mu    sync.Mutex
	state SessionState
	src   *Handle[*Room]
	dst   *Handle[*Room]

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// SessionInfo is a read-only view of a session
type SessionInfo struct {
	ID          string            `json:"id"`
	Source      string            `json:"src_room"`
	Destination string            `json:"dst_room"`
	Rule        string            `json:"rule"`
	Options     map[string]string `json:"options,omitempty"`
	State       string            `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (s *Session) ID() string { return s.id }

// Request returns the directive the session runs; Rule is never nil
func (s *Session) Request() Request { return s.request }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has stopped
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Source:      s.request.Source,
		Destination: s.request.Destination,
		Rule:        s.request.Rule.String(),
		Options:     s.request.Options,
		State:       s.State().String(),
		CreatedAt:   s.createdAt,
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Stop tears the session down. Only the first call does the work; every
// call waits until the session is stopped or ctx ends.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.teardown(ctx) })

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch stops the session when its lifetime context ends
func (s *Session) watch(life context.Context) {
	<-life.Done()
	_ = s.Stop(context.Background())
}

func (s *Session) teardown(ctx context.Context) {
	s.setState(Stopping)
	s.logger.Info("Stopping session")
	if s.cancel != nil {
		s.cancel()
	}

	// Stop forwarding before letting go of the rooms
	s.service.unregister(s.request)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.service.config.LeaveTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, h := range []*Handle[*Room]{s.src, s.dst} {
		wg.Add(1)
		go func(h *Handle[*Room]) {
			defer wg.Done()
			h.Release(ctx)
		}(h)
	}
	wg.Wait()

	s.service.forget(s)
	s.setState(Stopped)
	s.logger.Info("Session stopped")
	close(s.done)
}
