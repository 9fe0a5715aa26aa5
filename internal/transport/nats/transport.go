// Package nats provides a core NATS implementation of the transport
// interface. Each room is a subject; message headers travel as NATS
// headers.
package nats

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/transport"
	"roomgraph/internal/transport/base"
)

const (
	headerMessageID = "Roomgraph-Id"
	headerTimestamp = "Roomgraph-Ts"
)

type Transport struct {
	*base.BaseTransport
	config *Config
	conn   *nats.Conn

	mu   sync.Mutex
	subs map[*base.Subscription]struct{}
}

func NewTransport(config *Config) (*Transport, error) {
	b, err := base.NewBaseTransport("nats", config)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		BaseTransport: b,
		config:        config,
		subs:          make(map[*base.Subscription]struct{}),
	}

	conn, err := nats.Connect(config.URL, t.connectionOptions()...)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to NATS", err)
	}
	t.conn = conn
	return t, nil
}

func (t *Transport) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(t.config.Name),
		nats.Timeout(t.config.Timeout),
		nats.MaxReconnects(t.config.MaxReconnects),
		nats.ReconnectWait(t.config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.Logger().Warn("Disconnected from NATS", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.Logger().Info("Reconnected to NATS", logging.String("url", c.ConnectedUrlRedacted()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			t.Logger().Error("NATS async error", err, logging.String("subject", subject))
		}),
	}

	if t.config.Username != "" && t.config.Password != "" {
		opts = append(opts, nats.UserInfo(t.config.Username, t.config.Password))
	}
	if t.config.Token != "" {
		opts = append(opts, nats.Token(t.config.Token))
	}
	return opts
}

// subject maps a room to a literal subject, replacing wildcard and
// whitespace characters
func subject(prefix, room string) string {
	return prefix + strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, room)
}

// Join subscribes to the room subject. The subscription is flushed to the
// server before Join returns.
func (t *Transport) Join(ctx context.Context, room string) (transport.Subscription, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}

	subj := subject(t.config.SubjectPrefix, room)
	ns, err := t.conn.SubscribeSync(subj)
	if err != nil {
		return nil, errors.ConnectionError("failed to subscribe to "+subj, err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = ns.Unsubscribe()
		return nil, errors.ConnectionError("failed to flush subscription to "+subj, err)
	}

	var sub *base.Subscription
	sub = base.NewSubscription(room, t.config.Buffer, func(context.Context) error {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		if err := ns.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			return err
		}
		return nil
	})

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.Pump(func() {
		for {
			select {
			case <-sub.Done():
				return
			default:
			}

			m, err := ns.NextMsg(t.config.PollInterval)
			switch {
			case err == nats.ErrTimeout:
				continue
			case err != nil:
				if ns.IsValid() {
					t.Logger().Warn("NATS receive failed", logging.String("subject", subj), logging.Err(err))
					continue
				}
				return
			}
			if !sub.Deliver(context.Background(), fromNatsMsg(room, m)) {
				return
			}
		}
	})

	t.Logger().Debug("Subscribed to NATS subject", logging.String("subject", subj))
	return sub, nil
}

// Send publishes msg on the room subject
func (t *Transport) Send(ctx context.Context, room string, msg *transport.Message) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.TimeoutError("publish to " + room)
	}

	if err := t.conn.PublishMsg(toNatsMsg(subject(t.config.SubjectPrefix, room), base.Stamp(room, msg))); err != nil {
		return errors.ConnectionError("failed to publish message to NATS", err)
	}
	return nil
}

func (t *Transport) Health() error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if !t.conn.IsConnected() {
		return errors.ConnectionError("not connected to NATS: "+t.conn.Status().String(), nil)
	}
	return nil
}

// Close leaves every room and drains the connection
func (t *Transport) Close() error {
	if !t.MarkClosed() {
		return nil
	}

	t.mu.Lock()
	subs := make([]*base.Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Leave(context.Background())
	}
	t.conn.Close()
	return nil
}

func toNatsMsg(subj string, msg *transport.Message) *nats.Msg {
	m := nats.NewMsg(subj)
	for k, v := range msg.Headers {
		m.Header[k] = []string{v}
	}
	m.Header[headerMessageID] = []string{msg.ID}
	m.Header[headerTimestamp] = []string{msg.Timestamp.UTC().Format(time.RFC3339Nano)}
	m.Data = msg.Body
	return m
}

func fromNatsMsg(room string, m *nats.Msg) *transport.Message {
	headers := make(map[string]string, len(m.Header))
	for k, v := range m.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	out := &transport.Message{
		Room:      room,
		ID:        headers[headerMessageID],
		Headers:   headers,
		Body:      m.Data,
		Timestamp: time.Now(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, headers[headerTimestamp]); err == nil {
		out.Timestamp = ts
	}
	delete(headers, headerMessageID)
	delete(headers, headerTimestamp)
	return out
}
