// Package dshield polls the DShield per-AS reports and publishes every
// reported address as an event into a room.
package dshield

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"roomgraph/internal/circuitbreaker"
	"roomgraph/internal/common/errors"
	httpclient "roomgraph/internal/common/http"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/events"
	"roomgraph/internal/locks"
)

// FeedName labels the feed in logs and metrics
const FeedName = "dshield"

// PollLockKey is held while a poll runs so that only one instance polls
const PollLockKey = "dshield:poll"

// Publisher sends events into rooms
type Publisher interface {
	Publish(ctx context.Context, room string, e *events.Event) error
}

// Recorder receives fetch outcomes; metrics.Metrics implements it
type Recorder interface {
	FeedFetched(feed, result string)
	FeedPublished(feed string, n int)
}

type nopRecorder struct{}

func (nopRecorder) FeedFetched(string, string) {}
func (nopRecorder) FeedPublished(string, int)  {}

type Option func(*Feed)

func WithLogger(logger logging.Logger) Option {
	return func(f *Feed) { f.logger = logger }
}

func WithRecorder(recorder Recorder) Option {
	return func(f *Feed) { f.recorder = recorder }
}

// WithHTTPClient replaces the client built from the config
func WithHTTPClient(client *httpclient.Client) Option {
	return func(f *Feed) { f.client = client }
}

func WithBreaker(breaker *circuitbreaker.Breaker) Option {
	return func(f *Feed) { f.breaker = breaker }
}

// WithLocker shares polls between instances; without it every instance polls
func WithLocker(locker locks.Manager) Option {
	return func(f *Feed) { f.locker = locker }
}

// Feed polls the configured ASNs on a cron schedule
type Feed struct {
	config    *Config
	publisher Publisher
	client    *httpclient.Client
	breaker   *circuitbreaker.Breaker
	logger    logging.Logger
	recorder  Recorder
	locker    locks.Manager

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	polling sync.Mutex
	wg      sync.WaitGroup
}

func New(config *Config, publisher Publisher, opts ...Option) (*Feed, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	f := &Feed{
		config:    config,
		publisher: publisher,
		logger:    logging.Component("dshield"),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = httpclient.NewHTTPClient(httpclient.WithTimeout(config.Timeout))
	}
	if f.breaker == nil {
		f.breaker = circuitbreaker.New("dshield", circuitbreaker.PollingConfig, f.logger)
	}
	return f, nil
}

// Start polls once right away and then on every tick of the schedule
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cron != nil {
		return errors.ValidationError("dshield feed already started")
	}

	f.ctx, f.cancel = context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(f.config.Schedule, f.tick); err != nil {
		f.cancel()
		return errors.ConfigError(fmt.Sprintf("invalid dshield schedule %q: %v", f.config.Schedule, err))
	}
	f.cron = c
	c.Start()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.PollAll(f.ctx)
	}()

	f.logger.Info("DShield feed started",
		logging.Strings("asns", f.config.ASNs),
		logging.String("room", f.config.Room),
		logging.String("schedule", f.config.Schedule),
	)
	return nil
}

func (f *Feed) tick() {
	f.wg.Add(1)
	defer f.wg.Done()
	f.PollAll(f.ctx)
}

// Stop halts the schedule and waits for a running poll, or for ctx
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	c := f.cron
	f.cron = nil
	f.mu.Unlock()
	if c == nil {
		return nil
	}

	f.cancel()
	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		f.logger.Info("DShield feed stopped")
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("stopping dshield feed")
	}
}

// PollAll polls every ASN in turn. Overlapping calls are skipped.
func (f *Feed) PollAll(ctx context.Context) {
	if !f.polling.TryLock() {
		f.logger.Warn("Previous poll still running, skipping")
		return
	}
	defer f.polling.Unlock()

	if f.locker != nil {
		lock, err := f.locker.TryAcquire(ctx, PollLockKey, f.config.LockTTL)
		if err != nil {
			if locks.IsHeld(err) {
				f.logger.Info("Another instance is polling, skipping")
			} else {
				f.logger.Error("Failed to take poll lock", err)
			}
			f.recorder.FeedFetched(FeedName, "skipped")
			return
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				f.logger.Warn("Failed to release poll lock", logging.Err(err))
			}
		}()
	}

	for _, asn := range f.config.ASNs {
		if ctx.Err() != nil {
			return
		}
		if _, err := f.Poll(ctx, asn); err != nil {
			f.logger.Error("Polling failed", err, logging.String("asn", asn))
		}
	}
}

// Poll fetches the report of one AS and publishes its events, returning
// how many were published
func (f *Feed) Poll(ctx context.Context, asn string) (int, error) {
	start := time.Now()
	url := f.config.reportURL(asn)
	f.logger.Info("Downloading", logging.String("asn", asn))

	var body []byte
	err := f.breaker.Execute(ctx, func() error {
		var err error
		body, err = f.client.Get(ctx, url)
		return err
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			f.recorder.FeedFetched(FeedName, "skipped")
		} else {
			f.recorder.FeedFetched(FeedName, "error")
		}
		return 0, err
	}
	f.recorder.FeedFetched(FeedName, "ok")

	evts, err := Parse(bytes.NewReader(body), asn, f.config.asnKey())
	if err != nil {
		return 0, errors.ValidationError(fmt.Sprintf("failed to parse report for AS%s: %v", asn, err))
	}
	f.logger.Info("Downloaded",
		logging.String("asn", asn),
		logging.Int("events", len(evts)),
		logging.Duration("elapsed", time.Since(start)),
	)

	published := 0
	for _, e := range evts {
		if err := f.publisher.Publish(ctx, f.config.Room, e); err != nil {
			f.recorder.FeedPublished(FeedName, published)
			return published, fmt.Errorf("publish to room %s: %w", f.config.Room, err)
		}
		published++
	}
	f.recorder.FeedPublished(FeedName, published)
	return published, nil
}
