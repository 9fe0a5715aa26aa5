// Package metrics exports roomgraph activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomgraph"

// Metrics records distribution and session activity. It implements
// roomgraph.Observer.
type Metrics struct {
	registry *prometheus.Registry

	eventsSeen      *prometheus.CounterVec
	eventsForwarded *prometheus.CounterVec
	forwardFailures *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	roomsJoined     prometheus.Gauge
	roomJoins       prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionStarts   prometheus.Counter

	feedFetches   *prometheus.CounterVec
	feedPublished *prometheus.CounterVec
}

// New creates the metrics and registers them, with the Go and process
// collectors, on a registry of their own
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_seen_total",
			Help:      "Events consumed from each room",
		}, []string{"room"}),

		eventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Events forwarded between rooms",
		}, []string{"src_room", "dst_room"}),

		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Forwards dropped, by reason",
		}, []string{"src_room", "dst_room", "reason"}),

		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Messages that could not be decoded into events",
		}, []string{"room"}),

		roomsJoined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_joined",
			Help:      "Rooms currently joined",
		}),

		roomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "Room joins since start",
		}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running",
		}),

		sessionStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Sessions started since start",
		}),

		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetches_total",
			Help:      "Feed fetch attempts, by result",
		}, []string{"feed", "result"}),

		feedPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_published_total",
			Help:      "Events published by feeds",
		}, []string{"feed"}),
	}

	m.registry.MustRegister(
		m.eventsSeen,
		m.eventsForwarded,
		m.forwardFailures,
		m.decodeFailures,
		m.roomsJoined,
		m.roomJoins,
		m.sessionsActive,
		m.sessionStarts,
		m.feedFetches,
		m.feedPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventSeen(room string) {
	m.eventsSeen.WithLabelValues(room).Inc()
}

func (m *Metrics) EventForwarded(src, dst string) {
	m.eventsForwarded.WithLabelValues(src, dst).Inc()
}

func (m *Metrics) ForwardFailed(src, dst, reason string) {
	m.forwardFailures.WithLabelValues(src, dst, reason).Inc()
}

func (m *Metrics) DecodeFailed(room string) {
	m.decodeFailures.WithLabelValues(room).Inc()
}

func (m *Metrics) RoomJoined(string) {
	m.roomsJoined.Inc()
	m.roomJoins.Inc()
}

// RoomLeft drops the per-room series so departed rooms stop being exported
func (m *Metrics) RoomLeft(room string) {
	m.roomsJoined.Dec()
	m.eventsSeen.DeleteLabelValues(room)
	m.decodeFailures.DeleteLabelValues(room)
}

func (m *Metrics) SessionStarted(string, string) {
	m.sessionsActive.Inc()
	m.sessionStarts.Inc()
}

func (m *Metrics) SessionStopped(string, string) {
	m.sessionsActive.Dec()
}

// FeedFetched records a feed fetch; result is "ok", "error" or "skipped"
func (m *Metrics) FeedFetched(feed, result string) {
	m.feedFetches.WithLabelValues(feed, result).Inc()
}

func (m *Metrics) FeedPublished(feed string, n int) {
	m.feedPublished.WithLabelValues(feed).Add(float64(n))
}
