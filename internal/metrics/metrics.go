// Package metrics defines the Prometheus collectors for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Parse kinds.
const (
	KindFull        = "full"
	KindIncremental = "incremental"
)

// Drop reasons.
const (
	ReasonSuperseded  = "superseded"
	ReasonUnsupported = "unsupported_scope"
	ReasonParseError  = "parse_error"
	ReasonClosed      = "closed"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	parses        *prometheus.CounterVec
	parseDuration *prometheus.HistogramVec
	evictions     prometheus.Counter
	cacheEntries  prometheus.Gauge
	dropped       *prometheus.CounterVec
	replayFailed  prometheus.Counter
	notifications prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is what tests and embedded engines that do
// not expose metrics want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		parses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sapling_parses_total",
				Help: "Total number of parses performed",
			},
			[]string{"kind", "scope"},
		),
		parseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sapling_parse_duration_seconds",
				Help:    "Parse latency",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"kind"},
		),
		evictions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sapling_cache_evictions_total",
				Help: "Total number of trees evicted by capacity pressure",
			},
		),
		cacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sapling_cache_entries",
				Help: "Number of cached trees",
			},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sapling_events_dropped_total",
				Help: "Total number of events discarded without a write",
			},
			[]string{"reason"},
		),
		replayFailed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sapling_edit_replay_mismatches_total",
				Help: "Edits whose replayed text did not match the buffer",
			},
		),
		notifications: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sapling_notifications_total",
				Help: "Total number of notifications delivered",
			},
		),
	}
}

// ObserveParse records one parse of the given kind.
func (m *Metrics) ObserveParse(kind, scope string, d time.Duration) {
	m.parses.WithLabelValues(kind, scope).Inc()
	m.parseDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Evicted records n capacity evictions.
func (m *Metrics) Evicted(n int) {
	m.evictions.Add(float64(n))
}

// SetCacheEntries sets the current cache size.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// Dropped records an event discarded for reason.
func (m *Metrics) Dropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// ReplayMismatch records an edit that fell back to a full parse.
func (m *Metrics) ReplayMismatch() {
	m.replayFailed.Inc()
}

// Notified records a delivered notification.
func (m *Metrics) Notified() {
	m.notifications.Inc()
}
