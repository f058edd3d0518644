package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "flight_fence"

// Fetch outcomes
const (
	FetchSuccess     = "success"
	FetchTransport   = "transport_error"
	FetchBadStatus   = "bad_status"
	FetchMalformed   = "malformed_body"
	FetchRateLimited = "rate_limited"
)

// Tick outcomes
const (
	TickPersisted = "persisted"
	TickEmpty     = "empty"
	TickNoData    = "no_data"
	TickFailed    = "failed"
)

// Metrics contains all service instruments
type Metrics struct {
	FeedFetches     *prometheus.CounterVec
	FeedDuration    prometheus.Histogram
	CollectorTicks  *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	RecordsStored   *prometheus.CounterVec
	SnapshotSize    prometheus.Gauge
	QueryResults    *prometheus.CounterVec
	LastPersistTime prometheus.Gauge
}

// New creates the instruments and registers them, together with Go runtime
// collectors, on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeedFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "fetches_total",
				Help:      "Upstream feed requests by outcome",
			},
			[]string{"outcome"},
		),

		FeedDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "fetch_duration_seconds",
				Help:      "Upstream feed request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		CollectorTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "ticks_total",
				Help:      "Collector ticks by outcome",
			},
			[]string{"outcome"},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "tick_duration_seconds",
				Help:      "Time spent in one fetch-filter-persist tick",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RecordsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "records_total",
				Help:      "Aircraft records written to the store by status",
			},
			[]string{"status"},
		),

		SnapshotSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "snapshot_size",
				Help:      "Number of aircraft accepted in the most recent tick",
			},
		),

		QueryResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "results_total",
				Help:      "Read requests by result source (live, fallback, error)",
			},
			[]string{"source"},
		),

		LastPersistTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "last_persist_timestamp_seconds",
				Help:      "Unix time of the last tick that stored at least one record",
			},
		),
	}

	reg.MustRegister(
		m.FeedFetches,
		m.FeedDuration,
		m.CollectorTicks,
		m.TickDuration,
		m.RecordsStored,
		m.SnapshotSize,
		m.QueryResults,
		m.LastPersistTime,
	)

	return m
}

// NewRegistry returns a registry carrying the service metrics plus Go runtime
// and process collectors
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// RecordFetch counts one upstream request
func (m *Metrics) RecordFetch(outcome string, duration time.Duration) {
	m.FeedFetches.WithLabelValues(outcome).Inc()
	m.FeedDuration.Observe(duration.Seconds())
}

// RecordTick counts one collector tick
func (m *Metrics) RecordTick(outcome string, duration time.Duration) {
	m.CollectorTicks.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(duration.Seconds())
}

// RecordStored counts inserted and rejected rows of one append
func (m *Metrics) RecordStored(inserted, failed int, at time.Time) {
	m.RecordsStored.WithLabelValues("inserted").Add(float64(inserted))
	m.RecordsStored.WithLabelValues("failed").Add(float64(failed))
	if inserted > 0 {
		m.LastPersistTime.Set(float64(at.Unix()))
	}
}

// RecordSnapshotSize updates the accepted-aircraft gauge
func (m *Metrics) RecordSnapshotSize(n int) {
	m.SnapshotSize.Set(float64(n))
}

// RecordQuery counts one read request by the source it was answered from
func (m *Metrics) RecordQuery(source string) {
	m.QueryResults.WithLabelValues(source).Inc()
}
