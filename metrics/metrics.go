// Package metrics keeps per-process prometheus counters for a producer or
// consumer run. Word processes are short-lived batch jobs, so nothing is
// served over HTTP; the registry is written once at exit in the node
// exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of one process.
type Metrics struct {
	registry *prometheus.Registry

	// Producer side
	TokensProduced prometheus.Counter
	TokensDropped  prometheus.Counter
	SentinelsSent  prometheus.Counter
	PushesAborted  prometheus.Counter

	// Consumer side
	TokensConsumed    prometheus.Counter
	SentinelsReceived prometheus.Counter

	// Shared segment, sampled by whoever updates it
	ActiveProducers prometheus.Gauge
	Occupancy       prometheus.Gauge

	// Time spent blocked in semaphore waits, by semaphore
	WaitDuration *prometheus.HistogramVec
}

// New creates a collector whose series carry the role and id labels.
func New(role, id string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"role": role, "id": id}

	return &Metrics{
		registry: reg,

		TokensProduced: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_tokens_produced_total",
			Help:        "Tokens pushed into the shared ring",
			ConstLabels: labels,
		}),
		TokensDropped: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_tokens_dropped_total",
			Help:        "Input words that normalised to the empty token",
			ConstLabels: labels,
		}),
		SentinelsSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_sentinels_sent_total",
			Help:        "End-of-stream sentinels pushed, flood included",
			ConstLabels: labels,
		}),
		PushesAborted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_pushes_aborted_total",
			Help:        "Pushes abandoned because the process was cancelled",
			ConstLabels: labels,
		}),
		TokensConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_tokens_consumed_total",
			Help:        "Tokens popped and recorded",
			ConstLabels: labels,
		}),
		SentinelsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "wordpipe_sentinels_received_total",
			Help:        "End-of-stream sentinels popped",
			ConstLabels: labels,
		}),
		ActiveProducers: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "wordpipe_active_producers",
			Help:        "Last observed active producer count",
			ConstLabels: labels,
		}),
		Occupancy: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "wordpipe_ring_occupancy",
			Help:        "Last observed number of filled slots",
			ConstLabels: labels,
		}),
		WaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "wordpipe_semaphore_wait_seconds",
			Help:        "Time blocked in a semaphore wait",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"sem"}),
	}
}

// ObserveWait records a semaphore wait that started at start.
func (m *Metrics) ObserveWait(sem string, start time.Time) {
	m.WaitDuration.WithLabelValues(sem).Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Dump writes every series to path in textfile-collector format. An empty
// path is a no-op.
func (m *Metrics) Dump(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
