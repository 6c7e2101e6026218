// Package metrics provides Prometheus metrics for the stream engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains the collectors for stream lifecycle, fan-out and
// spectral processing. A nil *StreamMetrics is valid and records nothing.
type StreamMetrics struct {
	registry *prometheus.Registry

	streamStarts   *prometheus.CounterVec
	streamStops    *prometheus.CounterVec
	streamErrors   *prometheus.CounterVec
	blocks         *prometheus.CounterVec
	queueDrops     *prometheus.CounterVec
	dataDropped    *prometheus.CounterVec
	attachedQueues *prometheus.GaugeVec
	apsDuration    *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewStreamMetrics creates the collectors and registers them on registry.
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.streamStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_stream_start_total",
			Help: "Total number of stream start attempts",
		},
		[]string{"stream_type", "status"},
	)

	m.streamStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_stream_stop_total",
			Help: "Total number of streams stopped",
		},
		[]string{"stream_type"},
	)

	m.streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_stream_errors_total",
			Help: "Runtime errors reported by backends",
		},
		[]string{"stream_type", "kind"},
	)

	m.blocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_blocks_total",
			Help: "Blocks fanned out to consumers (input) or queued for playback (output)",
		},
		[]string{"stream_type"},
	)

	m.queueDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_queue_pruned_total",
			Help: "Consumer queues removed from fan-out",
		},
		[]string{"stream_type", "reason"},
	)

	m.dataDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_queue_data_dropped_total",
			Help: "Data messages discarded because a consumer queue was full",
		},
		[]string{"stream_type"},
	)

	m.attachedQueues = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_attached_queues",
			Help: "Consumer queues attached to a running stream",
		},
		[]string{"stream_type"},
	)

	m.apsDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daq_aps_compute_duration_seconds",
			Help:    "Time spent folding one input block into the averaged power spectra",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		},
		[]string{"mode"},
	)

	m.collectors = []prometheus.Collector{
		m.streamStarts,
		m.streamStops,
		m.streamErrors,
		m.blocks,
		m.queueDrops,
		m.dataDropped,
		m.attachedQueues,
		m.apsDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

func (m *StreamMetrics) RecordStreamStart(streamType, status string) {
	if m == nil {
		return
	}
	m.streamStarts.WithLabelValues(streamType, status).Inc()
}

func (m *StreamMetrics) RecordStreamStop(streamType string) {
	if m == nil {
		return
	}
	m.streamStops.WithLabelValues(streamType).Inc()
	m.attachedQueues.WithLabelValues(streamType).Set(0)
}

func (m *StreamMetrics) RecordStreamError(streamType, kind string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(streamType, kind).Inc()
}

func (m *StreamMetrics) RecordBlock(streamType string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(streamType).Inc()
}

func (m *StreamMetrics) RecordQueuePruned(streamType, reason string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(streamType, reason).Inc()
}

func (m *StreamMetrics) RecordDataDropped(streamType string) {
	if m == nil {
		return
	}
	m.dataDropped.WithLabelValues(streamType).Inc()
}

func (m *StreamMetrics) SetAttachedQueues(streamType string, n int) {
	if m == nil {
		return
	}
	m.attachedQueues.WithLabelValues(streamType).Set(float64(n))
}

func (m *StreamMetrics) ObserveApsCompute(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.apsDuration.WithLabelValues(mode).Observe(d.Seconds())
}
