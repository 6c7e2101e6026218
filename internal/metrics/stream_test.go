package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMetricsRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewStreamMetrics(reg)
	require.NoError(t, err)

	m.RecordStreamStart("input", "success")
	m.RecordStreamStart("input", "success")
	m.RecordStreamError("input", "input overrun")
	m.RecordBlock("input")
	m.RecordQueuePruned("input", "closed")
	m.RecordDataDropped("input")
	m.SetAttachedQueues("input", 3)
	m.ObserveApsCompute("all", 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamStarts.WithLabelValues("input", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamErrors.WithLabelValues("input", "input overrun")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocks.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDrops.WithLabelValues("input", "closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dataDropped.WithLabelValues("input")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.attachedQueues.WithLabelValues("input")))

	m.RecordStreamStop("input")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.attachedQueues.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamStops.WithLabelValues("input")))
}

func TestStreamMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewStreamMetrics(reg)
	require.NoError(t, err)

	_, err = NewStreamMetrics(reg)
	assert.Error(t, err)
}

func TestNilStreamMetrics(t *testing.T) {
	var m *StreamMetrics
	assert.NotPanics(t, func() {
		m.RecordStreamStart("output", "error")
		m.RecordStreamStop("output")
		m.RecordStreamError("output", "output underrun")
		m.RecordBlock("output")
		m.RecordQueuePruned("output", "timeout")
		m.RecordDataDropped("output")
		m.SetAttachedQueues("output", 1)
		m.ObserveApsCompute("spectrogram", time.Millisecond)
	})
}
