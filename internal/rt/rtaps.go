// SPDX-License-Identifier: MIT

// Package rt runs averaged power spectra on a live input stream.
//
// An RtAps owns a consumer queue and a goroutine that folds every data
// block into an ps.AvPowerSpectra. The newest estimate is published
// through an atomic pointer, so readers such as publishers or a UI never
// block the consumer, and the consumer never blocks the stream worker.
package rt

import (
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"daq/internal/daq"
	applog "daq/internal/log"
	"daq/internal/metrics"
	"daq/internal/ps"
)

// Attacher subscribes queues to input stream messages. *daq.StreamMgr
// implements it.
type Attacher interface {
	AddInQueue(q *daq.InQueue)
}

// Result is one published estimate. Values are never modified after they
// are published.
type Result struct {
	Seq     uint64
	Time    time.Time
	Meta    *daq.StreamMetadata
	Freqs   []float64
	NBlocks int
	CPS     *ps.CPSResult
}

// RtAps computes averaged power spectra of the running input stream.
type RtAps struct {
	template *ps.ApsSettings
	queue    *daq.InQueue
	metrics  *metrics.StreamMetrics

	// consumer goroutine only
	aps  *ps.AvPowerSpectra
	meta *daq.StreamMetadata
	seq  uint64
	ctr  daq.CtrTracker

	latest   atomic.Pointer[Result]
	resetReq atomic.Bool
	gaps     atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*RtAps)

// WithMetrics records compute durations on m.
func WithMetrics(m *metrics.StreamMetrics) Option {
	return func(r *RtAps) { r.metrics = m }
}

// WithQueueCapacity sets the number of messages buffered before blocks
// are dropped.
func WithQueueCapacity(n int) Option {
	return func(r *RtAps) { r.queue = daq.NewInQueue(n) }
}

// NewRtAps attaches a queue to att and starts consuming. template supplies
// every setting except the sample rate, which is taken from each stream
// as it starts.
func NewRtAps(att Attacher, template *ps.ApsSettings, opts ...Option) *RtAps {
	r := &RtAps{
		template: template,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = daq.NewInQueue(daq.DefaultQueueCapacity)
	}
	att.AddInQueue(r.queue)
	go r.run()
	return r
}

// Latest returns the newest estimate, or nil if none is available for
// the current stream.
func (r *RtAps) Latest() *Result { return r.latest.Load() }

// Dropped returns the number of blocks lost because the consumer fell
// behind.
func (r *RtAps) Dropped() uint64 { return r.queue.Dropped() }

// Gaps returns the number of times averaging restarted because blocks
// were missing from the stream.
func (r *RtAps) Gaps() uint64 { return r.gaps.Load() }

// Reset restarts averaging with the next block.
func (r *RtAps) Reset() {
	r.resetReq.Store(true)
	r.latest.Store(nil)
}

// Close detaches from the stream and stops the consumer.
func (r *RtAps) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		r.queue.Close()
	})
}

func (r *RtAps) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case msg := <-r.queue.Messages():
			r.handle(msg)
		}
	}
}

func (r *RtAps) handle(msg daq.InStreamMsg) {
	switch m := msg.(type) {
	case daq.StreamStarted:
		r.start(m.Meta)
	case daq.StreamData:
		if r.aps == nil || m.Meta != r.meta {
			return
		}
		if missed := r.ctr.Observe(m.Ctr); missed > 0 {
			// Windows must not span the missing samples.
			r.gaps.Add(1)
			r.aps.Reset()
			applog.Debugf("RtAps: %d block(s) missing before block %d, averaging restarted", missed, m.Ctr)
		}
		r.process(m)
	case daq.StreamStopped:
		r.aps = nil
		r.meta = nil
	case daq.StreamError:
		applog.Warnf("RtAps: stream error %v", m.Kind)
	}
}

// start rebuilds the averaging engine for a new stream generation.
func (r *RtAps) start(meta *daq.StreamMetadata) {
	r.latest.Store(nil)
	r.resetReq.Store(false)
	r.meta = meta
	r.aps = nil
	r.ctr.Reset()

	settings, err := r.template.WithSampleRate(meta.SampleRate)
	if err != nil {
		applog.Errorf("RtAps: cannot run at %v Hz: %v", meta.SampleRate, err)
		return
	}
	if r.aps, err = ps.NewAvPowerSpectra(settings); err != nil {
		applog.Errorf("RtAps: %v", err)
		return
	}
	applog.Debugf("RtAps: stream %s, %d channels, nfft %d, %s",
		meta.ID, meta.NChannels(), settings.NFFT(), settings.Mode())
}

func (r *RtAps) process(m daq.StreamData) {
	if r.resetReq.Swap(false) {
		r.aps.Reset()
	}

	td := m.Block.ToFloat64()
	for i, ch := range r.meta.Channels {
		if s := ch.Scale(); s != 1 {
			floats.Scale(1/s, td[i])
		}
	}

	start := time.Now()
	cps := r.aps.ComputeLast(td)
	r.metrics.ObserveApsCompute(r.aps.Settings().Mode().String(), time.Since(start))
	if cps == nil {
		return
	}

	r.seq++
	r.latest.Store(&Result{
		Seq:     r.seq,
		Time:    time.Now(),
		Meta:    r.meta,
		Freqs:   r.aps.Settings().Freqs(),
		NBlocks: r.aps.NBlocks(),
		CPS:     cps,
	})
}
