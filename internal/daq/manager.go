// SPDX-License-Identifier: MIT
/*
Package daq implements the data acquisition stream engine:

- A stream manager owning at most one input (or duplex) stream and one
  output stream
- One worker goroutine per running stream, driven by a command channel
- Fan-out of every input block to any number of consumer queues
- Output streams fed from a signal source, or silence when none is held

Backends (PortAudio, simulation) live under daq/api and are injected into
the manager; the manager never talks to hardware directly.
*/
package daq

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	applog "daq/internal/log"
	"daq/internal/metrics"
)

// sinkCapacity is the number of messages a backend may queue for an input
// worker before it has to drop blocks.
const sinkCapacity = 64

var (
	ErrStreamMgrExists  = errors.New("a stream manager already exists")
	ErrStreamRunning    = errors.New("stream already running")
	ErrStreamNotRunning = errors.New("stream not running")
	ErrBackendNotFound  = errors.New("no backend registered for api")
	ErrDeviceNotFound   = errors.New("device not found")
)

// managerAlive guards the one-manager-per-process rule.
var managerAlive atomic.Bool

// runningStream is a stream slot that is in use.
type runningStream struct {
	stype    StreamType
	stream   Stream
	outMeta  *StreamMetadata
	commands chan<- command
	done     <-chan workerResult
}

// StreamMgr starts and stops streams and routes consumer queues and signal
// sources to them. Only one StreamMgr may exist at a time.
type StreamMgr struct {
	mu sync.Mutex

	backends []Backend
	devices  []DeviceInfo
	metrics  *metrics.StreamMetrics

	instream  *runningStream // input or duplex
	outstream *runningStream

	// Held while the corresponding stream is not running.
	inQueues []*InQueue
	siggen   SignalSource

	closed bool
}

// Option configures a StreamMgr.
type Option func(*StreamMgr)

// WithBackend registers a backend. The first one registered is the default
// for StartDefaultInputStream and StartDefaultOutputStream.
func WithBackend(b Backend) Option {
	return func(m *StreamMgr) {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
}

// WithMetrics records stream metrics on m.
func WithMetrics(sm *metrics.StreamMetrics) Option {
	return func(m *StreamMgr) {
		m.metrics = sm
	}
}

// NewStreamMgr creates the stream manager and scans devices. It fails with
// ErrStreamMgrExists while another manager has not been closed.
func NewStreamMgr(opts ...Option) (*StreamMgr, error) {
	if !managerAlive.CompareAndSwap(false, true) {
		return nil, ErrStreamMgrExists
	}
	m := &StreamMgr{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.ScanDevices(); err != nil {
		applog.Warnf("StreamMgr: device scan incomplete: %v", err)
	}
	return m, nil
}

// ScanDevices re-enumerates the devices of every backend. Devices from
// backends that fail are omitted and the errors are joined.
func (m *StreamMgr) ScanDevices() error {
	var devices []DeviceInfo
	var errs []error
	for _, b := range m.backends {
		devs, err := b.Devices()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.API(), err))
			continue
		}
		devices = append(devices, devs...)
	}
	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()
	return errors.Join(errs...)
}

// Devices returns the devices found by the last scan.
func (m *StreamMgr) Devices() []DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.devices)
}

func (m *StreamMgr) lookup(cfg *DaqConfig) (Backend, DeviceInfo, error) {
	var backend Backend
	for _, b := range m.backends {
		if b.API() == cfg.API {
			backend = b
			break
		}
	}
	if backend == nil {
		return nil, DeviceInfo{}, fmt.Errorf("%w %q", ErrBackendNotFound, cfg.API)
	}
	for _, dev := range m.devices {
		if cfg.Match(dev) {
			return backend, dev, nil
		}
	}
	return nil, DeviceInfo{}, fmt.Errorf("%w: %q (%s)", ErrDeviceNotFound, cfg.DeviceName, cfg.API)
}

// StartStream starts an input or duplex stream, or an output stream when
// t is Output.
func (m *StreamMgr) StartStream(t StreamType, cfg *DaqConfig) error {
	if t == Output {
		return m.StartOutputStream(cfg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instream != nil {
		return fmt.Errorf("%w: %s", ErrStreamRunning, m.instream.stype)
	}
	if cfg.NumEnabledIn() == 0 {
		return ErrNoInputChannels
	}
	if t == Duplex {
		if cfg.NumEnabledOut() == 0 {
			return ErrNoOutputChannels
		}
		if m.outstream != nil {
			return fmt.Errorf("%w: output", ErrStreamRunning)
		}
	}

	backend, dev, err := m.lookup(cfg)
	if err != nil {
		m.metrics.RecordStreamStart(t.String(), "error")
		return err
	}
	if err := cfg.Validate(dev, t); err != nil {
		m.metrics.RecordStreamStart(t.String(), "error")
		return fmt.Errorf("invalid %s config: %w", t, err)
	}

	var outMeta *StreamMetadata
	var source chan SampleBlock
	if t == Duplex {
		outMeta, err = NewStreamMetadata(cfg.OutChannels, cfg.DataType, cfg.SampleRate, cfg.FramesPerBlock)
		if err != nil {
			return err
		}
		source = make(chan SampleBlock, maxQueuedOutputBlocks)
	}

	sink := make(chan InStreamMsg, sinkCapacity)
	stream, err := backend.Start(StreamRequest{
		Type:   t,
		Device: dev,
		Config: cfg,
		Sink:   sink,
		Source: source,
	})
	if err != nil {
		m.metrics.RecordStreamStart(t.String(), "error")
		return fmt.Errorf("failed to start %s stream on %q: %w", t, dev.Name, err)
	}
	meta := stream.Metadata()

	// Queues attached while nothing was running learn about the stream now.
	queues := make([]*InQueue, 0, len(m.inQueues))
	for _, q := range m.inQueues {
		if q.Send(StreamStarted{Meta: meta}, controlSendTimeout) {
			queues = append(queues, q)
		}
	}
	m.inQueues = nil

	commands := make(chan command, commandBufferSize)
	done := make(chan workerResult, 1)
	w := newWorker(t, commands, m.metrics)
	w.attachInput(meta, sink, queues)
	if t == Duplex {
		w.attachOutput(outMeta, source, m.siggen)
		m.siggen = nil
	}
	go w.run(done)

	m.instream = &runningStream{stype: t, stream: stream, outMeta: outMeta, commands: commands, done: done}
	m.metrics.RecordStreamStart(t.String(), "success")
	applog.Infof("StreamMgr: %s stream started on %q (%d ch, %.0f Hz, %d frames/block, %v)",
		t, dev.Name, meta.NChannels(), meta.SampleRate, meta.FramesPerBlock, meta.DataType)
	return nil
}

// StartOutputStream starts an output stream playing the held signal source,
// or silence when none is held.
func (m *StreamMgr) StartOutputStream(cfg *DaqConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outstream != nil {
		return fmt.Errorf("%w: output", ErrStreamRunning)
	}
	if m.instream != nil && m.instream.stype == Duplex {
		return fmt.Errorf("%w: duplex stream owns the output", ErrStreamRunning)
	}
	if cfg.NumEnabledOut() == 0 {
		return ErrNoOutputChannels
	}

	backend, dev, err := m.lookup(cfg)
	if err != nil {
		m.metrics.RecordStreamStart(Output.String(), "error")
		return err
	}
	if err := cfg.Validate(dev, Output); err != nil {
		m.metrics.RecordStreamStart(Output.String(), "error")
		return fmt.Errorf("invalid output config: %w", err)
	}

	source := make(chan SampleBlock, maxQueuedOutputBlocks)
	stream, err := backend.Start(StreamRequest{
		Type:   Output,
		Device: dev,
		Config: cfg,
		Source: source,
	})
	if err != nil {
		m.metrics.RecordStreamStart(Output.String(), "error")
		return fmt.Errorf("failed to start output stream on %q: %w", dev.Name, err)
	}
	meta := stream.Metadata()

	commands := make(chan command, commandBufferSize)
	done := make(chan workerResult, 1)
	w := newWorker(Output, commands, m.metrics)
	w.attachOutput(meta, source, m.siggen)
	m.siggen = nil
	go w.run(done)

	m.outstream = &runningStream{stype: Output, stream: stream, outMeta: meta, commands: commands, done: done}
	m.metrics.RecordStreamStart(Output.String(), "success")
	applog.Infof("StreamMgr: output stream started on %q (%d ch, %.0f Hz, %d frames/block, %v)",
		dev.Name, meta.NChannels(), meta.SampleRate, meta.FramesPerBlock, meta.DataType)
	return nil
}

// StartInputStream is StartStream(Input, cfg).
func (m *StreamMgr) StartInputStream(cfg *DaqConfig) error {
	return m.StartStream(Input, cfg)
}

// StartDefaultInputStream starts an input stream on the default backend's
// default input device with all its channels enabled.
func (m *StreamMgr) StartDefaultInputStream() error {
	dev, err := m.defaultDevice(func(d DeviceInfo) bool { return d.InChannels > 0 })
	if err != nil {
		return err
	}
	cfg := NewDaqConfigFromDevice(dev)
	cfg.FramesPerBlock = DefaultInputFramesPerBlock
	return m.StartStream(Input, cfg)
}

// StartDefaultOutputStream starts an output stream on the default backend's
// default output device.
func (m *StreamMgr) StartDefaultOutputStream() error {
	dev, err := m.defaultDevice(func(d DeviceInfo) bool { return d.OutChannels > 0 })
	if err != nil {
		return err
	}
	return m.StartOutputStream(NewDaqConfigFromDevice(dev))
}

func (m *StreamMgr) defaultDevice(usable func(DeviceInfo) bool) (DeviceInfo, error) {
	if len(m.backends) == 0 {
		return DeviceInfo{}, ErrBackendNotFound
	}
	api := m.backends[0].API()
	var fallback *DeviceInfo
	for _, dev := range m.Devices() {
		if dev.API != api || !usable(dev) {
			continue
		}
		if dev.Default {
			return dev, nil
		}
		if fallback == nil {
			fallback = &dev
		}
	}
	if fallback == nil {
		return DeviceInfo{}, fmt.Errorf("%w: no usable default device for %s", ErrDeviceNotFound, api)
	}
	return *fallback, nil
}

// StopStream stops the stream in the slot for t and waits for its worker.
// Input and Duplex both refer to the input slot.
func (m *StreamMgr) StopStream(t StreamType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := &m.instream
	if t == Output {
		slot = &m.outstream
	}
	rs := *slot
	if rs == nil {
		return fmt.Errorf("%w: %s", ErrStreamNotRunning, t)
	}
	*slot = nil

	rs.commands <- stopCmd{}
	res := <-rs.done

	if rs.stype.HasInput() {
		m.inQueues = append(m.inQueues, res.queues...)
	}
	if rs.stype.HasOutput() {
		m.siggen = res.source
	}
	m.metrics.RecordStreamStop(rs.stype.String())

	if err := rs.stream.Close(); err != nil {
		return fmt.Errorf("failed to close %s stream: %w", rs.stype, err)
	}
	applog.Infof("StreamMgr: %s stream stopped", rs.stype)
	return nil
}

// StopInputStream stops the input or duplex stream.
func (m *StreamMgr) StopInputStream() error { return m.StopStream(Input) }

// StopOutputStream stops the output stream.
func (m *StreamMgr) StopOutputStream() error { return m.StopStream(Output) }

// AddInQueue subscribes q to input messages. If an input stream is running
// q receives Started right away, otherwise when the next one starts.
func (m *StreamMgr) AddInQueue(q *InQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instream != nil {
		m.instream.commands <- addQueueCmd{q: q}
		return
	}
	m.inQueues = append(m.inQueues, q)
}

// SetSiggen hands src to the running output (or duplex) stream, or keeps it
// for the next one. A nil src means silence.
func (m *StreamMgr) SetSiggen(src SignalSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.instream != nil && m.instream.stype == Duplex:
		m.instream.commands <- newSourceCmd{src: src}
	case m.outstream != nil:
		m.outstream.commands <- newSourceCmd{src: src}
	default:
		m.siggen = src
	}
}

func (m *StreamMgr) slotFor(t StreamType) *runningStream {
	switch t {
	case Output:
		if m.outstream != nil {
			return m.outstream
		}
		if m.instream != nil && m.instream.stype == Duplex {
			return m.instream
		}
		return nil
	case Duplex:
		if m.instream != nil && m.instream.stype == Duplex {
			return m.instream
		}
		return nil
	default:
		return m.instream
	}
}

// IsRunning reports whether a stream of type t occupies its slot.
func (m *StreamMgr) IsRunning(t StreamType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotFor(t) != nil
}

// StreamStatus returns the backend status of the stream of type t.
func (m *StreamMgr) StreamStatus(t StreamType) StreamStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.slotFor(t)
	if rs == nil {
		return StatusNotRunning
	}
	return rs.stream.Status()
}

// StreamMetadata returns the metadata of the stream of type t, or nil. For
// Output on a duplex stream it describes the output side.
func (m *StreamMgr) StreamMetadata(t StreamType) *StreamMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.slotFor(t)
	if rs == nil {
		return nil
	}
	if t == Output && rs.outMeta != nil {
		return rs.outMeta
	}
	return rs.stream.Metadata()
}

// Close stops all streams and releases the process-wide manager slot.
func (m *StreamMgr) Close() error {
	if m.closed {
		return nil
	}
	var errs []error
	if m.IsRunning(Input) {
		errs = append(errs, m.StopStream(Input))
	}
	if m.IsRunning(Output) {
		errs = append(errs, m.StopStream(Output))
	}
	m.closed = true
	managerAlive.Store(false)
	return errors.Join(errs...)
}
