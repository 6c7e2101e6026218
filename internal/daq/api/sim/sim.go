// SPDX-License-Identifier: MIT

// Package sim is a backend without hardware. Input streams produce sine
// tones on a ticker paced at the block rate; output streams consume
// blocks at the same pace and report underruns when starved.
package sim

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"daq/internal/daq"
	applog "daq/internal/log"
)

// API is the StreamAPI of simulated devices.
const API daq.StreamAPI = "Simulated"

// toleratedStarvedBlocks is the number of consecutive empty output reads
// played as silence before an underrun is reported.
const toleratedStarvedBlocks = 2

var errMissingChannel = errors.New("sim: stream request is missing its sink or source channel")

// DefaultDevice is the device a Backend offers unless WithDevices is used.
var DefaultDevice = daq.DeviceInfo{
	API:                     API,
	Name:                    "Simulated device",
	AvailableDataTypes:      []daq.DataType{daq.I8, daq.I16, daq.I32, daq.F32, daq.F64},
	PreferredDataType:       daq.F32,
	AvailableSampleRates:    daq.StandardSampleRates,
	PreferredSampleRate:     48000,
	AvailableFramesPerBlock: daq.StandardFramesPerBlock,
	PreferredFramesPerBlock: daq.DefaultFramesPerBlock,
	InChannels:              2,
	OutChannels:             2,
	Duplex:                  true,
	Default:                 true,
}

// Backend implements daq.Backend.
type Backend struct {
	devices   []daq.DeviceInfo
	interval  time.Duration
	freq      float64
	amplitude float64

	mu      sync.Mutex
	streams []*Stream
}

type Option func(*Backend)

// WithDevices replaces the offered devices. Their API is forced to API.
func WithDevices(devs ...daq.DeviceInfo) Option {
	return func(b *Backend) {
		b.devices = make([]daq.DeviceInfo, len(devs))
		for i, d := range devs {
			d.API = API
			b.devices[i] = d
		}
	}
}

// WithInterval paces blocks at d instead of the real block duration.
func WithInterval(d time.Duration) Option {
	return func(b *Backend) { b.interval = d }
}

// WithTone sets the input signal: channel i carries a sine at
// (i+1)*freq Hz with the given amplitude relative to full scale.
func WithTone(freq, amplitude float64) Option {
	return func(b *Backend) {
		b.freq = freq
		b.amplitude = amplitude
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		devices:   []daq.DeviceInfo{DefaultDevice},
		freq:      1000,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) API() daq.StreamAPI { return API }

func (b *Backend) Devices() ([]daq.DeviceInfo, error) {
	return slices.Clone(b.devices), nil
}

// Start opens a simulated stream.
func (b *Backend) Start(req daq.StreamRequest) (daq.Stream, error) {
	if req.Config == nil {
		return nil, errors.New("sim: stream request without config")
	}
	if (req.Type.HasInput() && req.Sink == nil) || (req.Type.HasOutput() && req.Source == nil) {
		return nil, errMissingChannel
	}
	if req.Type == daq.Duplex && !req.Device.Duplex {
		return nil, daq.ErrDuplexNotSupported
	}

	cfg := req.Config
	channels := cfg.InChannels
	if req.Type == daq.Output {
		channels = cfg.OutChannels
	}
	meta, err := daq.NewStreamMetadata(channels, cfg.DataType, cfg.SampleRate, cfg.FramesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	interval := b.interval
	if interval <= 0 {
		interval = meta.BlockDuration()
	}
	s := &Stream{
		stype:    req.Type,
		meta:     meta,
		sink:     req.Sink,
		source:   req.Source,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if req.Type.HasInput() {
		for _, idx := range cfg.EnabledInIndices() {
			s.tones = append(s.tones, b.freq*float64(idx+1))
		}
		s.amplitude = b.amplitude
		s.frames = make([]float64, meta.FramesPerBlock*meta.NChannels())
	}
	s.setStatus(daq.StatusRunning)

	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	go s.run()
	applog.Debugf("SimBackend: %s stream opened (%v per block)", req.Type, interval)
	return s, nil
}

// Streams returns every stream started on b that has not been closed.
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.streams[:0]
	for _, s := range b.streams {
		if !s.closed.Load() {
			live = append(live, s)
		}
	}
	b.streams = live
	return slices.Clone(live)
}

// Stream is a running simulated stream.
type Stream struct {
	stype    daq.StreamType
	meta     *daq.StreamMetadata
	sink     chan<- daq.InStreamMsg
	source   <-chan daq.SampleBlock
	interval time.Duration

	tones     []float64
	amplitude float64
	frames    []float64
	ctr       uint64
	starved   int

	status  atomic.Value // daq.StreamStatus
	failed  atomic.Bool
	played  atomic.Uint64
	closed  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func (s *Stream) Metadata() *daq.StreamMetadata { return s.meta }

func (s *Stream) Status() daq.StreamStatus { return s.status.Load().(daq.StreamStatus) }

func (s *Stream) setStatus(st daq.StreamStatus) { s.status.Store(st) }

// Played returns the number of output blocks consumed so far.
func (s *Stream) Played() uint64 { return s.played.Load() }

// Fail simulates a runtime error: the status turns Errored and, on
// streams with an input side, a StreamError is sent to the sink. Overruns
// and underruns leave the stream running; any other kind halts its I/O
// until Close.
func (s *Stream) Fail(kind daq.StreamErrorKind) {
	switch kind {
	case daq.InputOverrunError, daq.InputUnderrunError, daq.OutputOverrunError, daq.OutputUnderrunError:
		s.xrun(kind)
		return
	}
	s.failed.Store(true)
	s.setStatus(daq.StatusError(kind))
	s.report(kind)
}

// xrun records an overrun or underrun unless the stream already failed.
func (s *Stream) xrun(kind daq.StreamErrorKind) {
	if s.failed.Load() {
		return
	}
	s.setStatus(daq.StatusError(kind))
	s.report(kind)
}

func (s *Stream) report(kind daq.StreamErrorKind) {
	if s.sink == nil {
		return
	}
	select {
	case s.sink <- daq.StreamError{Kind: kind}:
	default:
	}
}

// Close stops the stream and waits for its goroutine.
func (s *Stream) Close() error {
	s.stopped.Do(func() {
		close(s.stop)
		<-s.done
		s.closed.Store(true)
		s.setStatus(daq.StatusNotRunning)
	})
	return nil
}

func (s *Stream) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.failed.Load() {
				continue
			}
			if s.stype.HasOutput() {
				s.consume()
			}
			if s.stype.HasInput() {
				s.produce()
			}
		}
	}
}

func (s *Stream) produce() {
	nch := s.meta.NChannels()
	fs := s.meta.SampleRate
	start := s.ctr * uint64(s.meta.FramesPerBlock)
	for f := 0; f < s.meta.FramesPerBlock; f++ {
		t := float64(start+uint64(f)) / fs
		for ch, freq := range s.tones {
			s.frames[f*nch+ch] = s.amplitude * math.Sin(2*math.Pi*freq*t)
		}
	}
	blk, err := daq.BlockFromFloat64(s.meta.DataType, s.frames, nch)
	if err != nil {
		s.Fail(daq.LogicError)
		return
	}
	msg := daq.StreamData{Ctr: s.ctr, Meta: s.meta, Block: blk}
	s.ctr++
	select {
	case s.sink <- msg:
	default:
		// The worker is not keeping up; the block is lost.
		s.xrun(daq.InputOverrunError)
	}
}

func (s *Stream) consume() {
	select {
	case <-s.source:
		s.starved = 0
		s.played.Add(1)
	default:
		s.starved++
		if s.starved == toleratedStarvedBlocks+1 {
			s.xrun(daq.OutputUnderrunError)
		}
	}
}
