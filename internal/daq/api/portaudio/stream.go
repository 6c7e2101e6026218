// SPDX-License-Identifier: MIT
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"daq/internal/daq"
	"daq/internal/daq/api/blockfifo"
	applog "daq/internal/log"
)

// sample is the set of formats PortAudio callbacks can carry.
type sample interface {
	int8 | int16 | int32 | float32
}

// Stream is an open PortAudio stream.
type Stream struct {
	stype daq.StreamType
	meta  *daq.StreamMetadata
	sink  chan<- daq.InStreamMsg

	handle *pa.Stream
	status atomic.Value // daq.StreamStatus
	ctr    uint64       // callback goroutine only

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *Stream) Metadata() *daq.StreamMetadata { return s.meta }

func (s *Stream) Status() daq.StreamStatus { return s.status.Load().(daq.StreamStatus) }

// fail marks the stream errored and reports kind to the sink once per
// change of error.
func (s *Stream) fail(kind daq.StreamErrorKind) {
	if s.Status() == daq.StatusError(kind) {
		return
	}
	s.status.Store(daq.StatusError(kind))
	if s.sink == nil {
		return
	}
	select {
	case s.sink <- daq.StreamError{Kind: kind}:
	default:
	}
}

// checkFlags maps callback status flags to stream errors.
func (s *Stream) checkFlags(flags pa.StreamCallbackFlags) {
	if kind := flagsError(flags); kind != daq.NoError {
		s.fail(kind)
	}
}

func flagsError(flags pa.StreamCallbackFlags) daq.StreamErrorKind {
	switch {
	case flags&pa.InputOverflow != 0:
		return daq.InputOverrunError
	case flags&pa.InputUnderflow != 0:
		return daq.InputUnderrunError
	case flags&pa.OutputUnderflow != 0:
		return daq.OutputUnderrunError
	case flags&pa.OutputOverflow != 0:
		return daq.OutputOverrunError
	}
	return daq.NoError
}

// Close stops the stream, waits for the output pump and releases the
// PortAudio handle.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.handle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping stream: %w", err))
		}
		if err := s.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing stream: %w", err))
		}
		close(s.stop)
		<-s.done
		s.status.Store(daq.StatusNotRunning)
		s.closeErr = errors.Join(errs...)
		applog.Debugf("PortAudio: %s stream closed", s.stype)
	})
	return s.closeErr
}

// emitter returns the assembler callback that offers finished blocks to
// the sink.
func emitter[T sample](s *Stream) func(*daq.Block[T]) {
	return func(blk *daq.Block[T]) {
		msg := daq.StreamData{Ctr: s.ctr, Meta: s.meta, Block: blk}
		s.ctr++
		select {
		case s.sink <- msg:
		default:
			s.fail(daq.InputOverrunError)
		}
	}
}

// pump moves blocks from the worker into the player until the stream
// stops. When the player is full it retries every retry interval.
func pump[T sample](s *Stream, src <-chan daq.SampleBlock, player *blockfifo.Player[T], retry time.Duration) {
	defer close(s.done)
	for {
		var blk daq.SampleBlock
		select {
		case <-s.stop:
			return
		case blk = <-src:
		}
		typed, ok := blk.(*daq.Block[T])
		if !ok {
			applog.Errorf("PortAudio: output block of type %v on %v stream", blk.DataType(), s.meta.DataType)
			s.fail(daq.LogicError)
			continue
		}
		for {
			err := player.Write(typed.Data())
			if !errors.Is(err, blockfifo.ErrFull) {
				if err != nil {
					applog.Errorf("PortAudio: queueing output block: %v", err)
				}
				break
			}
			select {
			case <-s.stop:
				return
			case <-time.After(retry):
			}
		}
	}
}

// open builds and starts a stream with samples of type T.
func open[T sample](dev *pa.DeviceInfo, req daq.StreamRequest) (*Stream, error) {
	cfg := req.Config
	channels := cfg.InChannels
	if req.Type == daq.Output {
		channels = cfg.OutChannels
	}
	meta, err := daq.NewStreamMetadata(channels, cfg.DataType, cfg.SampleRate, cfg.FramesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}

	s := &Stream{
		stype: req.Type,
		meta:  meta,
		sink:  req.Sink,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	params := pa.StreamParameters{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBlock,
	}

	var asm *blockfifo.Assembler[T]
	if req.Type.HasInput() {
		nhw := cfg.HighestEnabledIn() + 1
		if asm, err = blockfifo.NewAssembler[T](nhw, cfg.EnabledInIndices(), cfg.FramesPerBlock); err != nil {
			return nil, fmt.Errorf("portaudio: %w", err)
		}
		params.Input = pa.StreamDeviceParameters{Device: dev, Channels: nhw, Latency: dev.DefaultLowInputLatency}
	}
	var player *blockfifo.Player[T]
	if req.Type.HasOutput() {
		nhw := cfg.HighestEnabledOut() + 1
		if player, err = blockfifo.NewPlayer[T](nhw, cfg.EnabledOutIndices(), cfg.FramesPerBlock); err != nil {
			return nil, fmt.Errorf("portaudio: %w", err)
		}
		params.Output = pa.StreamDeviceParameters{Device: dev, Channels: nhw, Latency: dev.DefaultLowOutputLatency}
	}

	emit := emitter[T](s)
	input := func(in []T) {
		if err := asm.Push(in, emit); errors.Is(err, blockfifo.ErrOverrun) {
			s.fail(daq.InputOverrunError)
		} else if err != nil {
			s.fail(daq.LogicError)
		}
	}
	output := func(out []T) {
		if player.Fill(out) {
			s.fail(daq.OutputUnderrunError)
		}
	}

	var callback any
	switch req.Type {
	case daq.Input:
		callback = func(in []T, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
			s.checkFlags(flags)
			input(in)
		}
	case daq.Output:
		callback = func(out []T, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
			s.checkFlags(flags)
			output(out)
		}
	case daq.Duplex:
		callback = func(in, out []T, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
			s.checkFlags(flags)
			input(in)
			output(out)
		}
	}

	s.handle, err = pa.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: opening %s stream on %q: %w", req.Type, deviceName(dev), err)
	}
	s.status.Store(daq.StatusRunning)

	if player != nil {
		go pump(s, req.Source, player, meta.BlockDuration()/4)
	} else {
		close(s.done)
	}

	if err := s.handle.Start(); err != nil {
		close(s.stop)
		<-s.done
		_ = s.handle.Close()
		return nil, fmt.Errorf("portaudio: starting %s stream: %w", req.Type, err)
	}
	applog.Infof("PortAudio: %s stream started on %q (%v, %.0f Hz, %d frames)",
		req.Type, deviceName(dev), cfg.DataType, cfg.SampleRate, cfg.FramesPerBlock)
	return s, nil
}
