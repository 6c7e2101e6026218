// SPDX-License-Identifier: MIT
package daq

import "errors"

// Backend opens streams on hardware (or a simulation of it).
type Backend interface {
	API() StreamAPI
	Devices() ([]DeviceInfo, error)
	// Start opens and starts a stream. Input streams send StreamData and
	// StreamError messages to req.Sink without blocking; output streams
	// read blocks from req.Source and play silence while it is empty.
	Start(req StreamRequest) (Stream, error)
}

// StreamRequest is everything a backend needs to open a stream.
type StreamRequest struct {
	Type   StreamType
	Device DeviceInfo
	Config *DaqConfig
	Sink   chan<- InStreamMsg // input and duplex
	Source <-chan SampleBlock // output and duplex
}

// Stream is a live backend stream.
type Stream interface {
	// Metadata describes the input side for input and duplex streams and
	// the output side for output streams.
	Metadata() *StreamMetadata
	Status() StreamStatus
	// Close stops hardware I/O and releases the stream.
	Close() error
}

// SignalSource generates interleaved float frames for output streams.
type SignalSource interface {
	NChannels() int
	SetNChannels(n int)
	// Reset prepares the source for a stream running at fs.
	Reset(fs float64)
	// GenSignal fills out with interleaved frames of NChannels channels.
	GenSignal(out []float64)
}

// ErrDuplexNotSupported is returned by backends or devices that cannot run
// input and output in one stream.
var ErrDuplexNotSupported = errors.New("duplex streams are not supported")

// silence is the source used when no signal source is held.
type silence struct{ nch int }

func (s *silence) NChannels() int     { return s.nch }
func (s *silence) SetNChannels(n int) { s.nch = n }
func (s *silence) Reset(float64)      {}
func (s *silence) GenSignal(out []float64) {
	clear(out)
}
