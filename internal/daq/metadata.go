// SPDX-License-Identifier: MIT
package daq

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// StreamType selects which stream slot an operation refers to.
type StreamType int

const (
	Input StreamType = iota
	Output
	Duplex
)

func (t StreamType) String() string {
	switch t {
	case Input:
		return "input"
	case Output:
		return "output"
	case Duplex:
		return "duplex"
	default:
		return fmt.Sprintf("StreamType(%d)", int(t))
	}
}

// HasInput reports whether the stream delivers samples to consumers.
func (t StreamType) HasInput() bool { return t == Input || t == Duplex }

// HasOutput reports whether the stream plays samples from a signal source.
func (t StreamType) HasOutput() bool { return t == Output || t == Duplex }

// Channel describes one hardware channel.
type Channel struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	// Sensitivity converts normalised samples to physical units
	// (value / sensitivity). Zero is treated as 1.
	Sensitivity float64 `yaml:"sensitivity"`
	Unit        string  `yaml:"unit"`
}

// Scale returns the divisor that converts a normalised sample to Unit.
func (c Channel) Scale() float64 {
	if c.Sensitivity == 0 {
		return 1
	}
	return c.Sensitivity
}

// StreamMetadata describes one generation of a running stream. It is
// created when the stream starts and never modified; a restarted stream
// gets a new value with a new ID.
type StreamMetadata struct {
	ID             uuid.UUID
	Channels       []Channel // enabled channels only, in hardware order
	DataType       DataType
	SampleRate     float64
	FramesPerBlock int
}

var errNoChannels = errors.New("stream metadata requires at least one enabled channel")

// NewStreamMetadata builds metadata from a channel list, keeping only the
// enabled descriptors.
func NewStreamMetadata(channels []Channel, dt DataType, sampleRate float64, framesPerBlock int) (*StreamMetadata, error) {
	enabled := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Enabled {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		return nil, errNoChannels
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("invalid sample rate: %v", sampleRate)
	}
	if framesPerBlock <= 0 {
		return nil, fmt.Errorf("invalid frames per block: %d", framesPerBlock)
	}
	return &StreamMetadata{
		ID:             uuid.New(),
		Channels:       enabled,
		DataType:       dt,
		SampleRate:     sampleRate,
		FramesPerBlock: framesPerBlock,
	}, nil
}

// NChannels returns the number of channels carried in each block.
func (m *StreamMetadata) NChannels() int { return len(m.Channels) }

// BlockDuration is the wall-clock time covered by one block.
func (m *StreamMetadata) BlockDuration() time.Duration {
	return time.Duration(float64(m.FramesPerBlock) / m.SampleRate * float64(time.Second))
}

// ChannelNames returns the channel names, substituting "ch<i>" for empty ones.
func (m *StreamMetadata) ChannelNames() []string {
	names := make([]string, len(m.Channels))
	for i, ch := range m.Channels {
		if ch.Name == "" {
			names[i] = fmt.Sprintf("ch%d", i)
		} else {
			names[i] = ch.Name
		}
	}
	return names
}
