// SPDX-License-Identifier: MIT
package daq

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DataType is the raw sample encoding a stream produces or consumes.
type DataType int

const (
	I8 DataType = iota
	I16
	I32
	F32
	F64
)

// String returns the conventional short name of the data type.
func (dt DataType) String() string {
	switch dt {
	case I8:
		return "int8"
	case I16:
		return "int16"
	case I32:
		return "int32"
	case F32:
		return "float32"
	case F64:
		return "float64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// BytesPerSample returns the storage size of one sample.
func (dt DataType) BytesPerSample() int {
	switch dt {
	case I8:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether samples are stored as floating point.
func (dt DataType) IsFloat() bool {
	return dt == F32 || dt == F64
}

// ParseDataType converts a name such as "int16" or "f32" to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int8", "i8":
		return I8, nil
	case "int16", "i16":
		return I16, nil
	case "int32", "i32":
		return I32, nil
	case "float32", "f32":
		return F32, nil
	case "float64", "f64":
		return F64, nil
	default:
		return F32, fmt.Errorf("unknown data type: '%s'", name)
	}
}

// Sample is the set of primitive encodings a SampleBlock may carry.
type Sample interface {
	int8 | int16 | int32 | float32 | float64
}

// SampleBlock is one block of interleaved raw samples for a fixed channel
// set. Blocks are immutable once created and are shared by pointer between
// every consumer of a stream.
type SampleBlock interface {
	DataType() DataType
	NChannels() int
	NFrames() int
	Len() int
	// ToFloat64 deinterleaves the block into one slice per channel. Integer
	// samples are normalised to [-1, 1).
	ToFloat64() [][]float64
}

// ErrRaggedBlock is returned when a buffer does not hold whole frames.
var ErrRaggedBlock = errors.New("sample buffer length is not a multiple of the channel count")

// Block is the concrete SampleBlock for sample type T.
type Block[T Sample] struct {
	data      []T
	nchannels int
}

var (
	_ SampleBlock = (*Block[int8])(nil)
	_ SampleBlock = (*Block[float64])(nil)
)

// NewBlock wraps an interleaved buffer. The block takes ownership of data.
func NewBlock[T Sample](data []T, nchannels int) (*Block[T], error) {
	if nchannels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", nchannels)
	}
	if len(data)%nchannels != 0 {
		return nil, fmt.Errorf("%w: len %d, channels %d", ErrRaggedBlock, len(data), nchannels)
	}
	return &Block[T]{data: data, nchannels: nchannels}, nil
}

// Data returns the interleaved samples. Callers must not modify them.
func (b *Block[T]) Data() []T { return b.data }

func (b *Block[T]) NChannels() int { return b.nchannels }
func (b *Block[T]) NFrames() int   { return len(b.data) / b.nchannels }
func (b *Block[T]) Len() int       { return len(b.data) }

func (b *Block[T]) DataType() DataType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return I8
	case int16:
		return I16
	case int32:
		return I32
	case float32:
		return F32
	default:
		return F64
	}
}

// Channel returns a copy of one channel's samples.
func (b *Block[T]) Channel(ch int) []T {
	out := make([]T, b.NFrames())
	for f := range out {
		out[f] = b.data[f*b.nchannels+ch]
	}
	return out
}

func (b *Block[T]) ToFloat64() [][]float64 {
	scale := fullScale(b.DataType())
	nframes := b.NFrames()
	out := make([][]float64, b.nchannels)
	for ch := range out {
		col := make([]float64, nframes)
		for f := range col {
			col[f] = float64(b.data[f*b.nchannels+ch]) / scale
		}
		out[ch] = col
	}
	return out
}

// fullScale is the magnitude that maps to 1.0 for a data type.
func fullScale(dt DataType) float64 {
	switch dt {
	case I8:
		return 1 << 7
	case I16:
		return 1 << 15
	case I32:
		return 1 << 31
	default:
		return 1
	}
}

// BlockFromFloat64 converts interleaved float frames in [-1, 1] to a block
// of the requested raw type. Integer conversions are clamped.
func BlockFromFloat64(dt DataType, interleaved []float64, nchannels int) (SampleBlock, error) {
	switch dt {
	case I8:
		return NewBlock(quantize[int8](interleaved, dt), nchannels)
	case I16:
		return NewBlock(quantize[int16](interleaved, dt), nchannels)
	case I32:
		return NewBlock(quantize[int32](interleaved, dt), nchannels)
	case F32:
		out := make([]float32, len(interleaved))
		for i, v := range interleaved {
			out[i] = float32(v)
		}
		return NewBlock(out, nchannels)
	case F64:
		out := make([]float64, len(interleaved))
		copy(out, interleaved)
		return NewBlock(out, nchannels)
	default:
		return nil, fmt.Errorf("unsupported data type: %v", dt)
	}
}

func quantize[T int8 | int16 | int32](in []float64, dt DataType) []T {
	scale := fullScale(dt)
	lo, hi := -scale, scale-1
	out := make([]T, len(in))
	for i, v := range in {
		s := math.Round(v * scale)
		if s < lo {
			s = lo
		} else if s > hi {
			s = hi
		}
		out[i] = T(s)
	}
	return out
}
