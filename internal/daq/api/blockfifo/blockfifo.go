// SPDX-License-Identifier: MIT

// Package blockfifo bridges hardware callbacks, which deliver or request
// interleaved buffers of whatever length the driver chooses, and the
// fixed-size blocks the stream engine works with.
//
// Samples are kept in a byte FIFO (little endian) so that one ring buffer
// type serves every sample format.
package blockfifo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"daq/internal/daq"
	"daq/pkg/bitint"
)

// fifoBlocks is the minimum number of blocks a FIFO can hold.
const fifoBlocks = 4

// ToleratedStarvedFills is the number of consecutive short output fills
// that are zero padded silently before Fill reports an underrun.
const ToleratedStarvedFills = 2

var (
	ErrOverrun = errors.New("fifo full, samples dropped")
	ErrFull    = errors.New("fifo has no room for block")
)

type layout struct {
	hwChannels int
	enabled    []int
	frames     int
	sampleSize int
}

func newLayout[T daq.Sample](hwChannels int, enabled []int, frames int) (layout, error) {
	if hwChannels <= 0 {
		return layout{}, fmt.Errorf("invalid hardware channel count %d", hwChannels)
	}
	if len(enabled) == 0 {
		return layout{}, errors.New("no channels enabled")
	}
	for _, ch := range enabled {
		if ch < 0 || ch >= hwChannels {
			return layout{}, fmt.Errorf("enabled channel %d outside [0, %d)", ch, hwChannels)
		}
	}
	if frames <= 0 {
		return layout{}, fmt.Errorf("invalid frames per block %d", frames)
	}
	var zero T
	return layout{
		hwChannels: hwChannels,
		enabled:    append([]int(nil), enabled...),
		frames:     frames,
		sampleSize: binary.Size(zero),
	}, nil
}

func (l layout) frameBytes() int { return l.hwChannels * l.sampleSize }
func (l layout) blockBytes() int { return l.frames * l.frameBytes() }

func (l layout) newRing() *ringbuffer.RingBuffer {
	return ringbuffer.New(bitint.NextPowerOfTwo(fifoBlocks * l.blockBytes()))
}

// Assembler turns input callback buffers into blocks of exactly
// framesPerBlock frames that carry the enabled channels only.
type Assembler[T daq.Sample] struct {
	layout
	ring *ringbuffer.RingBuffer
	raw  []byte
	hw   []T
}

// NewAssembler returns an assembler for callbacks carrying hwChannels
// interleaved channels of which enabled are kept, in that order.
func NewAssembler[T daq.Sample](hwChannels int, enabled []int, framesPerBlock int) (*Assembler[T], error) {
	l, err := newLayout[T](hwChannels, enabled, framesPerBlock)
	if err != nil {
		return nil, err
	}
	return &Assembler[T]{
		layout: l,
		ring:   l.newRing(),
		raw:    make([]byte, l.blockBytes()),
		hw:     make([]T, framesPerBlock*hwChannels),
	}, nil
}

// Push queues in and calls emit for every block it completes. If the
// FIFO cannot take all of in, nothing is queued and ErrOverrun is
// returned.
func (a *Assembler[T]) Push(in []T, emit func(*daq.Block[T])) error {
	if len(in)%a.hwChannels != 0 {
		return fmt.Errorf("callback buffer of %d samples is not a multiple of %d channels", len(in), a.hwChannels)
	}
	n := len(in) * a.sampleSize
	if n > a.ring.Free() {
		return ErrOverrun
	}
	if cap(a.raw) < n {
		a.raw = make([]byte, n)
	}
	buf := a.raw[:n]
	if _, err := binary.Encode(buf, binary.LittleEndian, in); err != nil {
		return err
	}
	if _, err := a.ring.Write(buf); err != nil {
		return err
	}

	block := a.raw[:a.blockBytes()]
	for a.ring.Length() >= len(block) {
		if _, err := a.ring.Read(block); err != nil {
			return err
		}
		if _, err := binary.Decode(block, binary.LittleEndian, a.hw); err != nil {
			return err
		}
		emit(a.pick())
	}
	return nil
}

// pick copies the enabled channels of the hardware frames in a.hw into a
// new block.
func (a *Assembler[T]) pick() *daq.Block[T] {
	nen := len(a.enabled)
	data := make([]T, a.frames*nen)
	for f := 0; f < a.frames; f++ {
		src := a.hw[f*a.hwChannels : (f+1)*a.hwChannels]
		dst := data[f*nen : (f+1)*nen]
		for i, ch := range a.enabled {
			dst[i] = src[ch]
		}
	}
	blk, _ := daq.NewBlock(data, nen)
	return blk
}

// Buffered returns the number of frames waiting for a complete block.
func (a *Assembler[T]) Buffered() int { return a.ring.Length() / a.frameBytes() }

func (a *Assembler[T]) Reset() { a.ring.Reset() }

// Player queues output blocks and hands them out in whatever buffer
// sizes the output callback asks for. Disabled hardware channels play
// zeros.
//
// Write and Fill may be called from different goroutines. Fills before
// the first Write play silence without counting as starved.
type Player[T daq.Sample] struct {
	layout
	ring    *ringbuffer.RingBuffer
	wraw    []byte
	whw     []T
	rraw    []byte
	primed  atomic.Bool
	starved int
}

// NewPlayer returns a player for hwChannels interleaved output channels
// of which enabled receive the block channels, in that order.
func NewPlayer[T daq.Sample](hwChannels int, enabled []int, framesPerBlock int) (*Player[T], error) {
	l, err := newLayout[T](hwChannels, enabled, framesPerBlock)
	if err != nil {
		return nil, err
	}
	return &Player[T]{layout: l, ring: l.newRing()}, nil
}

// Room returns the number of frames that can be queued right now.
func (p *Player[T]) Room() int { return p.ring.Free() / p.frameBytes() }

// Write queues the interleaved enabled-channel samples of one block. It
// returns ErrFull without queueing anything if there is no room.
func (p *Player[T]) Write(samples []T) error {
	nen := len(p.enabled)
	if len(samples)%nen != 0 {
		return fmt.Errorf("block of %d samples is not a multiple of %d channels", len(samples), nen)
	}
	frames := len(samples) / nen
	if frames > p.Room() {
		return ErrFull
	}
	if cap(p.whw) < frames*p.hwChannels {
		p.whw = make([]T, frames*p.hwChannels)
	}
	hw := p.whw[:frames*p.hwChannels]
	clear(hw)
	for f := 0; f < frames; f++ {
		for i, ch := range p.enabled {
			hw[f*p.hwChannels+ch] = samples[f*nen+i]
		}
	}
	n := len(hw) * p.sampleSize
	if cap(p.wraw) < n {
		p.wraw = make([]byte, n)
	}
	buf := p.wraw[:n]
	if _, err := binary.Encode(buf, binary.LittleEndian, hw); err != nil {
		return err
	}
	if _, err := p.ring.Write(buf); err != nil {
		return err
	}
	p.primed.Store(true)
	return nil
}

// Fill copies queued frames into out and zero fills the rest. It returns
// true once more than ToleratedStarvedFills consecutive calls could not
// be served in full.
func (p *Player[T]) Fill(out []T) (underrun bool) {
	want := (len(out) / p.hwChannels) * p.frameBytes()
	avail := (p.ring.Length() / p.frameBytes()) * p.frameBytes()
	n := min(want, avail)
	if n > 0 {
		if cap(p.rraw) < n {
			p.rraw = make([]byte, n)
		}
		buf := p.rraw[:n]
		if _, err := p.ring.Read(buf); err == nil {
			_, _ = binary.Decode(buf, binary.LittleEndian, out[:n/p.sampleSize])
		} else {
			n = 0
		}
	}
	clear(out[n/p.sampleSize:])

	if n < want && p.primed.Load() {
		p.starved++
		return p.starved > ToleratedStarvedFills
	}
	p.starved = 0
	return false
}

func (p *Player[T]) Reset() {
	p.ring.Reset()
	p.primed.Store(false)
	p.starved = 0
}
