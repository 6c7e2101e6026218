// SPDX-License-Identifier: MIT
package blockfifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daq/internal/daq"
)

// hwFrames returns n interleaved frames of nch channels where sample
// (f, ch) is start+f*10+ch.
func hwFrames(n, nch, start int) []int16 {
	out := make([]int16, n*nch)
	for f := 0; f < n; f++ {
		for ch := 0; ch < nch; ch++ {
			out[f*nch+ch] = int16(start + f*10 + ch)
		}
	}
	return out
}

func TestAssemblerArbitraryCallbackSizes(t *testing.T) {
	a, err := NewAssembler[int16](4, []int{1, 3}, 8)
	require.NoError(t, err)

	var blocks []*daq.Block[int16]
	emit := func(b *daq.Block[int16]) { blocks = append(blocks, b) }

	frame := 0
	for _, n := range []int{3, 5, 1, 11, 2, 6} {
		require.NoError(t, a.Push(hwFrames(n, 4, frame*10), emit))
		frame += n
	}
	require.Len(t, blocks, 3, "28 frames make three blocks of 8")
	assert.Equal(t, 4, a.Buffered())

	for i, b := range blocks {
		assert.Equal(t, 2, b.NChannels())
		assert.Equal(t, 8, b.NFrames())
		for f := 0; f < 8; f++ {
			base := int16((i*8 + f) * 10)
			assert.Equal(t, base+1, b.Channel(0)[f])
			assert.Equal(t, base+3, b.Channel(1)[f])
		}
	}
}

func TestAssemblerOverrun(t *testing.T) {
	a, err := NewAssembler[float32](1, []int{0}, 4)
	require.NoError(t, err)
	// Three samples stay queued since a block needs four.
	room := a.ring.Free() / 4
	require.NoError(t, a.Push(make([]float32, 3), func(*daq.Block[float32]) {}))

	big := make([]float32, room)
	assert.ErrorIs(t, a.Push(big, func(*daq.Block[float32]) {}), ErrOverrun)
	assert.Equal(t, 3, a.Buffered(), "rejected buffer is not queued")
}

func TestAssemblerRejectsBadLayout(t *testing.T) {
	_, err := NewAssembler[int32](2, []int{2}, 8)
	assert.Error(t, err)
	_, err = NewAssembler[int32](2, nil, 8)
	assert.Error(t, err)
	_, err = NewAssembler[int32](2, []int{0}, 0)
	assert.Error(t, err)

	a, err := NewAssembler[int32](2, []int{0}, 8)
	require.NoError(t, err)
	assert.Error(t, a.Push(make([]int32, 3), func(*daq.Block[int32]) {}))
}

func TestPlayerSpreadsEnabledChannels(t *testing.T) {
	p, err := NewPlayer[int16](3, []int{2, 0}, 4)
	require.NoError(t, err)

	// Two channels, four frames: channel a = 1..4, channel b = -1..-4.
	require.NoError(t, p.Write([]int16{1, -1, 2, -2, 3, -3, 4, -4}))

	out := make([]int16, 3*3)
	assert.False(t, p.Fill(out))
	assert.Equal(t, []int16{-1, 0, 1, -2, 0, 2, -3, 0, 3}, out)

	out = make([]int16, 3*3)
	for i := range out {
		out[i] = 99
	}
	assert.False(t, p.Fill(out), "first short fill is tolerated")
	assert.Equal(t, []int16{-4, 0, 4, 0, 0, 0, 0, 0, 0}, out, "short fill is zero padded")
}

func TestPlayerUnderrunAfterToleratedFills(t *testing.T) {
	p, err := NewPlayer[float32](2, []int{0, 1}, 16)
	require.NoError(t, err)

	out := make([]float32, 32)
	assert.False(t, p.Fill(out), "silence before the first block")
	assert.False(t, p.Fill(out))
	assert.False(t, p.Fill(out))

	require.NoError(t, p.Write(make([]float32, 32)))
	assert.False(t, p.Fill(out))
	for i := 0; i < ToleratedStarvedFills; i++ {
		assert.False(t, p.Fill(out), "starved fill %d", i+1)
	}
	assert.True(t, p.Fill(out))
	assert.True(t, p.Fill(out))

	require.NoError(t, p.Write(make([]float32, 32)))
	assert.False(t, p.Fill(out), "a full fill clears the starvation count")
}

func TestPlayerFull(t *testing.T) {
	p, err := NewPlayer[int8](1, []int{0}, 8)
	require.NoError(t, err)

	room := p.Room()
	require.NoError(t, p.Write(make([]int8, room)))
	assert.Zero(t, p.Room())
	assert.ErrorIs(t, p.Write(make([]int8, 1)), ErrFull)

	p.Reset()
	assert.Equal(t, room, p.Room())
}
