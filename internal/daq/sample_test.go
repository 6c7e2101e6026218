// SPDX-License-Identifier: MIT
package daq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlockRejectsRaggedBuffers(t *testing.T) {
	_, err := NewBlock([]int16{1, 2, 3}, 2)
	assert.ErrorIs(t, err, ErrRaggedBlock)

	_, err = NewBlock([]int16{1, 2}, 0)
	assert.Error(t, err)

	blk, err := NewBlock([]int16{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, blk.NFrames())
	assert.Equal(t, 6, blk.Len())
	assert.Equal(t, []int16{2, 5}, blk.Channel(1))
}

func TestBlockDataType(t *testing.T) {
	tests := []struct {
		blk  SampleBlock
		want DataType
	}{
		{&Block[int8]{nchannels: 1}, I8},
		{&Block[int16]{nchannels: 1}, I16},
		{&Block[int32]{nchannels: 1}, I32},
		{&Block[float32]{nchannels: 1}, F32},
		{&Block[float64]{nchannels: 1}, F64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.blk.DataType())
	}
}

func TestToFloat64Deinterleaves(t *testing.T) {
	blk, err := NewBlock([]int16{-32768, 16384, 0, -16384}, 2)
	require.NoError(t, err)

	got := blk.ToFloat64()
	require.Len(t, got, 2)
	assert.Equal(t, []float64{-1, 0}, got[0])
	assert.Equal(t, []float64{0.5, -0.5}, got[1])
}

func TestBlockFromFloat64(t *testing.T) {
	in := []float64{-2, -1, -0.5, 0, 0.5, 1}

	for _, dt := range []DataType{I8, I16, I32, F32, F64} {
		t.Run(dt.String(), func(t *testing.T) {
			blk, err := BlockFromFloat64(dt, in, 2)
			require.NoError(t, err)
			assert.Equal(t, dt, blk.DataType())
			assert.Equal(t, 3, blk.NFrames())

			back := blk.ToFloat64()
			want := [][]float64{{-2, -0.5, 0.5}, {-1, 0, 1}}
			if !dt.IsFloat() {
				// Integer types clamp to [-1, 1).
				lsb := 1.0 / fullScale(dt)
				want = [][]float64{{-1, -0.5, 0.5}, {-1, 0, 1 - lsb}}
			}
			for ch := range want {
				assert.InDeltaSlice(t, want[ch], back[ch], 1e-9)
			}
		})
	}
}

func TestParseDataType(t *testing.T) {
	for _, name := range []string{"int8", "I16", "int32", "f32", "float64"} {
		_, err := ParseDataType(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseDataType("int24")
	assert.Error(t, err)
}

func TestStreamMetadataKeepsEnabledChannels(t *testing.T) {
	meta, err := NewStreamMetadata([]Channel{
		{Enabled: true, Name: "mic"},
		{Enabled: false, Name: "off"},
		{Enabled: true},
	}, I16, 48000, 480)
	require.NoError(t, err)

	assert.Equal(t, 2, meta.NChannels())
	assert.Equal(t, []string{"mic", "ch1"}, meta.ChannelNames())
	assert.Equal(t, 10*time.Millisecond, meta.BlockDuration())

	_, err = NewStreamMetadata([]Channel{{Enabled: false}}, I16, 48000, 480)
	assert.Error(t, err)
	_, err = NewStreamMetadata([]Channel{{Enabled: true}}, I16, 0, 480)
	assert.Error(t, err)
}

func TestInQueue(t *testing.T) {
	q := NewInQueue(1)
	require.NoError(t, q.TrySend(StreamStopped{}))
	assert.ErrorIs(t, q.TrySend(StreamStopped{}), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	// Control messages still fit until the reserve is used up.
	for range controlReserve - 1 {
		require.True(t, q.Send(StreamStopped{}, time.Millisecond))
	}
	require.NoError(t, q.Offer(StreamError{Kind: InputOverrunError}))
	assert.ErrorIs(t, q.Offer(StreamError{Kind: InputOverrunError}), ErrQueueFull)
	assert.False(t, q.Send(StreamStopped{}, time.Millisecond), "full queue times out")
	assert.Equal(t, uint64(1), q.Dropped(), "only data sends count as dropped")

	<-q.Messages()
	assert.True(t, q.Send(StreamStopped{}, time.Millisecond))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.TrySend(StreamStopped{}), ErrQueueClosed)
	assert.ErrorIs(t, q.Offer(StreamStopped{}), ErrQueueClosed)
	assert.False(t, q.Send(StreamStopped{}, time.Second))
}

func TestCtrTracker(t *testing.T) {
	var tr CtrTracker
	assert.Equal(t, uint64(0), tr.Observe(40), "first block is the baseline")
	assert.Equal(t, uint64(0), tr.Observe(41))
	assert.Equal(t, uint64(2), tr.Observe(44))
	assert.Equal(t, uint64(0), tr.Observe(45))
	assert.Equal(t, uint64(0), tr.Observe(45), "repeats are not gaps")

	tr.Reset()
	assert.Equal(t, uint64(0), tr.Observe(0))
	assert.Equal(t, uint64(0), tr.Observe(1))
}

func TestDaqConfigValidate(t *testing.T) {
	cfg := NewDaqConfigFromDevice(fakeDevice)
	require.NoError(t, cfg.Validate(fakeDevice, Duplex))

	cfg.InChannels = append(cfg.InChannels, Channel{Enabled: true})
	assert.Error(t, cfg.Validate(fakeDevice, Input))
	assert.NoError(t, cfg.Validate(fakeDevice, Output))

	noDuplex := fakeDevice
	noDuplex.Duplex = false
	cfg = NewDaqConfigFromDevice(noDuplex)
	assert.ErrorIs(t, cfg.Validate(noDuplex, Duplex), ErrDuplexNotSupported)

	cfg.DataType = I8
	assert.Error(t, cfg.Validate(noDuplex, Input))
}
