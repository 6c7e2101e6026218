// SPDX-License-Identifier: MIT
package ps

import "fmt"

// TimeBuffer accumulates multi-channel time data and hands it out in fixed
// size, optionally overlapping, windows. The zero value is ready to use.
//
// Data is channel-major: block[ch][frame]. All channels always hold the
// same number of frames.
type TimeBuffer struct {
	data [][]float64
}

// Push appends frames. The first push fixes the channel count until Reset;
// pushing a different channel count or channels of unequal length panics.
func (tb *TimeBuffer) Push(block [][]float64) {
	if len(block) == 0 {
		return
	}
	nframes := len(block[0])
	for ch, col := range block {
		if len(col) != nframes {
			panic(fmt.Sprintf("ps: TimeBuffer.Push channel %d has %d frames, channel 0 has %d", ch, len(col), nframes))
		}
	}
	if tb.data == nil {
		tb.data = make([][]float64, len(block))
	} else if len(block) != len(tb.data) {
		panic(fmt.Sprintf("ps: TimeBuffer.Push got %d channels, buffer holds %d", len(block), len(tb.data)))
	}
	for ch, col := range block {
		tb.data[ch] = append(tb.data[ch], col...)
	}
}

// Pop returns exactly nrequest frames per channel, or nil if fewer are
// buffered. Of the returned frames the last nkeep stay in the buffer for
// the next window. nkeep > nrequest panics.
func (tb *TimeBuffer) Pop(nrequest, nkeep int) [][]float64 {
	if nkeep > nrequest || nkeep < 0 {
		panic(fmt.Sprintf("ps: TimeBuffer.Pop nkeep %d out of range for nrequest %d", nkeep, nrequest))
	}
	if nrequest <= 0 || tb.NFrames() < nrequest {
		return nil
	}
	out := make([][]float64, len(tb.data))
	backing := make([]float64, nrequest*len(tb.data))
	ndrop := nrequest - nkeep
	for ch, col := range tb.data {
		dst := backing[ch*nrequest : (ch+1)*nrequest : (ch+1)*nrequest]
		copy(dst, col[:nrequest])
		out[ch] = dst
		tb.data[ch] = append(col[:0], col[ndrop:]...)
	}
	return out
}

// Reset drops all data and the fixed channel count.
func (tb *TimeBuffer) Reset() {
	tb.data = nil
}

// NFrames returns the number of frames buffered per channel.
func (tb *TimeBuffer) NFrames() int {
	if len(tb.data) == 0 {
		return 0
	}
	return len(tb.data[0])
}

// NChannels returns the fixed channel count, or 0 before the first push.
func (tb *TimeBuffer) NChannels() int { return len(tb.data) }
