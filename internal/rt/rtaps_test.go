// SPDX-License-Identifier: MIT
package rt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/floats"

	"daq/internal/daq"
	"daq/internal/daq/api/sim"
	"daq/internal/ps"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// queueAttacher hands out the attached queue so tests can play the worker.
type queueAttacher struct{ q *daq.InQueue }

func (a *queueAttacher) AddInQueue(q *daq.InQueue) { a.q = q }

func newTestRtAps(t *testing.T, nfft int) (*RtAps, *daq.InQueue) {
	t.Helper()
	tmpl, err := ps.NewApsSettings(nfft, 1000, ps.WithOverlap(ps.NoOverlap()), ps.WithWindow(ps.Rect))
	require.NoError(t, err)
	att := &queueAttacher{}
	r := NewRtAps(att, tmpl)
	t.Cleanup(r.Close)
	require.NotNil(t, att.q)
	return r, att.q
}

func newMeta(t *testing.T, fs float64, nch int) *daq.StreamMetadata {
	t.Helper()
	chs := make([]daq.Channel, nch)
	for i := range chs {
		chs[i].Enabled = true
	}
	meta, err := daq.NewStreamMetadata(chs, daq.F64, fs, 16)
	require.NoError(t, err)
	return meta
}

func constBlock(t *testing.T, v float64, frames, nch int) daq.SampleBlock {
	t.Helper()
	data := make([]float64, frames*nch)
	for i := range data {
		data[i] = v
	}
	blk, err := daq.BlockFromFloat64(daq.F64, data, nch)
	require.NoError(t, err)
	return blk
}

func waitSeq(t *testing.T, r *RtAps, seq uint64) *Result {
	t.Helper()
	var res *Result
	require.Eventually(t, func() bool {
		res = r.Latest()
		return res != nil && res.Seq >= seq
	}, waitTimeout, time.Millisecond)
	return res
}

func TestRtApsFoldsBlocksOfCurrentStream(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	meta := newMeta(t, 2000, 2)

	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: meta}))
	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 0, Meta: meta, Block: constBlock(t, 0.5, 16, 2)}))

	res := waitSeq(t, r, 1)
	assert.Same(t, meta, res.Meta)
	assert.Equal(t, 1, res.NBlocks)
	assert.Equal(t, 9, res.CPS.NFreq())
	assert.Equal(t, 2, res.CPS.NChannels())
	assert.InDelta(t, 0.25, res.CPS.AutoPower(0)[0], 1e-12, "DC power of a constant")
	// Frequencies follow the stream's sample rate, not the template's.
	assert.InDelta(t, 1000.0, res.Freqs[8], 1e-9)

	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 1, Meta: meta, Block: constBlock(t, 0.5, 16, 2)}))
	res = waitSeq(t, r, 2)
	assert.Equal(t, 2, res.NBlocks)
}

func TestRtApsIgnoresStaleGenerations(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	old := newMeta(t, 1000, 1)
	cur := newMeta(t, 1000, 1)

	require.NoError(t, q.TrySend(daq.StreamData{Meta: cur, Block: constBlock(t, 1, 16, 1)}))
	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: cur}))
	require.NoError(t, q.TrySend(daq.StreamData{Meta: old, Block: constBlock(t, 1, 16, 1)}))
	require.NoError(t, q.TrySend(daq.StreamData{Meta: cur, Block: constBlock(t, 0.1, 16, 1)}))

	res := waitSeq(t, r, 1)
	assert.Equal(t, uint64(1), res.Seq)
	assert.Equal(t, 1, res.NBlocks)
	assert.InDelta(t, 0.01, res.CPS.AutoPower(0)[0], 1e-12)
}

func TestRtApsRestartClearsResult(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	first := newMeta(t, 1000, 1)

	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: first}))
	require.NoError(t, q.TrySend(daq.StreamData{Meta: first, Block: constBlock(t, 1, 16, 1)}))
	waitSeq(t, r, 1)

	require.NoError(t, q.TrySend(daq.StreamStopped{}))
	second := newMeta(t, 1000, 1)
	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: second}))
	require.Eventually(t, func() bool { return r.Latest() == nil }, waitTimeout, time.Millisecond)

	require.NoError(t, q.TrySend(daq.StreamData{Meta: second, Block: constBlock(t, 1, 16, 1)}))
	res := waitSeq(t, r, 2)
	assert.Same(t, second, res.Meta)
	assert.Equal(t, 1, res.NBlocks)
}

func TestRtApsReset(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	meta := newMeta(t, 1000, 1)

	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: meta}))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TrySend(daq.StreamData{Ctr: uint64(i), Meta: meta, Block: constBlock(t, 1, 16, 1)}))
	}
	res := waitSeq(t, r, 3)
	assert.Equal(t, 3, res.NBlocks)

	r.Reset()
	assert.Nil(t, r.Latest())

	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 3, Meta: meta, Block: constBlock(t, 1, 16, 1)}))
	res = waitSeq(t, r, 4)
	assert.Equal(t, 1, res.NBlocks, "averaging restarted")
}

func TestRtApsRestartsAveragingAfterMissingBlocks(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	meta := newMeta(t, 1000, 1)

	require.NoError(t, q.TrySend(daq.StreamStarted{Meta: meta}))
	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 10, Meta: meta, Block: constBlock(t, 1, 16, 1)}))
	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 11, Meta: meta, Block: constBlock(t, 1, 16, 1)}))
	res := waitSeq(t, r, 2)
	assert.Equal(t, 2, res.NBlocks)
	assert.Equal(t, uint64(0), r.Gaps(), "a late first block is not a gap")

	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 14, Meta: meta, Block: constBlock(t, 0.5, 16, 1)}))
	res = waitSeq(t, r, 3)
	assert.Equal(t, 1, res.NBlocks, "averaging restarted")
	assert.InDelta(t, 0.25, res.CPS.AutoPower(0)[0], 1e-12, "only blocks after the gap count")
	assert.Equal(t, uint64(1), r.Gaps())

	require.NoError(t, q.TrySend(daq.StreamData{Ctr: 15, Meta: meta, Block: constBlock(t, 0.5, 16, 1)}))
	res = waitSeq(t, r, 4)
	assert.Equal(t, 2, res.NBlocks)
	assert.Equal(t, uint64(1), r.Gaps())
}

func TestRtApsCloseDetachesQueue(t *testing.T) {
	r, q := newTestRtAps(t, 16)
	r.Close()
	r.Close()
	assert.True(t, q.Closed())
}

func TestRtApsOnSimulatedStream(t *testing.T) {
	b := sim.New(sim.WithInterval(time.Millisecond), sim.WithTone(750, 0.5))
	mgr, err := daq.NewStreamMgr(daq.WithBackend(b))
	require.NoError(t, err)
	defer func() { _ = mgr.Close() }()

	tmpl, err := ps.NewApsSettings(256, 48000)
	require.NoError(t, err)
	r := NewRtAps(mgr, tmpl, WithQueueCapacity(1024))
	defer r.Close()

	cfg := daq.NewDaqConfigFromDevice(sim.DefaultDevice)
	cfg.FramesPerBlock = 256
	cfg.InChannels[1].Enabled = false
	require.NoError(t, mgr.StartInputStream(cfg))
	defer func() { _ = mgr.StopInputStream() }()

	res := waitSeq(t, r, 4)
	require.Equal(t, 1, res.CPS.NChannels())
	// 750 Hz falls on bin 4 at 48 kHz with 256 point blocks.
	assert.Equal(t, 4, floats.MaxIdx(res.CPS.AutoPower(0)))
	assert.Greater(t, res.NBlocks, 1)
}
