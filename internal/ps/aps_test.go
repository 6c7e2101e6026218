// SPDX-License-Identifier: MIT
package ps

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daq/pkg/utils"
)

func newTestAps(t *testing.T, nfft int, fs float64, opts ...ApsOption) *AvPowerSpectra {
	t.Helper()
	s, err := NewApsSettings(nfft, fs, opts...)
	require.NoError(t, err)
	aps, err := NewAvPowerSpectra(s)
	require.NoError(t, err)
	return aps
}

func assertCPSNear(t *testing.T, want, got *CPSResult, tol float64) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.NFreq(), got.NFreq())
	require.Equal(t, want.NChannels(), got.NChannels())
	for k := 0; k < want.NFreq(); k++ {
		for i := 0; i < want.NChannels(); i++ {
			for j := 0; j < want.NChannels(); j++ {
				d := cmplx.Abs(want.At(k, i, j) - got.At(k, i, j))
				assert.LessOrEqual(t, d, tol, "bin %d [%d,%d]", k, i, j)
			}
		}
	}
}

func repeat(block [][]float64, times int) [][]float64 {
	out := make([][]float64, len(block))
	for c, col := range block {
		for range times {
			out[c] = append(out[c], col...)
		}
	}
	return out
}

func TestApsOnesScenario(t *testing.T) {
	aps := newTestAps(t, 10, 1, WithOverlap(NoOverlap()))
	ones := [][]float64{{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}}

	res := aps.ComputeLast(ones)
	require.NotNil(t, res)
	assert.InDelta(t, 1.0, real(res.At(0, 0, 0)), 1e-12)
	for k := 1; k < res.NFreq(); k++ {
		assert.InDelta(t, 0.0, cmplx.Abs(res.At(k, 0, 0)), 1e-12, "bin %d", k)
	}
}

func TestApsNoFullWindow(t *testing.T) {
	aps := newTestAps(t, 16, 1000)
	assert.Nil(t, aps.ComputeLast(randomBlock(1, 1, 15)))
	assert.Empty(t, aps.ComputeAll(randomBlock(2, 1, 0)))
	assert.Zero(t, aps.NBlocks())
	assert.Nil(t, aps.Current())

	assert.NotNil(t, aps.ComputeLast(randomBlock(3, 1, 1)), "the 16th frame completes a window")
}

func TestApsAllAveragingIdenticalBlocks(t *testing.T) {
	const nfft = 64
	block := randomBlock(11, 2, nfft)
	single := newTestPS(t, Hann, nfft).Compute(block)

	aps := newTestAps(t, nfft, 48000, WithOverlap(NoOverlap()))
	all := aps.ComputeAll(repeat(block, 5))
	require.Len(t, all, 5)
	for _, res := range all {
		assertCPSNear(t, single, res, 1e-12)
	}
	assert.Equal(t, 5, aps.NBlocks())
}

func TestApsAllAveragingIsRunningMean(t *testing.T) {
	const nfft = 32
	a := randomBlock(1, 1, nfft)
	b := randomBlock(2, 1, nfft)
	ps := newTestPS(t, Hann, nfft)
	ca, cb := ps.Compute(a), ps.Compute(b)

	aps := newTestAps(t, nfft, 1000, WithOverlap(NoOverlap()))
	aps.ComputeLast(a)
	got := aps.ComputeLast(b)
	assertCPSNear(t, ca.blend(0.5, cb, 0.5), got, 1e-12)
}

func TestApsExponentialDecay(t *testing.T) {
	const (
		nfft = 16
		fs   = 1000.0
		tau  = 0.05
	)
	block := randomBlock(5, 1, nfft)
	first := newTestPS(t, Hann, nfft).Compute(block)

	aps := newTestAps(t, nfft, fs,
		WithOverlap(NoOverlap()),
		WithMode(ExponentialWeighting(tau)),
	)
	assertCPSNear(t, first, aps.ComputeLast(block), 1e-12)

	for k := 1; k <= 4; k++ {
		res := aps.ComputeLast([][]float64{make([]float64, nfft)})
		scale := math.Exp(-float64(k*nfft) / (fs * tau))
		assertCPSNear(t, first.blend(scale, first, 0), res, 1e-12)
	}
}

func TestApsExponentialDecayWithOverlap(t *testing.T) {
	const (
		nfft = 16
		fs   = 1000.0
		tau  = 0.1
	)
	aps := newTestAps(t, nfft, fs,
		WithOverlap(OverlapPercentage(50)),
		WithMode(ExponentialWeighting(tau)),
	)
	assert.InDelta(t, math.Exp(-8/(fs*tau)), aps.alpha, 1e-15)
}

func TestApsSpectrogramKeepsLatest(t *testing.T) {
	const nfft = 32
	a := randomBlock(1, 2, nfft)
	b := randomBlock(2, 2, nfft)
	latest := newTestPS(t, Hann, nfft).Compute(b)

	aps := newTestAps(t, nfft, 1000, WithOverlap(NoOverlap()), WithMode(Spectrogram()))
	aps.ComputeLast(a)
	assertCPSNear(t, latest, aps.ComputeLast(b), 0)
}

func TestApsComputeAllWithOverlap(t *testing.T) {
	aps := newTestAps(t, 8, 1000, WithOverlap(OverlapPercentage(50)))
	all := aps.ComputeAll(randomBlock(9, 1, 16))
	assert.Len(t, all, 3)
	assert.Equal(t, 3, aps.NBlocks())

	last := aps.ComputeLast(nil)
	assert.Nil(t, last, "4 frames left, window needs 8")
}

func TestApsResultsAreNotMutated(t *testing.T) {
	aps := newTestAps(t, 16, 1000, WithOverlap(NoOverlap()))
	first := aps.ComputeLast(randomBlock(1, 1, 16))
	snapshot := first.Clone()
	aps.ComputeLast(randomBlock(2, 1, 16))
	assertCPSNear(t, snapshot, first, 0)
}

func TestApsReset(t *testing.T) {
	aps := newTestAps(t, 16, 1000, WithOverlap(NoOverlap()))
	aps.ComputeLast(randomBlock(1, 1, 20))
	aps.Reset()
	assert.Zero(t, aps.NBlocks())
	assert.Nil(t, aps.Current())
	assert.Nil(t, aps.ComputeLast(randomBlock(1, 1, 15)), "buffered frames were dropped")

	// A reset buffer accepts a different channel count.
	aps.Reset()
	assert.NotPanics(t, func() { aps.ComputeLast(randomBlock(1, 3, 16)) })
}

func TestApsResetWithSettings(t *testing.T) {
	aps := newTestAps(t, 16, 1000)
	aps.ComputeLast(randomBlock(1, 1, 32))

	s, err := NewApsSettings(32, 2000, WithMode(Spectrogram()))
	require.NoError(t, err)
	require.NoError(t, aps.ResetWithSettings(s))
	assert.Same(t, s, aps.Settings())
	assert.Zero(t, aps.NBlocks())

	res := aps.ComputeLast(randomBlock(2, 1, 32))
	require.NotNil(t, res)
	assert.Equal(t, 17, res.NFreq())
}

func TestApsAWeightingRemovesDC(t *testing.T) {
	aps := newTestAps(t, 64, 48000, WithOverlap(NoOverlap()), WithFreqWeighting(AWeighting))
	block := randomBlock(4, 1, 64)
	for i := range block[0] {
		block[0][i] += 0.5
	}
	res := aps.ComputeLast(block)
	require.NotNil(t, res)
	assert.Zero(t, real(res.At(0, 0, 0)))
}

func TestApsHarmonicPeaks(t *testing.T) {
	// 8 Hz bins put 440, 880 and 1320 Hz on bins 55, 110 and 165.
	aps := newTestAps(t, 1024, 8192)
	x := utils.GenerateComplexWave(8192, 8192)
	half := make([]float64, len(x))
	for i, v := range x {
		half[i] = v / 2
	}

	res := aps.ComputeLast([][]float64{x, half})
	require.NotNil(t, res)
	p := res.AutoPower(0)
	assert.Equal(t, 55, utils.FindPeakBin(p, 0, 80))
	assert.Equal(t, 110, utils.FindPeakBin(p, 80, 140))
	assert.Equal(t, 165, utils.FindPeakBin(p, 140, 300))
	assert.InDelta(t, 0.25, res.AutoPower(1)[55]/p[55], 1e-9)
	// The cross term is real and positive for in-phase channels.
	assert.InDelta(t, 0.5*p[55], real(res.At(55, 0, 1)), 1e-9*p[55])
}
