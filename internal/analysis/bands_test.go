// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandPower(t *testing.T) {
	// 0, 100, ..., 5000 Hz with one unit of power per bin.
	freqs := make([]float64, 51)
	power := make([]float64, 51)
	for i := range freqs {
		freqs[i] = float64(i) * 100
		power[i] = 1
	}

	got, err := BandPower(freqs, power, DefaultBands)
	require.NoError(t, err)
	require.Len(t, got, len(DefaultBands))

	assert.Equal(t, 0.0, got[0], "no bin between 20 and 60 Hz")
	assert.Equal(t, 2.0, got[1]) // 100, 200
	assert.Equal(t, 2.0, got[2]) // 300, 400
	assert.Equal(t, 15.0, got[3])
	assert.Equal(t, 20.0, got[4])
	assert.Equal(t, 11.0, got[5], "treble includes the last bin")
}

func TestBandPowerEdges(t *testing.T) {
	freqs := []float64{0, 50, 100}
	power := []float64{1, 2, 4}
	bands := []FrequencyBand{
		{Name: "low", LowHz: 0, HighHz: 50},
		{Name: "high", LowHz: 50, HighHz: math.Inf(1)},
	}
	got, err := BandPower(freqs, power, bands)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 6}, got)
}

func TestBandPowerErrors(t *testing.T) {
	_, err := BandPower([]float64{0, 1}, []float64{1}, DefaultBands)
	assert.Error(t, err)

	_, err = BandPower([]float64{0}, []float64{1}, []FrequencyBand{{Name: "bad", LowHz: 10, HighHz: 10}})
	assert.Error(t, err)
}

func TestBandNames(t *testing.T) {
	assert.Equal(t, []string{"sub", "bass", "lowMid", "mid", "highMid", "treble"}, BandNames(DefaultBands))
}
