// SPDX-License-Identifier: MIT

// Package analysis reduces averaged power spectra to summary values.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// FrequencyBand defines the name and frequency range [LowHz, HighHz) of a
// band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands split the audio range the way a mixing desk would. The last
// band runs up to the Nyquist frequency.
var DefaultBands = []FrequencyBand{
	{Name: "sub", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "lowMid", LowHz: 250, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "highMid", LowHz: 2000, HighHz: 4000},
	{Name: "treble", LowHz: 4000, HighHz: math.Inf(1)},
}

// BandNames returns the names of bands in order.
func BandNames(bands []FrequencyBand) []string {
	names := make([]string, len(bands))
	for i, b := range bands {
		names[i] = b.Name
	}
	return names
}

// BandPower sums the power of the bins whose frequency falls in each band.
// freqs must be ascending and as long as power. A band without bins has
// zero power.
func BandPower(freqs, power []float64, bands []FrequencyBand) ([]float64, error) {
	if len(freqs) != len(power) {
		return nil, fmt.Errorf("analysis: %d frequencies for %d power bins", len(freqs), len(power))
	}
	out := make([]float64, len(bands))
	for i, b := range bands {
		if b.HighHz <= b.LowHz {
			return nil, fmt.Errorf("analysis: band %q has an empty range", b.Name)
		}
		lo := sort.SearchFloat64s(freqs, b.LowHz)
		hi := sort.SearchFloat64s(freqs, b.HighHz)
		if hi > lo {
			out[i] = floats.Sum(power[lo:hi])
		}
	}
	return out, nil
}
