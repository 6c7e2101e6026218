// SPDX-License-Identifier: MIT
package ps

import (
	"fmt"
	"math"
	"strings"
)

// FreqWeighting is the frequency weighting applied to averaged spectra.
type FreqWeighting int

const (
	// ZWeighting applies no weighting.
	ZWeighting FreqWeighting = iota
	AWeighting
	CWeighting
)

func (fw FreqWeighting) String() string {
	switch fw {
	case ZWeighting:
		return "Z"
	case AWeighting:
		return "A"
	case CWeighting:
		return "C"
	default:
		return fmt.Sprintf("FreqWeighting(%d)", int(fw))
	}
}

// ParseFreqWeighting parses "A", "C" or "Z" (case-insensitive). An empty name
// means Z weighting.
func ParseFreqWeighting(name string) (FreqWeighting, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "Z":
		return ZWeighting, nil
	case "A":
		return AWeighting, nil
	case "C":
		return CWeighting, nil
	default:
		return ZWeighting, fmt.Errorf("unknown frequency weighting: '%s'", name)
	}
}

// IEC 61672-1 pole frequencies in Hz.
const (
	poleF1 = 20.598997
	poleF2 = 107.65265
	poleF3 = 737.86223
	poleF4 = 12194.217
)

func aResponse(f float64) float64 {
	f2 := f * f
	num := poleF4 * poleF4 * f2 * f2
	den := (f2 + poleF1*poleF1) *
		math.Sqrt((f2+poleF2*poleF2)*(f2+poleF3*poleF3)) *
		(f2 + poleF4*poleF4)
	return num / den
}

func cResponse(f float64) float64 {
	f2 := f * f
	return poleF4 * poleF4 * f2 / ((f2 + poleF1*poleF1) * (f2 + poleF4*poleF4))
}

// Gain returns the amplitude gain of the weighting at f Hz, normalised to
// unity at 1 kHz.
func (fw FreqWeighting) Gain(f float64) float64 {
	switch fw {
	case AWeighting:
		return aResponse(f) / aResponse(1000)
	case CWeighting:
		return cResponse(f) / cResponse(1000)
	default:
		return 1
	}
}

// powerWeights returns squared gains for freqs, or nil for Z weighting.
func (fw FreqWeighting) powerWeights(freqs []float64) []float64 {
	if fw == ZWeighting {
		return nil
	}
	w := make([]float64, len(freqs))
	for k, f := range freqs {
		g := fw.Gain(f)
		w[k] = g * g
	}
	return w
}
