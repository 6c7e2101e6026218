// SPDX-License-Identifier: MIT

// Package siggen synthesises output signals: a single source fanned out
// to several channels, each with its own gain, mute and filter.
package siggen

import (
	"math"
	"math/rand/v2"
)

// Source produces a mono signal.
type Source interface {
	// Generate fills out with consecutive samples.
	Generate(out []float64)
	// Reset restarts the source for sample rate fs.
	Reset(fs float64)
}

// Filter is a stateful single-channel filter.
type Filter interface {
	// Filter returns a new slice of the same length as in.
	Filter(in []float64) []float64
	Reset()
}

// Sine is a unit amplitude sine wave.
type Sine struct {
	freq  float64
	phase float64
	step  float64
}

func NewSine(freq float64) *Sine {
	return &Sine{freq: freq}
}

func (s *Sine) Frequency() float64 { return s.freq }

func (s *Sine) Reset(fs float64) {
	s.phase = 0
	s.step = 0
	if fs > 0 {
		s.step = 2 * math.Pi * s.freq / fs
	}
}

func (s *Sine) Generate(out []float64) {
	for i := range out {
		out[i] = math.Sin(s.phase)
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// WhiteNoise is uniform white noise in [-1, 1). Reset restarts the
// sequence from the seed.
type WhiteNoise struct {
	seed uint64
	rng  *rand.Rand
}

func NewWhiteNoise(seed uint64) *WhiteNoise {
	n := &WhiteNoise{seed: seed}
	n.Reset(0)
	return n
}

func (n *WhiteNoise) Reset(float64) {
	n.rng = rand.New(rand.NewPCG(n.seed, n.seed^0x9e3779b97f4a7c15))
}

func (n *WhiteNoise) Generate(out []float64) {
	for i := range out {
		out[i] = 2*n.rng.Float64() - 1
	}
}

// Silence generates zeros.
type Silence struct{}

func (Silence) Reset(float64)          {}
func (Silence) Generate(out []float64) { clear(out) }

// DCBlocker is a one-pole high-pass filter, y[n] = x[n] - x[n-1] + r*y[n-1].
type DCBlocker struct {
	r     float64
	xprev float64
	yprev float64
}

func NewDCBlocker(r float64) *DCBlocker { return &DCBlocker{r: r} }

func (f *DCBlocker) Filter(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		y := x - f.xprev + f.r*f.yprev
		out[i] = y
		f.xprev, f.yprev = x, y
	}
	return out
}

func (f *DCBlocker) Reset() {
	f.xprev, f.yprev = 0, 0
}
