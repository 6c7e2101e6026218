// SPDX-License-Identifier: MIT
package siggen

import (
	"fmt"
	"math"
	"strings"
)

type channel struct {
	gain   float64
	muted  bool
	filter Filter
}

// Siggen fans one Source out to a number of channels. It implements
// daq.SignalSource. Once handed to a running output stream it belongs to
// that stream's worker and must not be modified by other goroutines.
type Siggen struct {
	source   Source
	channels []channel
	fs       float64
	mono     []float64
}

// New returns a generator for nch channels at unity gain. A nil source
// is silence.
func New(src Source, nch int) *Siggen {
	if src == nil {
		src = Silence{}
	}
	g := &Siggen{source: src}
	g.SetNChannels(nch)
	return g
}

// NewFromName builds a source by kind name: "sine", "noise" or "silence".
func NewFromName(kind string, freq float64, nch int) (*Siggen, error) {
	var src Source
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sine":
		if freq <= 0 || math.IsNaN(freq) {
			return nil, fmt.Errorf("sine frequency must be positive, got %g", freq)
		}
		src = NewSine(freq)
	case "noise", "white", "whitenoise":
		src = NewWhiteNoise(1)
	case "silence", "":
		src = Silence{}
	default:
		return nil, fmt.Errorf("unknown signal kind: '%s'", kind)
	}
	return New(src, nch), nil
}

func (g *Siggen) NChannels() int { return len(g.channels) }

// SetNChannels resizes the channel list. Existing channels keep their
// settings; new ones start at unity gain, unmuted, unfiltered.
func (g *Siggen) SetNChannels(n int) {
	if n < 0 {
		n = 0
	}
	for len(g.channels) < n {
		g.channels = append(g.channels, channel{gain: 1})
	}
	g.channels = g.channels[:n]
}

// SetSource replaces the source. The new source is reset to the current
// sample rate.
func (g *Siggen) SetSource(src Source) {
	if src == nil {
		src = Silence{}
	}
	g.source = src
	if g.fs > 0 {
		g.source.Reset(g.fs)
	}
}

func (g *Siggen) Source() Source { return g.source }

// SetGain sets the linear gain of channel ch.
func (g *Siggen) SetGain(ch int, gain float64) error {
	if err := g.check(ch); err != nil {
		return err
	}
	g.channels[ch].gain = gain
	return nil
}

// SetAllGains sets the linear gain of every channel.
func (g *Siggen) SetAllGains(gain float64) {
	for i := range g.channels {
		g.channels[i].gain = gain
	}
}

func (g *Siggen) SetMute(ch int, muted bool) error {
	if err := g.check(ch); err != nil {
		return err
	}
	g.channels[ch].muted = muted
	return nil
}

// SetAllMute mutes or unmutes every channel.
func (g *Siggen) SetAllMute(muted bool) {
	for i := range g.channels {
		g.channels[i].muted = muted
	}
}

// SetFilter installs f on channel ch; nil removes the filter.
func (g *Siggen) SetFilter(ch int, f Filter) error {
	if err := g.check(ch); err != nil {
		return err
	}
	if f != nil {
		f.Reset()
	}
	g.channels[ch].filter = f
	return nil
}

func (g *Siggen) check(ch int) error {
	if ch < 0 || ch >= len(g.channels) {
		return fmt.Errorf("channel %d out of range [0, %d)", ch, len(g.channels))
	}
	return nil
}

// Reset prepares the source and all filters for sample rate fs.
func (g *Siggen) Reset(fs float64) {
	g.fs = fs
	g.source.Reset(fs)
	for _, c := range g.channels {
		if c.filter != nil {
			c.filter.Reset()
		}
	}
}

// GenSignal fills out with interleaved frames. len(out) must be a
// multiple of NChannels.
func (g *Siggen) GenSignal(out []float64) {
	nch := len(g.channels)
	if nch == 0 {
		return
	}
	if len(out)%nch != 0 {
		panic(fmt.Sprintf("siggen: buffer of %d samples is not a multiple of %d channels", len(out), nch))
	}
	nframes := len(out) / nch
	if cap(g.mono) < nframes {
		g.mono = make([]float64, nframes)
	}
	g.mono = g.mono[:nframes]
	g.source.Generate(g.mono)

	for ch, c := range g.channels {
		sig := g.mono
		if c.filter != nil {
			sig = c.filter.Filter(g.mono)
		}
		gain := c.gain
		if c.muted {
			gain = 0
		}
		for i, v := range sig {
			out[i*nch+ch] = gain * v
		}
	}
}
