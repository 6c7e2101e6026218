// SPDX-License-Identifier: MIT

// Package transport moves spectrum estimates out of the process.
package transport

import (
	"math"
	"time"

	"daq/internal/analysis"
	applog "daq/internal/log"
	"daq/internal/rt"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Source provides the newest spectrum estimate. *rt.RtAps implements it.
type Source interface {
	Latest() *rt.Result
}

// powerFloorDB is reported for bins without power.
const powerFloorDB = -300.0

// SpectrumFrame is the wire form of one estimate: the auto-power of every
// channel in dB re 1 unit², and the same power summed over
// analysis.DefaultBands.
type SpectrumFrame struct {
	Seq        uint64      `json:"seq"`
	Time       time.Time   `json:"time"`
	StreamID   string      `json:"stream_id"`
	SampleRate float64     `json:"sample_rate"`
	NFFT       int         `json:"nfft"`
	NBlocks    int         `json:"nblocks"`
	Channels   []string    `json:"channels"`
	Freqs      []float64   `json:"freqs"`
	PowerDB    [][]float64 `json:"power_db"`
	Bands      []string    `json:"bands"`
	BandDB     [][]float64 `json:"band_db"`
}

// NewSpectrumFrame converts res for sending.
func NewSpectrumFrame(res *rt.Result) SpectrumFrame {
	f := SpectrumFrame{
		Seq:        res.Seq,
		Time:       res.Time,
		StreamID:   res.Meta.ID.String(),
		SampleRate: res.Meta.SampleRate,
		NFFT:       2 * (res.CPS.NFreq() - 1),
		NBlocks:    res.NBlocks,
		Channels:   res.Meta.ChannelNames(),
		Freqs:      res.Freqs,
		PowerDB:    make([][]float64, res.CPS.NChannels()),
		Bands:      analysis.BandNames(analysis.DefaultBands),
		BandDB:     make([][]float64, res.CPS.NChannels()),
	}
	for ch := range f.PowerDB {
		p := res.CPS.AutoPower(ch)
		bands, err := analysis.BandPower(res.Freqs, p, analysis.DefaultBands)
		if err != nil {
			applog.Warnf("Transport: band levels for channel %d: %v", ch, err)
			bands = make([]float64, len(f.Bands))
		}
		for i, v := range bands {
			bands[i] = toDB(v)
		}
		f.BandDB[ch] = bands
		for k, v := range p {
			p[k] = toDB(v)
		}
		f.PowerDB[ch] = p
	}
	return f
}

func toDB(p float64) float64 {
	if p <= 0 {
		return powerFloorDB
	}
	return max(10*math.Log10(p), powerFloorDB)
}
