// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"slices"

	"daq/internal/daq"
	"daq/internal/ps"
	"daq/internal/siggen"
)

// Core configuration constants that define the boundaries and defaults
// for the stream engine.
const (
	// Default values for the stream engine configuration
	DefaultAPI            = APISim
	DefaultDataType       = "f32"   // 32 bit float samples
	DefaultSampleRate     = 48000   // Hz
	DefaultFramesPerBlock = 2048    // Balanced latency/performance
	DefaultNFFT           = 2048    // ~23 Hz resolution at 48 kHz
	DefaultWindow         = "Hann"  // General purpose taper
	DefaultOverlap        = "50%"   // Hann windows overlap by half
	DefaultMode           = "all"   // Average over the whole run
	DefaultWeighting      = "Z"     // No frequency weighting
	DefaultSiggenKind     = "sine"  // Test tone
	DefaultSiggenFreq     = 1000    // Hz
	DefaultRecordingDir   = "./recordings"
	DefaultUDPAddress     = "127.0.0.1:9090"
	DefaultWebSocketAddr  = ":8080"

	// Hardware and processing limits
	MinSampleRate     = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate     = 192000 // Maximum supported sample rate (Hz)
	MaxFramesPerBlock = 8192   // Maximum frames per block
	MaxNFFT           = 65536  // Largest spectrum block
)

// Stream APIs selectable in the config.
const (
	APISim       = "sim"
	APIPortAudio = "portaudio"
)

// DaqConfig applies the stream section to dev: the listed channels are
// enabled, all others disabled. An empty list keeps every channel of the
// device enabled.
func (s StreamConfig) DaqConfig(dev daq.DeviceInfo) (*daq.DaqConfig, error) {
	dt, err := daq.ParseDataType(s.DataType)
	if err != nil {
		return nil, err
	}
	cfg := daq.NewDaqConfigFromDevice(dev)
	cfg.DataType = dt
	cfg.SampleRate = s.SampleRate
	cfg.FramesPerBlock = s.FramesPerBlock

	if err := enableOnly(cfg.InChannels, s.InputChannels); err != nil {
		return nil, fmt.Errorf("input channels: %w", err)
	}
	if err := enableOnly(cfg.OutChannels, s.OutputChannels); err != nil {
		return nil, fmt.Errorf("output channels: %w", err)
	}
	for i, name := range s.ChannelNames {
		if i < len(cfg.InChannels) && name != "" {
			cfg.InChannels[i].Name = name
		}
	}
	return cfg, nil
}

func enableOnly(chs []daq.Channel, enabled []int) error {
	if len(enabled) == 0 {
		return nil
	}
	for _, idx := range enabled {
		if idx < 0 || idx >= len(chs) {
			return fmt.Errorf("channel %d outside [0, %d)", idx, len(chs))
		}
	}
	for i := range chs {
		chs[i].Enabled = slices.Contains(enabled, i)
	}
	return nil
}

// ApsSettings builds averaging settings from the spectrum section for a
// stream running at fs.
func (s SpectrumConfig) ApsSettings(fs float64) (*ps.ApsSettings, error) {
	win, err := ps.ParseWindowType(s.Window)
	if err != nil {
		return nil, err
	}
	overlap, err := ps.ParseOverlap(s.Overlap)
	if err != nil {
		return nil, err
	}
	mode, err := ps.ParseApsMode(s.Mode, s.Tau)
	if err != nil {
		return nil, err
	}
	weighting, err := ps.ParseFreqWeighting(s.Weighting)
	if err != nil {
		return nil, err
	}
	return ps.NewApsSettings(s.NFFT, fs,
		ps.WithWindow(win),
		ps.WithOverlap(overlap),
		ps.WithMode(mode),
		ps.WithFreqWeighting(weighting),
	)
}

// Siggen builds the signal generator of the siggen section for nch
// output channels.
func (s SiggenConfig) Siggen(nch int) (*siggen.Siggen, error) {
	g, err := siggen.NewFromName(s.Kind, s.Frequency, nch)
	if err != nil {
		return nil, err
	}
	g.SetAllGains(s.Gain)
	return g, nil
}
