// SPDX-License-Identifier: MIT
package daq

import (
	"errors"
	"fmt"
	"slices"
)

// StreamAPI names the backend a device belongs to.
type StreamAPI string

// Sample rates and block sizes offered for devices that do not report a
// narrower set.
var (
	StandardSampleRates = []float64{
		1000, 2000, 4000, 8000, 11025, 12000, 16000, 22050, 24000, 32000,
		44100, 48000, 88200, 96000, 192000, 384000,
	}
	StandardFramesPerBlock = []int{256, 512, 1024, 2048, 8192}
)

const (
	// DefaultFramesPerBlock is the preferred block size for explicit configs.
	DefaultFramesPerBlock = 2048
	// DefaultInputFramesPerBlock is used by StartDefaultInputStream.
	DefaultInputFramesPerBlock = 4096
)

// DeviceInfo describes a device as reported by a backend.
type DeviceInfo struct {
	API  StreamAPI
	Name string

	AvailableDataTypes []DataType
	PreferredDataType  DataType

	AvailableSampleRates []float64
	PreferredSampleRate  float64

	AvailableFramesPerBlock []int
	PreferredFramesPerBlock int

	InChannels  int
	OutChannels int
	Duplex      bool // device can run input and output in one stream
	Default     bool // backend's default device
}

// Kind returns "Input", "Output", "Input/Output" or "" for display.
func (d DeviceInfo) Kind() string {
	switch {
	case d.InChannels > 0 && d.OutChannels > 0:
		return "Input/Output"
	case d.InChannels > 0:
		return "Input"
	case d.OutChannels > 0:
		return "Output"
	default:
		return ""
	}
}

// DaqConfig selects a device and how to run it.
type DaqConfig struct {
	API            StreamAPI
	DeviceName     string
	InChannels     []Channel
	OutChannels    []Channel
	DataType       DataType
	SampleRate     float64
	FramesPerBlock int
}

// NewDaqConfigFromDevice returns a config with every channel enabled and
// the device's preferred settings.
func NewDaqConfigFromDevice(dev DeviceInfo) *DaqConfig {
	cfg := &DaqConfig{
		API:            dev.API,
		DeviceName:     dev.Name,
		InChannels:     make([]Channel, dev.InChannels),
		OutChannels:    make([]Channel, dev.OutChannels),
		DataType:       dev.PreferredDataType,
		SampleRate:     dev.PreferredSampleRate,
		FramesPerBlock: dev.PreferredFramesPerBlock,
	}
	for i := range cfg.InChannels {
		cfg.InChannels[i] = Channel{Enabled: true, Name: fmt.Sprintf("in%d", i+1), Sensitivity: 1}
	}
	for i := range cfg.OutChannels {
		cfg.OutChannels[i] = Channel{Enabled: true, Name: fmt.Sprintf("out%d", i+1), Sensitivity: 1}
	}
	if cfg.FramesPerBlock <= 0 {
		cfg.FramesPerBlock = DefaultFramesPerBlock
	}
	return cfg
}

func enabledOf(chs []Channel) []Channel {
	var out []Channel
	for _, ch := range chs {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

func enabledIndices(chs []Channel) []int {
	var out []int
	for i, ch := range chs {
		if ch.Enabled {
			out = append(out, i)
		}
	}
	return out
}

func highestEnabled(chs []Channel) int {
	for i := len(chs) - 1; i >= 0; i-- {
		if chs[i].Enabled {
			return i
		}
	}
	return -1
}

func (c *DaqConfig) EnabledInChannels() []Channel  { return enabledOf(c.InChannels) }
func (c *DaqConfig) EnabledOutChannels() []Channel { return enabledOf(c.OutChannels) }

// EnabledInIndices returns the hardware indices of enabled input channels.
func (c *DaqConfig) EnabledInIndices() []int  { return enabledIndices(c.InChannels) }
func (c *DaqConfig) EnabledOutIndices() []int { return enabledIndices(c.OutChannels) }

func (c *DaqConfig) NumEnabledIn() int  { return len(c.EnabledInChannels()) }
func (c *DaqConfig) NumEnabledOut() int { return len(c.EnabledOutChannels()) }

// HighestEnabledIn returns the index of the last enabled input channel, or
// -1. A backend opens channels 0..HighestEnabledIn.
func (c *DaqConfig) HighestEnabledIn() int  { return highestEnabled(c.InChannels) }
func (c *DaqConfig) HighestEnabledOut() int { return highestEnabled(c.OutChannels) }

// Match reports whether the config refers to dev.
func (c *DaqConfig) Match(dev DeviceInfo) bool {
	return c.API == dev.API && c.DeviceName == dev.Name
}

var (
	ErrNoInputChannels  = errors.New("no input channels enabled")
	ErrNoOutputChannels = errors.New("no output channels enabled")
)

// Validate checks the config against the device for a stream of type t.
func (c *DaqConfig) Validate(dev DeviceInfo, t StreamType) error {
	if !c.Match(dev) {
		return fmt.Errorf("config targets %s/%q, device is %s/%q", c.API, c.DeviceName, dev.API, dev.Name)
	}
	if t.HasInput() {
		if c.NumEnabledIn() == 0 {
			return ErrNoInputChannels
		}
		if c.HighestEnabledIn() >= dev.InChannels {
			return fmt.Errorf("input channel %d enabled, device has %d", c.HighestEnabledIn(), dev.InChannels)
		}
	}
	if t.HasOutput() {
		if c.NumEnabledOut() == 0 {
			return ErrNoOutputChannels
		}
		if c.HighestEnabledOut() >= dev.OutChannels {
			return fmt.Errorf("output channel %d enabled, device has %d", c.HighestEnabledOut(), dev.OutChannels)
		}
	}
	if t == Duplex && !dev.Duplex {
		return ErrDuplexNotSupported
	}
	if len(dev.AvailableDataTypes) > 0 && !slices.Contains(dev.AvailableDataTypes, c.DataType) {
		return fmt.Errorf("data type %v not supported by %q", c.DataType, dev.Name)
	}
	if len(dev.AvailableSampleRates) > 0 && !slices.Contains(dev.AvailableSampleRates, c.SampleRate) {
		return fmt.Errorf("sample rate %v not supported by %q", c.SampleRate, dev.Name)
	}
	if c.FramesPerBlock <= 0 {
		return fmt.Errorf("invalid frames per block: %d", c.FramesPerBlock)
	}
	return nil
}
