// SPDX-License-Identifier: MIT
/*
Package portaudio is the hardware backend of the stream engine.

PortAudio delivers and requests interleaved buffers of whatever size the
host API picks. Input callbacks feed a blockfifo.Assembler, which hands out
fixed blocks of the enabled channels; output callbacks drain a
blockfifo.Player that a pump goroutine fills from the worker's blocks.

Thread Safety:
  - Callbacks never block: blocks are offered to the sink and dropped when
    it is full
  - Stream status is stored atomically and may be read from any goroutine
*/
package portaudio

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"daq/internal/daq"
	applog "daq/internal/log"
)

// API is the StreamAPI of PortAudio devices.
const API daq.StreamAPI = "PortAudio"

// probedTypes are the sample formats a device is checked for. PortAudio
// has no 64 bit float format.
var probedTypes = []daq.DataType{daq.F32, daq.I16, daq.I32, daq.I8}

var (
	paDevicesFunc       = pa.Devices
	paDefaultInputFunc  = pa.DefaultInputDevice
	paDefaultOutputFunc = pa.DefaultOutputDevice
)

// ErrUnknownDevice is returned when a stream is requested on a device the
// host no longer lists.
var ErrUnknownDevice = errors.New("portaudio: unknown device")

// Backend implements daq.Backend on top of PortAudio. New initializes the
// library; Close terminates it.
type Backend struct {
	mu      sync.Mutex
	devices map[string]*pa.DeviceInfo
}

func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	applog.Debugf("PortAudio: %s", pa.VersionText())
	return &Backend{devices: make(map[string]*pa.DeviceInfo)}, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (b *Backend) Close() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

func (b *Backend) API() daq.StreamAPI { return API }

// Devices lists every device of every host API, probing which sample
// formats and standard sample rates it accepts.
func (b *Backend) Devices() ([]daq.DeviceInfo, error) {
	devs, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("portaudio: listing devices: %w", err)
	}
	defIn, _ := paDefaultInputFunc()
	defOut, _ := paDefaultOutputFunc()

	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.devices)

	out := make([]daq.DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := describe(d)
		info.Default = sameDevice(d, defIn) || sameDevice(d, defOut)
		info.AvailableDataTypes = probeDataTypes(d)
		if len(info.AvailableDataTypes) == 0 {
			applog.Debugf("PortAudio: skipping %q, no usable sample format", info.Name)
			continue
		}
		info.PreferredDataType = info.AvailableDataTypes[0]
		info.AvailableSampleRates = probeSampleRates(d, info.PreferredDataType)
		if !slices.Contains(info.AvailableSampleRates, info.PreferredSampleRate) {
			info.AvailableSampleRates = append(info.AvailableSampleRates, info.PreferredSampleRate)
			slices.Sort(info.AvailableSampleRates)
		}
		b.devices[info.Name] = d
		out = append(out, info)
	}
	return out, nil
}

// describe maps the static part of a PortAudio device.
func describe(d *pa.DeviceInfo) daq.DeviceInfo {
	return daq.DeviceInfo{
		API:                     API,
		Name:                    deviceName(d),
		PreferredSampleRate:     d.DefaultSampleRate,
		AvailableFramesPerBlock: daq.StandardFramesPerBlock,
		PreferredFramesPerBlock: daq.DefaultFramesPerBlock,
		InChannels:              d.MaxInputChannels,
		OutChannels:             d.MaxOutputChannels,
		Duplex:                  d.MaxInputChannels > 0 && d.MaxOutputChannels > 0,
	}
}

// deviceName qualifies the device name with its host API, since the same
// card usually shows up once per host API.
func deviceName(d *pa.DeviceInfo) string {
	if d.HostApi == nil || d.HostApi.Name == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.HostApi.Name)
}

func sameDevice(a, b *pa.DeviceInfo) bool {
	return a != nil && b != nil && a.Index == b.Index
}

// probeParams returns parameters for the widest stream d offers in one
// direction, preferring input.
func probeParams(d *pa.DeviceInfo, fs float64) pa.StreamParameters {
	p := pa.StreamParameters{SampleRate: fs, FramesPerBuffer: pa.FramesPerBufferUnspecified}
	if d.MaxInputChannels > 0 {
		p.Input = pa.StreamDeviceParameters{Device: d, Channels: d.MaxInputChannels, Latency: d.DefaultLowInputLatency}
	} else {
		p.Output = pa.StreamDeviceParameters{Device: d, Channels: d.MaxOutputChannels, Latency: d.DefaultLowOutputLatency}
	}
	return p
}

func probeDataTypes(d *pa.DeviceInfo) []daq.DataType {
	var out []daq.DataType
	for _, dt := range probedTypes {
		if pa.IsFormatSupported(probeParams(d, d.DefaultSampleRate), probeCallback(dt)) == nil {
			out = append(out, dt)
		}
	}
	return out
}

func probeSampleRates(d *pa.DeviceInfo, dt daq.DataType) []float64 {
	var out []float64
	for _, fs := range daq.StandardSampleRates {
		if pa.IsFormatSupported(probeParams(d, fs), probeCallback(dt)) == nil {
			out = append(out, fs)
		}
	}
	return out
}

// probeCallback returns a one-buffer callback whose buffer type selects
// the sample format dt.
func probeCallback(dt daq.DataType) any {
	switch dt {
	case daq.I8:
		return func([]int8) {}
	case daq.I16:
		return func([]int16) {}
	case daq.I32:
		return func([]int32) {}
	default:
		return func([]float32) {}
	}
}

func (b *Backend) lookup(name string) (*pa.DeviceInfo, error) {
	b.mu.Lock()
	d, ok := b.devices[name]
	b.mu.Unlock()
	if ok {
		return d, nil
	}
	if _, err := b.Devices(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
}

// Start opens and starts a stream on req.Device.
func (b *Backend) Start(req daq.StreamRequest) (daq.Stream, error) {
	if req.Config == nil {
		return nil, errors.New("portaudio: stream request without config")
	}
	if req.Type == daq.Duplex && !req.Device.Duplex {
		return nil, daq.ErrDuplexNotSupported
	}
	dev, err := b.lookup(req.Device.Name)
	if err != nil {
		return nil, err
	}

	switch req.Config.DataType {
	case daq.I8:
		return open[int8](dev, req)
	case daq.I16:
		return open[int16](dev, req)
	case daq.I32:
		return open[int32](dev, req)
	case daq.F32:
		return open[float32](dev, req)
	default:
		return nil, fmt.Errorf("portaudio: %v samples are not supported", req.Config.DataType)
	}
}
