// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daq/internal/config"
	"daq/internal/daq"
	"daq/internal/daq/api/sim"
	"daq/internal/transport"
	"daq/internal/tui"
	"daq/pkg/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Stream.FramesPerBlock = 512
	cfg.Spectrum.NFFT = 512
	cfg.Transport.SendInterval = 5 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(cfg, sim.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSelectDevice(t *testing.T) {
	devs := []daq.DeviceInfo{
		{Name: "Mic (ALSA)", InChannels: 1},
		{Name: "Speakers (ALSA)", OutChannels: 2, Default: true},
		{Name: "Interface (JACK)", InChannels: 8, OutChannels: 8, Default: true},
	}
	hasInput := func(d daq.DeviceInfo) bool { return d.InChannels > 0 }

	tests := []struct {
		name    string
		device  string
		want    string
		wantErr bool
	}{
		{"default usable", "", "Interface (JACK)", false},
		{"exact", "Mic (ALSA)", "Mic (ALSA)", false},
		{"substring", "jack", "Interface (JACK)", false},
		{"not usable", "Speakers", "", true},
		{"unknown", "USB", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectDevice(devs, tt.device, hasInput)
			if tt.wantErr {
				assert.ErrorIs(t, err, daq.ErrDeviceNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}

	_, err := selectDevice(nil, "", hasInput)
	assert.ErrorIs(t, err, daq.ErrDeviceNotFound)
}

func TestRunPublishesAndRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recording.Enabled = true
	cfg.Recording.OutputDir = t.TempDir()
	cfg.Siggen.Enabled = true

	a := newTestApp(t, cfg)
	mock := &utils.MockTransport{}
	a.extra = []transport.Transport{mock}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, a.run(ctx))

	assert.False(t, a.mgr.IsRunning(daq.Input))
	assert.False(t, a.mgr.IsRunning(daq.Output))

	sent := mock.Sent()
	require.NotEmpty(t, sent)
	frame, ok := sent[len(sent)-1].(transport.SpectrumFrame)
	require.True(t, ok)
	require.Len(t, frame.PowerDB, 2)
	assert.Equal(t, 512, frame.NFFT)
	// The simulated tones sit at 1 and 2 kHz, 93.75 Hz per bin.
	assert.Equal(t, 11, utils.FindPeakBin(frame.PowerDB[0], 0, len(frame.PowerDB[0])))
	assert.Equal(t, 21, utils.FindPeakBin(frame.PowerDB[1], 0, len(frame.PowerDB[1])))
	for i := 1; i < len(sent); i++ {
		assert.Greater(t, sent[i].(transport.SpectrumFrame).Seq, sent[i-1].(transport.SpectrumFrame).Seq)
	}

	files, err := filepath.Glob(filepath.Join(cfg.Recording.OutputDir, "*.wav"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))
}

func TestRunDuplex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.Duplex = true
	cfg.Stream.InputChannels = []int{0}
	cfg.Siggen.Enabled = true
	cfg.Siggen.Kind = "noise"

	a := newTestApp(t, cfg)
	mock := &utils.MockTransport{}
	a.extra = []transport.Transport{mock}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.run(ctx))

	sent := mock.Sent()
	require.NotEmpty(t, sent)
	assert.Len(t, sent[0].(transport.SpectrumFrame).PowerDB, 1)
}

func TestRunUnknownDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.Device = "no such device"
	a := newTestApp(t, cfg)
	assert.ErrorIs(t, a.run(context.Background()), daq.ErrDeviceNotFound)
}

func TestRunStopsOnStreamError(t *testing.T) {
	cfg := testConfig(t)
	b := sim.New(sim.WithInterval(2 * time.Millisecond))
	a, err := newApp(cfg, b)
	require.NoError(t, err)
	defer a.Close()

	go func() {
		for {
			if streams := b.Streams(); len(streams) > 0 {
				streams[0].Fail(daq.DeviceNotAvailable)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.run(ctx)
	assert.ErrorIs(t, err, daq.DeviceNotAvailable)
}

func TestPlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Siggen.Enabled = true
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, a.play(ctx))
	assert.False(t, a.mgr.IsRunning(daq.Output))
}

func TestCommandVersion(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "commit")
}

func TestCommandList(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"list"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), sim.DefaultDevice.Name)
}

func TestCommandRun(t *testing.T) {
	err := Execute(context.Background(), []string{"--duration", "150ms", "-b", "1024", "--nfft", "1024", "--log-spectra"})
	require.NoError(t, err)
}

func TestCommandRejectsInvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"run", "--sample-rate", "10", "--duration", "10ms"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.sample_rate")

	err = Execute(context.Background(), []string{"--api", "asio", "list"})
	require.Error(t, err)
}

func TestWriteSelection(t *testing.T) {
	var out bytes.Buffer
	sel := &tui.Selection{
		Device:         sim.DefaultDevice,
		SampleRate:     44100,
		DataType:       daq.I16,
		FramesPerBlock: 256,
	}
	require.NoError(t, writeSelection(&out, config.Default().Stream, sel))

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "stream:\n"))
	assert.Contains(t, s, "device: "+sim.DefaultDevice.Name)
	assert.Contains(t, s, "sample_rate: 44100")
	assert.Contains(t, s, "data_type: int16")
	assert.Contains(t, s, "frames_per_block: 256")
}
