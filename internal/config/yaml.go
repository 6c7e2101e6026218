// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"daq/internal/daq"
	applog "daq/internal/log"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Stream    StreamConfig    `yaml:"stream"`    // Device and stream settings.
	Spectrum  SpectrumConfig  `yaml:"spectrum"`  // Averaged power spectrum settings.
	Siggen    SiggenConfig    `yaml:"siggen"`    // Signal generator for output streams.
	Recording RecordingConfig `yaml:"recording"` // WAV recording settings.
	Transport TransportConfig `yaml:"transport"` // Spectrum transport settings.
}

// StreamConfig selects the device and how the stream runs on it.
type StreamConfig struct {
	API            string   `yaml:"api"`              // "sim" or "portaudio".
	Device         string   `yaml:"device"`           // Device name; empty selects the backend default.
	InputChannels  []int    `yaml:"input_channels"`   // Enabled input channel indices; empty enables all.
	OutputChannels []int    `yaml:"output_channels"`  // Enabled output channel indices; empty enables all.
	ChannelNames   []string `yaml:"channel_names"`    // Names of the input channels, by hardware index.
	DataType       string   `yaml:"data_type"`        // Sample format: i8, i16, i32, f32 or f64.
	SampleRate     float64  `yaml:"sample_rate"`      // Sample rate in Hz.
	FramesPerBlock int      `yaml:"frames_per_block"` // Frames per block handed to consumers.
	Duplex         bool     `yaml:"duplex"`           // Run input and output in one stream.
	QueueCapacity  int      `yaml:"queue_capacity"`   // Messages a consumer queue buffers.
}

// SpectrumConfig holds the averaged power spectrum settings.
type SpectrumConfig struct {
	NFFT      int     `yaml:"nfft"`      // Block length, even.
	Window    string  `yaml:"window"`    // Hann, Hamming, Blackman, Bartlett or Rect.
	Overlap   string  `yaml:"overlap"`   // "50%", a sample count, or "none".
	Mode      string  `yaml:"mode"`      // all, exponential or spectrogram.
	Tau       float64 `yaml:"tau"`       // Time constant in seconds for exponential mode.
	Weighting string  `yaml:"weighting"` // Frequency weighting: A, C or Z.
}

// SiggenConfig describes the signal played on output streams.
type SiggenConfig struct {
	Enabled   bool    `yaml:"enabled"`   // Play the signal on an output (or duplex) stream.
	Kind      string  `yaml:"kind"`      // sine, noise or silence.
	Frequency float64 `yaml:"frequency"` // Sine frequency in Hz.
	Gain      float64 `yaml:"gain"`      // Linear gain applied to every channel.
}

// RecordingConfig holds settings related to WAV recording.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Record the input stream.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recorded files.
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum duration of a recording in seconds (0 for unlimited).
}

// TransportConfig holds settings related to sending spectra over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send spectra over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets.
	SendInterval     time.Duration `yaml:"send_interval"`      // Interval between published spectra.
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve spectra over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address of the WebSocket server.
	MetricsEnabled   bool          `yaml:"metrics_enabled"`    // Serve Prometheus metrics on /metrics.
	LogSpectra       bool          `yaml:"log_spectra"`        // Log a summary of every published spectrum.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Stream: StreamConfig{
			API:            DefaultAPI,
			DataType:       DefaultDataType,
			SampleRate:     DefaultSampleRate,
			FramesPerBlock: DefaultFramesPerBlock,
			QueueCapacity:  daq.DefaultQueueCapacity,
		},
		Spectrum: SpectrumConfig{
			NFFT:      DefaultNFFT,
			Window:    DefaultWindow,
			Overlap:   DefaultOverlap,
			Mode:      DefaultMode,
			Tau:       1,
			Weighting: DefaultWeighting,
		},
		Siggen: SiggenConfig{
			Kind:      DefaultSiggenKind,
			Frequency: DefaultSiggenFreq,
			Gain:      0.5,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPAddress,
			SendInterval:     33 * time.Millisecond, // ~30Hz.
			WebSocketAddress: DefaultWebSocketAddr,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section. Device dependent checks (channel counts,
// supported rates) happen when the stream starts.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level '%s' is not a valid level", c.LogLevel))
	}

	s := c.Stream
	switch s.API {
	case APISim, APIPortAudio:
	default:
		errs = append(errs, fmt.Errorf("stream.api must be '%s' or '%s', got '%s'", APISim, APIPortAudio, s.API))
	}
	if _, err := daq.ParseDataType(s.DataType); err != nil {
		errs = append(errs, fmt.Errorf("stream.data_type: %w", err))
	}
	if s.SampleRate < MinSampleRate || s.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("stream.sample_rate %v outside [%d, %d]", s.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if s.FramesPerBlock <= 0 || s.FramesPerBlock > MaxFramesPerBlock {
		errs = append(errs, fmt.Errorf("stream.frames_per_block %d outside [1, %d]", s.FramesPerBlock, MaxFramesPerBlock))
	}
	if s.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("stream.queue_capacity must not be negative"))
	}

	if c.Spectrum.NFFT > MaxNFFT {
		errs = append(errs, fmt.Errorf("spectrum.nfft %d larger than %d", c.Spectrum.NFFT, MaxNFFT))
	} else if _, err := c.Spectrum.ApsSettings(s.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("spectrum: %w", err))
	}

	if _, err := c.Siggen.Siggen(1); err != nil {
		errs = append(errs, fmt.Errorf("siggen: %w", err))
	}
	if c.Siggen.Gain < 0 {
		errs = append(errs, fmt.Errorf("siggen.gain must not be negative"))
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		errs = append(errs, fmt.Errorf("recording.output_dir must be set when recording is enabled"))
	}
	if c.Recording.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration_seconds must not be negative"))
	}

	t := c.Transport
	if t.UDPEnabled && !strings.Contains(t.UDPTargetAddress, ":") {
		errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress))
	}
	if (t.UDPEnabled || t.WebSocketEnabled || t.LogSpectra) && t.SendInterval <= 0 {
		errs = append(errs, fmt.Errorf("transport.send_interval must be positive"))
	}
	if (t.WebSocketEnabled || t.MetricsEnabled) && t.WebSocketAddress == "" {
		errs = append(errs, fmt.Errorf("transport.websocket_address must be set"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Values that do not parse are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.
	envBool("ENV_DEBUG", &c.Debug)
	envString("ENV_LOG_LEVEL", &c.LogLevel)

	// ENV_STREAM_{...}
	envString("ENV_STREAM_API", &c.Stream.API)
	envString("ENV_STREAM_DEVICE", &c.Stream.Device)
	envFloat("ENV_STREAM_SAMPLE_RATE", &c.Stream.SampleRate)

	// ENV_UDP_{...}
	// These are specific to the transport layer.
	envBool("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envDuration("ENV_SEND_INTERVAL", &c.Transport.SendInterval)
	envBool("ENV_WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled)
	envString("ENV_WEBSOCKET_ADDRESS", &c.Transport.WebSocketAddress)

	// ENV_RECORDING_{...}
	envBool("ENV_RECORDING_ENABLED", &c.Recording.Enabled)
	envString("ENV_RECORDING_DIR", &c.Recording.OutputDir)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		applog.Infof("configuration: Overriding %s from env: %s", key, val)
	}
}

func envBool(key string, dst *bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		applog.Warnf("configuration: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = b
	applog.Infof("configuration: Overriding %s from env: %v", key, b)
}

func envFloat(key string, dst *float64) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		applog.Warnf("configuration: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = f
	applog.Infof("configuration: Overriding %s from env: %v", key, f)
}

func envDuration(key string, dst *time.Duration) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		applog.Warnf("configuration: Ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = d
	applog.Infof("configuration: Overriding %s from env: %s", key, d)
}
