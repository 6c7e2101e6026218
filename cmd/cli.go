// SPDX-License-Identifier: MIT
//
// Package cmd implements the command line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"daq/internal/build"
	"daq/internal/config"
	"daq/internal/daq"
	applog "daq/internal/log"
	"daq/internal/tui"
)

// options holds flag values that override the loaded configuration.
type options struct {
	configPath string
	verbose    bool

	api            string
	device         string
	dataType       string
	sampleRate     float64
	framesPerBlock int
	duplex         bool

	nfft    int
	window  string
	overlap string
	mode    string

	record    bool
	outputDir string

	udpTarget string
	wsAddress string
	logSpect  bool

	kind      string
	frequency float64
	gain      float64

	duration    time.Duration
	interactive bool
}

// Execute runs the command line with args until it finishes or ctx is
// cancelled.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Running it without a subcommand
// is the same as "run".
func NewRootCommand() *cobra.Command {
	buildInfo := build.Get()
	opts := &options{}
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cmd, opts)
			return err
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "",
		"Path to a YAML configuration file (default ./config.yaml if present)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")
	pf.StringVar(&opts.api, "api", config.DefaultAPI,
		"Stream API: sim or portaudio")
	pf.StringVarP(&opts.device, "device", "d", "",
		"Device name or part of it. Use the 'list' command to see available devices.")
	pf.StringVarP(&opts.dataType, "data-type", "t", config.DefaultDataType,
		"Sample format: i8, i16, i32, f32 or f64")
	pf.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&opts.framesPerBlock, "frames-per-block", "b", config.DefaultFramesPerBlock,
		"The number of frames per block (affects latency)")
	pf.DurationVar(&opts.duration, "duration", 0,
		"Stop after this long (0 runs until interrupted)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the input device and publish averaged power spectra",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), cfg, opts.duration, (*app).run)
		},
	}
	rf := runCmd.Flags()
	rf.BoolVar(&opts.duplex, "duplex", false, "Run input and output in one stream")
	rf.IntVarP(&opts.nfft, "nfft", "n", config.DefaultNFFT, "Spectrum block length (even)")
	rf.StringVarP(&opts.window, "window", "w", config.DefaultWindow, "Window: Hann, Hamming, Blackman, Bartlett or Rect")
	rf.StringVar(&opts.overlap, "overlap", config.DefaultOverlap, "Block overlap: percentage, sample count or none")
	rf.StringVarP(&opts.mode, "mode", "m", config.DefaultMode, "Averaging: all, exponential or spectrogram")
	rf.BoolVarP(&opts.record, "record", "r", false, "Record the input stream to WAV")
	rf.StringVarP(&opts.outputDir, "output", "o", config.DefaultRecordingDir, "Recording directory")
	rf.StringVar(&opts.udpTarget, "udp", "", "Send spectra as UDP packets to host:port")
	rf.StringVar(&opts.wsAddress, "ws", "", "Serve spectra over WebSocket on this address")
	rf.BoolVar(&opts.logSpect, "log-spectra", false, "Log the peak of every published spectrum")
	rf.StringVar(&opts.kind, "siggen", "", "Play a signal while streaming: sine, noise or silence")
	rf.Float64Var(&opts.frequency, "freq", config.DefaultSiggenFreq, "Sine frequency in Hz")
	rootCmd.RunE = runCmd.RunE
	rootCmd.Flags().AddFlagSet(rf)
	rootCmd.AddCommand(runCmd)

	playCmd := &cobra.Command{
		Use:   "play",
		Short: "Play the signal generator on an output device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Siggen.Enabled = true
			return runApp(cmd.Context(), cfg, opts.duration, (*app).play)
		},
	}
	playCmd.Flags().StringVar(&opts.kind, "siggen", config.DefaultSiggenKind, "Signal: sine, noise or silence")
	playCmd.Flags().Float64Var(&opts.frequency, "freq", config.DefaultSiggenFreq, "Sine frequency in Hz")
	playCmd.Flags().Float64VarP(&opts.gain, "gain", "g", 0.5, "Linear output gain")
	rootCmd.AddCommand(playCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available stream devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd.OutOrStdout(), cfg, opts.interactive)
		},
	}
	listCmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false,
		"Browse devices and print the stream settings for the chosen one")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.Get())
		},
	})

	return rootCmd
}

// loadConfig loads the configuration file and applies the flags set on the
// command line on top of it.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			apply()
		}
	}
	set("verbose", func() { cfg.Debug = opts.verbose })
	set("api", func() { cfg.Stream.API = opts.api })
	set("device", func() { cfg.Stream.Device = opts.device })
	set("data-type", func() { cfg.Stream.DataType = opts.dataType })
	set("sample-rate", func() { cfg.Stream.SampleRate = opts.sampleRate })
	set("frames-per-block", func() { cfg.Stream.FramesPerBlock = opts.framesPerBlock })
	set("duplex", func() { cfg.Stream.Duplex = opts.duplex })
	set("nfft", func() { cfg.Spectrum.NFFT = opts.nfft })
	set("window", func() { cfg.Spectrum.Window = opts.window })
	set("overlap", func() { cfg.Spectrum.Overlap = opts.overlap })
	set("mode", func() { cfg.Spectrum.Mode = opts.mode })
	set("record", func() { cfg.Recording.Enabled = opts.record })
	set("output", func() { cfg.Recording.OutputDir = opts.outputDir })
	set("udp", func() {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = opts.udpTarget
	})
	set("ws", func() {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = opts.wsAddress
	})
	set("log-spectra", func() { cfg.Transport.LogSpectra = opts.logSpect })
	set("siggen", func() {
		cfg.Siggen.Enabled = true
		cfg.Siggen.Kind = opts.kind
	})
	set("freq", func() { cfg.Siggen.Frequency = opts.frequency })
	set("gain", func() { cfg.Siggen.Gain = opts.gain })

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
	return cfg, nil
}

// runApp opens the configured backend and runs fn until ctx is cancelled
// or duration has passed.
func runApp(ctx context.Context, cfg *config.Config, duration time.Duration, fn func(*app, context.Context) error) error {
	backend, closer, err := newBackend(cfg.Stream.API)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	a, err := newApp(cfg, backend)
	if err != nil {
		return err
	}
	defer a.Close()

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	return fn(a, ctx)
}

func listDevices(w io.Writer, cfg *config.Config, interactive bool) error {
	backend, closer, err := newBackend(cfg.Stream.API)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	if interactive {
		sel, err := tui.StartDeviceListUI(backend.Devices)
		if err != nil || sel == nil {
			return err
		}
		return writeSelection(w, cfg.Stream, sel)
	}

	devices, err := backend.Devices()
	if err != nil {
		return err
	}
	return writeDeviceTable(w, devices)
}

func writeDeviceTable(w io.Writer, devices []daq.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAPI\tKIND\tIN\tOUT\tRATE\tTYPE\tDEFAULT")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.0f\t%v\t%v\n",
			d.Name, d.API, d.Kind(), d.InChannels, d.OutChannels,
			d.PreferredSampleRate, d.PreferredDataType, d.Default)
	}
	return tw.Flush()
}

// writeSelection prints the stream section for sel as YAML, ready to paste
// into a configuration file.
func writeSelection(w io.Writer, base config.StreamConfig, sel *tui.Selection) error {
	base.Device = sel.Device.Name
	base.SampleRate = sel.SampleRate
	base.DataType = sel.DataType.String()
	base.FramesPerBlock = sel.FramesPerBlock
	base.Duplex = base.Duplex && sel.Device.Duplex

	out, err := yaml.Marshal(map[string]config.StreamConfig{"stream": base})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
