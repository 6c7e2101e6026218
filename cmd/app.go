// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"daq/internal/config"
	"daq/internal/daq"
	"daq/internal/daq/api/portaudio"
	"daq/internal/daq/api/sim"
	applog "daq/internal/log"
	"daq/internal/metrics"
	"daq/internal/record"
	"daq/internal/rt"
	"daq/internal/transport"
	"daq/internal/transport/udp"
)

// statusPollInterval is how often a running command checks stream health.
const statusPollInterval = 250 * time.Millisecond

// app wires one stream manager to its consumers for the duration of a
// command.
type app struct {
	cfg      *config.Config
	backend  daq.Backend
	registry *prometheus.Registry
	metrics  *metrics.StreamMetrics
	mgr      *daq.StreamMgr

	// extra receive every published spectrum next to the configured
	// transports.
	extra []transport.Transport
}

// newBackend opens the backend named by api. The closer is nil when the
// backend holds no resources.
func newBackend(api string) (daq.Backend, io.Closer, error) {
	switch api {
	case config.APISim:
		return sim.New(), nil, nil
	case config.APIPortAudio:
		b, err := portaudio.New()
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown stream api %q", api)
	}
}

func newApp(cfg *config.Config, backend daq.Backend) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sm, err := metrics.NewStreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	mgr, err := daq.NewStreamMgr(daq.WithBackend(backend), daq.WithMetrics(sm))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, backend: backend, registry: registry, metrics: sm, mgr: mgr}, nil
}

func (a *app) Close() error { return a.mgr.Close() }

// device picks the configured device, or the backend default, among the
// devices usable returns true for.
func (a *app) device(usable func(daq.DeviceInfo) bool) (daq.DeviceInfo, error) {
	return selectDevice(a.mgr.Devices(), a.cfg.Stream.Device, usable)
}

// selectDevice matches name exactly, then as a case-insensitive substring.
// An empty name selects the default usable device, or the first one.
func selectDevice(devs []daq.DeviceInfo, name string, usable func(daq.DeviceInfo) bool) (daq.DeviceInfo, error) {
	var candidates []daq.DeviceInfo
	for _, d := range devs {
		if usable(d) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return daq.DeviceInfo{}, fmt.Errorf("%w: no usable device", daq.ErrDeviceNotFound)
	}
	if name == "" {
		for _, d := range candidates {
			if d.Default {
				return d, nil
			}
		}
		return candidates[0], nil
	}
	for _, d := range candidates {
		if d.Name == name {
			return d, nil
		}
	}
	needle := strings.ToLower(name)
	for _, d := range candidates {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return daq.DeviceInfo{}, fmt.Errorf("%w: %q", daq.ErrDeviceNotFound, name)
}

// run streams the input (or duplex) device until ctx is done, publishing
// averaged spectra and optionally recording and playing the signal
// generator.
func (a *app) run(ctx context.Context) error {
	stype := daq.Input
	usable := func(d daq.DeviceInfo) bool { return d.InChannels > 0 }
	if a.cfg.Stream.Duplex {
		stype = daq.Duplex
		usable = func(d daq.DeviceInfo) bool { return d.Duplex && d.InChannels > 0 && d.OutChannels > 0 }
	}
	dev, err := a.device(usable)
	if err != nil {
		return err
	}
	dcfg, err := a.cfg.Stream.DaqConfig(dev)
	if err != nil {
		return err
	}
	tmpl, err := a.cfg.Spectrum.ApsSettings(dcfg.SampleRate)
	if err != nil {
		return err
	}

	aps := rt.NewRtAps(a.mgr, tmpl,
		rt.WithMetrics(a.metrics),
		rt.WithQueueCapacity(a.cfg.Stream.QueueCapacity),
	)
	defer aps.Close()

	stopTransports, err := a.startTransports(aps)
	if err != nil {
		return err
	}
	defer stopTransports()

	var rec *record.Recorder
	if a.cfg.Recording.Enabled {
		rec = record.NewRecorder(a.cfg.Recording.OutputDir,
			record.WithMaxDuration(time.Duration(a.cfg.Recording.MaxDuration)*time.Second))
		if err := rec.Start(a.mgr); err != nil {
			return err
		}
		defer func() {
			path, err := rec.Stop()
			switch {
			case err != nil:
				applog.Errorf("Recording failed: %v", err)
			case path != "":
				applog.Infof("Recording saved to: %s", path)
			}
		}()
	}

	playOutput := false
	if a.cfg.Siggen.Enabled {
		if err := a.setSiggen(dcfg); err != nil {
			return err
		}
		playOutput = stype == daq.Input && dcfg.NumEnabledOut() > 0
	}

	if err := a.mgr.StartStream(stype, dcfg); err != nil {
		return err
	}
	defer a.stop(stype)
	watched := []daq.StreamType{stype}
	if playOutput {
		if err := a.mgr.StartOutputStream(dcfg); err != nil {
			return err
		}
		defer a.stop(daq.Output)
		watched = append(watched, daq.Output)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range watched {
		g.Go(func() error { return a.watch(gctx, t) })
	}
	if rec != nil {
		done := rec.Done()
		g.Go(func() error {
			select {
			case <-done:
				applog.Infof("Recording finished")
			case <-gctx.Done():
			}
			return nil
		})
	}
	return g.Wait()
}

// play runs an output stream of the signal generator until ctx is done.
func (a *app) play(ctx context.Context) error {
	dev, err := a.device(func(d daq.DeviceInfo) bool { return d.OutChannels > 0 })
	if err != nil {
		return err
	}
	dcfg, err := a.cfg.Stream.DaqConfig(dev)
	if err != nil {
		return err
	}
	if err := a.setSiggen(dcfg); err != nil {
		return err
	}
	if err := a.mgr.StartOutputStream(dcfg); err != nil {
		return err
	}
	defer a.stop(daq.Output)
	return a.watch(ctx, daq.Output)
}

func (a *app) setSiggen(dcfg *daq.DaqConfig) error {
	g, err := a.cfg.Siggen.Siggen(dcfg.NumEnabledOut())
	if err != nil {
		return err
	}
	a.mgr.SetSiggen(g)
	return nil
}

func (a *app) stop(t daq.StreamType) {
	if err := a.mgr.StopStream(t); err != nil && !errors.Is(err, daq.ErrStreamNotRunning) {
		applog.Warnf("Stopping %s stream: %v", t, err)
	}
}

// watch returns nil when ctx is done and an error when the stream of type t
// fails. Overruns and underruns are logged and the stream keeps running.
func (a *app) watch(ctx context.Context, t daq.StreamType) error {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	last := daq.StatusRunning
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := a.mgr.StreamStatus(t)
			if st == last {
				continue
			}
			last = st
			if st.State != daq.Errored {
				applog.Infof("%s stream: %s", t, st)
				continue
			}
			if !isXrun(st.Err) {
				return fmt.Errorf("%s stream: %w", t, st.Err)
			}
			applog.Warnf("%s stream: %s", t, st)
		}
	}
}

func isXrun(kind daq.StreamErrorKind) bool {
	switch kind {
	case daq.InputOverrunError, daq.InputUnderrunError, daq.OutputOverrunError, daq.OutputUnderrunError:
		return true
	}
	return false
}

// startTransports opens the configured transports and starts a publisher
// for each. The returned func stops the publishers and closes the
// transports.
func (a *app) startTransports(src transport.Source) (func(), error) {
	var (
		closers    []io.Closer
		publishers []*transport.SpectrumPublisher
		targets    []transport.Transport
	)
	cleanup := func() {
		for _, p := range publishers {
			_ = p.Stop()
		}
		for _, c := range closers {
			if err := c.Close(); err != nil {
				applog.Warnf("Closing transport: %v", err)
			}
		}
	}

	t := a.cfg.Transport
	if t.UDPEnabled {
		u, err := udp.NewTransport(t.UDPTargetAddress)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, u)
		targets = append(targets, u)
	}
	if t.WebSocketEnabled || t.MetricsEnabled {
		var opts []transport.WebSocketOption
		if t.MetricsEnabled {
			opts = append(opts, transport.WithHandler("/metrics",
				promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
		}
		ws, err := transport.NewWebSocketTransport(t.WebSocketAddress, opts...)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, ws)
		if t.WebSocketEnabled {
			targets = append(targets, ws)
		}
	}
	if t.LogSpectra {
		lt := transport.NewLoggingTransport()
		closers = append(closers, lt)
		targets = append(targets, lt)
	}
	targets = append(targets, a.extra...)

	for _, tr := range targets {
		p, err := transport.NewSpectrumPublisher(t.SendInterval, src, tr)
		if err != nil {
			cleanup()
			return nil, err
		}
		p.Start()
		publishers = append(publishers, p)
	}
	return cleanup, nil
}
