// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	applog "daq/internal/log"
)

// LoggingTransport implements the Transport interface by logging a
// summary of each frame: the peak bin of every channel, and its band levels
// at debug level.
type LoggingTransport struct {
	sent atomic.Uint64
}

func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs data. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	lt.sent.Add(1)
	frame, ok := data.(SpectrumFrame)
	if !ok {
		applog.Infof("LoggingTransport: (%T) %+v", data, data)
		return nil
	}
	for ch, p := range frame.PowerDB {
		if len(p) == 0 {
			continue
		}
		k := floats.MaxIdx(p)
		applog.Infof("LoggingTransport: frame %d %s peak %.1f dB at %.1f Hz (%d blocks)",
			frame.Seq, frame.Channels[ch], p[k], frame.Freqs[k], frame.NBlocks)
		if ch < len(frame.BandDB) {
			applog.Debugf("LoggingTransport: frame %d %s bands %v = %.1f dB",
				frame.Seq, frame.Channels[ch], frame.Bands, frame.BandDB[ch])
		}
	}
	return nil
}

// Sent returns the number of Send calls.
func (lt *LoggingTransport) Sent() uint64 { return lt.sent.Load() }

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("LoggingTransport: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
