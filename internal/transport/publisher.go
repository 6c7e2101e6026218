// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"time"

	applog "daq/internal/log"
)

// DefaultPublishInterval is used when no valid interval is given (~30Hz).
const DefaultPublishInterval = 33 * time.Millisecond

// SpectrumPublisher periodically fetches the newest spectrum estimate and
// sends it to a transport as a SpectrumFrame. Estimates already sent are
// skipped, so a stalled stream produces no traffic.
// It runs in a separate goroutine managed by Start and Stop methods.
type SpectrumPublisher struct {
	source    Source
	transport Transport
	interval  time.Duration

	ticker   *time.Ticker   // Ticker that triggers publishing.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	lastSeq uint64 // publisher goroutine only
}

// NewSpectrumPublisher creates a publisher. If interval is invalid (<= 0),
// it defaults to DefaultPublishInterval.
func NewSpectrumPublisher(interval time.Duration, source Source, t Transport) (*SpectrumPublisher, error) {
	if source == nil {
		return nil, errors.New("SpectrumPublisher: source cannot be nil")
	}
	if t == nil {
		return nil, errors.New("SpectrumPublisher: transport cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultPublishInterval
		applog.Warnf("SpectrumPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &SpectrumPublisher{source: source, transport: t, interval: interval}, nil
}

// Start begins the periodic publishing process. Calling Start on a running
// publisher is a no-op.
func (p *SpectrumPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("SpectrumPublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture locals for the goroutine to avoid races on p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("SpectrumPublisher: started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it.
// Calling Stop on a stopped publisher is a no-op.
func (p *SpectrumPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("SpectrumPublisher: stopped.")
	return nil
}

func (p *SpectrumPublisher) publish() {
	res := p.source.Latest()
	if res == nil || res.Seq == p.lastSeq {
		return
	}
	p.lastSeq = res.Seq

	if err := p.transport.Send(NewSpectrumFrame(res)); err != nil {
		applog.Debugf("SpectrumPublisher: send of frame %d failed: %v", res.Seq, err)
	}
}

// Close implements io.Closer. It stops the publisher but leaves the
// transport open.
func (p *SpectrumPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*SpectrumPublisher)(nil)
