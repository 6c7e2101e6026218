// SPDX-License-Identifier: MIT
package daq

import (
	"errors"
	"time"

	applog "daq/internal/log"
	"daq/internal/metrics"
)

const (
	// pollTimeout bounds how long a worker waits for data before it checks
	// for commands and refills the output queue again.
	pollTimeout = 10 * time.Millisecond
	// controlSendTimeout is how long a worker waits for a full queue to make
	// room for a Started or Stopped message before pruning it.
	controlSendTimeout = 500 * time.Millisecond
	// maxQueuedOutputBlocks caps the number of blocks waiting in a backend's
	// source channel.
	maxQueuedOutputBlocks = 2
	commandBufferSize     = 16
)

type command interface{ isCommand() }

type addQueueCmd struct{ q *InQueue }
type newSourceCmd struct{ src SignalSource }
type stopCmd struct{}

func (addQueueCmd) isCommand()  {}
func (newSourceCmd) isCommand() {}
func (stopCmd) isCommand()      {}

// workerResult is what a worker hands back to the manager when it exits.
type workerResult struct {
	queues []*InQueue
	source SignalSource // nil if the worker only ever played silence
}

// worker runs one stream. It owns the consumer queues (input side) and the
// signal source (output side) for the lifetime of the stream.
type worker struct {
	stype   StreamType
	inMeta  *StreamMetadata
	outMeta *StreamMetadata

	commands <-chan command
	data     <-chan InStreamMsg // nil for output streams
	out      chan<- SampleBlock // nil for input streams

	queues []*InQueue
	source SignalSource
	held   SignalSource
	frames []float64

	metrics *metrics.StreamMetrics
}

func newWorker(stype StreamType, commands <-chan command, m *metrics.StreamMetrics) *worker {
	return &worker{stype: stype, commands: commands, metrics: m}
}

// attachInput wires the input side. queues have already received Started.
func (w *worker) attachInput(meta *StreamMetadata, data <-chan InStreamMsg, queues []*InQueue) {
	w.inMeta = meta
	w.data = data
	w.queues = queues
	w.metrics.SetAttachedQueues(w.stype.String(), len(w.queues))
}

// attachOutput wires the output side. A nil src plays silence.
func (w *worker) attachOutput(meta *StreamMetadata, out chan<- SampleBlock, src SignalSource) {
	w.outMeta = meta
	w.out = out
	w.frames = make([]float64, meta.FramesPerBlock*meta.NChannels())
	w.setSource(src)
}

func (w *worker) setSource(src SignalSource) {
	w.held = src
	if src == nil {
		src = &silence{}
	}
	src.SetNChannels(w.outMeta.NChannels())
	src.Reset(w.outMeta.SampleRate)
	w.source = src
}

func (w *worker) waitInterval() time.Duration {
	if w.outMeta != nil {
		if half := w.outMeta.BlockDuration() / 2; half > 0 && half < pollTimeout {
			return half
		}
	}
	return pollTimeout
}

// run is the worker loop: drain commands, top up output, then wait a
// bounded time for the next data message or command.
func (w *worker) run(done chan<- workerResult) {
	interval := w.waitInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
	drain:
		for {
			select {
			case cmd := <-w.commands:
				if w.handle(cmd) {
					done <- w.result()
					return
				}
			default:
				break drain
			}
		}

		if w.out != nil {
			w.fillOutput()
		}

		timer.Reset(interval)
		select {
		case cmd := <-w.commands:
			if w.handle(cmd) {
				done <- w.result()
				return
			}
		case msg := <-w.data:
			w.dispatch(msg)
		case <-timer.C:
		}
	}
}

// handle applies one command and reports whether the worker must exit.
func (w *worker) handle(cmd command) bool {
	switch c := cmd.(type) {
	case addQueueCmd:
		if c.q.Send(StreamStarted{Meta: w.inMeta}, controlSendTimeout) {
			w.queues = append(w.queues, c.q)
			applog.Debugf("StreamWorker: queue %s attached to %s stream", c.q.ID(), w.stype)
		} else {
			w.metrics.RecordQueuePruned(w.stype.String(), "closed")
		}
		w.metrics.SetAttachedQueues(w.stype.String(), len(w.queues))
	case newSourceCmd:
		w.setSource(c.src)
		applog.Debugf("StreamWorker: signal source replaced on %s stream", w.stype)
	case stopCmd:
		w.broadcastControl(StreamStopped{})
		return true
	}
	return false
}

func (w *worker) result() workerResult {
	return workerResult{queues: w.queues, source: w.held}
}

func (w *worker) dispatch(msg InStreamMsg) {
	switch m := msg.(type) {
	case StreamData:
		w.broadcastData(m)
	case StreamError:
		applog.Warnf("StreamWorker: %s stream reported %v", w.stype, m.Kind)
		w.metrics.RecordStreamError(w.stype.String(), m.Kind.String())
		w.broadcastError(m)
	default:
		w.broadcastControl(msg)
	}
}

// broadcastData fans a block out without blocking. Full queues lose the
// block; closed queues are pruned.
func (w *worker) broadcastData(msg StreamData) {
	kept := w.queues[:0]
	for _, q := range w.queues {
		err := q.TrySend(msg)
		switch {
		case errors.Is(err, ErrQueueClosed):
			w.metrics.RecordQueuePruned(w.stype.String(), "closed")
			continue
		case errors.Is(err, ErrQueueFull):
			w.metrics.RecordDataDropped(w.stype.String())
		}
		kept = append(kept, q)
	}
	w.prune(kept)
	w.metrics.RecordBlock(w.stype.String())
}

// broadcastControl delivers a control message, giving each queue a bounded
// time to make room. Queues that cannot take it are pruned.
func (w *worker) broadcastControl(msg InStreamMsg) {
	kept := w.queues[:0]
	for _, q := range w.queues {
		if !q.Send(msg, controlSendTimeout) {
			w.metrics.RecordQueuePruned(w.stype.String(), "timeout")
			continue
		}
		kept = append(kept, q)
	}
	w.prune(kept)
}

// broadcastError offers an error to every queue without waiting. Errors
// can arrive once per block during an overrun, so a consumer that is
// behind loses them instead of stalling the worker.
func (w *worker) broadcastError(msg StreamError) {
	kept := w.queues[:0]
	for _, q := range w.queues {
		err := q.Offer(msg)
		switch {
		case errors.Is(err, ErrQueueClosed):
			w.metrics.RecordQueuePruned(w.stype.String(), "closed")
			continue
		case errors.Is(err, ErrQueueFull):
			applog.Debugf("StreamWorker: queue %s missed %v", q.ID(), msg.Kind)
		}
		kept = append(kept, q)
	}
	w.prune(kept)
}

func (w *worker) prune(kept []*InQueue) {
	if len(kept) != len(w.queues) {
		clear(w.queues[len(kept):])
		applog.Debugf("StreamWorker: pruned %d queue(s) from %s stream", len(w.queues)-len(kept), w.stype)
		w.metrics.SetAttachedQueues(w.stype.String(), len(kept))
	}
	w.queues = kept
}

// fillOutput tops the backend's source channel up to maxQueuedOutputBlocks
// blocks.
func (w *worker) fillOutput() {
	nch := w.outMeta.NChannels()
	for len(w.out) < maxQueuedOutputBlocks {
		w.source.GenSignal(w.frames)
		blk, err := BlockFromFloat64(w.outMeta.DataType, w.frames, nch)
		if err != nil {
			applog.Errorf("StreamWorker: cannot convert output block: %v", err)
			return
		}
		select {
		case w.out <- blk:
			w.metrics.RecordBlock(w.stype.String())
		default:
			return
		}
	}
}
