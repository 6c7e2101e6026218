// SPDX-License-Identifier: MIT
package daq

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity is the number of messages an InQueue buffers before
// data messages are dropped.
const DefaultQueueCapacity = 64

// controlReserve is the number of slots data messages never fill, so that
// Started, Stopped and Error messages reach a consumer that fell behind.
const controlReserve = 4

// InQueue is a consumer's subscription to input stream messages. The
// consumer reads from Messages and calls Close when it is no longer
// interested; the producing worker then prunes the queue on its next send.
//
// Data messages that find the queue full are dropped. The consumer sees
// the loss as a jump in StreamData.Ctr; CtrTracker detects it.
type InQueue struct {
	id       uuid.UUID
	capacity int
	ch       chan InStreamMsg
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewInQueue creates a queue buffering up to capacity messages.
func NewInQueue(capacity int) *InQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &InQueue{
		id:       uuid.New(),
		capacity: capacity,
		ch:       make(chan InStreamMsg, capacity+controlReserve),
		done:     make(chan struct{}),
	}
}

// ID identifies the queue in logs and metrics.
func (q *InQueue) ID() uuid.UUID { return q.id }

// Messages is the receive side of the queue. It is never closed; select on
// Done as well when waiting.
func (q *InQueue) Messages() <-chan InStreamMsg { return q.ch }

// Done is closed once the consumer has closed the queue.
func (q *InQueue) Done() <-chan struct{} { return q.done }

// Close detaches the consumer. Safe to call more than once.
func (q *InQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Closed reports whether the consumer has detached.
func (q *InQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Dropped returns the number of data messages discarded because the queue
// was full.
func (q *InQueue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of buffered messages.
func (q *InQueue) Len() int { return len(q.ch) }

var (
	ErrQueueClosed = errors.New("queue closed by consumer")
	ErrQueueFull   = errors.New("queue full")
)

// TrySend delivers msg without blocking. A queue holding capacity messages
// drops it, counts it and returns ErrQueueFull; the queue stays attached.
// Only ErrQueueClosed means the consumer is gone.
func (q *InQueue) TrySend(msg InStreamMsg) error {
	if q.Closed() {
		return ErrQueueClosed
	}
	// Only the consumer drains concurrently, so the length can only shrink.
	if len(q.ch) >= q.capacity {
		q.dropped.Add(1)
		return ErrQueueFull
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Offer delivers a control message without blocking. It may use the
// slots reserved for control messages.
func (q *InQueue) Offer(msg InStreamMsg) error {
	if q.Closed() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send delivers msg, waiting at most timeout for room. It returns false if
// the consumer is gone or did not make room in time.
func (q *InQueue) Send(msg InStreamMsg, timeout time.Duration) bool {
	if q.Closed() {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- msg:
		return true
	case <-q.done:
		return false
	case <-timer.C:
		return false
	}
}
