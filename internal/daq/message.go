// SPDX-License-Identifier: MIT
package daq

import "fmt"

// InStreamMsg is a message broadcast from a running stream to consumer
// queues. The concrete types are StreamStarted, StreamData, StreamStopped
// and StreamError.
type InStreamMsg interface {
	isInStreamMsg()
}

// StreamStarted is the first message every queue receives for a stream
// generation.
type StreamStarted struct {
	Meta *StreamMetadata
}

// StreamData carries one block. Ctr increases by one per block at the
// source; a queue attached late sees the counter from where it joined. A
// consumer that sees Ctr jump has lost blocks (see CtrTracker).
type StreamData struct {
	Ctr   uint64
	Meta  *StreamMetadata
	Block SampleBlock
}

// StreamStopped is sent to every attached queue when the stream stops.
type StreamStopped struct{}

// StreamError reports a runtime stream error. The stream keeps running
// until it is stopped explicitly.
type StreamError struct {
	Kind StreamErrorKind
}

func (StreamStarted) isInStreamMsg() {}
func (StreamData) isInStreamMsg()    {}
func (StreamStopped) isInStreamMsg() {}
func (StreamError) isInStreamMsg()   {}

// StreamErrorKind enumerates runtime stream failures.
type StreamErrorKind int

const (
	NoError StreamErrorKind = iota
	DeviceNotAvailable
	DriverError
	InputOverrunError
	InputUnderrunError
	OutputOverrunError
	OutputUnderrunError
	LogicError
)

func (k StreamErrorKind) String() string {
	switch k {
	case NoError:
		return "no error"
	case DeviceNotAvailable:
		return "device not available"
	case DriverError:
		return "driver error"
	case InputOverrunError:
		return "input overrun"
	case InputUnderrunError:
		return "input underrun"
	case OutputOverrunError:
		return "output overrun"
	case OutputUnderrunError:
		return "output underrun"
	case LogicError:
		return "logic error"
	default:
		return fmt.Sprintf("StreamErrorKind(%d)", int(k))
	}
}

// Error lets a kind be returned or wrapped as an error value.
func (k StreamErrorKind) Error() string { return "stream error: " + k.String() }

// StreamState is the coarse lifecycle state of a stream.
type StreamState int

const (
	NotRunning StreamState = iota
	Running
	Errored
)

func (s StreamState) String() string {
	switch s {
	case NotRunning:
		return "not running"
	case Running:
		return "running"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// StreamStatus is what a backend reports for a running stream.
type StreamStatus struct {
	State StreamState
	Err   StreamErrorKind
}

func (s StreamStatus) String() string {
	if s.State == Errored {
		return "error: " + s.Err.String()
	}
	return s.State.String()
}

// StatusRunning and StatusNotRunning are the two error-free statuses.
var (
	StatusRunning    = StreamStatus{State: Running}
	StatusNotRunning = StreamStatus{State: NotRunning}
)

// StatusError builds an errored status.
func StatusError(kind StreamErrorKind) StreamStatus {
	return StreamStatus{State: Errored, Err: kind}
}
