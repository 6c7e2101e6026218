// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	applog "daq/internal/log"
	"daq/internal/transport"
)

// MaxPacketSize is the largest UDP payload over IPv4.
const MaxPacketSize = 65507

// HeaderSize is the size of the packet header in bytes.
const HeaderSize = 4 + 8 + 4 + 2 + 2

var ErrPacketTooLarge = errors.New("spectrum frame does not fit a UDP packet")

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Estimate sequence       |
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Sample Rate       | float32        | 4            | Hz                      |
| Channel Count     | uint16         | 2            | C                       |
| Bin Count         | uint16         | 2            | N = nfft/2 + 1          |
| Power             | []float32      | C * N * 4    | dB, channel after       |
|                   |                |              | channel                 |
+-----------------------------------------------------------------------------+
*/

// Transport sends SpectrumFrames as binary datagrams.
type Transport struct {
	sender *Sender
	buf    bytes.Buffer
	f32    []float32
}

// NewTransport sends to addr ("host:port").
func NewTransport(addr string) (*Transport, error) {
	s, err := NewSender(addr)
	if err != nil {
		return nil, err
	}
	return &Transport{sender: s}, nil
}

// Send packs a transport.SpectrumFrame and sends it. It is not safe for
// concurrent use; a SpectrumPublisher calls it from one goroutine.
func (t *Transport) Send(data any) error {
	frame, ok := data.(transport.SpectrumFrame)
	if !ok {
		return fmt.Errorf("udp: cannot send %T", data)
	}
	pkt, err := t.pack(frame)
	if err != nil {
		return err
	}
	if err := t.sender.Send(pkt); err != nil {
		return err
	}
	applog.Debugf("UDPTransport: Sent packet %d (%d bytes)", frame.Seq, len(pkt))
	return nil
}

// pack encodes frame into t.buf and returns its bytes.
func (t *Transport) pack(frame transport.SpectrumFrame) ([]byte, error) {
	nch := len(frame.PowerDB)
	nbins := 0
	if nch > 0 {
		nbins = len(frame.PowerDB[0])
	}
	if HeaderSize+4*nch*nbins > MaxPacketSize || nch > math.MaxUint16 || nbins > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d channels of %d bins", ErrPacketTooLarge, nch, nbins)
	}

	if cap(t.f32) < nch*nbins {
		t.f32 = make([]float32, nch*nbins)
	}
	f32 := t.f32[:nch*nbins]
	for ch, p := range frame.PowerDB {
		if len(p) != nbins {
			return nil, fmt.Errorf("udp: channel %d has %d bins, want %d", ch, len(p), nbins)
		}
		for k, v := range p {
			f32[ch*nbins+k] = float32(v)
		}
	}

	t.buf.Reset()
	err := binary.Write(&t.buf, binary.BigEndian, uint32(frame.Seq))
	if err == nil {
		err = binary.Write(&t.buf, binary.BigEndian, frame.Time.UnixNano())
	}
	if err == nil {
		err = binary.Write(&t.buf, binary.BigEndian, float32(frame.SampleRate))
	}
	if err == nil {
		err = binary.Write(&t.buf, binary.BigEndian, [2]uint16{uint16(nch), uint16(nbins)})
	}
	if err == nil {
		err = binary.Write(&t.buf, binary.BigEndian, f32)
	}
	if err != nil {
		return nil, fmt.Errorf("udp: packing frame: %w", err)
	}
	return t.buf.Bytes(), nil
}

func (t *Transport) Close() error { return t.sender.Close() }

var _ transport.Transport = (*Transport)(nil)
