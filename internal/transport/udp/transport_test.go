// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daq/internal/transport"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTransportPacketLayout(t *testing.T) {
	rx := listen(t)
	tx, err := NewTransport(rx.LocalAddr().String())
	require.NoError(t, err)
	defer tx.Close()

	ts := time.Unix(1700000000, 123)
	frame := transport.SpectrumFrame{
		Seq:        42,
		Time:       ts,
		SampleRate: 48000,
		PowerDB:    [][]float64{{-10, -20, -30}, {0, 1.5, -300}},
	}
	require.NoError(t, tx.Send(frame))

	buf := make([]byte, MaxPacketSize)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, HeaderSize+2*3*4, n)

	be := binary.BigEndian
	assert.Equal(t, uint32(42), be.Uint32(buf[0:]))
	assert.Equal(t, ts.UnixNano(), int64(be.Uint64(buf[4:])))
	assert.Equal(t, float32(48000), math.Float32frombits(be.Uint32(buf[12:])))
	assert.Equal(t, uint16(2), be.Uint16(buf[16:]))
	assert.Equal(t, uint16(3), be.Uint16(buf[18:]))

	want := []float32{-10, -20, -30, 0, 1.5, -300}
	for i, w := range want {
		assert.Equal(t, w, math.Float32frombits(be.Uint32(buf[HeaderSize+4*i:])), "value %d", i)
	}
}

func TestTransportRejects(t *testing.T) {
	rx := listen(t)
	tx, err := NewTransport(rx.LocalAddr().String())
	require.NoError(t, err)

	assert.Error(t, tx.Send("not a frame"))

	ragged := transport.SpectrumFrame{PowerDB: [][]float64{{1, 2}, {1}}}
	assert.Error(t, tx.Send(ragged))

	huge := transport.SpectrumFrame{PowerDB: [][]float64{make([]float64, 4097), make([]float64, 4097), make([]float64, 4097), make([]float64, 4097)}}
	assert.ErrorIs(t, tx.Send(huge), ErrPacketTooLarge)

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	assert.ErrorIs(t, tx.sender.Send([]byte{1}), ErrSenderClosed)
}

func TestNewSenderBadAddress(t *testing.T) {
	_, err := NewSender("not an address")
	assert.Error(t, err)
}
