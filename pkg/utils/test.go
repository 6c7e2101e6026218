// SPDX-License-Identifier: MIT
//
// Package utils holds helpers shared by tests: a recording transport,
// signal generators in normalised float units and peak search.
package utils

import (
	"math"
	"sync"
)

// MockTransport implements the transport interface for testing. Every value
// passed to Send is kept in order.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send stores data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateComplexWave returns a 440 Hz tone with its second and third
// harmonics, peaking just below full scale.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	return GenerateMultiTone(size, sampleRate,
		[]float64{440, 880, 1320},
		[]float64{0.45, 0.27, 0.18})
}

// GenerateSineWave returns size samples of amplitude amp.
func GenerateSineWave(size int, sampleRate, frequency, amp float64) []float64 {
	return GenerateMultiTone(size, sampleRate, []float64{frequency}, []float64{amp})
}

// GenerateMultiTone sums sines of the given frequencies and amplitudes.
// Missing amplitudes count as 1.
func GenerateMultiTone(size int, sampleRate float64, freqs, amps []float64) []float64 {
	buffer := make([]float64, size)
	for k, f := range freqs {
		a := 1.0
		if k < len(amps) {
			a = amps[k]
		}
		w := 2 * math.Pi * f / sampleRate
		for i := range buffer {
			buffer[i] += a * math.Sin(w*float64(i))
		}
	}
	return buffer
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1]. Out of range bounds are clipped.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
