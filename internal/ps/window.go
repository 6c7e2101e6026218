// SPDX-License-Identifier: MIT
package ps

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// WindowType selects the taper applied before the FFT.
type WindowType int

const (
	Hann WindowType = iota
	Hamming
	Blackman
	Bartlett
	Rect
)

func (w WindowType) String() string {
	switch w {
	case Hann:
		return "Hann"
	case Hamming:
		return "Hamming"
	case Blackman:
		return "Blackman"
	case Bartlett:
		return "Bartlett"
	case Rect:
		return "Rect"
	default:
		return fmt.Sprintf("WindowType(%d)", int(w))
	}
}

// ParseWindowType converts a string name (case-insensitive) to a
// WindowType, returns Hann and an error if the name is unknown.
func ParseWindowType(name string) (WindowType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "bartlett", "triangular":
		return Bartlett, nil
	case "rect", "rectangular", "boxcar", "none":
		return Rect, nil
	default:
		return Hann, fmt.Errorf("unknown window function name: '%s'", name)
	}
}

// Window holds taper coefficients scaled so that their mean square is 1,
// which keeps the power of broadband signals unchanged.
type Window struct {
	typ  WindowType
	data []float64
}

// NewWindow computes a normalised window of length n.
func NewWindow(typ WindowType, n int) (*Window, error) {
	if n <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %d", n)
	}
	if typ < Hann || typ > Rect {
		return nil, fmt.Errorf("unknown window type %d", typ)
	}
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch {
	case n == 1:
	case typ == Hann:
		window.Hann(coeffs)
	case typ == Hamming:
		window.Hamming(coeffs)
	case typ == Blackman:
		window.Blackman(coeffs)
	case typ == Bartlett:
		window.Triangular(coeffs)
	case typ == Rect:
		window.Rectangular(coeffs)
	}

	ms := floats.Dot(coeffs, coeffs) / float64(n)
	if ms == 0 {
		// Length-2 tapers are all zero for most window families.
		for i := range coeffs {
			coeffs[i] = 1
		}
		ms = 1
	}
	floats.Scale(1/math.Sqrt(ms), coeffs)
	return &Window{typ: typ, data: coeffs}, nil
}

func (w *Window) Type() WindowType { return w.typ }
func (w *Window) Len() int         { return len(w.data) }

// Coefficients returns the window. Callers must not modify it.
func (w *Window) Coefficients() []float64 { return w.data }
