// SPDX-License-Identifier: MIT

// Package ps estimates single-sided cross-power spectra of multi-channel
// time data, block by block and averaged over many blocks.
package ps

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// PowerSpectra computes the cross-power spectrum of a single block of
// nfft frames. It reuses internal buffers and is not safe for concurrent
// use.
type PowerSpectra struct {
	window *Window
	fft    *fourier.FFT
	buf    []float64
	specs  [][]complex128
}

// NewPowerSpectra returns an estimator whose nfft is the window length.
func NewPowerSpectra(w *Window) (*PowerSpectra, error) {
	if w == nil {
		return nil, fmt.Errorf("window is nil")
	}
	n := w.Len()
	if n <= 0 || n%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNFFT, n)
	}
	return &PowerSpectra{
		window: w,
		fft:    fourier.NewFFT(n),
		buf:    make([]float64, n),
	}, nil
}

func (ps *PowerSpectra) NFFT() int       { return ps.window.Len() }
func (ps *PowerSpectra) Window() *Window { return ps.window }

// Compute returns the cross-power tensor of td, given channel-major as
// td[ch][frame]. Every channel must hold exactly nfft frames.
//
// The DC bin carries the squared channel means and is unaffected by the
// window. A unit amplitude sine at bin k gives an auto-power of 0.5 at k.
func (ps *PowerSpectra) Compute(td [][]float64) *CPSResult {
	nfft := ps.NFFT()
	nch := len(td)
	if nch == 0 {
		panic("ps: Compute called with no channels")
	}
	if len(ps.specs) != nch {
		ps.specs = make([][]complex128, nch)
		for ch := range ps.specs {
			ps.specs[ch] = make([]complex128, nfft/2+1)
		}
	}

	win := ps.window.Coefficients()
	dcScale := complex(1/float64(nfft), 0)
	acScale := complex(2/float64(nfft), 0)
	for ch, col := range td {
		if len(col) != nfft {
			panic(fmt.Sprintf("ps: channel %d has %d frames, nfft is %d", ch, len(col), nfft))
		}
		mean := floats.Sum(col) / float64(nfft)
		copy(ps.buf, col)
		floats.AddConst(-mean, ps.buf)
		floats.Mul(ps.buf, win)

		spec := ps.fft.Coefficients(ps.specs[ch], ps.buf)
		spec[0] *= dcScale
		spec[nfft/2] *= dcScale
		for k := 1; k < nfft/2; k++ {
			spec[k] *= acScale
		}
		spec[0] = complex(mean, 0)
	}

	nfreq := nfft/2 + 1
	res := NewCPSResult(nfreq, nch)
	for k := 0; k < nfreq; k++ {
		half := k != 0 && k != nfreq-1
		for i := 0; i < nch; i++ {
			xi := ps.specs[i][k]
			auto := real(xi)*real(xi) + imag(xi)*imag(xi)
			if half {
				auto *= 0.5
			}
			res.set(k, i, i, complex(auto, 0))
			for j := i + 1; j < nch; j++ {
				v := xi * cmplx.Conj(ps.specs[j][k])
				if half {
					v *= 0.5
				}
				res.set(k, i, j, v)
				res.set(k, j, i, cmplx.Conj(v))
			}
		}
	}
	return res
}
