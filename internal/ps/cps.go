// SPDX-License-Identifier: MIT
package ps

import (
	"fmt"
	"math/cmplx"
)

// CPSResult is a single-sided cross-power spectrum tensor indexed
// [freq][i][j]. It is Hermitian in i and j: At(k, i, j) ==
// conj(At(k, j, i)). Diagonal entries are auto-powers.
//
// Results are never mutated after they are handed out; averaging builds a
// new tensor per fold.
type CPSResult struct {
	nfreq int
	nch   int
	data  []complex128
}

// NewCPSResult returns a zeroed tensor.
func NewCPSResult(nfreq, nch int) *CPSResult {
	if nfreq <= 0 || nch <= 0 {
		panic(fmt.Sprintf("ps: invalid CPSResult shape %dx%d", nfreq, nch))
	}
	return &CPSResult{
		nfreq: nfreq,
		nch:   nch,
		data:  make([]complex128, nfreq*nch*nch),
	}
}

func (c *CPSResult) NFreq() int     { return c.nfreq }
func (c *CPSResult) NChannels() int { return c.nch }

func (c *CPSResult) index(k, i, j int) int {
	return (k*c.nch+i)*c.nch + j
}

// At returns element [k, i, j].
func (c *CPSResult) At(k, i, j int) complex128 {
	return c.data[c.index(k, i, j)]
}

func (c *CPSResult) set(k, i, j int, v complex128) {
	c.data[c.index(k, i, j)] = v
}

// AutoPower returns the real auto-power spectrum of channel ch.
func (c *CPSResult) AutoPower(ch int) []float64 {
	out := make([]float64, c.nfreq)
	for k := range out {
		out[k] = real(c.At(k, ch, ch))
	}
	return out
}

// CrossPower returns the complex cross-power spectrum between channels i
// and j.
func (c *CPSResult) CrossPower(i, j int) []complex128 {
	out := make([]complex128, c.nfreq)
	for k := range out {
		out[k] = c.At(k, i, j)
	}
	return out
}

// Clone returns a deep copy.
func (c *CPSResult) Clone() *CPSResult {
	out := &CPSResult{nfreq: c.nfreq, nch: c.nch, data: make([]complex128, len(c.data))}
	copy(out.data, c.data)
	return out
}

// IsHermitian reports whether every [k,i,j] equals conj([k,j,i]) within
// tol.
func (c *CPSResult) IsHermitian(tol float64) bool {
	for k := 0; k < c.nfreq; k++ {
		for i := 0; i < c.nch; i++ {
			for j := i; j < c.nch; j++ {
				if cmplx.Abs(c.At(k, i, j)-cmplx.Conj(c.At(k, j, i))) > tol {
					return false
				}
			}
		}
	}
	return true
}

func (c *CPSResult) sameShape(o *CPSResult) bool {
	return c.nfreq == o.nfreq && c.nch == o.nch
}

// blend returns a*c + b*o as a new tensor.
func (c *CPSResult) blend(a float64, o *CPSResult, b float64) *CPSResult {
	if !c.sameShape(o) {
		panic(fmt.Sprintf("ps: blending %dx%d with %dx%d", c.nfreq, c.nch, o.nfreq, o.nch))
	}
	out := &CPSResult{nfreq: c.nfreq, nch: c.nch, data: make([]complex128, len(c.data))}
	ca, cb := complex(a, 0), complex(b, 0)
	for n := range out.data {
		out.data[n] = ca*c.data[n] + cb*o.data[n]
	}
	return out
}

// scaleFreq multiplies every bin k by w[k] in place. Only used on tensors
// not yet handed out.
func (c *CPSResult) scaleFreq(w []float64) {
	stride := c.nch * c.nch
	for k := 0; k < c.nfreq; k++ {
		f := complex(w[k], 0)
		row := c.data[k*stride : (k+1)*stride]
		for n := range row {
			row[n] *= f
		}
	}
}
