// SPDX-License-Identifier: MIT
package ps

import "math"

// AvPowerSpectra averages cross-power spectra over a continuous stream of
// time data. Pushed data is cut into (possibly overlapping) windows of
// nfft frames and every complete window is folded into the running
// estimate according to the averaging mode.
//
// It is not safe for concurrent use; it is driven by whichever goroutine
// consumes the stream.
type AvPowerSpectra struct {
	settings *ApsSettings
	ps       *PowerSpectra
	weights  []float64
	alpha    float64

	buf TimeBuffer
	n   int
	cur *CPSResult
}

// NewAvPowerSpectra builds an engine for validated settings.
func NewAvPowerSpectra(s *ApsSettings) (*AvPowerSpectra, error) {
	aps := &AvPowerSpectra{}
	if err := aps.configure(s); err != nil {
		return nil, err
	}
	return aps, nil
}

func (aps *AvPowerSpectra) configure(s *ApsSettings) error {
	w, err := NewWindow(s.Window(), s.NFFT())
	if err != nil {
		return err
	}
	ps, err := NewPowerSpectra(w)
	if err != nil {
		return err
	}
	aps.settings = s
	aps.ps = ps
	aps.weights = s.FreqWeighting().powerWeights(s.Freqs())
	aps.alpha = 0
	if s.Mode().Kind() == ModeExponential {
		hop := float64(s.NFFT() - s.OverlapKeep())
		aps.alpha = math.Exp(-hop / (s.SampleRate() * s.Mode().Tau()))
	}
	aps.Reset()
	return nil
}

func (aps *AvPowerSpectra) Settings() *ApsSettings { return aps.settings }

// NBlocks returns the number of windows folded since the last reset.
func (aps *AvPowerSpectra) NBlocks() int { return aps.n }

// Current returns the running estimate, or nil before the first window.
func (aps *AvPowerSpectra) Current() *CPSResult { return aps.cur }

// Reset forgets buffered data and the running estimate.
func (aps *AvPowerSpectra) Reset() {
	aps.buf.Reset()
	aps.n = 0
	aps.cur = nil
}

// ResetWithSettings swaps in new settings and resets. On error the engine
// keeps its previous settings and state.
func (aps *AvPowerSpectra) ResetWithSettings(s *ApsSettings) error {
	next := &AvPowerSpectra{}
	if err := next.configure(s); err != nil {
		return err
	}
	*aps = *next
	return nil
}

// ComputeLast pushes td (channel-major) and folds every complete window.
// It returns the estimate after the last fold, or nil if no window
// completed during this call.
func (aps *AvPowerSpectra) ComputeLast(td [][]float64) *CPSResult {
	var last *CPSResult
	aps.run(td, func(r *CPSResult) { last = r })
	return last
}

// ComputeAll is like ComputeLast but returns the estimate after each fold.
func (aps *AvPowerSpectra) ComputeAll(td [][]float64) []*CPSResult {
	var all []*CPSResult
	aps.run(td, func(r *CPSResult) { all = append(all, r) })
	return all
}

func (aps *AvPowerSpectra) run(td [][]float64, emit func(*CPSResult)) {
	aps.buf.Push(td)
	nfft, keep := aps.settings.NFFT(), aps.settings.OverlapKeep()
	for {
		block := aps.buf.Pop(nfft, keep)
		if block == nil {
			return
		}
		emit(aps.fold(aps.ps.Compute(block)))
	}
}

func (aps *AvPowerSpectra) fold(cnew *CPSResult) *CPSResult {
	if aps.weights != nil {
		cnew.scaleFreq(aps.weights)
	}
	aps.n++
	switch {
	case aps.cur == nil, aps.settings.Mode().Kind() == ModeSpectrogram:
		aps.cur = cnew
	case aps.settings.Mode().Kind() == ModeExponential:
		aps.cur = aps.cur.blend(aps.alpha, cnew, 1-aps.alpha)
	default:
		n := float64(aps.n)
		aps.cur = aps.cur.blend((n-1)/n, cnew, 1/n)
	}
	return aps.cur
}
