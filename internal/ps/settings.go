// SPDX-License-Identifier: MIT
package ps

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidNFFT       = errors.New("nfft must be even and positive")
	ErrInvalidSampleRate = errors.New("sample rate must be positive and finite")
	ErrInvalidOverlap    = errors.New("overlap must keep fewer frames than nfft")
	ErrInvalidTau        = errors.New("exponential time constant must be positive")
)

type overlapKind int

const (
	overlapNone overlapKind = iota
	overlapPercentage
	overlapSamples
)

// Overlap is the number of frames shared by consecutive analysis windows,
// given either as a percentage of nfft or as a literal frame count.
type Overlap struct {
	kind  overlapKind
	value float64
}

func NoOverlap() Overlap { return Overlap{kind: overlapNone} }

// OverlapPercentage keeps p percent of nfft, 0 <= p < 100.
func OverlapPercentage(p float64) Overlap {
	return Overlap{kind: overlapPercentage, value: p}
}

// OverlapSamples keeps n frames.
func OverlapSamples(n int) Overlap {
	return Overlap{kind: overlapSamples, value: float64(n)}
}

// ParseOverlap accepts "none", "<p>%" or a frame count.
func ParseOverlap(s string) (Overlap, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "none" || s == "0":
		return NoOverlap(), nil
	case strings.HasSuffix(s, "%"):
		p, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return NoOverlap(), fmt.Errorf("invalid overlap percentage %q: %w", s, err)
		}
		return OverlapPercentage(p), nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return NoOverlap(), fmt.Errorf("invalid overlap %q: %w", s, err)
		}
		return OverlapSamples(n), nil
	}
}

// keep resolves the overlap to a frame count for nfft.
func (o Overlap) keep(nfft int) (int, error) {
	var n int
	switch o.kind {
	case overlapNone:
		return 0, nil
	case overlapPercentage:
		if o.value < 0 || o.value >= 100 || math.IsNaN(o.value) {
			return 0, fmt.Errorf("%w: %g%%", ErrInvalidOverlap, o.value)
		}
		n = int(o.value * float64(nfft) / 100)
	case overlapSamples:
		n = int(o.value)
	}
	if n < 0 || n >= nfft {
		return 0, fmt.Errorf("%w: %d of %d", ErrInvalidOverlap, n, nfft)
	}
	return n, nil
}

func (o Overlap) String() string {
	switch o.kind {
	case overlapPercentage:
		return strconv.FormatFloat(o.value, 'g', -1, 64) + "%"
	case overlapSamples:
		return strconv.Itoa(int(o.value))
	default:
		return "none"
	}
}

// ApsModeKind selects how consecutive spectra are combined.
type ApsModeKind int

const (
	ModeAllAveraging ApsModeKind = iota
	ModeExponential
	ModeSpectrogram
)

// ApsMode is an averaging mode; only exponential weighting carries a
// parameter.
type ApsMode struct {
	kind ApsModeKind
	tau  float64
}

// AllAveraging gives every block equal weight.
func AllAveraging() ApsMode { return ApsMode{kind: ModeAllAveraging} }

// ExponentialWeighting forgets old blocks with time constant tau seconds.
func ExponentialWeighting(tau float64) ApsMode {
	return ApsMode{kind: ModeExponential, tau: tau}
}

// Spectrogram keeps only the latest block.
func Spectrogram() ApsMode { return ApsMode{kind: ModeSpectrogram} }

func (m ApsMode) Kind() ApsModeKind { return m.kind }
func (m ApsMode) Tau() float64      { return m.tau }

func (m ApsMode) String() string {
	switch m.kind {
	case ModeExponential:
		return fmt.Sprintf("exponential(tau=%gs)", m.tau)
	case ModeSpectrogram:
		return "spectrogram"
	default:
		return "all"
	}
}

// ParseApsMode accepts "all", "exponential" (with tau) or "spectrogram".
func ParseApsMode(name string, tau float64) (ApsMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all", "allaveraging":
		return AllAveraging(), nil
	case "exp", "exponential":
		return ExponentialWeighting(tau), nil
	case "spectrogram":
		return Spectrogram(), nil
	default:
		return AllAveraging(), fmt.Errorf("unknown averaging mode: '%s'", name)
	}
}

// ApsSettings configures an AvPowerSpectra. It is immutable once built.
type ApsSettings struct {
	nfft      int
	fs        float64
	mode      ApsMode
	overlap   Overlap
	window    WindowType
	weighting FreqWeighting
	keep      int
}

// ApsOption customises NewApsSettings.
type ApsOption func(*ApsSettings)

func WithMode(m ApsMode) ApsOption { return func(s *ApsSettings) { s.mode = m } }

func WithOverlap(o Overlap) ApsOption { return func(s *ApsSettings) { s.overlap = o } }

func WithWindow(w WindowType) ApsOption { return func(s *ApsSettings) { s.window = w } }

func WithFreqWeighting(fw FreqWeighting) ApsOption {
	return func(s *ApsSettings) { s.weighting = fw }
}

// NewApsSettings validates and builds settings. Defaults: Hann window, 50%
// overlap, all-averaging, Z weighting.
func NewApsSettings(nfft int, fs float64, opts ...ApsOption) (*ApsSettings, error) {
	s := &ApsSettings{
		nfft:      nfft,
		fs:        fs,
		mode:      AllAveraging(),
		overlap:   OverlapPercentage(50),
		window:    Hann,
		weighting: ZWeighting,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ApsSettings) validate() error {
	if s.nfft <= 0 || s.nfft%2 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidNFFT, s.nfft)
	}
	if s.fs <= 0 || math.IsNaN(s.fs) || math.IsInf(s.fs, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRate, s.fs)
	}
	keep, err := s.overlap.keep(s.nfft)
	if err != nil {
		return err
	}
	s.keep = keep
	if s.mode.kind == ModeExponential && !(s.mode.tau > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidTau, s.mode.tau)
	}
	if s.window < Hann || s.window > Rect {
		return fmt.Errorf("unknown window type %d", s.window)
	}
	if s.weighting < ZWeighting || s.weighting > CWeighting {
		return fmt.Errorf("unknown frequency weighting %d", s.weighting)
	}
	return nil
}

func (s *ApsSettings) NFFT() int                    { return s.nfft }
func (s *ApsSettings) SampleRate() float64          { return s.fs }
func (s *ApsSettings) Mode() ApsMode                { return s.mode }
func (s *ApsSettings) Overlap() Overlap             { return s.overlap }
func (s *ApsSettings) Window() WindowType           { return s.window }
func (s *ApsSettings) FreqWeighting() FreqWeighting { return s.weighting }

// OverlapKeep is the number of frames retained between windows.
func (s *ApsSettings) OverlapKeep() int { return s.keep }

// NFreq is the number of single-sided bins, nfft/2+1.
func (s *ApsSettings) NFreq() int { return s.nfft/2 + 1 }

// Freqs returns the centre frequency of every bin.
func (s *ApsSettings) Freqs() []float64 {
	out := make([]float64, s.NFreq())
	df := s.fs / float64(s.nfft)
	for k := range out {
		out[k] = float64(k) * df
	}
	return out
}

// WithSampleRate returns a copy of s validated for a different sample
// rate.
func (s *ApsSettings) WithSampleRate(fs float64) (*ApsSettings, error) {
	cp := *s
	cp.fs = fs
	if err := cp.validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}
