// Package steadystate decides whether a sequence of measured performance values
// has reached steady state as defined by the SNIA Solid State Storage
// Performance Test Specification (PTS).
//
// A tracked variable y is in steady state when, within the trailing
// measurement window:
//   - every value stays inside a band of ±T around the window average, and
//   - the best linear fit of the window, evaluated at the first and last round,
//     stays inside the same band.
//
// T is the excursion threshold (10% by default). Rounds are the 1-based
// positions of the samples in the full sequence, so the linear fit of a
// window of 5 over 20 samples uses x = 16..20.
//
// Example usage:
//
//	res, err := steadystate.Evaluate([]float64{98, 101, 99, 100, 102}, 5)
//	if err != nil {
//	    // window larger than the sequence, invalid window size, NaN samples
//	}
//	if res.Steady() {
//	    // stop preconditioning
//	}
package steadystate

import (
	"fmt"
	"math"
)

const (
	// DefaultThreshold is the PTS excursion threshold: 10% of the window average.
	DefaultThreshold = 0.10

	// DefaultWindowSize is the PTS measurement window length in rounds.
	DefaultWindowSize = 5
)

// Verdict is the outcome of a steady state evaluation.
type Verdict int

const (
	NotSteady Verdict = iota
	Steady
)

func (v Verdict) String() string {
	if v == Steady {
		return "steady"
	}
	return "not_steady"
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Check identifies which criterion rejected a window.
type Check int

const (
	CheckNone Check = iota
	CheckRange
	CheckSlope
)

func (c Check) String() string {
	switch c {
	case CheckRange:
		return "range"
	case CheckSlope:
		return "slope"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Check) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Point is a sample paired with its round.
type Point struct {
	Round int     `json:"round"`
	Value float64 `json:"value"`
}

// Result holds the verdict together with the intermediate values that led to it.
type Result struct {
	Verdict     Verdict `json:"verdict"`
	FailedCheck Check   `json:"failedCheck"`
	Window      []Point `json:"window"`
	Threshold   float64 `json:"threshold"`
	Average     float64 `json:"average"`
	Upper       float64 `json:"upper"`
	Lower       float64 `json:"lower"`
	Fit         Line    `json:"fit"`
	FitFirst    float64 `json:"fitFirst"`
	FitLast     float64 `json:"fitLast"`
}

// Steady reports whether the window satisfied both criteria.
func (r Result) Steady() bool {
	return r.Verdict == Steady
}

// Values returns the sample values of the measurement window.
func (r Result) Values() []float64 {
	out := make([]float64, len(r.Window))
	for i, p := range r.Window {
		out[i] = p.Value
	}
	return out
}

// Evaluator evaluates sample sequences against a fixed excursion threshold.
// An Evaluator has no mutable state and is safe for concurrent use.
type Evaluator struct {
	threshold float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithThreshold overrides the excursion threshold. Values are fractions of the
// window average: 0.1 means ±10%.
func WithThreshold(t float64) Option {
	return func(e *Evaluator) {
		e.threshold = t
	}
}

// New creates an Evaluator using DefaultThreshold unless overridden.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured excursion threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

var defaultEvaluator = New()

// Evaluate runs the steady state checks with DefaultThreshold.
func Evaluate(samples []float64, windowSize int) (Result, error) {
	return defaultEvaluator.Evaluate(samples, windowSize)
}

// Evaluate selects the trailing windowSize samples and applies the range and
// slope checks. samples is not modified.
//
// The band is computed once from the window average as avg*(1+T) and avg*(1-T)
// and reused by both checks. The arithmetic is literal: a negative average
// yields Upper < Lower, and a zero average collapses the band to 0, in which
// case any non-zero sample fails the range check.
//
// Returns an *InsufficientDataError when len(samples) < windowSize. A NotSteady
// verdict is a regular result, never an error.
func (e *Evaluator) Evaluate(samples []float64, windowSize int) (Result, error) {
	if windowSize <= 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidWindowSize, windowSize)
	}
	if e.threshold < 0 || math.IsNaN(e.threshold) || math.IsInf(e.threshold, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, e.threshold)
	}
	if len(samples) < windowSize {
		return Result{}, &InsufficientDataError{
			WindowSize: windowSize,
			Samples:    append([]float64(nil), samples...),
		}
	}

	window := Window(samples, windowSize)
	for _, p := range window {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return Result{}, fmt.Errorf("%w: round %d is %v", ErrNonFiniteSample, p.Round, p.Value)
		}
	}

	res := Result{
		Verdict:   Steady,
		Window:    window,
		Threshold: e.threshold,
	}

	res.Average = mean(window)
	res.Upper = res.Average * (1 + e.threshold)
	res.Lower = res.Average * (1 - e.threshold)

	lo, hi := extremes(window)
	if hi > res.Upper || lo < res.Lower {
		res.Verdict = NotSteady
		res.FailedCheck = CheckRange
		return res, nil
	}

	res.Fit = FitLine(window)
	res.FitFirst = res.Fit.At(float64(window[0].Round))
	res.FitLast = res.Fit.At(float64(window[len(window)-1].Round))

	if math.Max(res.FitFirst, res.FitLast) > res.Upper || math.Min(res.FitFirst, res.FitLast) < res.Lower {
		res.Verdict = NotSteady
		res.FailedCheck = CheckSlope
	}

	return res, nil
}

// Window returns the trailing size samples paired with their 1-based rounds in
// the full sequence. It panics if size is out of range; callers validate first.
func Window(samples []float64, size int) []Point {
	first := len(samples) - size
	out := make([]Point, size)
	for i := range out {
		out[i] = Point{Round: first + i + 1, Value: samples[first+i]}
	}
	return out
}

func mean(points []Point) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

func extremes(points []Point) (lo, hi float64) {
	lo, hi = points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	return lo, hi
}
