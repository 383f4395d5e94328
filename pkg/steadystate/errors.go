package steadystate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInsufficientData matches any *InsufficientDataError via errors.Is.
	ErrInsufficientData = errors.New("insufficient data")

	ErrInvalidWindowSize = errors.New("window size must be a positive integer")
	ErrInvalidThreshold  = errors.New("threshold must be a finite non-negative number")
	ErrNonFiniteSample   = errors.New("sample is not a finite number")
)

// InsufficientDataError is returned when the sequence is shorter than the
// measurement window. It is distinct from a NotSteady verdict: the evaluation
// did not run.
type InsufficientDataError struct {
	WindowSize int
	Samples    []float64
}

func (e *InsufficientDataError) Error() string {
	vals := make([]string, len(e.Samples))
	for i, v := range e.Samples {
		vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprintf("not enough input values (< %d): [%s]", e.WindowSize, strings.Join(vals, ", "))
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
