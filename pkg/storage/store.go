// Package storage persists steady state verification reports.
//
// Three backends implement Store:
//   - MemoryStore: in-process, optional TTL, bounded history per target
//   - RedisStore:  shared between monitor replicas, TTL-based expiry
//   - SQLiteStore: durable single-node history
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/steadystate/pkg/steadystate"
)

// Verdict values stored in Report.Verdict.
const (
	VerdictSteady           = "steady"
	VerdictNotSteady        = "not_steady"
	VerdictInsufficientData = "insufficient_data"
)

// DefaultHistoryLimit is the number of reports kept per target by backends
// that bound their history.
const DefaultHistoryLimit = 100

type Report struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	Metric      string    `json:"metric"`
	GeneratedAt time.Time `json:"generatedAt"`
	Verdict     string    `json:"verdict"`
	Steady      bool      `json:"steady"`
	WindowSize  int       `json:"windowSize"`
	// FirstRound is the round of Values[0] in the collected sequence.
	FirstRound  int       `json:"firstRound"`
	Values      []float64 `json:"values"`
	Threshold   float64   `json:"threshold"`
	Average     float64   `json:"average"`
	Upper       float64   `json:"upper"`
	Lower       float64   `json:"lower"`
	Slope       float64   `json:"slope"`
	Intercept   float64   `json:"intercept"`
	FitFirst    float64   `json:"fitFirst"`
	FitLast     float64   `json:"fitLast"`
	FailedCheck string    `json:"failedCheck,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

type Store interface {
	Put(ctx context.Context, report Report) error
	GetLatest(ctx context.Context, target string) (Report, bool, error)
	// History returns up to limit reports for target, newest first.
	History(ctx context.Context, target string, limit int) ([]Report, error)
}

// NewReport converts the outcome of an evaluation into a Report. evalErr is the
// error returned by Evaluate; an insufficient data error yields a report with
// VerdictInsufficientData, any other error is returned unchanged.
func NewReport(target, metric string, res steadystate.Result, evalErr error, now time.Time) (Report, error) {
	r := Report{
		ID:          uuid.NewString(),
		Target:      target,
		Metric:      metric,
		GeneratedAt: now.UTC(),
	}

	if evalErr != nil {
		var ide *steadystate.InsufficientDataError
		if !errors.As(evalErr, &ide) {
			return Report{}, evalErr
		}
		r.Verdict = VerdictInsufficientData
		r.WindowSize = ide.WindowSize
		r.Values = ide.Samples
		if len(ide.Samples) > 0 {
			r.FirstRound = 1
		}
		r.Reason = ide.Error()
		return r, nil
	}

	r.Verdict = res.Verdict.String()
	r.Steady = res.Steady()
	r.WindowSize = len(res.Window)
	if len(res.Window) > 0 {
		r.FirstRound = res.Window[0].Round
	}
	r.Values = res.Values()
	r.Threshold = res.Threshold
	r.Average = res.Average
	r.Upper = res.Upper
	r.Lower = res.Lower
	r.Slope = res.Fit.Slope
	r.Intercept = res.Fit.Intercept
	r.FitFirst = res.FitFirst
	r.FitLast = res.FitLast
	if res.FailedCheck != steadystate.CheckNone {
		r.FailedCheck = res.FailedCheck.String()
		r.Reason = fmt.Sprintf("%s check outside [%g, %g]", r.FailedCheck, res.Lower, res.Upper)
	}
	return r, nil
}

func validateTarget(target string) error {
	if target == "" {
		return errors.New("target name required")
	}
	for _, c := range target {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid target name %q: only alphanumeric, dots, hyphens, and underscores allowed", target)
		}
	}
	return nil
}
