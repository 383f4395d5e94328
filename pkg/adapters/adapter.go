// Package adapters collects the samples of a tracked metric from external
// systems so that they can be checked for steady state.
//
// Each adapter implements the Adapter interface and returns a Series ordered
// by time, oldest first; sample i of the series is round i+1. Available
// adapters:
//   - PrometheusAdapter      - range queries against the Prometheus HTTP API
//   - VictoriaMetricsAdapter - the same API served by VictoriaMetrics
//   - HTTPAdapter            - any JSON REST endpoint, values located with gjson paths
//   - FileAdapter            - a sample list written by a benchmark harness
//
// Adapters only fetch and shape data. Window selection and the verdict are
// left to the steadystate package.
package adapters

import (
	"context"
	"time"
)

// Sample is one measured value. Timestamp is zero for sources without time
// information, such as FileAdapter.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Series is a sequence of samples ordered oldest first.
type Series []Sample

// Values returns the sample values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, sm := range s {
		out[i] = sm.Value
	}
	return out
}

// Adapter is implemented by every sample source.
//
// Collect is synchronous and must respect context cancellation and deadlines.
// lookback bounds how far back time-based sources read; sources without time
// information return everything they have.
type Adapter interface {
	Collect(ctx context.Context, lookback time.Duration) (Series, error)

	// Name returns a short identifier such as "prometheus" or "http".
	Name() string
}

// AlignTimestamp truncates ts to a multiple of step.
func AlignTimestamp(ts time.Time, step time.Duration) time.Time {
	return ts.Truncate(step)
}
