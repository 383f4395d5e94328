// The Monitor type drives the verification loop for one target:
//
//	collect → evaluate → report → store
//
// Run executes Tick at a fixed interval. Each tick fetches the recent rounds of
// the target's metric, evaluates the trailing measurement window and stores a
// report that the HTTP API serves. Transient collection failures are retried
// with exponential backoff inside the tick.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/HatiCode/steadystate/cmd/monitor/config"
	"github.com/HatiCode/steadystate/cmd/monitor/metrics"
	"github.com/HatiCode/steadystate/pkg/adapters"
	"github.com/HatiCode/steadystate/pkg/series"
	"github.com/HatiCode/steadystate/pkg/steadystate"
	"github.com/HatiCode/steadystate/pkg/storage"
)

// Monitor evaluates one target's metric for steady state.
type Monitor struct {
	target    config.TargetConfig
	adapter   adapters.Adapter
	evaluator *steadystate.Evaluator
	store     storage.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics

	retries    uint64
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// NewMonitor creates a Monitor. metrics may be nil.
func NewMonitor(
	target config.TargetConfig,
	adapter adapters.Adapter,
	store storage.Store,
	retries int,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if retries < 0 {
		retries = 0
	}

	mon := &Monitor{
		target:    target,
		adapter:   adapter,
		evaluator: steadystate.New(steadystate.WithThreshold(target.Threshold)),
		store:     store,
		logger:    logger.With("target", target.Name),
		metrics:   m,
		retries:   uint64(retries),
		now:       time.Now,
	}
	mon.newBackOff = mon.defaultBackOff
	return mon
}

func (m *Monitor) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = m.target.Interval / 2
	return b
}

// Run executes the loop until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("starting steady state loop",
		"interval", m.target.Interval,
		"window_size", m.target.WindowSize,
		"lookback", m.target.Lookback(),
		"threshold", m.target.Threshold,
	)

	ticker := time.NewTicker(m.target.Interval)
	defer ticker.Stop()

	if err := m.Tick(ctx); err != nil {
		m.logger.Error("initial tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("steady state loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick performs one collect → evaluate → store cycle.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()

	samples, collectDuration, err := m.collect(ctx)
	if err != nil {
		m.recordError("adapter", "collect_failed")
		return fmt.Errorf("collect: %w", err)
	}

	values := samples.Values()
	if n := m.target.LookbackRounds; len(values) > n {
		values = values[len(values)-n:]
	}

	evalStart := time.Now()
	res, evalErr := m.evaluator.Evaluate(values, m.target.WindowSize)
	if m.metrics != nil {
		m.metrics.RecordEvaluate(m.target.Name, time.Since(evalStart).Seconds())
	}

	report, err := storage.NewReport(m.target.Name, m.target.Metric, res, evalErr, m.now())
	if err != nil {
		m.recordError("evaluator", "invalid_input")
		return fmt.Errorf("evaluate: %w", err)
	}

	if report.Verdict == storage.VerdictInsufficientData {
		m.logger.Warn("insufficient data", "reason", report.Reason)
	} else {
		m.logger.Debug("values in window",
			"values", series.Format(report.Values),
			"first_round", report.FirstRound,
		)
	}

	if err := m.store.Put(ctx, report); err != nil {
		m.recordError("store", "put_failed")
		return fmt.Errorf("store: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordReport(report)
	}

	m.logger.Info("steady state tick complete",
		"verdict", report.Verdict,
		"failed_check", report.FailedCheck,
		"average", report.Average,
		"samples", len(values),
		"collect_ms", collectDuration.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// collect fetches the lookback history, retrying transient failures.
func (m *Monitor) collect(ctx context.Context) (adapters.Series, time.Duration, error) {
	start := time.Now()

	var samples adapters.Series
	attempt := 0
	op := func() error {
		attempt++
		s, err := m.adapter.Collect(ctx, m.target.Lookback())
		if err != nil {
			return err
		}
		samples = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if m.metrics != nil {
			m.metrics.RecordRetry(m.target.Name)
		}
		m.logger.Warn("collect failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordCollect(m.target.Name, m.adapter.Name(), duration.Seconds())
	}

	m.logger.Debug("collected samples",
		"adapter", m.adapter.Name(),
		"samples", len(samples),
		"attempts", attempt,
		"duration_ms", duration.Milliseconds(),
	)
	return samples, duration, nil
}

func (m *Monitor) recordError(component, reason string) {
	if m.metrics != nil {
		m.metrics.RecordError(m.target.Name, component, reason)
	}
}

// Target returns the monitored target's configuration.
func (m *Monitor) Target() config.TargetConfig {
	return m.target
}
