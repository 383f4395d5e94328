package main

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/steadystate/cmd/monitor/config"
	"github.com/HatiCode/steadystate/cmd/monitor/metrics"
	"github.com/HatiCode/steadystate/pkg/adapters"
	"github.com/HatiCode/steadystate/pkg/logger"
	"github.com/HatiCode/steadystate/pkg/storage"
)

// fakeAdapter returns errs in order, then values.
type fakeAdapter struct {
	mu       sync.Mutex
	values   []float64
	errs     []error
	calls    int
	lookback time.Duration
}

func (f *fakeAdapter) Collect(ctx context.Context, lookback time.Duration) (adapters.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lookback = lookback
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	out := make(adapters.Series, len(f.values))
	for i, v := range f.values {
		out[i] = adapters.Sample{Value: v}
	}
	return out, nil
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testTarget() config.TargetConfig {
	return config.TargetConfig{
		Name:           "fio",
		Metric:         "write_iops",
		Adapter:        "fake",
		WindowSize:     5,
		Step:           time.Minute,
		LookbackRounds: 5,
		Interval:       time.Minute,
		Threshold:      0.1,
	}
}

func newTestMonitor(t *testing.T, adapter adapters.Adapter, retries int) (*Monitor, *storage.MemoryStore, *metrics.Metrics) {
	t.Helper()
	store := storage.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	mon := NewMonitor(testTarget(), adapter, store, retries, logger.Discard(), m)
	mon.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	mon.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return mon, store, m
}

func TestNewMonitor_Defaults(t *testing.T) {
	mon := NewMonitor(testTarget(), &fakeAdapter{}, storage.NewMemoryStore(), -3, nil, nil)
	if mon.retries != 0 {
		t.Errorf("retries = %d, want 0", mon.retries)
	}
	if mon.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if got := mon.evaluator.Threshold(); got != 0.1 {
		t.Errorf("threshold = %v, want 0.1", got)
	}
	if mon.Target().Name != "fio" {
		t.Errorf("Target().Name = %q", mon.Target().Name)
	}
}

func TestTick_StoresSteadyReport(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{100, 101, 99, 100, 100}}
	mon, store, m := newTestMonitor(t, adapter, 0)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	report, ok, err := store.GetLatest(context.Background(), "fio")
	if err != nil || !ok {
		t.Fatalf("GetLatest() = %v, %v", ok, err)
	}
	if report.Verdict != storage.VerdictSteady || !report.Steady {
		t.Errorf("verdict = %q, steady = %v", report.Verdict, report.Steady)
	}
	if report.Metric != "write_iops" {
		t.Errorf("metric = %q", report.Metric)
	}
	if report.Average != 100 {
		t.Errorf("average = %v, want 100", report.Average)
	}
	if math.Abs(report.Slope-(-0.1)) > 1e-9 {
		t.Errorf("slope = %v, want -0.1", report.Slope)
	}
	if !report.GeneratedAt.Equal(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("generated at = %v", report.GeneratedAt)
	}
	if adapter.lookback != 5*time.Minute {
		t.Errorf("lookback = %v, want 5m", adapter.lookback)
	}

	if got := testutil.ToFloat64(m.Steady.WithLabelValues("fio")); got != 1 {
		t.Errorf("steady gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("fio", storage.VerdictSteady)); got != 1 {
		t.Errorf("evaluations = %v, want 1", got)
	}
}

func TestTick_TrimsToLookback(t *testing.T) {
	// The warm-up rounds fall outside the five-round lookback.
	adapter := &fakeAdapter{values: []float64{500, 500, 500, 100, 101, 99, 100, 100}}
	mon, store, _ := newTestMonitor(t, adapter, 0)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	report, _, _ := store.GetLatest(context.Background(), "fio")
	if report.Verdict != storage.VerdictSteady {
		t.Errorf("verdict = %q, want steady", report.Verdict)
	}
	if report.FirstRound != 1 {
		t.Errorf("first round = %d, want 1", report.FirstRound)
	}
	want := []float64{100, 101, 99, 100, 100}
	if len(report.Values) != len(want) {
		t.Fatalf("values = %v, want %v", report.Values, want)
	}
	for i := range want {
		if report.Values[i] != want[i] {
			t.Fatalf("values = %v, want %v", report.Values, want)
		}
	}
}

func TestTick_RangeFailure(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{100, 100, 100, 100, 130}}
	mon, store, _ := newTestMonitor(t, adapter, 0)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	report, _, _ := store.GetLatest(context.Background(), "fio")
	if report.Verdict != storage.VerdictNotSteady {
		t.Errorf("verdict = %q, want not_steady", report.Verdict)
	}
	if report.FailedCheck != "range" {
		t.Errorf("failed check = %q, want range", report.FailedCheck)
	}
}

func TestTick_InsufficientData(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{1, 2, 3}}
	mon, store, m := newTestMonitor(t, adapter, 0)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	report, ok, _ := store.GetLatest(context.Background(), "fio")
	if !ok {
		t.Fatal("expected a stored report")
	}
	if report.Verdict != storage.VerdictInsufficientData {
		t.Errorf("verdict = %q, want insufficient_data", report.Verdict)
	}
	if report.Reason != "not enough input values (< 5): [1, 2, 3]" {
		t.Errorf("reason = %q", report.Reason)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("fio", storage.VerdictInsufficientData)); got != 1 {
		t.Errorf("evaluations = %v, want 1", got)
	}
}

func TestTick_NonFiniteSample(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{100, 100, math.NaN(), 100, 100}}
	mon, store, m := newTestMonitor(t, adapter, 0)

	if err := mon.Tick(context.Background()); err == nil {
		t.Fatal("expected error for NaN sample")
	}
	if store.Len() != 0 {
		t.Errorf("store should be empty, has %d targets", store.Len())
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("fio", "evaluator", "invalid_input")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestTick_RetriesTransientFailure(t *testing.T) {
	adapter := &fakeAdapter{
		values: []float64{100, 101, 99, 100, 100},
		errs:   []error{errors.New("connection reset")},
	}
	mon, store, m := newTestMonitor(t, adapter, 3)

	if err := mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if adapter.Calls() != 2 {
		t.Errorf("calls = %d, want 2", adapter.Calls())
	}
	if got := testutil.ToFloat64(m.CollectRetries.WithLabelValues("fio")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if _, ok, _ := store.GetLatest(context.Background(), "fio"); !ok {
		t.Error("expected a stored report after retry")
	}
}

func TestTick_CollectFailsAfterRetries(t *testing.T) {
	boom := errors.New("prometheus unavailable")
	adapter := &fakeAdapter{errs: []error{boom, boom, boom, boom}}
	mon, store, m := newTestMonitor(t, adapter, 2)

	err := mon.Tick(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Tick() error = %v, want %v", err, boom)
	}
	if adapter.Calls() != 3 {
		t.Errorf("calls = %d, want 3", adapter.Calls())
	}
	if store.Len() != 0 {
		t.Errorf("store should be empty, has %d targets", store.Len())
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("fio", "adapter", "collect_failed")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

type failingPutStore struct{ storage.Store }

func (failingPutStore) Put(context.Context, storage.Report) error {
	return errors.New("disk full")
}

func TestTick_StoreFailure(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{100, 101, 99, 100, 100}}
	m := metrics.New(prometheus.NewRegistry())
	mon := NewMonitor(testTarget(), adapter, failingPutStore{}, 0, logger.Discard(), m)

	if err := mon.Tick(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("fio", "store", "put_failed")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	adapter := &fakeAdapter{values: []float64{100, 101, 99, 100, 100}}
	mon, store, _ := newTestMonitor(t, adapter, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() == 0 {
		t.Fatal("initial tick did not store a report")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
