package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/simengine"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := engine.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	s := simengine.New("/home")
	s.RegisterDemo()
	decl := engine.Declare("Stats").
		Func("Mean", engine.FunctionInfo{Name: "mean", Nargout: 1}, engine.TypeOf[float64](), engine.TypeOf[[]float64]())
	p, err := engine.Link(decl, s, engine.WithMetrics(m), engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}

	if _, err := p.Invoke(ctx, "Mean", []float64{1}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := p.Invoke(ctx, "Mean", []float64{}); err == nil {
		t.Fatal("expected failure for empty input")
	}
	s.Fail(simengine.OpEval, "clear", errors.New("locked"))
	if _, err := p.Invoke(ctx, "Mean", []float64{2}); !errors.Is(err, engine.ErrCleanup) {
		t.Fatalf("expected cleanup error, got %v", err)
	}

	calls := m.CallsCollector()
	for outcome, want := range map[string]float64{"ok": 1, "error": 1, "cleanup_error": 1} {
		if got := testutil.ToFloat64(calls.WithLabelValues("mean", outcome)); got != want {
			t.Fatalf("calls{outcome=%s} = %v, want %v", outcome, got, want)
		}
	}
	if got := testutil.ToFloat64(m.CleanupFailuresCollector().WithLabelValues("mean", string(engine.StageClear))); got != 1 {
		t.Fatalf("cleanup failures = %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(reg, "enginelink_call_duration_seconds")
	if err != nil || n != 1 {
		t.Fatalf("expected one duration series, got %d, %v", n, err)
	}
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := engine.NewMetrics(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := engine.NewMetrics(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.CallsCollector().WithLabelValues("f", "ok").Inc()
	if got := testutil.ToFloat64(b.CallsCollector().WithLabelValues("f", "ok")); got != 1 {
		t.Fatalf("collectors not shared: %v", got)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	s := simengine.New("/home")
	s.RegisterDemo()
	decl := engine.Declare("Stats").
		Func("Sum", engine.FunctionInfo{Name: "sum", Nargout: 1}, engine.TypeOf[float64](), engine.TypeOf[[]float64]())
	p, err := engine.Link(decl, s, engine.WithRateLimit(rate.Every(time.Hour), 1), engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := p.Invoke(context.Background(), "Sum", []float64{1}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Invoke(ctx, "Sum", []float64{1}); err == nil {
		t.Fatal("expected the second call to be throttled")
	}
}
