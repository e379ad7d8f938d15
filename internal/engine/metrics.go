package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records call outcomes. A nil *Metrics records nothing.
type Metrics struct {
	calls           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cleanupFailures *prometheus.CounterVec
}

// NewMetrics creates the bridge collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enginelink",
			Name:      "calls_total",
			Help:      "Remote function calls by function and outcome.",
		}, []string{"function", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enginelink",
			Name:      "call_duration_seconds",
			Help:      "Time spent holding the session for one remote call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"function"}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enginelink",
			Name:      "cleanup_failures_total",
			Help:      "Failures restoring session state after a call.",
		}, []string{"function", "stage"}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.cleanupFailures, err = register(reg, m.cleanupFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeCall(function string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrCleanup):
		outcome = "cleanup_error"
	default:
		outcome = "error"
	}
	m.calls.WithLabelValues(function, outcome).Inc()
	m.duration.WithLabelValues(function).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeCleanupFailure(function string, stage CleanupStage) {
	if m == nil {
		return
	}
	m.cleanupFailures.WithLabelValues(function, string(stage)).Inc()
}

// register reuses a collector already registered under the same
// descriptor, so several linked interfaces can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// CallsCollector exposes the call counter for inspection.
func (m *Metrics) CallsCollector() *prometheus.CounterVec { return m.calls }

// CleanupFailuresCollector exposes the cleanup failure counter.
func (m *Metrics) CleanupFailuresCollector() *prometheus.CounterVec { return m.cleanupFailures }
