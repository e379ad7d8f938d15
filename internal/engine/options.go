package engine

import (
	"io/fs"
	"log/slog"

	"golang.org/x/time/rate"
)

// Option configures Link and Bind.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *Metrics
	limiter  *rate.Limiter
	tempDir  string
	location Location
}

// WithLogger sets the logger used for link and call events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRateLimit throttles calls made through the linked interface. Callers
// wait for a token before the session is locked.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		if limit <= 0 || burst <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithTempDir sets where scripts extracted from archives are written.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithDir sets the directory relative paths of a bound struct resolve
// against. It is ignored by Link when the declaration has a location.
func WithDir(dir string) Option {
	return func(o *options) { o.location.Dir = dir }
}

// WithFS sets the archive relative paths of a bound struct resolve against.
func WithFS(fsys fs.FS) Option {
	return func(o *options) { o.location.FS = fsys }
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
