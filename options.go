package latticeflow

import (
	"runtime"
	"time"
)

// poolConfig holds resolved Pool construction options.
type poolConfig struct {
	parallelism               int
	logger                    Logger
	tracer                    Tracer
	metrics                   *metricsSet
	clock                     func() time.Time
	unhandledExceptionHandler func(c any, err error)
	resolvePassTimeout        time.Duration
}

// PoolOption configures a Pool at construction time.
type PoolOption interface {
	applyPool(*poolConfig)
}

type poolOptionFunc func(*poolConfig)

func (f poolOptionFunc) applyPool(c *poolConfig) { f(c) }

// WithParallelism bounds the number of callback/init bodies that may run
// concurrently. Defaults to runtime.GOMAXPROCS(0).
func WithParallelism(n int) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		if n > 0 {
			c.parallelism = n
		}
	})
}

// WithLogger installs a structured logger. Defaults to a no-op logger; see
// NewStdLogger and NewLogifaceLogger.
func WithLogger(l Logger) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithTracer installs an OpenTelemetry-backed tracer for init and resolve
// spans. Defaults to a no-op tracer.
func WithTracer(t Tracer) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		if t != nil {
			c.tracer = t
		}
	})
}

// WithMetrics installs a Prometheus metrics sink. Defaults to disabled.
func WithMetrics(reg PrometheusRegisterer) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		c.metrics = newMetricsSet(reg)
	})
}

// WithResolvePassTimeout bounds how long a single cycle/fallback resolution
// pass (resolve.go) may run before it is treated as failed. The deadline is
// checked between components; a Key.Resolve/Fallback call that never
// returns is not interrupted. Defaults to 15 minutes.
func WithResolvePassTimeout(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		if d > 0 {
			c.resolvePassTimeout = d
		}
	})
}

// WithUnhandledExceptionHandler installs a handler invoked whenever a
// callback or init function panics or returns an error that cannot be
// attributed back to any caller. c is the *Cell[V] that was running; it is
// typed any here only so the handler can be configured without
// parameterizing PoolOption over V.
func WithUnhandledExceptionHandler(fn func(c any, err error)) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		c.unhandledExceptionHandler = fn
	})
}

// WithClock overrides the pool's time source, used for log entry
// timestamps. Resolve pass timeouts run on the real clock via
// context.WithTimeout and are not affected.
func WithClock(now func() time.Time) PoolOption {
	return poolOptionFunc(func(c *poolConfig) {
		if now != nil {
			c.clock = now
		}
	})
}

func resolvePoolOptions(opts []PoolOption) *poolConfig {
	cfg := &poolConfig{
		parallelism:        runtime.GOMAXPROCS(0),
		logger:             noopLogger{},
		tracer:             noopTracer{},
		clock:              time.Now,
		resolvePassTimeout: 15 * time.Minute,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyPool(cfg)
	}
	return cfg
}
