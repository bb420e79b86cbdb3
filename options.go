package capbridge

import (
	"log/slog"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/metric"
	"github.com/reglet-dev/capbridge/native"
	"github.com/reglet-dev/capbridge/policy"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	loader     capability.Loader
	middleware []native.Middleware
	denials    policy.DenialHandler
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records bridge metrics. The caller registers them.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLoader replaces the wazero loader. The bridge does not close it.
func WithLoader(loader capability.Loader) Option {
	return func(o *options) {
		o.loader = loader
	}
}

// WithMiddleware wraps every native invocation.
func WithMiddleware(mws ...native.Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mws...)
	}
}

// WithDenialHandler receives admission denials. Defaults to logging them.
func WithDenialHandler(h policy.DenialHandler) Option {
	return func(o *options) {
		o.denials = h
	}
}
