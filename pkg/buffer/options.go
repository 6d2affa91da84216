package buffer

import (
	"log/slog"

	"github.com/c360/daqstream/metric"
)

// Option configures sample buffer behavior using the functional options pattern.
type Option func(*bufferOptions)

// bufferOptions holds internal configuration for buffer instances.
// Stats are ALWAYS collected; metrics are optional.
type bufferOptions struct {
	// metricsReg is optional - if provided, buffer stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	logger *slog.Logger
}

// WithMetrics enables Prometheus export of buffer statistics.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *bufferOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithLogger sets the logger used for lifecycle events (initialise, reset).
func WithLogger(logger *slog.Logger) Option {
	return func(opts *bufferOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.logger == nil {
		opts.logger = slog.Default().With("component", "sample-buffer")
	}

	return opts
}
