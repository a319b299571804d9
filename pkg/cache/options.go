package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; Prometheus export is opt-in.
type cacheOptions[V any] struct {
	metricsReg    *prometheus.Registry
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, the option is ignored.
func WithMetrics[V any](registry *prometheus.Registry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
