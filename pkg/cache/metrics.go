package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	sets    prometheus.Counter
	deletes prometheus.Counter
	size    prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *prometheus.Registry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skybridge",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: prometheus.Labels{"cache": prefix},
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skybridge",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: prometheus.Labels{"cache": prefix},
			Help:        "Total number of cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skybridge",
			Subsystem:   "cache",
			Name:        "sets_total",
			ConstLabels: prometheus.Labels{"cache": prefix},
			Help:        "Total number of cache set operations",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skybridge",
			Subsystem:   "cache",
			Name:        "deletes_total",
			ConstLabels: prometheus.Labels{"cache": prefix},
			Help:        "Total number of cache delete operations",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "skybridge",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"cache": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.deletes, m.size} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()    { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()   { m.misses.Inc() }
func (m *cacheMetrics) recordSet()    { m.sets.Inc() }
func (m *cacheMetrics) recordDelete() { m.deletes.Inc() }

func (m *cacheMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}
