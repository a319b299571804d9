package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsInvalid   *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	jobsCreated     prometheus.Counter
	assetsRelayed   prometheus.Counter
}

// NewMetrics creates and registers the bridge metrics.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "events_received_total",
			Help:      "Total number of events received per channel",
		}, []string{"channel"}),
		eventsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "events_invalid_total",
			Help:      "Total number of events dropped at the decode boundary",
		}, []string{"channel"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "handler_failures_total",
			Help:      "Total number of handler errors by channel and error class",
		}, []string{"channel", "class"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "dead_lettered_total",
			Help:      "Total number of events republished to the dead-letter subject",
		}, []string{"channel"}),
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "jobs_created_total",
			Help:      "Total number of processing jobs created on the engine",
		}),
		assetsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "bridge",
			Name:      "assets_relayed_total",
			Help:      "Total number of assets forwarded to the engine",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.eventsReceived, m.eventsInvalid, m.handlerFailures,
		m.deadLettered, m.jobsCreated, m.assetsRelayed,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordReceived(channel string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordInvalid(channel string) {
	if m == nil {
		return
	}
	m.eventsInvalid.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordHandlerFailure(channel, class string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(channel, class).Inc()
}

func (m *Metrics) recordDeadLettered(channel string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordJobCreated() {
	if m == nil {
		return
	}
	m.jobsCreated.Inc()
}

func (m *Metrics) recordAssetRelayed() {
	if m == nil {
		return
	}
	m.assetsRelayed.Inc()
}
