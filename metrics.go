package causez

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a Reporter.
type Metrics struct {
	QueueDepth prometheus.Gauge
	Submitted  prometheus.Counter
	Forwarded  prometheus.Counter
	Failed     prometheus.Counter
	Dropped    prometheus.Counter
	Retried    prometheus.Counter
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reporter_queue_depth",
				Help:      "Number of events waiting to be forwarded.",
			},
		),
		Submitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_events_submitted_total",
				Help:      "Total events accepted into the reporter queue.",
			},
		),
		Forwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_events_forwarded_total",
				Help:      "Total events handed to the transport successfully.",
			},
		),
		Failed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_events_failed_total",
				Help:      "Total events the transport failed to forward.",
			},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_events_dropped_total",
				Help:      "Total events dropped because the reporter was closed or the queue was full.",
			},
		),
		Retried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reporter_forward_retries_total",
				Help:      "Total forward attempts repeated after a transport error.",
			},
		),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueueDepth,
		m.Submitted,
		m.Forwarded,
		m.Failed,
		m.Dropped,
		m.Retried,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
