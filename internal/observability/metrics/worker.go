package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventsInFlight  prometheus.Gauge
	deliveryLatency *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "audit_events_total",
			Help:      "Total audit events handled by result (recorded, duplicate, invalid, failed).",
		},
		[]string{"service", "result"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "audit_event_duration_seconds",
			Help:      "Audit event write duration in seconds by result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "audit_events_in_flight",
			Help:      "Number of audit events being written.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	deliveryLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "worker",
			Name:      "audit_delivery_lag_seconds",
			Help:      "Delay between answer emission and audit write start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventsInFlight, deliveryLatency)

	return &WorkerMetrics{
		registry:        registry,
		eventsTotal:     eventsTotal,
		eventDuration:   eventDuration,
		eventsInFlight:  eventsInFlight,
		deliveryLatency: deliveryLatency,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent() {
	m.eventsInFlight.Dec()
}

// RecordObserver returns a hook for the audit recorder.
func (m *WorkerMetrics) RecordObserver(service string) func(result string, elapsed time.Duration) {
	return func(result string, elapsed time.Duration) {
		m.eventsTotal.WithLabelValues(service, result).Inc()
		m.eventDuration.WithLabelValues(service, result).Observe(elapsed.Seconds())
	}
}

func (m *WorkerMetrics) ObserveDeliveryLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.deliveryLatency.WithLabelValues(service).Observe(lag.Seconds())
}
