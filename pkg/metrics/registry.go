package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pullsink"

// Registry holds the consumer's Prometheus metrics. It satisfies
// messagepipeline.Recorder, so it can be handed straight to the consumer and
// the pull service.
type Registry struct {
	registry *prometheus.Registry

	// Pull metrics
	pullTotal        *prometheus.CounterVec
	messagesReceived prometheus.Counter
	messagesSkipped  *prometheus.CounterVec
	batchSize        prometheus.Histogram
	batchWait        prometheus.Histogram

	// Ack metrics
	ackTotal      *prometheus.CounterVec
	messagesAcked prometheus.Counter

	// Cycle metrics
	cycleTotal        *prometheus.CounterVec
	messagesProcessed prometheus.Counter

	startTime prometheus.Gauge
}

// NewRegistry creates a registry whose metrics all carry the subscription as a constant label.
func NewRegistry(subscription string) *Registry {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"subscription": subscription}

	r := &Registry{
		registry: registry,

		pullTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "pull_total",
				Help:        "Total number of pull requests",
				ConstLabels: labels,
			},
			[]string{"status"}, // status: success, empty, error
		),

		messagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "messages_received_total",
				Help:        "Total number of envelopes received from pulls",
				ConstLabels: labels,
			},
		),

		messagesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "messages_skipped_total",
				Help:        "Envelopes left out of a decoded batch",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "batch_size",
				Help:        "Number of envelopes collected per batch",
				Buckets:     []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
				ConstLabels: labels,
			},
		),

		batchWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "batch_wait_seconds",
				Help:        "Time spent collecting a batch",
				Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
				ConstLabels: labels,
			},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "ack_total",
				Help:        "Total number of acknowledge requests",
				ConstLabels: labels,
			},
			[]string{"status"}, // status: success, error
		),

		messagesAcked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "messages_acked_total",
				Help:        "Total number of messages acknowledged",
				ConstLabels: labels,
			},
		),

		cycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "cycle_total",
				Help:        "Pull cycles by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),

		messagesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "messages_processed_total",
				Help:        "Messages handed successfully to the processor",
				ConstLabels: labels,
			},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "start_time_seconds",
				Help:      "Unix timestamp when the consumer started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.pullTotal,
		r.messagesReceived,
		r.messagesSkipped,
		r.batchSize,
		r.batchWait,
		r.ackTotal,
		r.messagesAcked,
		r.cycleTotal,
		r.messagesProcessed,
		r.startTime,
	)
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordPull records one pull request.
func (r *Registry) RecordPull(received int, err error) {
	s := status(err)
	if err == nil && received == 0 {
		s = "empty"
	}
	r.pullTotal.WithLabelValues(s).Inc()
	if received > 0 {
		r.messagesReceived.Add(float64(received))
	}
}

// RecordSkipped records an envelope that was not decoded.
func (r *Registry) RecordSkipped(reason string) {
	r.messagesSkipped.WithLabelValues(reason).Inc()
}

// RecordBatch records the size of a collected batch and how long it took.
func (r *Registry) RecordBatch(size int, wait time.Duration) {
	r.batchSize.Observe(float64(size))
	r.batchWait.Observe(wait.Seconds())
}

// RecordAck records one acknowledge request.
func (r *Registry) RecordAck(count int, err error) {
	r.ackTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		r.messagesAcked.Add(float64(count))
	}
}

// RecordCycle records the outcome of one pull cycle.
func (r *Registry) RecordCycle(outcome string, processed int) {
	r.cycleTotal.WithLabelValues(outcome).Inc()
	if processed > 0 {
		r.messagesProcessed.Add(float64(processed))
	}
}
