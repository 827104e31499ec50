package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkrylov/metapipe/internal/core/domain"
)

// PipelineMetrics tracks document throughput through the batch pipeline.
type PipelineMetrics struct {
	registry *prometheus.Registry

	documentsTotal    *prometheus.CounterVec
	documentDuration  *prometheus.HistogramVec
	documentsInFlight prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metapipe",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents finished by terminal status.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"status"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metapipe",
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "End-to-end per-document pipeline duration by terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"status"},
	)
	documentsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "metapipe",
			Subsystem: "pipeline",
			Name:      "documents_in_flight",
			Help:      "Documents currently inside the pipeline.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(documentsTotal, documentDuration, documentsInFlight)

	return &PipelineMetrics{
		registry:          registry,
		documentsTotal:    documentsTotal,
		documentDuration:  documentDuration,
		documentsInFlight: documentsInFlight,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartDocument() {
	m.documentsInFlight.Inc()
}

func (m *PipelineMetrics) FinishDocument(status domain.DocumentStatus, duration time.Duration) {
	m.documentsInFlight.Dec()
	m.documentsTotal.WithLabelValues(string(status)).Inc()
	m.documentDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}
