package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SynthesisRequests *prometheus.CounterVec
	SynthesisLatency  prometheus.Histogram
	QualityRetries    prometheus.Counter
	EngineErrors      *prometheus.CounterVec
	ActivePreviews    prometheus.Gauge
	AudioSeconds      prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SynthesisRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Completed synthesis requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "End-to-end synthesis latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		QualityRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_retries_total",
			Help:      "Bad-case retries issued by the quality loop.",
		}),
		EngineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Engine failures by engine and operation.",
		}, []string{"engine", "op"}),
		ActivePreviews: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_previews",
			Help:      "Voice previews awaiting commit or discard.",
		}),
		AudioSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio synthesized.",
		}),
	}
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
