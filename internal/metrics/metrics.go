package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the coaching backend. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	analysesStarted   *prometheus.CounterVec
	analysesFailed    *prometheus.CounterVec
	chunksTranscribed prometheus.Counter
	fetchRetries      prometheus.Counter
	transcribeSeconds prometheus.Histogram
	activeStreams     prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podium_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podium_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		analysesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podium_analyses_started_total",
			Help: "Analysis streams opened, by kind",
		}, []string{"kind"}),
		analysesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podium_analyses_failed_total",
			Help: "Analysis streams that ended with an in-band error, by kind",
		}, []string{"kind"}),
		chunksTranscribed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podium_audio_chunks_transcribed_total",
			Help: "Audio chunks sent through speech-to-text",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podium_media_fetch_retries_total",
			Help: "Media fetch attempts that were retried after a failure",
		}),
		transcribeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podium_transcription_seconds",
			Help:    "Wall time of a full recording transcription",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podium_active_streams",
			Help: "Analysis streams currently open",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.analysesStarted,
		m.analysesFailed,
		m.chunksTranscribed,
		m.fetchRetries,
		m.transcribeSeconds,
		m.activeStreams,
	)
	return m
}

func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// StreamOpened records a new analysis stream of the given kind.
func (m *Metrics) StreamOpened(kind string) {
	if m == nil {
		return
	}
	m.analysesStarted.WithLabelValues(kind).Inc()
	m.activeStreams.Inc()
}

// StreamClosed records the end of an analysis stream.
func (m *Metrics) StreamClosed(kind string, failed bool) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	if failed {
		m.analysesFailed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncChunksTranscribed() {
	if m == nil {
		return
	}
	m.chunksTranscribed.Inc()
}

func (m *Metrics) IncFetchRetries() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) ObserveTranscription(seconds float64) {
	if m == nil {
		return
	}
	m.transcribeSeconds.Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
