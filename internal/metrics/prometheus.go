package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for processed requests
const (
	OutcomeSuccess      = "success"
	OutcomeBadMethod    = "method_not_allowed"
	OutcomeParseError   = "parse_error"
	OutcomeTooLarge     = "too_large"
	OutcomeMissingField = "missing_field"
	OutcomeFailed       = "failed"
)

// Metrics contains all Prometheus metrics for the lyrics service
type Metrics struct {
	// Request outcomes on /api/process
	ProcessRequests *prometheus.CounterVec

	// Uploaded audio
	UploadBytes prometheus.Histogram

	// Collaborator calls
	GeminiRequests *prometheus.CounterVec
	GeminiDuration *prometheus.HistogramVec
	LRCBytes       prometheus.Histogram
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProcessRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lrcgen_process_requests_total",
			Help: "Total number of /api/process requests by outcome",
		}, []string{"outcome"}),

		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lrcgen_upload_bytes",
			Help:    "Size of accepted audio uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB .. 8MB
		}),

		GeminiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lrcgen_gemini_requests_total",
			Help: "Total number of Gemini transcription calls by upload mode and result",
		}, []string{"mode", "result"}),
		GeminiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lrcgen_gemini_duration_seconds",
			Help:    "Time spent waiting on Gemini per transcription",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode"}),
		LRCBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lrcgen_lrc_bytes",
			Help:    "Size of returned LRC content in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),
	}
}

// RecordOutcome increments the request counter for one terminal state.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ProcessRequests.WithLabelValues(outcome).Inc()
}

// RecordGemini records a single collaborator call.
func (m *Metrics) RecordGemini(mode string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GeminiRequests.WithLabelValues(mode, result).Inc()
	m.GeminiDuration.WithLabelValues(mode).Observe(seconds)
}
