// Package metrics exposes Prometheus metrics for recording, calibration and
// transcription.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dictation"

// Metrics holds all collectors on a private registry.
// It implements capture.Observer, calibrate.Observer and transcribe.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Recording metrics
	BlocksProcessed prometheus.Counter
	InputLevel      prometheus.Gauge
	DroppedStatus   prometheus.Counter
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Calibration metrics
	Calibrations *prometheus.CounterVec

	// Transcription metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionFailures *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec
}

// New creates and registers all metrics together with the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Total number of audio blocks processed by recording sessions",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_level_rms",
			Help:      "RMS level of the most recent audio block (0 to 1)",
		}),
		DroppedStatus: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_dropped_total",
			Help:      "Total number of status events discarded because the consumer fell behind",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished recording sessions by stop reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Recorded audio per session in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		Calibrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Total number of calibrations by outcome",
		}, []string{"outcome"}),

		TranscriptionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "Total number of transcription calls by backend",
		}, []string{"backend"}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Total number of failed transcription calls by backend",
		}, []string{"backend"}),
		TranscriptionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Time spent in transcription calls",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"backend"}),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BlockProcessed records one processed block and its level.
func (m *Metrics) BlockProcessed(level float64) {
	m.BlocksProcessed.Inc()
	m.InputLevel.Set(level)
}

// StatusDropped records discarded status events.
func (m *Metrics) StatusDropped(n int) {
	m.DroppedStatus.Add(float64(n))
}

// SessionStopped records a finished recording session.
func (m *Metrics) SessionStopped(reason string, elapsed time.Duration) {
	m.Sessions.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
	m.InputLevel.Set(0)
}

// CalibrationFinished records a calibration outcome.
func (m *Metrics) CalibrationFinished(outcome string) {
	m.Calibrations.WithLabelValues(outcome).Inc()
}

// TranscriptionFinished records a transcription call.
func (m *Metrics) TranscriptionFinished(backend string, elapsed time.Duration, err error) {
	m.TranscriptionRequests.WithLabelValues(backend).Inc()
	m.TranscriptionDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if err != nil {
		m.TranscriptionFailures.WithLabelValues(backend).Inc()
	}
}
