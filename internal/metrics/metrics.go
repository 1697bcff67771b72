// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicedesk"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeUnsaved = "unsaved"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recording metrics
	RecordingsStarted prometheus.Counter
	Recordings        *prometheus.CounterVec
	RecordingBytes    prometheus.Histogram
	Uploads           *prometheus.CounterVec

	// Synthesis metrics
	Syntheses        *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram
	SynthesisActive  prometheus.Gauge

	// Store metrics
	StoreOps     *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec

	// LiveHandles is the number of unrevoked playback handles.
	LiveHandles prometheus.Gauge
}

// New creates all metrics and registers them with reg.
// A nil reg creates unregistered metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "Total number of capture sessions started",
		}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Total number of finalized capture sessions by outcome",
		}, []string{"outcome"}),
		RecordingBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_bytes",
			Help:      "Size of finalized recordings in bytes",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of uploaded files by outcome",
		}, []string{"outcome"}),

		Syntheses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Total number of speech synthesis requests by outcome",
		}, []string{"outcome"}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Latency of speech synthesis calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		SynthesisActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "syntheses_in_flight",
			Help:      "Number of synthesis requests currently in flight",
		}),

		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of object store operations",
		}, []string{"op", "store", "outcome"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of object store operations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),

		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_handles_live",
			Help:      "Number of playback handles currently resolvable",
		}),
	}
}

// Outcome returns OutcomeSuccess for a nil error, OutcomeError otherwise.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
