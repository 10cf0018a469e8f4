// Package metrics exposes Prometheus collectors for loading, recovery and startup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "recovery_retries_total",
			Help:      "Retry attempts issued by the recovery policy",
		},
		[]string{"category"},
	)

	fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "recovery_fallbacks_total",
			Help:      "Fallbacks run after a retry budget was exhausted",
		},
		[]string{"category", "ok"},
	)

	recovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "recovery_recovered_total",
			Help:      "Failures recovered by a retry or a network replay",
		},
		[]string{"category"},
	)

	loads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "source_loads_total",
			Help:      "Source acquisitions by backend and result",
		},
		[]string{"backend", "result"},
	)

	dedup = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "source_load_dedup_total",
			Help:      "Load requests that shared an in-flight acquisition",
		},
	)

	evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ambi",
			Name:      "source_evictions_total",
			Help:      "Loaded sources released to stay under max_loaded",
		},
	)

	playing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ambi",
			Name:      "sources_playing",
			Help:      "Sources currently playing",
		},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ambi",
			Name:      "startup_phase_duration_seconds",
			Help:      "Wall time per startup phase",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"phase", "status"},
	)

	segmentBitrate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ambi",
			Name:      "segment_variant_bandwidth_bits",
			Help:      "Bandwidth of the variant currently selected per segmented stream",
		},
		[]string{"source"},
	)
)

func RecordRetry(category string) { retries.WithLabelValues(category).Inc() }

func RecordRecovered(category string) { recovered.WithLabelValues(category).Inc() }

func RecordFallback(category string, ok bool) {
	fallbacks.WithLabelValues(category, boolLabel(ok)).Inc()
}

// RecordLoad counts one acquisition attempt outcome ("ok", "error", "timeout").
func RecordLoad(backend, result string) { loads.WithLabelValues(backend, result).Inc() }

func RecordDedup() { dedup.Inc() }

func RecordEviction() { evictions.Inc() }

func SetPlaying(n int) { playing.Set(float64(n)) }

func ObservePhase(phase, status string, d time.Duration) {
	phaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

func SetVariantBandwidth(source string, bps int) {
	segmentBitrate.WithLabelValues(source).Set(float64(bps))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
