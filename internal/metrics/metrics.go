// Package metrics provides Prometheus counters for the player core.
//
// Metrics are optional. Until InitRegistry is called every constructor
// returns a no-op implementation, so components can always record.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Collectors are created once per registry; constructors return the
	// shared instance on later calls.
	gateOnce     sync.Once
	gateInst     GateMetrics
	uploadOnce   sync.Once
	uploadInst   UploadMetrics
	playbackOnce sync.Once
	playbackInst PlaybackMetrics
)

// InitRegistry enables metrics. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// Handler returns the scrape handler, or nil when metrics are disabled.
func Handler() http.Handler {
	if !IsEnabled() {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// GateMetrics records storage gate decisions.
type GateMetrics interface {
	RecordAcquire(mode, result string)
}

// UploadMetrics records finished upload sessions.
type UploadMetrics interface {
	RecordUpload(result string, bytes int64)
}

// PlaybackMetrics records the outcome of each playback tick.
type PlaybackMetrics interface {
	RecordTick(outcome string)
}

type noop struct{}

func (noop) RecordAcquire(string, string) {}
func (noop) RecordUpload(string, int64)   {}
func (noop) RecordTick(string)            {}

func NewNoopGateMetrics() GateMetrics         { return noop{} }
func NewNoopUploadMetrics() UploadMetrics     { return noop{} }
func NewNoopPlaybackMetrics() PlaybackMetrics { return noop{} }

type gateMetrics struct {
	acquires *prometheus.CounterVec
}

func (m *gateMetrics) RecordAcquire(mode, result string) {
	m.acquires.WithLabelValues(mode, result).Inc()
}

// NewGateMetrics returns Prometheus-backed gate metrics.
func NewGateMetrics() GateMetrics {
	if !IsEnabled() {
		return NewNoopGateMetrics()
	}
	gateOnce.Do(func() {
		gateInst = &gateMetrics{
			acquires: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "retroducer_gate_acquire_total",
				Help: "Storage gate acquisitions by mode and result",
			}, []string{"mode", "result"}),
		}
	})
	return gateInst
}

type uploadMetrics struct {
	sessions *prometheus.CounterVec
	bytes    prometheus.Counter
}

func (m *uploadMetrics) RecordUpload(result string, bytes int64) {
	m.sessions.WithLabelValues(result).Inc()
	m.bytes.Add(float64(bytes))
}

// NewUploadMetrics returns Prometheus-backed upload metrics.
func NewUploadMetrics() UploadMetrics {
	if !IsEnabled() {
		return NewNoopUploadMetrics()
	}
	uploadOnce.Do(func() {
		uploadInst = &uploadMetrics{
			sessions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "retroducer_uploads_total",
				Help: "Upload sessions by terminal state",
			}, []string{"result"}),
			bytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "retroducer_upload_bytes_total",
				Help: "Bytes written to storage by upload sessions",
			}),
		}
	})
	return uploadInst
}

type playbackMetrics struct {
	ticks *prometheus.CounterVec
}

func (m *playbackMetrics) RecordTick(outcome string) {
	m.ticks.WithLabelValues(outcome).Inc()
}

// NewPlaybackMetrics returns Prometheus-backed playback metrics.
func NewPlaybackMetrics() PlaybackMetrics {
	if !IsEnabled() {
		return NewNoopPlaybackMetrics()
	}
	playbackOnce.Do(func() {
		playbackInst = &playbackMetrics{
			ticks: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "retroducer_playback_ticks_total",
				Help: "Playback ticks by outcome",
			}, []string{"outcome"}),
		}
	})
	return playbackInst
}
