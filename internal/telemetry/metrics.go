// Package telemetry collects batch metrics in a private Prometheus registry
// and writes them in the node-exporter textfile format at the end of a run.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector of a run.
type Metrics struct {
	registry *prometheus.Registry

	// ScenesTotal counts finished scenes.
	// Labels: status (ok|skipped)
	ScenesTotal *prometheus.CounterVec

	// EntriesTotal counts evaluation entries.
	// Labels: status (evaluated|skipped)
	EntriesTotal *prometheus.CounterVec

	// StageDuration measures processing stages in seconds.
	// Labels: stage
	StageDuration *prometheus.HistogramVec

	// PixelsProcessed counts pixels swept by the thresholder.
	PixelsProcessed prometheus.Counter

	// LastRun is the unix time the last run finished.
	LastRun prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ScenesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waterfuse_scenes_total",
				Help: "Scenes processed by outcome",
			},
			[]string{"status"},
		),
		EntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waterfuse_evaluation_entries_total",
				Help: "Evaluation entries by outcome",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "waterfuse_stage_duration_seconds",
				Help:    "Duration of processing stages in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		PixelsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "waterfuse_pixels_processed_total",
			Help: "Pixels swept by the Monte Carlo thresholder",
		}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "waterfuse_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// ObserveStage feeds the stage histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile stamps LastRun and writes every metric to path.
func (m *Metrics) WriteTextfile(path string) error {
	m.LastRun.SetToCurrentTime()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
