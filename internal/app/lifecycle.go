package app

import (
	"context"
	"sync"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/shutdown"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/telemetry"
)

type Lifecycle struct {
	shutdown    *shutdown.Manager
	metrics     *telemetry.Metrics
	metricsPath string
	logger      logger.Logger
	once        sync.Once
	err         error
}

// NewLifecycle starts listening for termination signals.
func NewLifecycle(parent context.Context, log logger.Logger, metrics *telemetry.Metrics, metricsPath string) *Lifecycle {
	m := shutdown.NewManager(parent, log)
	m.Listen()
	return &Lifecycle{
		shutdown:    m,
		metrics:     metrics,
		metricsPath: metricsPath,
		logger:      log,
	}
}

func (l *Lifecycle) Context() context.Context {
	return l.shutdown.Context()
}

// Register adds a component stopped on shutdown, newest first.
func (l *Lifecycle) Register(c shutdown.Shutdownable) {
	l.shutdown.Register(c)
}

// Shutdown is idempotent; later calls return the first result.
func (l *Lifecycle) Shutdown() error {
	l.once.Do(func() {
		l.logger.Info("Lifecycle", "shutdown sequence initiated", nil)

		// Metrics first so the textfile reflects the finished run.
		if l.metrics != nil && l.metricsPath != "" {
			if err := l.metrics.WriteTextfile(l.metricsPath); err != nil {
				l.logger.Error("Lifecycle", err, map[string]interface{}{"path": l.metricsPath})
				l.err = err
			} else {
				l.logger.Debug("Lifecycle", "metrics textfile written", map[string]interface{}{"path": l.metricsPath})
			}
		}

		l.shutdown.Close()
		l.logger.Info("Lifecycle", "shutdown sequence completed", nil)
	})
	return l.err
}
