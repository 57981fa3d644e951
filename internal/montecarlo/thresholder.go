// Package montecarlo turns a continuous spectral index into a per-pixel
// water occurrence probability by sweeping a band of decision thresholds.
//
// The sweep is systematic, not stochastic: for a fixed index value the
// probability is the fraction of thresholds it meets or exceeds, i.e. the
// empirical CDF of the threshold distribution. Identical inputs always give
// identical outputs.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/threshold"
)

const component = "MonteCarlo"

// Config holds the sweep parameters.
type Config struct {
	Min     float64
	Max     float64
	Samples int
	// Workers bounds the goroutines used for one surface. Zero means runtime.NumCPU().
	Workers int
}

// DefaultConfig mirrors the reference workflow: 1000 thresholds over [0.2, 0.4].
func DefaultConfig() Config {
	return Config{Min: 0.2, Max: 0.4, Samples: 1000}
}

// Thresholder converts index surfaces into probability surfaces.
type Thresholder struct {
	thresholds threshold.Set
	workers    int
	logger     logger.Logger
}

// New validates cfg and precomputes the threshold set.
func New(cfg Config, log logger.Logger) (*Thresholder, error) {
	set, err := threshold.Linspace(cfg.Min, cfg.Max, cfg.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to build threshold sweep: %w", err)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("worker count %d is negative: %w", cfg.Workers, raster.ErrInvalidParameter)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Thresholder{thresholds: set, workers: workers, logger: log}, nil
}

// Thresholds returns the sweep used by this thresholder.
func (t *Thresholder) Thresholds() threshold.Set {
	return t.thresholds
}

// ProbabilitySurface evaluates index >= th for every threshold and returns the
// exceedance frequency per pixel, clamped to [0, 1]. Invalid (NaN) index
// pixels stay NaN. The index surface is not modified.
func (t *Thresholder) ProbabilitySurface(ctx context.Context, index *raster.Surface) (*raster.Surface, error) {
	if index == nil {
		return nil, fmt.Errorf("index surface is nil: %w", raster.ErrMissingInput)
	}
	start := time.Now()

	values := index.Values()
	counts := make([]uint32, len(values))
	thresholds := t.thresholds.Values()

	// Workers own disjoint pixel blocks; within a block the outer loop runs
	// over thresholds.
	workers := t.workers
	if workers > len(values) {
		workers = len(values)
	}
	block := (len(values) + workers - 1) / workers

	var wg sync.WaitGroup
	for lo := 0; lo < len(values); lo += block {
		hi := lo + block
		if hi > len(values) {
			hi = len(values)
		}
		wg.Add(1)
		go func(px []float64, cnt []uint32) {
			defer wg.Done()
			for _, th := range thresholds {
				if ctx.Err() != nil {
					return
				}
				for i, v := range px {
					if v >= th {
						cnt[i]++
					}
				}
			}
		}(values[lo:hi], counts[lo:hi])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("threshold sweep interrupted: %w", err)
	}

	n := float64(len(thresholds))
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = clamp01(float64(counts[i]) / n)
	}

	t.logger.Debug(component, "threshold sweep complete", map[string]interface{}{
		"pixels":     len(values),
		"thresholds": len(thresholds),
		"min":        t.thresholds.Min(),
		"max":        t.thresholds.Max(),
		"workers":    workers,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	return raster.Wrap(index.Grid(), out)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
