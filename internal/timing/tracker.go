// Package timing records how long each processing stage takes.
package timing

import (
	"sort"
	"sync"
	"time"
)

// Observer receives every completed measurement.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
}

// Tracker accumulates stage durations. It is safe for concurrent use.
type Tracker struct {
	timings  map[string][]time.Duration
	mu       sync.RWMutex
	observer Observer
}

// NewTracker returns an empty tracker. observer may be nil.
func NewTracker(observer Observer) *Tracker {
	return &Tracker{
		timings:  make(map[string][]time.Duration),
		observer: observer,
	}
}

// Start begins timing stage. Calling the returned function records the
// duration and returns it.
func (tt *Tracker) Start(stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		tt.Record(stage, d)
		return d
	}
}

// Record stores a measurement taken elsewhere.
func (tt *Tracker) Record(stage string, d time.Duration) {
	tt.mu.Lock()
	tt.timings[stage] = append(tt.timings[stage], d)
	tt.mu.Unlock()

	if tt.observer != nil {
		tt.observer.ObserveStage(stage, d)
	}
}

func (tt *Tracker) Timings(stage string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[stage]
	if timings == nil {
		return nil
	}
	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

func (tt *Tracker) Average(stage string) time.Duration {
	timings := tt.Timings(stage)
	if len(timings) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range timings {
		total += d
	}
	return total / time.Duration(len(timings))
}

// Summary returns the average duration of every stage, as strings suitable
// for a log line.
func (tt *Tracker) Summary() map[string]interface{} {
	tt.mu.RLock()
	stages := make([]string, 0, len(tt.timings))
	for stage := range tt.timings {
		stages = append(stages, stage)
	}
	tt.mu.RUnlock()
	sort.Strings(stages)

	out := make(map[string]interface{}, len(stages))
	for _, stage := range stages {
		out[stage] = tt.Average(stage).String()
	}
	return out
}
