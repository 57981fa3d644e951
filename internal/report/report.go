// Package report turns evaluation results into the document written at the
// end of a run.
package report

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/evaluation"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Document is the persisted outcome of a run.
type Document struct {
	RunID       string                 `json:"run_id" yaml:"run_id"`
	GeneratedAt time.Time              `json:"generated_at" yaml:"generated_at"`
	Results     evaluation.Report      `json:"results" yaml:"results"`
	Best        []BestThreshold        `json:"best_thresholds" yaml:"best_thresholds"`
	Means       []Mean                 `json:"means" yaml:"means"`
	Skipped     []evaluation.Skipped   `json:"skipped" yaml:"skipped"`
	Outputs     map[string]SceneOutput `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// SceneOutput lists the rasters written for a scene.
type SceneOutput struct {
	Probability string `json:"probability" yaml:"probability"`
	Mask        string `json:"mask" yaml:"mask"`
}

// BestThreshold is the threshold with the highest macro F1 for one scene and
// reference.
type BestThreshold struct {
	Scene     string  `json:"scene" yaml:"scene"`
	Reference string  `json:"reference" yaml:"reference"`
	Threshold string  `json:"threshold" yaml:"threshold"`
	F1        float64 `json:"f1" yaml:"f1"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
}

// Mean averages one (threshold, reference) cell across scenes.
type Mean struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Reference string  `json:"reference" yaml:"reference"`
	Scenes    int     `json:"scenes" yaml:"scenes"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	IoU       float64 `json:"iou" yaml:"iou"`
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// Build assembles a document, deriving the best-threshold and mean tables.
func Build(runID string, results evaluation.Report, skipped []evaluation.Skipped) Document {
	if results == nil {
		results = evaluation.Report{}
	}
	if skipped == nil {
		skipped = []evaluation.Skipped{}
	}
	return Document{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Best:        BestThresholds(results),
		Means:       Means(results),
		Skipped:     skipped,
	}
}

// BestThresholds picks, for every (scene, reference), the threshold with the
// highest F1. Ties go to the lower threshold.
func BestThresholds(r evaluation.Report) []BestThreshold {
	out := []BestThreshold{}
	for _, scene := range r.Scenes() {
		best := map[string]BestThreshold{}
		for _, key := range sortedThresholdKeys(r[scene]) {
			for ref, res := range r[scene][key] {
				cur, seen := best[ref]
				if !seen || res.F1 > cur.F1 {
					best[ref] = BestThreshold{Scene: scene, Reference: ref, Threshold: key, F1: res.F1, Accuracy: res.Accuracy}
				}
			}
		}
		for _, ref := range sortedKeys(best) {
			out = append(out, best[ref])
		}
	}
	return out
}

// Means averages every metric per (threshold, reference) across the scenes
// that produced a result for it.
func Means(r evaluation.Report) []Mean {
	type cell struct{ acc, prec, rec, f1, iou []float64 }
	cells := map[[2]string]*cell{}
	for _, byThr := range r {
		for key, byRef := range byThr {
			for ref, res := range byRef {
				k := [2]string{key, ref}
				c, ok := cells[k]
				if !ok {
					c = &cell{}
					cells[k] = c
				}
				c.acc = append(c.acc, res.Accuracy)
				c.prec = append(c.prec, res.Precision)
				c.rec = append(c.rec, res.Recall)
				c.f1 = append(c.f1, res.F1)
				c.iou = append(c.iou, res.IoU)
			}
		}
	}

	out := make([]Mean, 0, len(cells))
	for k, c := range cells {
		out = append(out, Mean{
			Threshold: k[0],
			Reference: k[1],
			Scenes:    len(c.f1),
			Accuracy:  stat.Mean(c.acc, nil),
			Precision: stat.Mean(c.prec, nil),
			Recall:    stat.Mean(c.rec, nil),
			F1:        stat.Mean(c.f1, nil),
			IoU:       stat.Mean(c.iou, nil),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Threshold != out[j].Threshold {
			return thresholdLess(out[i].Threshold, out[j].Threshold)
		}
		return out[i].Reference < out[j].Reference
	})
	return out
}

func sortedThresholdKeys(m map[string]map[string]evaluation.Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return thresholdLess(keys[i], keys[j]) })
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// thresholdLess orders "thr_<value>" keys numerically, falling back to text.
func thresholdLess(a, b string) bool {
	va, okA := thresholdValue(a)
	vb, okB := thresholdValue(b)
	if okA && okB && va != vb {
		return va < vb
	}
	return a < b
}

func thresholdValue(key string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimPrefix(key, "thr_"), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
