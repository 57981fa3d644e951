package evaluation

import (
	"fmt"
	"sort"
	"sync"
)

// Report is keyed scene -> threshold key -> reference name.
type Report map[string]map[string]map[string]Result

// Skipped records an entry excluded from the report and why. Threshold is empty
// when the whole scene was skipped, Reference when every reference was.
type Skipped struct {
	Scene     string `json:"scene" yaml:"scene"`
	Threshold string `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
	Reason    string `json:"reason" yaml:"reason"`
	Err       error  `json:"-" yaml:"-"`
}

// Scenes returns the scene identifiers in sorted order.
func (r Report) Scenes() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup fetches one entry.
func (r Report) Lookup(scene, thresholdKey, reference string) (Result, bool) {
	res, ok := r[scene][thresholdKey][reference]
	return res, ok
}

// Len counts entries across all scenes.
func (r Report) Len() int {
	n := 0
	for _, byThr := range r {
		for _, byRef := range byThr {
			n += len(byRef)
		}
	}
	return n
}

// ReportBuilder assembles a Report from concurrent writers. Each
// (scene, threshold, reference) key may be written once.
type ReportBuilder struct {
	mu      sync.Mutex
	report  Report
	skipped []Skipped
}

func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{report: make(Report)}
}

// Add stores a result. Writing the same key twice is an error.
func (b *ReportBuilder) Add(scene, thresholdKey, reference string, res Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	byThr, ok := b.report[scene]
	if !ok {
		byThr = make(map[string]map[string]Result)
		b.report[scene] = byThr
	}
	byRef, ok := byThr[thresholdKey]
	if !ok {
		byRef = make(map[string]Result)
		byThr[thresholdKey] = byRef
	}
	if _, dup := byRef[reference]; dup {
		return fmt.Errorf("result for %s/%s/%s already recorded", scene, thresholdKey, reference)
	}
	byRef[reference] = res
	return nil
}

// Skip records an excluded entry.
func (b *ReportBuilder) Skip(s Skipped) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.Reason == "" && s.Err != nil {
		s.Reason = s.Err.Error()
	}
	b.skipped = append(b.skipped, s)
}

// Build hands the report and skip list to the caller. The builder must not be
// used afterwards.
func (b *ReportBuilder) Build() (Report, []Skipped) {
	b.mu.Lock()
	defer b.mu.Unlock()

	skipped := make([]Skipped, len(b.skipped))
	copy(skipped, b.skipped)
	sort.SliceStable(skipped, func(i, j int) bool {
		if skipped[i].Scene != skipped[j].Scene {
			return skipped[i].Scene < skipped[j].Scene
		}
		if skipped[i].Threshold != skipped[j].Threshold {
			return skipped[i].Threshold < skipped[j].Threshold
		}
		return skipped[i].Reference < skipped[j].Reference
	})
	report := b.report
	b.report = nil
	return report, skipped
}
