package evaluation

import (
	"fmt"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
)

// Class indices used by the confusion matrix.
const (
	Dry = 0
	Wet = 1
)

// ConfusionMatrix counts pixels as [actual][predicted], dry before wet, so
// TN is [0][0], FP [0][1], FN [1][0] and TP [1][1].
type ConfusionMatrix [2][2]int64

func (m ConfusionMatrix) TN() int64 { return m[Dry][Dry] }
func (m ConfusionMatrix) FP() int64 { return m[Dry][Wet] }
func (m ConfusionMatrix) FN() int64 { return m[Wet][Dry] }
func (m ConfusionMatrix) TP() int64 { return m[Wet][Wet] }

// Total returns the number of classified pixels.
func (m ConfusionMatrix) Total() int64 {
	return m[0][0] + m[0][1] + m[1][0] + m[1][1]
}

// Result is the immutable outcome of one (prediction, reference, threshold) comparison.
type Result struct {
	Accuracy    float64         `json:"accuracy" yaml:"accuracy"`
	Precision   float64         `json:"precision" yaml:"precision"`
	Recall      float64         `json:"recall" yaml:"recall"`
	F1          float64         `json:"f1" yaml:"f1"`
	IoU         float64         `json:"iou" yaml:"iou"`
	Confusion   ConfusionMatrix `json:"confusion_matrix" yaml:"confusion_matrix"`
	ValidPixels int             `json:"valid_pixels" yaml:"valid_pixels"`
}

// Confusion counts binary predictions against binary references over the
// pixels where valid is true. pred and ref must hold 0 or 1 at those pixels.
func Confusion(pred, ref *raster.Surface, valid nodata.Mask) (ConfusionMatrix, error) {
	var m ConfusionMatrix
	if err := raster.SameGrid(pred, ref); err != nil {
		return m, err
	}
	if valid.Len() != pred.Len() {
		return m, fmt.Errorf("mask covers %d pixels, surfaces have %d: %w", valid.Len(), pred.Len(), raster.ErrShapeMismatch)
	}
	for i := 0; i < pred.Len(); i++ {
		if !valid.At(i) {
			continue
		}
		p, r := pred.AtIndex(i), ref.AtIndex(i)
		if (p != 0 && p != 1) || (r != 0 && r != 1) {
			return m, fmt.Errorf("pixel %d is not binary (pred %g, ref %g): %w", i, p, r, raster.ErrInvalidParameter)
		}
		m[int(r)][int(p)]++
	}
	return m, nil
}

// Metrics derives accuracy and macro-averaged precision, recall, F1 and IoU.
// Macro averaging runs over the classes present in either the reference or the
// prediction; within a present class a zero denominator contributes 0.
func Metrics(m ConfusionMatrix) Result {
	res := Result{Confusion: m, ValidPixels: int(m.Total())}
	total := m.Total()
	if total == 0 {
		return res
	}
	res.Accuracy = float64(m.TN()+m.TP()) / float64(total)

	var present int
	for c := 0; c < 2; c++ {
		other := 1 - c
		tp := m[c][c]
		fp := m[other][c]
		fn := m[c][other]
		if tp+fp+fn == 0 {
			continue
		}
		present++
		res.Precision += ratio(tp, tp+fp)
		res.Recall += ratio(tp, tp+fn)
		res.F1 += ratio(2*tp, 2*tp+fp+fn)
		res.IoU += ratio(tp, tp+fp+fn)
	}
	if present > 0 {
		res.Precision /= float64(present)
		res.Recall /= float64(present)
		res.F1 /= float64(present)
		res.IoU /= float64(present)
	}
	return res
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
