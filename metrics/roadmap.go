package metrics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-detloss/images"
)

// ErrMaskSize is returned when two road maps have different dimensions.
var ErrMaskSize = errors.New("road map dimensions differ")

// RoadMapThreatScore is the IoU of two binary grids:
//
//	(A.B) / (sum(A) + sum(B) - A.B)
//
// Two empty masks score 0.
//
// Arguments:
//   - a: The first mask.
//   - b: The second mask, with the same dimensions.
//
// Returns:
//   - float64: The threat score in [0, 1].
//   - error: ErrMaskSize if the masks differ in size.
func RoadMapThreatScore(a, b *images.Mask) (float64, error) {
	if !a.SameSize(b) {
		return 0, errors.Wrapf(ErrMaskSize, "%dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}

	var tp, sumA, sumB int
	for i := range a.Data {
		av := a.Data[i] != 0
		bv := b.Data[i] != 0
		if av {
			sumA++
		}
		if bv {
			sumB++
		}
		if av && bv {
			tp++
		}
	}

	den := sumA + sumB - tp
	if den == 0 {
		return 0, nil
	}
	return float64(tp) / float64(den), nil
}

// RoadMapThreatScoreResized resamples pred to the dimensions of gt before scoring.
func RoadMapThreatScoreResized(pred, gt *images.Mask) (float64, error) {
	resized, err := images.ResizeMask(pred, gt.Width, gt.Height)
	if err != nil {
		return 0, errors.Wrap(err, "failed to resize road map")
	}
	return RoadMapThreatScore(resized, gt)
}

// RoadMapSequence scores paired frames and averages them with equal weight.
//
// Arguments:
//   - pred: Predicted masks.
//   - gt: Ground-truth masks, paired with pred by index.
//   - resize: Resample each prediction to its ground truth first.
//
// Returns:
//   - []float64: The per-frame threat scores.
//   - float64: Their mean, or 0 for no frames.
//   - error: An error if the counts differ or a pair cannot be scored.
func RoadMapSequence(pred, gt []*images.Mask, resize bool) ([]float64, float64, error) {
	if len(pred) != len(gt) {
		return nil, 0, errors.Errorf("road map count mismatch: %d predicted, %d ground truth", len(pred), len(gt))
	}
	if len(pred) == 0 {
		return nil, 0, nil
	}

	score := RoadMapThreatScore
	if resize {
		score = RoadMapThreatScoreResized
	}

	scores := make([]float64, len(pred))
	for i := range pred {
		ts, err := score(pred[i], gt[i])
		if err != nil {
			return nil, 0, errors.Wrapf(err, "frame %d", i)
		}
		scores[i] = ts
	}
	return scores, stat.Mean(scores, nil), nil
}
