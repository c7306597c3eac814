package losses

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/matching"
)

// ClampProbability limits p to [eps, 1-eps].
func ClampProbability(p, eps float32) float32 {
	return math32.Min(math32.Max(p, eps), 1-eps)
}

// FocalTerm is the focal loss of one (probability, target) entry:
//
//	alpha_t * (1 - p_t)^gamma * BCE(p, t)
//
// where alpha_t is alpha for positives and 1-alpha for negatives, and p_t is
// p for positives and 1-p for negatives. Ignored targets contribute 0.
// p must already be clamped away from 0 and 1.
func FocalTerm(p, target, alpha, gamma float32) float32 {
	switch target {
	case matching.TargetPositive:
		return alpha * math32.Pow(1-p, gamma) * -math32.Log(p)
	case matching.TargetNegative:
		return (1 - alpha) * math32.Pow(p, gamma) * -math32.Log(1-p)
	default:
		return 0
	}
}

// ClassificationLoss sums FocalTerm over every anchor and class of one image
// and normalizes by max(1, positives).
//
// Arguments:
//   - probs: Row-major [anchors, classes] probabilities, unclamped.
//   - targets: The ternary target grid for the same image.
//   - cfg: Supplies Alpha, Gamma and ProbabilityEpsilon.
//
// Returns:
//   - float64: The normalized classification loss.
func ClassificationLoss(probs []float32, targets *matching.Targets, cfg Config) float64 {
	var sum float64
	for k, t := range targets.Values {
		if t == matching.TargetIgnore {
			continue
		}
		p := ClampProbability(probs[k], cfg.ProbabilityEpsilon)
		sum += float64(FocalTerm(p, t, cfg.Alpha, cfg.Gamma))
	}
	return sum / float64(max(1, len(targets.Positives)))
}

// SmoothL1 is the piecewise regression penalty with breakpoint beta:
//
//	0.5 * d^2 / beta   if d <= beta
//	d - 0.5 * beta     otherwise
//
// where d = |diff|. Both branches equal 0.5*beta at the breakpoint.
func SmoothL1(diff, beta float32) float32 {
	d := math32.Abs(diff)
	if d <= beta {
		return 0.5 * d * d / beta
	}
	return d - 0.5*beta
}

// RegressionLoss is the mean SmoothL1 over every component of every
// positive anchor. It returns 0 when there are no positives.
//
// Arguments:
//   - pred: Predicted deltas, one per positive anchor.
//   - target: Encoded targets in the same order.
//   - beta: The SmoothL1 breakpoint.
//
// Returns:
//   - float64: The mean regression loss.
func RegressionLoss(pred, target []encoder.Delta, beta float32) float64 {
	if len(pred) == 0 {
		return 0
	}
	var sum float64
	for i := range pred {
		for c := 0; c < encoder.Components; c++ {
			sum += float64(SmoothL1(target[i][c]-pred[i][c], beta))
		}
	}
	return sum / float64(len(pred)*encoder.Components)
}
