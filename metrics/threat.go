// Package metrics - Threat score metrics for detection boxes and road maps.
package metrics

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
)

// DefaultThresholds are the IoU thresholds averaged by the threat score.
var DefaultThresholds = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

// ThresholdScore is the threat score at one IoU threshold.
type ThresholdScore struct {
	Threshold float64 `json:"threshold"`
	// TruePositives counts ground-truth boxes whose best IoU is strictly above Threshold.
	TruePositives int `json:"true_positives"`
	// Score is tp / (|pred| + |gt| - tp), or 0 when that is 0/0.
	Score float64 `json:"score"`
}

// Report is the full result of a threat score evaluation.
type Report struct {
	// Average is the reciprocal-threshold weighted mean of the per-threshold scores.
	Average float64 `json:"average"`
	// Thresholds holds one entry per configured threshold, in order.
	Thresholds []ThresholdScore `json:"thresholds"`
	// Candidates is the number of prediction/ground-truth pairs that passed the broad phase.
	Candidates int `json:"candidates"`
	// MaxIoU is the best IoU for each ground-truth box.
	MaxIoU []float64 `json:"max_iou"`
}

// ThreatScorer computes the average threat score between two box sets.
type ThreatScorer struct {
	// Thresholds are the IoU thresholds to average over. Empty means DefaultThresholds.
	Thresholds []float64
	// Corners selects how boxes are expanded; the zero value is axis-aligned.
	Corners boxes.CornerMode
	// Device runs the narrow phase. Nil means serial.
	Device compute.Device
}

// Validate checks the configured thresholds and corner mode.
func (s *ThreatScorer) Validate() error {
	for i, t := range s.Thresholds {
		if !(t > 0 && t < 1) {
			return errors.Errorf("threat threshold[%d] must lie in (0, 1), got %v", i, t)
		}
	}
	if s.Corners != "" && !s.Corners.Valid() {
		return errors.Errorf("unsupported corner mode: %s", s.Corners)
	}
	return nil
}

// AverageThreatScore scores pred against gt with the default thresholds.
//
// Arguments:
//   - pred: Predicted boxes.
//   - gt: Ground-truth boxes.
//
// Returns:
//   - float64: The weighted average threat score in [0, 1].
//
// @example
// score := AverageThreatScore(predicted, groundTruth)
func AverageThreatScore(pred, gt []boxes.Box) float64 {
	s := ThreatScorer{}
	// The zero scorer runs serially and has no failure path.
	r, _ := s.Report(pred, gt)
	return r.Average
}

// Score returns only the weighted average of Report.
func (s *ThreatScorer) Score(pred, gt []boxes.Box) (float64, error) {
	r, err := s.Report(pred, gt)
	if err != nil {
		return 0, err
	}
	return r.Average, nil
}

// Report evaluates pred against gt.
//
// Both sets are expanded to corners. The broad phase keeps pair (i, j) only if
// the axis-aligned extents of pred[i] and gt[j] overlap with positive area on
// both axes; the narrow phase computes the polygon IoU for those pairs and
// leaves every other pair at 0. For each ground-truth box the best IoU over
// all predictions is kept. At each threshold t,
//
//	tp = count(bestIoU > t)
//	score_t = tp / (|pred| + |gt| - tp)
//
// and the result is sum(score_t / t) / sum(1 / t). A 0/0 score (both sets
// empty) is defined as 0.
//
// Arguments:
//   - pred: Predicted boxes.
//   - gt: Ground-truth boxes.
//
// Returns:
//   - Report: The average and per-threshold breakdown.
//   - error: An error if the narrow phase device fails.
func (s *ThreatScorer) Report(pred, gt []boxes.Box) (Report, error) {
	thresholds := s.Thresholds
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}

	maxIoU, candidates, err := s.bestIoU(pred, gt)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		Thresholds: make([]ThresholdScore, len(thresholds)),
		Candidates: candidates,
		MaxIoU:     maxIoU,
	}

	var total, weight float64
	for k, t := range thresholds {
		tp := 0
		for _, iou := range maxIoU {
			if iou > t {
				tp++
			}
		}

		score := 0.0
		if den := len(pred) + len(gt) - tp; den > 0 {
			score = float64(tp) / float64(den)
		}

		r.Thresholds[k] = ThresholdScore{Threshold: t, TruePositives: tp, Score: score}
		total += score / t
		weight += 1 / t
	}

	if weight > 0 {
		r.Average = total / weight
	}
	return r, nil
}

type pair struct {
	i, j int
}

// bestIoU runs the broad and narrow phase and returns the column-wise max IoU.
func (s *ThreatScorer) bestIoU(pred, gt []boxes.Box) ([]float64, int, error) {
	maxIoU := make([]float64, len(gt))
	if len(pred) == 0 || len(gt) == 0 {
		return maxIoU, 0, nil
	}

	mode := s.Corners
	if mode == "" {
		mode = boxes.CornersAxisAligned
	}

	pc := make([]boxes.Corners, len(pred))
	pe := make([]boxes.Extents, len(pred))
	for i, b := range pred {
		pc[i] = mode.Corners(b)
		pe[i] = pc[i].Extents()
	}
	gc := make([]boxes.Corners, len(gt))
	ge := make([]boxes.Extents, len(gt))
	for j, b := range gt {
		gc[j] = mode.Corners(b)
		ge[j] = gc[j].Extents()
	}

	// Broad phase.
	var pairs []pair
	for i := range pe {
		for j := range ge {
			if pe[i].Overlaps(ge[j]) {
				pairs = append(pairs, pair{i, j})
			}
		}
	}
	if len(pairs) == 0 {
		return maxIoU, 0, nil
	}

	// Narrow phase. Each job writes its own slot.
	ious := make([]float64, len(pairs))
	dev := s.Device
	if dev == nil {
		dev = compute.Serial{}
	}
	err := dev.Run(len(pairs), func(k int) error {
		p := pairs[k]
		ious[k] = boxes.OrientedIoU(pc[p.i], gc[p.j])
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "narrow phase failed")
	}

	for k, p := range pairs {
		maxIoU[p.j] = max(maxIoU[p.j], ious[k])
	}
	return maxIoU, len(pairs), nil
}
