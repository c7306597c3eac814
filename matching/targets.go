package matching

import (
	"github.com/pkg/errors"
)

// Target values of the ternary classification grid.
const (
	TargetIgnore   float32 = -1
	TargetNegative float32 = 0
	TargetPositive float32 = 1
)

// AnchorState is the role an anchor plays for one image.
type AnchorState int

const (
	// AnchorIgnored anchors have IoU in [Negative, Positive) and contribute no loss.
	AnchorIgnored AnchorState = iota
	// AnchorNegative anchors have IoU below Negative and are background for every class.
	AnchorNegative
	// AnchorPositive anchors have IoU at or above Positive.
	AnchorPositive
)

func (s AnchorState) String() string {
	switch s {
	case AnchorNegative:
		return "negative"
	case AnchorPositive:
		return "positive"
	default:
		return "ignored"
	}
}

// Thresholds are the IoU bounds that split anchors into negatives, ignored and positives.
type Thresholds struct {
	// Positive is the inclusive lower bound for positive anchors.
	Positive float64 `json:"positive" yaml:"positive"`
	// Negative is the exclusive upper bound for negative anchors.
	Negative float64 `json:"negative" yaml:"negative"`
}

// DefaultThresholds returns the 0.5 / 0.4 split.
func DefaultThresholds() Thresholds {
	return Thresholds{Positive: 0.5, Negative: 0.4}
}

// Validate checks 0 <= Negative <= Positive <= 1.
func (t Thresholds) Validate() error {
	if t.Negative < 0 || t.Positive > 1 {
		return errors.Errorf("thresholds must lie in [0, 1], got negative=%v positive=%v", t.Negative, t.Positive)
	}
	if t.Positive < t.Negative {
		return errors.Errorf("positive threshold %v must be >= negative threshold %v", t.Positive, t.Negative)
	}
	return nil
}

// State classifies an anchor by its best IoU.
func (t Thresholds) State(iou float64) AnchorState {
	switch {
	case iou >= t.Positive:
		return AnchorPositive
	case iou < t.Negative:
		return AnchorNegative
	default:
		return AnchorIgnored
	}
}

// Targets is the per-anchor, per-class classification target grid for one image.
type Targets struct {
	// Values holds numAnchors x NumClasses targets in row-major order.
	Values []float32
	// NumClasses is the row width of Values.
	NumClasses int
	// States holds the role of each anchor.
	States []AnchorState
	// Positives lists positive anchor indices in ascending order.
	Positives []int
	// Negatives is the number of negative anchors.
	Negatives int
}

// Ignored returns the number of anchors that contribute no loss.
func (t *Targets) Ignored() int {
	return len(t.States) - len(t.Positives) - t.Negatives
}

// ClassTargets builds the ternary target grid.
//
// Every entry starts as TargetIgnore. Anchors with best IoU below the negative
// threshold become TargetNegative for every class. Anchors at or above the
// positive threshold become TargetNegative for every class except the class of
// their assigned annotation, which becomes TargetPositive.
//
// Arguments:
//   - assign: The result of Match for the same anchors and annotations.
//   - annotations: The non-padding annotations used to build assign.
//   - numClasses: Number of classification outputs per anchor.
//   - thresholds: The positive / negative IoU split.
//
// Returns:
//   - *Targets: The target grid and anchor roles.
//   - error: An error if a positive anchor's class is outside [0, numClasses).
func ClassTargets(assign Assignment, annotations []Annotation, numClasses int, thresholds Thresholds) (*Targets, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("numClasses must be > 0, got %d", numClasses)
	}

	n := len(assign.BestIoU)
	t := &Targets{
		Values:     make([]float32, n*numClasses),
		NumClasses: numClasses,
		States:     make([]AnchorState, n),
	}

	for i, iou := range assign.BestIoU {
		row := t.Values[i*numClasses : (i+1)*numClasses]

		state := thresholds.State(iou)
		if assign.BestIndex[i] < 0 {
			state = AnchorNegative
		}
		t.States[i] = state

		switch state {
		case AnchorIgnored:
			for c := range row {
				row[c] = TargetIgnore
			}
		case AnchorNegative:
			t.Negatives++
		case AnchorPositive:
			class := annotations[assign.BestIndex[i]].Class
			if class < 0 || class >= numClasses {
				return nil, errors.Errorf("anchor %d matched annotation %d with class %d outside [0, %d)",
					i, assign.BestIndex[i], class, numClasses)
			}
			row[class] = TargetPositive
			t.Positives = append(t.Positives, i)
		}
	}

	return t, nil
}
