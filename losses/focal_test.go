package losses

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/matching"
)

func TestFocalTerm(t *testing.T) {
	ln2 := math.Ln2

	tests := []struct {
		name   string
		p      float32
		target float32
		want   float64
	}{
		{name: "positive at 0.5", p: 0.5, target: matching.TargetPositive, want: 0.25 * 0.25 * ln2},
		{name: "negative at 0.5", p: 0.5, target: matching.TargetNegative, want: 0.75 * 0.25 * ln2},
		{name: "ignored", p: 0.5, target: matching.TargetIgnore, want: 0},
		{name: "confident positive", p: 0.9, target: matching.TargetPositive, want: 0.25 * 0.01 * -math.Log(0.9)},
		{name: "confident negative", p: 0.1, target: matching.TargetNegative, want: 0.75 * 0.01 * -math.Log(0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FocalTerm(tt.p, tt.target, 0.25, 2)
			assert.InDelta(t, tt.want, float64(got), 1e-6)
		})
	}
}

func TestClampProbability(t *testing.T) {
	assert.Equal(t, float32(1e-4), ClampProbability(0, 1e-4))
	assert.InDelta(t, 1-1e-4, float64(ClampProbability(1, 1e-4)), 1e-7)
	assert.Equal(t, float32(0.3), ClampProbability(0.3, 1e-4))

	// A clamped certain mistake stays finite.
	got := FocalTerm(ClampProbability(0, 1e-4), matching.TargetPositive, 0.25, 2)
	assert.False(t, math.IsInf(float64(got), 0))
	assert.Greater(t, got, float32(0))
}

func TestSmoothL1(t *testing.T) {
	beta := float32(1.0 / 9.0)

	assert.Zero(t, SmoothL1(0, beta))
	// Both branches meet at beta.
	assert.InDelta(t, 1.0/18.0, float64(SmoothL1(beta, beta)), 1e-7)
	assert.InDelta(t, 1.0/18.0, float64(SmoothL1(math.Nextafter32(beta, 1), beta)), 1e-6)
	// Quadratic below, linear above.
	assert.InDelta(t, 0.5*9*0.05*0.05, float64(SmoothL1(0.05, beta)), 1e-7)
	assert.InDelta(t, 0.5-1.0/18.0, float64(SmoothL1(0.5, beta)), 1e-7)
	assert.Equal(t, SmoothL1(0.5, beta), SmoothL1(-0.5, beta))
}

func TestClassificationLoss(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("all ignored", func(t *testing.T) {
		targets := &matching.Targets{
			Values:     []float32{-1, -1, -1, -1},
			NumClasses: 2,
		}
		assert.Zero(t, ClassificationLoss([]float32{0.1, 0.9, 0.4, 0.6}, targets, cfg))
	})

	t.Run("normalized by positives", func(t *testing.T) {
		targets := &matching.Targets{
			Values:     []float32{1, 0, 0, 1},
			NumClasses: 2,
			Positives:  []int{0, 1},
		}
		probs := []float32{0.5, 0.5, 0.5, 0.5}
		want := (2*0.0625 + 2*0.1875) * math.Ln2 / 2
		assert.InDelta(t, want, ClassificationLoss(probs, targets, cfg), 1e-6)
	})

	t.Run("no positives divides by one", func(t *testing.T) {
		targets := &matching.Targets{
			Values:     []float32{0, 0},
			NumClasses: 2,
			Negatives:  1,
		}
		want := 2 * 0.1875 * math.Ln2
		assert.InDelta(t, want, ClassificationLoss([]float32{0.5, 0.5}, targets, cfg), 1e-6)
	})
}

func TestRegressionLoss(t *testing.T) {
	beta := float32(1.0 / 9.0)

	assert.Zero(t, RegressionLoss(nil, nil, beta))

	pred := []encoder.Delta{{}, {}}
	want := []encoder.Delta{{}, {-0.5, 0, 0, 0, 0}}
	assert.InDelta(t, (0.5-1.0/18.0)/10, RegressionLoss(pred, want, beta), 1e-7)
}
