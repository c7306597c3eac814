package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
)

func sampleBoxes() []boxes.Box {
	return []boxes.Box{
		{CX: 10, CY: 10, W: 4, H: 6},
		{CX: 30, CY: 12, W: 10, H: 10},
		{CX: 50, CY: 50, W: 2, H: 8, Angle: 0.3},
	}
}

func TestAverageThreatScoreIdentity(t *testing.T) {
	s := sampleBoxes()
	assert.InDelta(t, 1.0, AverageThreatScore(s, s), 1e-12)
}

func TestAverageThreatScoreDisjoint(t *testing.T) {
	pred := []boxes.Box{{CX: 0, CY: 0, W: 2, H: 2}}
	gt := []boxes.Box{{CX: 100, CY: 100, W: 2, H: 2}}

	got := AverageThreatScore(pred, gt)
	assert.Equal(t, 0.0, got)
	assert.False(t, math.IsNaN(got))
}

func TestAverageThreatScoreEmptySets(t *testing.T) {
	tests := []struct {
		name     string
		pred, gt []boxes.Box
	}{
		{name: "both empty"},
		{name: "no predictions", gt: sampleBoxes()},
		{name: "no ground truth", pred: sampleBoxes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AverageThreatScore(tt.pred, tt.gt)
			assert.Equal(t, 0.0, got)
			assert.False(t, math.IsNaN(got))
		})
	}
}

// TestThreatScoreReport checks the per-threshold breakdown for a single shifted box.
func TestThreatScoreReport(t *testing.T) {
	// Shift by 1 on a 10x10 box: overlap 90, union 110, IoU = 9/11 ~ 0.818.
	pred := []boxes.Box{{CX: 11, CY: 10, W: 10, H: 10}}
	gt := []boxes.Box{{CX: 10, CY: 10, W: 10, H: 10}}

	s := ThreatScorer{}
	r, err := s.Report(pred, gt)
	require.NoError(t, err)

	require.Len(t, r.Thresholds, 5)
	assert.Equal(t, 1, r.Candidates)
	assert.InDelta(t, 9.0/11.0, r.MaxIoU[0], 1e-9)

	wantTP := []int{1, 1, 1, 1, 0}
	var total, weight float64
	for k, ts := range r.Thresholds {
		assert.Equal(t, wantTP[k], ts.TruePositives, "threshold %v", ts.Threshold)
		want := float64(wantTP[k]) / float64(2-wantTP[k])
		assert.InDelta(t, want, ts.Score, 1e-12)
		total += want / ts.Threshold
		weight += 1 / ts.Threshold
	}
	assert.InDelta(t, total/weight, r.Average, 1e-12)
}

// TestThreatScoreCountsExtraPredictions verifies false positives lower the score.
func TestThreatScoreCountsExtraPredictions(t *testing.T) {
	gt := []boxes.Box{{CX: 10, CY: 10, W: 10, H: 10}}
	pred := []boxes.Box{
		{CX: 10, CY: 10, W: 10, H: 10},
		{CX: 80, CY: 80, W: 10, H: 10},
	}

	// tp = 1 at every threshold: 1 / (2 + 1 - 1).
	assert.InDelta(t, 0.5, AverageThreatScore(pred, gt), 1e-12)
}

func TestThreatScorerCustomThresholds(t *testing.T) {
	s := ThreatScorer{Thresholds: []float64{0.5}}
	require.NoError(t, s.Validate())

	pred := []boxes.Box{{CX: 11, CY: 10, W: 10, H: 10}}
	gt := []boxes.Box{{CX: 10, CY: 10, W: 10, H: 10}}
	got, err := s.Score(pred, gt)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)

	assert.Error(t, (&ThreatScorer{Thresholds: []float64{0}}).Validate())
	assert.Error(t, (&ThreatScorer{Thresholds: []float64{1}}).Validate())
	assert.Error(t, (&ThreatScorer{Corners: "sheared"}).Validate())
}

// TestThreatScorerDeviceIndependence checks that the parallel narrow phase matches the serial one.
func TestThreatScorerDeviceIndependence(t *testing.T) {
	var pred, gt []boxes.Box
	for i := 0; i < 20; i++ {
		f := float32(i)
		gt = append(gt, boxes.Box{CX: 10 * f, CY: 5 * f, W: 8, H: 6})
		pred = append(pred, boxes.Box{CX: 10*f + 0.5*float32(i%3), CY: 5*f - 0.25*float32(i%4), W: 8 + float32(i%2), H: 6})
	}

	serial := ThreatScorer{}
	want, err := serial.Report(pred, gt)
	require.NoError(t, err)

	pool, err := compute.NewDevice(compute.Config{Backend: compute.BackendParallel, Workers: 4})
	require.NoError(t, err)
	parallel := ThreatScorer{Device: pool}
	got, err := parallel.Report(pred, gt)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestThreatScorerRotatedCorners(t *testing.T) {
	square := boxes.Box{CX: 0, CY: 0, W: 2, H: 2}
	diamond := boxes.Box{CX: 0, CY: 0, W: 2, H: 2, Angle: math.Pi / 4}

	aligned := ThreatScorer{}
	r, err := aligned.Report([]boxes.Box{diamond}, []boxes.Box{square})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.MaxIoU[0], 1e-9, "axis-aligned expansion ignores the angle")

	rotated := ThreatScorer{Corners: boxes.CornersRotated}
	r, err = rotated.Report([]boxes.Box{diamond}, []boxes.Box{square})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt2/2, r.MaxIoU[0], 1e-6)
}
