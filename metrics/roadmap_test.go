package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detloss/images"
)

func maskFromRows(t *testing.T, rows ...string) *images.Mask {
	t.Helper()
	m, err := images.NewMask(len(rows[0]), len(rows))
	require.NoError(t, err)
	for y, row := range rows {
		for x, c := range row {
			m.Set(x, y, c == '#')
		}
	}
	return m
}

func TestRoadMapThreatScore(t *testing.T) {
	a := maskFromRows(t,
		"##..",
		"##..",
		"....",
	)
	b := maskFromRows(t,
		".##.",
		".##.",
		"....",
	)
	empty := maskFromRows(t,
		"....",
		"....",
		"....",
	)

	tests := []struct {
		name string
		x, y *images.Mask
		want float64
	}{
		{name: "identical", x: a, y: a, want: 1},
		{name: "half shifted", x: a, y: b, want: 2.0 / 6.0},
		{name: "against empty", x: a, y: empty, want: 0},
		{name: "both empty", x: empty, y: empty, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoadMapThreatScore(tt.x, tt.y)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestRoadMapThreatScoreSizeMismatch(t *testing.T) {
	a := maskFromRows(t, "##", "##")
	b := maskFromRows(t, "###", "###")

	_, err := RoadMapThreatScore(a, b)
	assert.ErrorIs(t, err, ErrMaskSize)
}

func TestRoadMapThreatScoreResized(t *testing.T) {
	small := maskFromRows(t,
		"#.",
		"..",
	)
	large := maskFromRows(t,
		"##..",
		"##..",
		"....",
		"....",
	)

	got, err := RoadMapThreatScoreResized(small, large)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)
}

func TestRoadMapSequence(t *testing.T) {
	a := maskFromRows(t, "##..", "##..")
	b := maskFromRows(t, ".##.", ".##.")
	small := maskFromRows(t, "#.")

	scores, mean, err := RoadMapSequence([]*images.Mask{a, a}, []*images.Mask{a, b}, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2.0 / 6.0}, scores, 1e-12)
	assert.InDelta(t, (1+2.0/6.0)/2, mean, 1e-12)

	_, _, err = RoadMapSequence([]*images.Mask{a}, nil, false)
	assert.Error(t, err)

	_, _, err = RoadMapSequence([]*images.Mask{small}, []*images.Mask{a}, false)
	assert.ErrorIs(t, err, ErrMaskSize)

	scores, mean, err = RoadMapSequence(nil, nil, true)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Zero(t, mean)
}
