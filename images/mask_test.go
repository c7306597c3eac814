package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMask(t *testing.T) {
	m, err := NewMask(3, 2)
	require.NoError(t, err)
	assert.Len(t, m.Data, 6)
	assert.Zero(t, m.Count())

	m.Set(2, 1, true)
	assert.True(t, m.At(2, 1))
	assert.Equal(t, 1, m.Count())
	m.Set(2, 1, false)
	assert.False(t, m.At(2, 1))

	_, err = NewMask(0, 2)
	assert.Error(t, err)
}

func TestMaskFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 14, 12))
	img.Set(10, 10, color.White)
	img.Set(13, 11, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	img.Set(11, 10, color.RGBA{R: 20, G: 20, B: 20, A: 255})

	m, err := MaskFromImage(img, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.True(t, m.At(0, 0))
	assert.True(t, m.At(3, 1))
	assert.False(t, m.At(1, 0))
	assert.Equal(t, 2, m.Count())

	_, err = MaskFromImage(nil, DefaultThreshold)
	assert.Error(t, err)
}

func TestResizeMaskNearestNeighbor(t *testing.T) {
	m, err := NewMask(2, 2)
	require.NoError(t, err)
	m.Set(1, 1, true)

	up, err := ResizeMask(m, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, up.Count())
	assert.True(t, up.At(3, 3))
	assert.True(t, up.At(2, 2))
	assert.False(t, up.At(0, 0))

	same, err := ResizeMask(m, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, m.Data, same.Data)
	same.Set(0, 0, true)
	assert.False(t, m.At(0, 0), "resizing to the same size must copy")

	_, err = ResizeMask(m, 0, 4)
	assert.Error(t, err)
}
