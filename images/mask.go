// Package images - Binary masks for rasterized road-map evaluation.
package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// DefaultThreshold is the gray level at or above which a pixel is set.
const DefaultThreshold uint8 = 128

// Mask is a binary occupancy grid stored row-major.
type Mask struct {
	Width  int
	Height int
	// Data holds Width*Height cells, 1 for set and 0 for clear.
	Data []uint8
}

// NewMask creates an empty mask.
//
// Arguments:
//   - width: Number of columns.
//   - height: Number of rows.
//
// Returns:
//   - *Mask: A cleared mask.
//   - error: An error if either dimension is not positive.
func NewMask(width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("mask dimensions must be positive, got %dx%d", width, height)
	}
	return &Mask{Width: width, Height: height, Data: make([]uint8, width*height)}, nil
}

// At reports whether the cell at (x, y) is set.
func (m *Mask) At(x, y int) bool {
	return m.Data[y*m.Width+x] != 0
}

// Set marks the cell at (x, y).
func (m *Mask) Set(x, y int, on bool) {
	v := uint8(0)
	if on {
		v = 1
	}
	m.Data[y*m.Width+x] = v
}

// Count returns the number of set cells.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// SameSize reports whether both masks have identical dimensions.
func (m *Mask) SameSize(o *Mask) bool {
	return m.Width == o.Width && m.Height == o.Height
}

// Gray renders the mask as an 8-bit image, 255 for set cells.
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Data {
		if v != 0 {
			img.Pix[(i/m.Width)*img.Stride+i%m.Width] = 255
		}
	}
	return img
}

// MaskFromImage binarizes an image by its luminance.
//
// Arguments:
//   - img: Any image; colors are converted with color.GrayModel.
//   - threshold: Gray level at or above which a cell is set.
//
// Returns:
//   - *Mask: The binary mask with the image's dimensions.
//   - error: An error if the image is nil or empty.
func MaskFromImage(img image.Image, threshold uint8) (*Mask, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	b := img.Bounds()
	m, err := NewMask(b.Dx(), b.Dy())
	if err != nil {
		return nil, errors.Wrap(err, "image is empty")
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			if g.Y >= threshold {
				m.Data[y*m.Width+x] = 1
			}
		}
	}
	return m, nil
}

// ResizeMask resamples a mask to the given dimensions with nearest-neighbor
// interpolation so the result stays binary.
func ResizeMask(m *Mask, width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("target dimensions must be positive, got %dx%d", width, height)
	}
	if m.Width == width && m.Height == height {
		out := &Mask{Width: width, Height: height, Data: make([]uint8, len(m.Data))}
		copy(out.Data, m.Data)
		return out, nil
	}
	resized := resize.Resize(uint(width), uint(height), m.Gray(), resize.NearestNeighbor)
	return MaskFromImage(resized, DefaultThreshold)
}
