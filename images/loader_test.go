package images

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGray(t *testing.T, path string, w, h, lit int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < lit; i++ {
		img.SetGray(i%w, i/w, color.Gray{Y: 255})
	}
	require.NoError(t, imaging.Save(img, path))
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want ImageFormat
	}{
		{path: "a.png", want: FormatPNG},
		{path: "dir/b.JPG", want: FormatJPEG},
		{path: "c.jpeg", want: FormatJPEG},
		{path: "d.tif", want: FormatTIFF},
		{path: "e.bmp", want: FormatBMP},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := FormatFromPath("notes.txt")
	assert.Error(t, err)
}

func TestLoadMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "road.png")
	writeGray(t, path, 4, 3, 5)

	m, err := LoadMask(path, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Width)
	assert.Equal(t, 3, m.Height)
	assert.Equal(t, 5, m.Count())

	_, err = LoadMask(filepath.Join(t.TempDir(), "missing.png"), DefaultThreshold)
	assert.Error(t, err)
}

func TestLoadMaskDirectory(t *testing.T) {
	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "frame-10.png"), 2, 2, 1)
	writeGray(t, filepath.Join(dir, "frame-2.png"), 2, 2, 2)
	writeGray(t, filepath.Join(dir, "frame-7.bmp"), 2, 2, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("road maps"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := LoadMaskDirectory(dir, DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, files, 3)

	var frames, counts []int
	for _, f := range files {
		frames = append(frames, f.Frame)
		counts = append(counts, f.Mask.Count())
	}
	assert.Equal(t, []int{2, 7, 10}, frames)
	assert.Equal(t, []int{2, 3, 1}, counts)

	t.Run("bad frame name", func(t *testing.T) {
		bad := t.TempDir()
		writeGray(t, filepath.Join(bad, "frame-x.png"), 2, 2, 1)
		_, err := LoadMaskDirectory(bad, DefaultThreshold)
		assert.Error(t, err)
	})

	t.Run("duplicate frame", func(t *testing.T) {
		dup := t.TempDir()
		writeGray(t, filepath.Join(dup, "frame-1.png"), 2, 2, 1)
		writeGray(t, filepath.Join(dup, "frame-01.png"), 2, 2, 1)
		_, err := LoadMaskDirectory(dup, DefaultThreshold)
		assert.Error(t, err)
	})
}
