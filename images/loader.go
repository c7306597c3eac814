package images

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// FramePrefix is the file name prefix of numbered road-map frames, e.g. frame-12.png.
const FramePrefix = "frame-"

// MaskFile is a road-map mask loaded from disk.
type MaskFile struct {
	// Path is the file the mask was read from.
	Path string
	// Frame is the number parsed from the file name.
	Frame int
	// Mask is the thresholded image.
	Mask *Mask
}

// LoadMask decodes an image file and thresholds it into a mask.
//
// Arguments:
//   - path: Path to a JPEG, PNG, BMP, GIF or TIFF file.
//   - threshold: Gray level at or above which a pixel is set.
//
// Returns:
//   - *Mask: The binary mask.
//   - error: An error if the file cannot be opened or decoded.
func LoadMask(path string, threshold uint8) (*Mask, error) {
	if _, err := FormatFromPath(path); err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	m, err := MaskFromImage(img, threshold)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to threshold %s", path)
	}
	return m, nil
}

// LoadMaskDirectory reads every numbered frame in dir, ordered by frame number.
// Files with other extensions and subdirectories are skipped.
//
// Arguments:
//   - dir: Directory of frame-<n>.<ext> files.
//   - threshold: Gray level at or above which a pixel is set.
//
// Returns:
//   - []MaskFile: The frames in ascending order.
//   - error: An error if the directory cannot be read, a frame name does not
//     parse, or a frame number repeats.
func LoadMaskDirectory(dir string, threshold uint8) ([]MaskFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var out []MaskFile
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, err := FormatFromPath(name); err != nil {
			continue
		}

		ext := filepath.Ext(name)
		frame, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSuffix(name, ext), FramePrefix))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: frame number", name)
		}
		if prev, ok := seen[frame]; ok {
			return nil, errors.Errorf("frame %d appears in both %s and %s", frame, prev, name)
		}
		seen[frame] = name

		path := filepath.Join(dir, name)
		m, err := LoadMask(path, threshold)
		if err != nil {
			return nil, err
		}
		out = append(out, MaskFile{Path: path, Frame: frame, Mask: m})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Frame < out[j].Frame
	})
	return out, nil
}
