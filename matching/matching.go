// Package matching - Anchor to ground-truth assignment.
package matching

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/nvr-ai/go-detloss/boxes"
)

// PaddingLabel marks an unused row in a fixed-capacity annotation array.
const PaddingLabel = -1

// AnnotationWidth is the number of fields per annotation row: x, y, w, h, angle, class.
const AnnotationWidth = 6

// Annotation is a ground-truth box with its class index.
type Annotation struct {
	Box   boxes.Box
	Class int
}

// Assignment is the per-anchor best match against a set of annotations.
type Assignment struct {
	// IoU is the anchors x annotations axis-aligned IoU matrix.
	IoU *mat.Dense
	// BestIndex is the annotation index with the highest IoU for each anchor.
	BestIndex []int
	// BestIoU is that highest IoU for each anchor.
	BestIoU []float64
}

// FilterPadding decodes annotation rows and drops padding rows.
//
// Arguments:
//   - rows: Row-major annotation data, AnnotationWidth values per row.
//
// Returns:
//   - []Annotation: The non-padding annotations in row order.
//   - error: An error if the data is not a whole number of rows or a class label is not integral.
func FilterPadding(rows []float32) ([]Annotation, error) {
	if len(rows)%AnnotationWidth != 0 {
		return nil, errors.Errorf("annotation data length %d is not a multiple of %d", len(rows), AnnotationWidth)
	}

	out := make([]Annotation, 0, len(rows)/AnnotationWidth)
	for r := 0; r < len(rows); r += AnnotationWidth {
		label := rows[r+5]
		if label == PaddingLabel {
			continue
		}
		class := int(label)
		if float32(class) != label {
			return nil, errors.Errorf("annotation row %d has non-integral class label %v", r/AnnotationWidth, label)
		}
		out = append(out, Annotation{
			Box: boxes.Box{
				CX:    rows[r],
				CY:    rows[r+1],
				W:     rows[r+2],
				H:     rows[r+3],
				Angle: rows[r+4],
			},
			Class: class,
		})
	}
	return out, nil
}

// Boxes returns the geometry of the annotations.
func Boxes(annotations []Annotation) []boxes.Box {
	out := make([]boxes.Box, len(annotations))
	for i, a := range annotations {
		out[i] = a.Box
	}
	return out
}

// Match computes the anchor x annotation IoU matrix and the best annotation per anchor.
//
// Ties resolve to the lowest annotation index. With no annotations every
// anchor gets index -1 and IoU 0.
//
// Arguments:
//   - anchors: The shared anchor template.
//   - annotations: Non-padding annotations for one image.
//
// Returns:
//   - Assignment: The IoU matrix and per-anchor best match.
//
// @example
// assign := Match(anchors, annotations)
// for i, iou := range assign.BestIoU { ... annotations[assign.BestIndex[i]] ... }
func Match(anchors []boxes.Box, annotations []Annotation) Assignment {
	a := Assignment{
		IoU:       boxes.AxisAlignedIoU(anchors, Boxes(annotations)),
		BestIndex: make([]int, len(anchors)),
		BestIoU:   make([]float64, len(anchors)),
	}

	if len(annotations) == 0 {
		for i := range a.BestIndex {
			a.BestIndex[i] = -1
		}
		return a
	}

	for i := range anchors {
		row := a.IoU.RawRowView(i)
		j := floats.MaxIdx(row)
		a.BestIndex[i] = j
		a.BestIoU[i] = row[j]
	}
	return a
}
