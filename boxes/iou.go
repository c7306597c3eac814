package boxes

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinUnion is the floor applied to axis-aligned union areas.
const MinUnion = 1e-8

// IoU calculates the axis-aligned Intersection over Union of two boxes.
//
// The intersection width and height are min(upper) - max(lower) clamped at
// zero. The union is areaA + areaB - intersection, clamped at MinUnion so
// degenerate boxes yield 0 instead of NaN.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float64: A value in [0, 1].
//
// @example
// a := Box{CX: 5, CY: 5, W: 10, H: 10}
// b := Box{CX: 10, CY: 10, W: 10, H: 10}
// iou := IoU(a, b) // 25 / 175 = 0.142857
func IoU(a, b Box) float64 {
	ca := a.Corners()
	cb := b.Corners()
	return cornerIoU(ca[0], ca[3], cb[0], cb[3])
}

func cornerIoU(aMin, aMax, bMin, bMax Point) float64 {
	iw := math.Max(math.Min(aMax.X, bMax.X)-math.Max(aMin.X, bMin.X), 0)
	ih := math.Max(math.Min(aMax.Y, bMax.Y)-math.Max(aMin.Y, bMin.Y), 0)
	inter := iw * ih

	areaA := (aMax.X - aMin.X) * (aMax.Y - aMin.Y)
	areaB := (bMax.X - bMin.X) * (bMax.Y - bMin.Y)
	union := math.Max(areaA+areaB-inter, MinUnion)

	return inter / union
}

// AxisAlignedIoU builds the len(a) x len(b) IoU matrix.
//
// Element (i, j) is IoU(a[i], b[j]). When either set is empty the result is an
// empty matrix whose Dims are (0, 0); gonum does not allow zero-length dense
// matrices with a single non-zero dimension.
//
// Arguments:
//   - a: Row boxes (typically anchors).
//   - b: Column boxes (typically annotations).
//
// Returns:
//   - *mat.Dense: The IoU matrix.
func AxisAlignedIoU(a, b []Box) *mat.Dense {
	if len(a) == 0 || len(b) == 0 {
		return &mat.Dense{}
	}

	ac := ExpandToCorners(a)
	bc := ExpandToCorners(b)

	out := mat.NewDense(len(a), len(b), nil)
	for i := range ac {
		row := out.RawRowView(i)
		for j := range bc {
			row[j] = cornerIoU(ac[i][0], ac[i][3], bc[j][0], bc[j][3])
		}
	}
	return out
}

// OrientedIoU calculates the polygon IoU of two corner sets.
//
// Each corner set is turned into its convex hull, the hulls are intersected by
// convex clipping and the ratio of the intersection area to the union area is
// returned. Zero-area hulls and empty intersections short-circuit to 0.
//
// Arguments:
//   - a: Corners of the first box.
//   - b: Corners of the second box.
//
// Returns:
//   - float64: A value in [0, 1].
func OrientedIoU(a, b Corners) float64 {
	pa := ConvexHull(a[:])
	pb := ConvexHull(b[:])

	areaA := pa.Area()
	areaB := pb.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	inter := pa.Clip(pb).Area()
	if inter <= 0 {
		return 0
	}

	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}

	iou := inter / union
	if iou > 1 {
		return 1
	}
	return iou
}
