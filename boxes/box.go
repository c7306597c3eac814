// Package boxes - Box geometry for anchors, annotations and predictions.
package boxes

import (
	"fmt"
	"math"
)

// Box is a center-format box with an orientation.
type Box struct {
	// CX, CY are the box center.
	CX, CY float32
	// W, H are the full width and height.
	W, H float32
	// Angle is the stored orientation in radians.
	Angle float32
}

// Point is a 2D point. Geometry is carried in float64 so polygon areas of
// large boxes do not lose the low bits that IoU ratios depend on.
type Point struct {
	X, Y float64
}

// Corners are the four corners of a box in the order
// (x1,y1), (x2,y1), (x1,y2), (x2,y2).
type Corners [4]Point

// Extents is the axis-aligned bounding range of a set of corners.
type Extents struct {
	MinX, MaxX, MinY, MaxY float64
}

// CornerMode selects how a Box is expanded into its corners.
type CornerMode string

const (
	// CornersAxisAligned ignores Angle when expanding a box.
	CornersAxisAligned CornerMode = "axis-aligned"
	// CornersRotated rotates the corners about the center by Angle.
	CornersRotated CornerMode = "rotated"
)

func (b Box) String() string {
	return fmt.Sprintf("Box (%.2f, %.2f) %.2fx%.2f angle=%.3f", b.CX, b.CY, b.W, b.H, b.Angle)
}

// Area returns W*H, or 0 when either side is not positive.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return float64(b.W) * float64(b.H)
}

// Corners expands the box into its four axis-aligned corners.
//
// The stored Angle is deliberately not applied. Boxes produced by the
// training pipeline keep orientation as a separate regression target, and
// both the broad phase and the oriented IoU operate on the un-rotated
// rectangle. Use RotatedCorners when rotation is wanted.
//
// Returns:
//   - Corners: (x1,y1), (x2,y1), (x1,y2), (x2,y2) with x1 = cx - w/2, x2 = x1 + w.
//
// @example
// b := Box{CX: 10, CY: 10, W: 4, H: 2}
// c := b.Corners() // [(8,9) (12,9) (8,11) (12,11)]
func (b Box) Corners() Corners {
	w := float64(b.W)
	h := float64(b.H)
	x1 := float64(b.CX) - w/2
	y1 := float64(b.CY) - h/2
	x2 := x1 + w
	y2 := y1 + h
	return Corners{{x1, y1}, {x2, y1}, {x1, y2}, {x2, y2}}
}

// RotatedCorners expands the box and rotates each corner about the center by Angle.
// The corner order matches Corners.
func (b Box) RotatedCorners() Corners {
	c := b.Corners()
	if b.Angle == 0 {
		return c
	}
	cx := float64(b.CX)
	cy := float64(b.CY)
	sin, cos := math.Sincos(float64(b.Angle))
	for i, p := range c {
		dx := p.X - cx
		dy := p.Y - cy
		c[i] = Point{X: cos*dx - sin*dy + cx, Y: sin*dx + cos*dy + cy}
	}
	return c
}

// Corners expands b according to the mode. Unknown modes fall back to axis-aligned.
func (m CornerMode) Corners(b Box) Corners {
	if m == CornersRotated {
		return b.RotatedCorners()
	}
	return b.Corners()
}

// Valid reports whether the mode is one of the known corner modes.
func (m CornerMode) Valid() bool {
	return m == CornersAxisAligned || m == CornersRotated
}

// ExpandToCorners converts each box to its axis-aligned corners.
//
// Arguments:
//   - boxes: Center-format boxes.
//
// Returns:
//   - []Corners: One corner set per box, in input order.
func ExpandToCorners(boxes []Box) []Corners {
	out := make([]Corners, len(boxes))
	for i, b := range boxes {
		out[i] = b.Corners()
	}
	return out
}

// Extents returns the bounding range of the corners.
func (c Corners) Extents() Extents {
	e := Extents{MinX: c[0].X, MaxX: c[0].X, MinY: c[0].Y, MaxY: c[0].Y}
	for _, p := range c[1:] {
		e.MinX = math.Min(e.MinX, p.X)
		e.MaxX = math.Max(e.MaxX, p.X)
		e.MinY = math.Min(e.MinY, p.Y)
		e.MaxY = math.Max(e.MaxY, p.Y)
	}
	return e
}

// Overlaps is the broad-phase test: true iff the two ranges overlap with a
// strictly positive extent on both axes. Touching ranges do not overlap.
func (e Extents) Overlaps(o Extents) bool {
	return e.MaxX > o.MinX && e.MinX < o.MaxX && e.MaxY > o.MinY && e.MinY < o.MaxY
}
