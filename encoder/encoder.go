// Package encoder - Regression targets relative to anchors.
package encoder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detloss/boxes"
)

// Components is the length of a regression vector: dx, dy, dw, dh, dangle.
const Components = 5

// Delta is a normalized regression vector.
type Delta [Components]float32

// Encoder converts ground-truth boxes to normalized deltas and back.
type Encoder struct {
	// Scale divides each raw delta component.
	Scale [Components]float32 `json:"scale" yaml:"scale"`
	// MinSize is the floor applied to ground-truth width and height before taking logs.
	MinSize float32 `json:"min_size" yaml:"min_size"`
}

// DefaultEncoder returns the (0.1, 0.1, 0.2, 0.2, 1.0) scale with a minimum size of 1.
func DefaultEncoder() Encoder {
	return Encoder{
		Scale:   [Components]float32{0.1, 0.1, 0.2, 0.2, 1.0},
		MinSize: 1,
	}
}

// Validate checks that every scale component and the minimum size are positive.
func (e Encoder) Validate() error {
	for i, s := range e.Scale {
		if !(s > 0) {
			return errors.Errorf("scale[%d] must be > 0, got %v", i, s)
		}
	}
	if !(e.MinSize > 0) {
		return errors.Errorf("min_size must be > 0, got %v", e.MinSize)
	}
	return nil
}

// Encode computes the normalized regression target of gt relative to anchor.
//
// The raw deltas are
//
//	dx = (gt.cx - a.cx) / a.w
//	dy = (gt.cy - a.cy) / a.h
//	dw = log(max(gt.w, MinSize) / a.w)
//	dh = log(max(gt.h, MinSize) / a.h)
//	dangle = gt.angle - a.angle
//
// and each component is divided by the matching Scale entry. The angle
// difference is not wrapped.
//
// Arguments:
//   - anchor: The reference box. Width and height must be positive.
//   - gt: The assigned ground-truth box.
//
// Returns:
//   - Delta: The normalized regression target.
func (e Encoder) Encode(anchor, gt boxes.Box) Delta {
	gw := math32.Max(gt.W, e.MinSize)
	gh := math32.Max(gt.H, e.MinSize)

	return Delta{
		(gt.CX - anchor.CX) / anchor.W / e.Scale[0],
		(gt.CY - anchor.CY) / anchor.H / e.Scale[1],
		math32.Log(gw/anchor.W) / e.Scale[2],
		math32.Log(gh/anchor.H) / e.Scale[3],
		(gt.Angle - anchor.Angle) / e.Scale[4],
	}
}

// Decode inverts Encode: it applies a normalized delta to the anchor.
// Decode(a, Encode(a, gt)) reproduces gt with its sides clamped to MinSize.
func (e Encoder) Decode(anchor boxes.Box, d Delta) boxes.Box {
	return boxes.Box{
		CX:    anchor.CX + d[0]*e.Scale[0]*anchor.W,
		CY:    anchor.CY + d[1]*e.Scale[1]*anchor.H,
		W:     anchor.W * math32.Exp(d[2]*e.Scale[2]),
		H:     anchor.H * math32.Exp(d[3]*e.Scale[3]),
		Angle: anchor.Angle + d[4]*e.Scale[4],
	}
}

// AsBox reads the first four components of a delta as a center-format box.
// It is used when threat scores are tracked directly in delta space.
func (d Delta) AsBox() boxes.Box {
	return boxes.Box{CX: d[0], CY: d[1], W: d[2], H: d[3]}
}
