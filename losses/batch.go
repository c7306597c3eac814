package losses

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/matching"
)

// Batch is one forward-pass input. All tensors must hold float32 data.
type Batch struct {
	// Classifications holds per-anchor class probabilities, shape [B, A, C].
	Classifications *tensor.Dense
	// Regressions holds predicted normalized deltas, shape [B, A, 5].
	Regressions *tensor.Dense
	// Anchors holds the anchor template, shape [1 or B, A', 5]. Only the first
	// batch entry is read. A' equals A for fused views and A / Views otherwise.
	Anchors *tensor.Dense
	// Annotations holds padded ground truth, shape [B, M, 6]. Rows whose class
	// is -1 are padding.
	Annotations *tensor.Dense
}

// ShapeError reports a tensor whose rank or dimensions do not line up with the rest of the batch.
type ShapeError struct {
	// Tensor names the offending input.
	Tensor string
	// Dim is the offending axis, or -1 for a rank mismatch.
	Dim int
	// Want is the expected size (or rank).
	Want int
	// Got is the actual size (or rank).
	Got int
}

func (e *ShapeError) Error() string {
	if e.Dim < 0 {
		return fmt.Sprintf("%s: rank mismatch: want %d, got %d", e.Tensor, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: dimension %d mismatch: want %d, got %d", e.Tensor, e.Dim, e.Want, e.Got)
}

// AnchorSet is the anchor template replicated to line up with the prediction rows.
// It is built once per forward pass and shared read-only by every image.
type AnchorSet struct {
	Boxes []boxes.Box
}

// inputs is the validated, flattened view of a Batch.
type inputs struct {
	batchSize   int
	numAnchors  int
	numClasses  int
	maxObjects  int
	probs       []float32
	regressions []float32
	annotations []float32
	anchors     *AnchorSet
}

func (in *inputs) imageProbs(j int) []float32 {
	n := in.numAnchors * in.numClasses
	return in.probs[j*n : (j+1)*n]
}

func (in *inputs) imageRegressions(j int) []float32 {
	n := in.numAnchors * encoder.Components
	return in.regressions[j*n : (j+1)*n]
}

func (in *inputs) imageAnnotations(j int) []float32 {
	n := in.maxObjects * matching.AnnotationWidth
	return in.annotations[j*n : (j+1)*n]
}

// float32Data returns the backing slice of a rank-3 float32 tensor,
// materializing views first.
func float32Data(name string, t *tensor.Dense) ([]float32, tensor.Shape, error) {
	if t == nil {
		return nil, nil, errors.Errorf("%s: tensor is nil", name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, nil, errors.Errorf("%s: dtype must be float32, got %v", name, t.Dtype())
	}
	shape := t.Shape()
	if len(shape) != 3 {
		return nil, nil, &ShapeError{Tensor: name, Dim: -1, Want: 3, Got: len(shape)}
	}
	if t.IsMaterializable() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, nil, errors.Errorf("%s: failed to materialize view", name)
		}
		t = m
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, nil, errors.Errorf("%s: unexpected backing type %T", name, t.Data())
	}
	if want := shape.TotalSize(); len(data) < want {
		return nil, nil, errors.Errorf("%s: backing holds %d values, shape needs %d", name, len(data), want)
	}
	return data[:shape.TotalSize()], shape.Clone(), nil
}

// unpack validates every tensor against the configuration and each other.
func (b *Batch) unpack(cfg Config) (*inputs, error) {
	if b == nil {
		return nil, errors.New("batch is nil")
	}

	probs, cs, err := float32Data("classifications", b.Classifications)
	if err != nil {
		return nil, err
	}
	regs, rs, err := float32Data("regressions", b.Regressions)
	if err != nil {
		return nil, err
	}
	anchors, as, err := float32Data("anchors", b.Anchors)
	if err != nil {
		return nil, err
	}
	annotations, ns, err := float32Data("annotations", b.Annotations)
	if err != nil {
		return nil, err
	}

	in := &inputs{
		batchSize:   cs[0],
		numAnchors:  cs[1],
		numClasses:  cs[2],
		maxObjects:  ns[1],
		probs:       probs,
		regressions: regs,
		annotations: annotations,
	}

	if in.batchSize < 1 {
		return nil, errors.Errorf("classifications: batch size must be >= 1, got %d", in.batchSize)
	}
	if in.numClasses < 1 {
		return nil, errors.Errorf("classifications: class count must be >= 1, got %d", in.numClasses)
	}

	checks := []struct {
		tensor    string
		dim       int
		want, got int
	}{
		{"regressions", 0, in.batchSize, rs[0]},
		{"regressions", 1, in.numAnchors, rs[1]},
		{"regressions", 2, encoder.Components, rs[2]},
		{"anchors", 2, encoder.Components, as[2]},
		{"annotations", 0, in.batchSize, ns[0]},
		{"annotations", 2, matching.AnnotationWidth, ns[2]},
	}
	for _, c := range checks {
		if c.want != c.got {
			return nil, &ShapeError{Tensor: c.tensor, Dim: c.dim, Want: c.want, Got: c.got}
		}
	}
	if as[0] != 1 && as[0] != in.batchSize {
		return nil, &ShapeError{Tensor: "anchors", Dim: 0, Want: in.batchSize, Got: as[0]}
	}

	views := 1
	if cfg.ViewMode == ViewModeMultiView {
		views = cfg.Views
	}
	if as[1]*views != in.numAnchors {
		return nil, &ShapeError{Tensor: "anchors", Dim: 1, Want: in.numAnchors / views, Got: as[1]}
	}

	in.anchors, err = newAnchorSet(anchors[:as[1]*encoder.Components], views)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// newAnchorSet decodes the anchor template and tiles it views times.
func newAnchorSet(template []float32, views int) (*AnchorSet, error) {
	n := len(template) / encoder.Components
	set := &AnchorSet{Boxes: make([]boxes.Box, 0, n*views)}

	for i := 0; i < n; i++ {
		row := template[i*encoder.Components : (i+1)*encoder.Components]
		a := boxes.Box{CX: row[0], CY: row[1], W: row[2], H: row[3], Angle: row[4]}
		if !(a.W > 0 && a.H > 0) {
			return nil, errors.Errorf("anchors: anchor %d must have positive width and height, got %v", i, a)
		}
		set.Boxes = append(set.Boxes, a)
	}
	for v := 1; v < views; v++ {
		set.Boxes = append(set.Boxes, set.Boxes[:n]...)
	}
	return set, nil
}
