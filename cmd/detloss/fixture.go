package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/losses"
	"github.com/nvr-ai/go-detloss/matching"
)

// batchFixture is the on-disk form of a forward-pass input. Annotation lists
// may differ in length per image; they are padded to a common capacity.
type batchFixture struct {
	Anchors [][]float32    `json:"anchors" yaml:"anchors"`
	Images  []imageFixture `json:"images" yaml:"images"`
}

type imageFixture struct {
	Classifications [][]float32 `json:"classifications" yaml:"classifications"`
	Regressions     [][]float32 `json:"regressions" yaml:"regressions"`
	Annotations     [][]float32 `json:"annotations" yaml:"annotations"`
}

// readFixture decodes a YAML or JSON file into v.
func readFixture(path string, v any) error {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", clean)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to parse %s", clean)
	}
	return nil
}

// loadBatch reads a batch fixture and converts it to tensors.
func loadBatch(path string) (*losses.Batch, error) {
	var f batchFixture
	if err := readFixture(path, &f); err != nil {
		return nil, err
	}
	return f.batch()
}

// flatten concatenates rows that must all have width values.
func flatten(name string, rows [][]float32, width int, dst []float32) ([]float32, error) {
	for i, row := range rows {
		if len(row) != width {
			return nil, errors.Errorf("%s row %d has %d values, want %d", name, i, len(row), width)
		}
		dst = append(dst, row...)
	}
	return dst, nil
}

func (f *batchFixture) batch() (*losses.Batch, error) {
	if len(f.Images) == 0 {
		return nil, errors.New("fixture has no images")
	}
	if len(f.Images[0].Classifications) == 0 || len(f.Images[0].Classifications[0]) == 0 {
		return nil, errors.New("fixture image 0 has no classifications")
	}

	b := len(f.Images)
	a := len(f.Images[0].Classifications)
	c := len(f.Images[0].Classifications[0])
	m := 1
	for _, im := range f.Images {
		m = max(m, len(im.Annotations))
	}

	if len(f.Anchors) == 0 {
		return nil, errors.New("fixture has no anchors")
	}
	anchors, err := flatten("anchors", f.Anchors, encoder.Components, nil)
	if err != nil {
		return nil, err
	}

	var cls, regs, anns []float32
	for j, im := range f.Images {
		if len(im.Classifications) != a || len(im.Regressions) != a {
			return nil, errors.Errorf("image %d: want %d classification and regression rows, got %d and %d",
				j, a, len(im.Classifications), len(im.Regressions))
		}
		if cls, err = flatten("classifications", im.Classifications, c, cls); err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
		if regs, err = flatten("regressions", im.Regressions, encoder.Components, regs); err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
		if anns, err = flatten("annotations", im.Annotations, matching.AnnotationWidth, anns); err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
		for pad := len(im.Annotations); pad < m; pad++ {
			anns = append(anns, 0, 0, 0, 0, 0, matching.PaddingLabel)
		}
	}

	return &losses.Batch{
		Classifications: tensor.New(tensor.WithShape(b, a, c), tensor.WithBacking(cls)),
		Regressions:     tensor.New(tensor.WithShape(b, a, encoder.Components), tensor.WithBacking(regs)),
		Anchors:         tensor.New(tensor.WithShape(1, len(f.Anchors), encoder.Components), tensor.WithBacking(anchors)),
		Annotations:     tensor.New(tensor.WithShape(b, m, matching.AnnotationWidth), tensor.WithBacking(anns)),
	}, nil
}

// loadBoxes reads a list of [cx, cy, w, h] or [cx, cy, w, h, angle] rows.
func loadBoxes(path string) ([]boxes.Box, error) {
	var rows [][]float32
	if err := readFixture(path, &rows); err != nil {
		return nil, err
	}

	out := make([]boxes.Box, len(rows))
	for i, r := range rows {
		switch len(r) {
		case 5:
			out[i].Angle = r[4]
			fallthrough
		case 4:
			out[i].CX, out[i].CY, out[i].W, out[i].H = r[0], r[1], r[2], r[3]
		default:
			return nil, errors.Errorf("%s: box %d has %d values, want 4 or 5", path, i, len(r))
		}
	}
	return out, nil
}
