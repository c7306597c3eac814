// Package grad - Focal classification loss gradients by automatic differentiation.
package grad

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detloss/losses"
	"github.com/nvr-ai/go-detloss/matching"
)

// Result is the classification loss of one image and its gradient.
type Result struct {
	// Loss equals losses.ClassificationLoss for the same inputs.
	Loss float32
	// Gradient is d Loss / d probability, row-major [anchors, classes].
	// Entries whose target is ignored are 0. The gradient is taken at the
	// clamped probabilities.
	Gradient []float32
}

// FocalLoss builds the focal classification loss of one image as an
// expression graph and differentiates it with respect to the probabilities.
//
// Arguments:
//   - probs: Row-major [anchors, classes] probabilities.
//   - targets: The ternary targets for the same image.
//   - cfg: Supplies Alpha, Gamma and ProbabilityEpsilon.
//
// Returns:
//   - *Result: The loss and its gradient.
//   - error: An error if the sizes disagree or the graph fails to run.
func FocalLoss(probs []float32, targets *matching.Targets, cfg losses.Config) (*Result, error) {
	if targets == nil || targets.NumClasses <= 0 {
		return nil, errors.New("targets must have a positive class count")
	}
	n := len(targets.Values)
	if len(probs) != n {
		return nil, errors.Errorf("probability count %d does not match target count %d", len(probs), n)
	}
	if n == 0 {
		return &Result{}, nil
	}
	rows, cols := n/targets.NumClasses, targets.NumClasses

	clamped := make([]float32, n)
	positive := make([]float32, n)
	negative := make([]float32, n)
	weight := make([]float32, n)
	exponent := make([]float32, n)
	ones := make([]float32, n)
	for k, t := range targets.Values {
		clamped[k] = losses.ClampProbability(probs[k], cfg.ProbabilityEpsilon)
		exponent[k] = cfg.Gamma
		ones[k] = 1
		switch t {
		case matching.TargetPositive:
			positive[k] = 1
			weight[k] = cfg.Alpha
		case matching.TargetNegative:
			negative[k] = 1
			weight[k] = 1 - cfg.Alpha
		default:
			// Ignored: negative branch with zero weight.
			negative[k] = 1
		}
	}

	g := G.NewGraph()
	matrix := func(name string, data []float32) *G.Node {
		v := tensor.New(tensor.WithShape(rows, cols), tensor.Of(tensor.Float32), tensor.WithBacking(data))
		return G.NewMatrix(g, tensor.Float32, G.WithShape(rows, cols), G.WithName(name), G.WithValue(v))
	}

	p := matrix("probs", clamped)
	pos := matrix("positive", positive)
	neg := matrix("negative", negative)
	w := matrix("alpha", weight)
	gamma := matrix("gamma", exponent)
	one := matrix("ones", ones)

	// q is 1-p for positives and p otherwise.
	oneMinusP := G.Must(G.Sub(one, p))
	q := G.Must(G.Add(G.Must(G.HadamardProd(pos, oneMinusP)), G.Must(G.HadamardProd(neg, p))))
	modulator := G.Must(G.Pow(q, gamma))

	logP := G.Must(G.Log(p))
	logOneMinusP := G.Must(G.Log(oneMinusP))
	bce := G.Must(G.Neg(G.Must(G.Add(G.Must(G.HadamardProd(pos, logP)), G.Must(G.HadamardProd(neg, logOneMinusP))))))

	terms := G.Must(G.HadamardProd(w, G.Must(G.HadamardProd(modulator, bce))))
	norm := G.NewScalar(g, tensor.Float32, G.WithName("positives"), G.WithValue(float32(max(1, len(targets.Positives)))))
	cost := G.Must(G.Div(G.Must(G.Sum(terms)), norm))

	grads, err := G.Grad(cost, p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to differentiate focal loss")
	}

	var costVal, gradVal G.Value
	G.Read(cost, &costVal)
	G.Read(grads[0], &gradVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "failed to run focal loss graph")
	}

	loss, ok := costVal.Data().(float32)
	if !ok {
		return nil, errors.Errorf("unexpected loss value %T", costVal.Data())
	}
	data, ok := gradVal.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected gradient value %T", gradVal.Data())
	}

	return &Result{
		Loss:     loss,
		Gradient: append([]float32(nil), data...),
	}, nil
}

// Batch differentiates the classification loss of every image. Images without
// annotations have no targets and yield a nil entry.
func Batch(images []losses.ImageTargets, cfg losses.Config) ([]*Result, error) {
	out := make([]*Result, len(images))
	for j, im := range images {
		if im.Targets == nil {
			continue
		}
		r, err := FocalLoss(im.Probs, im.Targets, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
		out[j] = r
	}
	return out, nil
}
