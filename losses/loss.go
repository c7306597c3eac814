package losses

import (
	"log"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/matching"
	"github.com/nvr-ai/go-detloss/metrics"
)

// Recorder receives timings and scalar metrics from a forward pass.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// StartOperation begins timing name and returns the function that stops it.
	StartOperation(name string) func()
	// RecordMetric stores a named scalar.
	RecordMetric(name string, value float64)
}

// ImageLoss holds the three scalars of one image.
type ImageLoss struct {
	Classification float64 `json:"classification" yaml:"classification"`
	Regression     float64 `json:"regression" yaml:"regression"`
	ThreatScore    float64 `json:"threat_score" yaml:"threat_score"`

	Annotations int `json:"annotations" yaml:"annotations"`
	Positives   int `json:"positives" yaml:"positives"`
	Negatives   int `json:"negatives" yaml:"negatives"`
	Ignored     int `json:"ignored" yaml:"ignored"`
}

// Result is the batch-level output of a forward pass.
type Result struct {
	// Classification, Regression and ThreatScore are unweighted means over images.
	Classification float64 `json:"classification" yaml:"classification"`
	Regression     float64 `json:"regression" yaml:"regression"`
	ThreatScore    float64 `json:"threat_score" yaml:"threat_score"`
	// Images holds the per-image scalars in batch order.
	Images []ImageLoss `json:"images" yaml:"images"`
}

// Aggregate averages per-image scalars with equal weight per image.
// An empty slice aggregates to zeros.
func Aggregate(images []ImageLoss) Result {
	r := Result{Images: images}
	if len(images) == 0 {
		return r
	}

	cls := make([]float64, len(images))
	reg := make([]float64, len(images))
	ts := make([]float64, len(images))
	for j, im := range images {
		cls[j] = im.Classification
		reg[j] = im.Regression
		ts[j] = im.ThreatScore
	}
	r.Classification = stat.Mean(cls, nil)
	r.Regression = stat.Mean(reg, nil)
	r.ThreatScore = stat.Mean(ts, nil)
	return r
}

// FocalLoss computes focal classification loss, smooth regression loss and an
// inline threat score for anchor-based detector outputs.
type FocalLoss struct {
	cfg    Config
	device compute.Device
	scorer metrics.ThreatScorer

	// Recorder, when set, receives per-pass timings and loss scalars.
	Recorder Recorder
}

// NewFocalLoss validates cfg and builds its scheduling device.
//
// Arguments:
//   - cfg: The loss configuration.
//
// Returns:
//   - *FocalLoss: The loss, ready for Forward.
//   - error: An error if cfg is invalid.
//
// @example
// loss, err := NewFocalLoss(DefaultConfig())
// res, err := loss.Forward(&Batch{...})
// fmt.Println(res.Classification, res.Regression, res.ThreatScore)
func NewFocalLoss(cfg Config) (*FocalLoss, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid loss config")
	}
	device, err := compute.NewDevice(cfg.Device)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create device")
	}
	return &FocalLoss{
		cfg:    cfg,
		device: device,
		// Images already run in parallel on device.
		scorer: metrics.ThreatScorer{
			Thresholds: cfg.ThreatThresholds,
			Corners:    boxes.CornersAxisAligned,
			Device:     compute.Serial{},
		},
	}, nil
}

// Config returns the configuration the loss was built with.
func (l *FocalLoss) Config() Config {
	return l.cfg
}

// Forward computes per-image losses for a batch and their unweighted mean.
//
// Images are independent; they are scheduled on the configured device and the
// result does not depend on the backend.
//
// Arguments:
//   - b: The batch tensors.
//
// Returns:
//   - *Result: Batch means and per-image scalars.
//   - error: A *ShapeError for misaligned tensors, or an error for a wrong
//     dtype, a degenerate anchor, or an out-of-range class label.
func (l *FocalLoss) Forward(b *Batch) (*Result, error) {
	defer l.startOperation("forward")()

	in, err := b.unpack(l.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid batch")
	}

	images := make([]ImageLoss, in.batchSize)
	err = l.device.Run(in.batchSize, func(j int) error {
		im, err := l.image(in, j)
		if err != nil {
			return errors.Wrapf(err, "image %d", j)
		}
		images[j] = im
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := Aggregate(images)
	l.recordMetric("loss/classification", res.Classification)
	l.recordMetric("loss/regression", res.Regression)
	l.recordMetric("loss/threat_score", res.ThreatScore)
	return &res, nil
}

// image computes the three scalars of batch entry j.
func (l *FocalLoss) image(in *inputs, j int) (ImageLoss, error) {
	annotations, err := matching.FilterPadding(in.imageAnnotations(j))
	if err != nil {
		return ImageLoss{}, err
	}
	for k, a := range annotations {
		if a.Class < 0 || a.Class >= in.numClasses {
			return ImageLoss{}, errors.Errorf("annotation %d has class %d outside [0, %d)", k, a.Class, in.numClasses)
		}
	}

	out := ImageLoss{Annotations: len(annotations)}
	if len(annotations) == 0 {
		return out, nil
	}

	anchors := in.anchors.Boxes
	assign := matching.Match(anchors, annotations)
	targets, err := matching.ClassTargets(assign, annotations, in.numClasses, l.cfg.Thresholds)
	if err != nil {
		return ImageLoss{}, err
	}
	out.Positives = len(targets.Positives)
	out.Negatives = targets.Negatives
	out.Ignored = targets.Ignored()

	out.Classification = ClassificationLoss(in.imageProbs(j), targets, l.cfg)
	if out.Positives == 0 {
		return out, nil
	}

	regs := in.imageRegressions(j)
	pred := make([]encoder.Delta, out.Positives)
	want := make([]encoder.Delta, out.Positives)
	for k, i := range targets.Positives {
		copy(pred[k][:], regs[i*encoder.Components:(i+1)*encoder.Components])
		want[k] = l.cfg.Encoder.Encode(anchors[i], annotations[assign.BestIndex[i]].Box)
	}
	out.Regression = RegressionLoss(pred, want, l.cfg.SmoothBeta)

	out.ThreatScore, err = l.threatScore(anchors, targets.Positives, pred, want)
	if err != nil {
		return ImageLoss{}, err
	}
	return out, nil
}

// ImageTargets pairs the probabilities of one image with its classification targets.
type ImageTargets struct {
	// Probs holds row-major [anchors, classes] probabilities.
	Probs []float32
	// Targets is nil for an image without annotations.
	Targets *matching.Targets
}

// Targets runs matching for every image of b without computing losses.
//
// Arguments:
//   - b: The batch tensors.
//
// Returns:
//   - []ImageTargets: One entry per image, in batch order.
//   - error: The same validation errors as Forward.
func (l *FocalLoss) Targets(b *Batch) ([]ImageTargets, error) {
	in, err := b.unpack(l.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid batch")
	}

	out := make([]ImageTargets, in.batchSize)
	for j := range out {
		out[j].Probs = in.imageProbs(j)

		annotations, err := matching.FilterPadding(in.imageAnnotations(j))
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
		if len(annotations) == 0 {
			continue
		}
		assign := matching.Match(in.anchors.Boxes, annotations)
		out[j].Targets, err = matching.ClassTargets(assign, annotations, in.numClasses, l.cfg.Thresholds)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", j)
		}
	}
	return out, nil
}

// threatScore compares predicted and target deltas of the positive anchors.
func (l *FocalLoss) threatScore(anchors []boxes.Box, positives []int, pred, want []encoder.Delta) (float64, error) {
	var pb, wb []boxes.Box
	switch l.cfg.ThreatSpace {
	case ThreatSpaceDisabled:
		return 0, nil
	case ThreatSpaceDeltas:
		pb = make([]boxes.Box, len(pred))
		wb = make([]boxes.Box, len(want))
		for k := range pred {
			pb[k] = pred[k].AsBox()
			wb[k] = want[k].AsBox()
		}
	default:
		pb = make([]boxes.Box, len(pred))
		wb = make([]boxes.Box, len(want))
		for k, i := range positives {
			pb[k] = l.cfg.Encoder.Decode(anchors[i], pred[k])
			wb[k] = l.cfg.Encoder.Decode(anchors[i], want[k])
			pb[k].Angle, wb[k].Angle = 0, 0
		}
	}
	return l.scorer.Score(pb, wb)
}

func (l *FocalLoss) startOperation(name string) func() {
	if l.Recorder == nil {
		return func() {}
	}
	return l.Recorder.StartOperation(name)
}

func (l *FocalLoss) recordMetric(name string, value float64) {
	if l.Recorder == nil {
		return
	}
	l.Recorder.RecordMetric(name, value)
}

// LogResult prints a one-line summary of r.
func LogResult(r *Result) {
	log.Printf("loss: classification=%.6f regression=%.6f threat=%.4f images=%d",
		r.Classification, r.Regression, r.ThreatScore, len(r.Images))
}
