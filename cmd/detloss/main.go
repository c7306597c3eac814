// Command detloss evaluates detector outputs offline: batch losses, average
// threat score between two box sets, and road-map threat score between masks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
	"github.com/nvr-ai/go-detloss/grad"
	"github.com/nvr-ai/go-detloss/images"
	"github.com/nvr-ai/go-detloss/losses"
	"github.com/nvr-ai/go-detloss/metrics"
	"github.com/nvr-ai/go-detloss/profiler"
)

const usage = `usage: detloss <command> [flags]

commands:
  eval     compute focal, regression and threat losses for a batch fixture
  ats      compute the average threat score between two box files
  roadmap  compute the threat score between two road-map images
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	runID := uuid.New()
	log.SetPrefix(fmt.Sprintf("[%s] ", runID.String()[:8]))

	var err error
	switch cmd := os.Args[1]; cmd {
	case "eval":
		err = runEval(runID, os.Args[2:])
	case "ats":
		err = runATS(runID, os.Args[2:])
	case "roadmap":
		err = runRoadMap(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func runEval(runID uuid.UUID, args []string) error {
	var (
		configPath string
		batchPath  string
		outPath    string
		plotPath   string
		workers    int
		withGrad   bool
		profile    bool
	)
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to a loss config (.yaml or .json); defaults when empty")
	fs.StringVar(&batchPath, "batch", "", "Path to a batch fixture (.yaml or .json)")
	fs.StringVar(&outPath, "out", "", "Write the result as YAML to this path")
	fs.StringVar(&plotPath, "plot", "", "Save a per-image loss plot (.png, .svg or .pdf)")
	fs.IntVar(&workers, "workers", -1, "Override the device: 0 for GOMAXPROCS workers, >0 for a fixed pool")
	fs.BoolVar(&withGrad, "grad", false, "Also differentiate the classification loss and report gradient norms")
	fs.BoolVar(&profile, "profile", false, "Log operation timings and loss statistics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if batchPath == "" {
		return errors.New("-batch is required")
	}

	cfg := losses.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = losses.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if workers >= 0 {
		cfg.Device = compute.Config{Backend: compute.BackendParallel, Workers: workers}
	}

	loss, err := losses.NewFocalLoss(cfg)
	if err != nil {
		return err
	}

	var prof *profiler.Profiler
	if profile {
		prof = profiler.New(profiler.Options{ReportInterval: 5 * time.Second})
		prof.Start(context.Background())
		defer func() {
			prof.Stop()
			prof.LogReport()
		}()
		loss.Recorder = prof
	}

	batch, err := loadBatch(batchPath)
	if err != nil {
		return err
	}

	res, err := loss.Forward(batch)
	if err != nil {
		return err
	}
	for j, im := range res.Images {
		log.Printf("image %d: annotations=%d positives=%d negatives=%d ignored=%d cls=%.6f reg=%.6f ts=%.4f",
			j, im.Annotations, im.Positives, im.Negatives, im.Ignored, im.Classification, im.Regression, im.ThreatScore)
	}
	losses.LogResult(res)

	if withGrad {
		if err := logGradients(loss, batch, prof); err != nil {
			return err
		}
	}

	if outPath != "" {
		data, err := yaml.Marshal(struct {
			RunID  string         `yaml:"run_id"`
			Config losses.Config  `yaml:"config"`
			Result *losses.Result `yaml:"result"`
		}{runID.String(), cfg, res})
		if err != nil {
			return errors.Wrap(err, "failed to encode result")
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return errors.Wrap(err, "failed to write result")
		}
		log.Printf("result written to %s", outPath)
	}

	if plotPath != "" {
		if err := plotLosses(res, runID.String(), plotPath); err != nil {
			return err
		}
		log.Printf("plot written to %s", plotPath)
	}
	return nil
}

func logGradients(loss *losses.FocalLoss, batch *losses.Batch, prof *profiler.Profiler) error {
	if prof != nil {
		defer prof.StartOperation("gradient")()
	}

	targets, err := loss.Targets(batch)
	if err != nil {
		return err
	}
	results, err := grad.Batch(targets, loss.Config())
	if err != nil {
		return err
	}
	for j, r := range results {
		if r == nil {
			log.Printf("image %d: no annotations, no gradient", j)
			continue
		}
		g := make([]float64, len(r.Gradient))
		for k, v := range r.Gradient {
			g[k] = float64(v)
		}
		log.Printf("image %d: autodiff loss=%.6f |grad|=%.6f max|grad|=%.6f",
			j, r.Loss, floats.Norm(g, 2), floats.Norm(g, math.Inf(1)))
	}
	return nil
}

func runATS(runID uuid.UUID, args []string) error {
	var (
		predPath   string
		gtPath     string
		thresholds string
		plotPath   string
		rotated    bool
		workers    int
	)
	fs := flag.NewFlagSet("ats", flag.ExitOnError)
	fs.StringVar(&predPath, "pred", "", "Path to predicted boxes (.yaml or .json)")
	fs.StringVar(&gtPath, "gt", "", "Path to ground-truth boxes (.yaml or .json)")
	fs.StringVar(&thresholds, "thresholds", "", "Comma-separated IoU thresholds (default 0.5,0.6,0.7,0.8,0.9)")
	fs.StringVar(&plotPath, "plot", "", "Save a threshold curve plot (.png, .svg or .pdf)")
	fs.BoolVar(&rotated, "rotated", false, "Rotate box corners by their angle before computing IoU")
	fs.IntVar(&workers, "workers", 1, "Narrow-phase workers (1 runs serially, 0 uses GOMAXPROCS)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if predPath == "" || gtPath == "" {
		return errors.New("-pred and -gt are required")
	}

	pred, err := loadBoxes(predPath)
	if err != nil {
		return err
	}
	gt, err := loadBoxes(gtPath)
	if err != nil {
		return err
	}

	scorer := metrics.ThreatScorer{Corners: boxes.CornersAxisAligned}
	if rotated {
		scorer.Corners = boxes.CornersRotated
	}
	if thresholds != "" {
		if scorer.Thresholds, err = parseThresholds(thresholds); err != nil {
			return err
		}
	}
	if workers != 1 {
		if scorer.Device, err = compute.NewDevice(compute.Config{Backend: compute.BackendParallel, Workers: workers}); err != nil {
			return err
		}
	}
	if err := scorer.Validate(); err != nil {
		return err
	}

	r, err := scorer.Report(pred, gt)
	if err != nil {
		return err
	}
	for _, ts := range r.Thresholds {
		log.Printf("threshold %.2f: tp=%d score=%.4f", ts.Threshold, ts.TruePositives, ts.Score)
	}
	log.Printf("ats: pred=%d gt=%d candidates=%d average=%.4f", len(pred), len(gt), r.Candidates, r.Average)

	if plotPath != "" {
		if err := plotThreat(r, runID.String(), plotPath); err != nil {
			return err
		}
		log.Printf("plot written to %s", plotPath)
	}
	return nil
}

func parseThresholds(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid threshold %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func runRoadMap(args []string) error {
	var (
		predPath  string
		gtPath    string
		threshold uint
		resize    bool
	)
	fs := flag.NewFlagSet("roadmap", flag.ExitOnError)
	fs.StringVar(&predPath, "pred", "", "Predicted road-map image, or a directory of frame-<n> images")
	fs.StringVar(&gtPath, "gt", "", "Ground-truth road-map image, or a directory of frame-<n> images")
	fs.UintVar(&threshold, "threshold", uint(images.DefaultThreshold), "Gray level at or above which a pixel is road")
	fs.BoolVar(&resize, "resize", false, "Resample predictions to the ground-truth size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if predPath == "" || gtPath == "" {
		return errors.New("-pred and -gt are required")
	}
	if threshold > 255 {
		return errors.Errorf("threshold must be <= 255, got %d", threshold)
	}

	info, err := os.Stat(predPath)
	if err != nil {
		return errors.Wrap(err, "failed to stat -pred")
	}
	if info.IsDir() {
		return runRoadMapSequence(predPath, gtPath, uint8(threshold), resize)
	}

	pred, err := images.LoadMask(predPath, uint8(threshold))
	if err != nil {
		return err
	}
	gt, err := images.LoadMask(gtPath, uint8(threshold))
	if err != nil {
		return err
	}

	score := metrics.RoadMapThreatScore
	if resize {
		score = metrics.RoadMapThreatScoreResized
	}
	ts, err := score(pred, gt)
	if err != nil {
		return err
	}
	log.Printf("roadmap: %dx%d pred=%d gt=%d threat=%.4f", gt.Width, gt.Height, pred.Count(), gt.Count(), ts)
	return nil
}

// runRoadMapSequence pairs frames of two directories by frame number.
func runRoadMapSequence(predDir, gtDir string, threshold uint8, resize bool) error {
	predFiles, err := images.LoadMaskDirectory(predDir, threshold)
	if err != nil {
		return err
	}
	gtFiles, err := images.LoadMaskDirectory(gtDir, threshold)
	if err != nil {
		return err
	}

	byFrame := make(map[int]*images.Mask, len(gtFiles))
	for _, f := range gtFiles {
		byFrame[f.Frame] = f.Mask
	}

	var pred, gt []*images.Mask
	var frames []int
	for _, f := range predFiles {
		m, ok := byFrame[f.Frame]
		if !ok {
			log.Printf("roadmap: frame %d has no ground truth, skipping", f.Frame)
			continue
		}
		pred = append(pred, f.Mask)
		gt = append(gt, m)
		frames = append(frames, f.Frame)
	}
	if len(frames) == 0 {
		return errors.Errorf("no frames in common between %s and %s", predDir, gtDir)
	}

	scores, mean, err := metrics.RoadMapSequence(pred, gt, resize)
	if err != nil {
		return err
	}
	for i, ts := range scores {
		log.Printf("roadmap: frame %d threat=%.4f", frames[i], ts)
	}
	log.Printf("roadmap: frames=%d mean threat=%.4f", len(frames), mean)
	return nil
}
