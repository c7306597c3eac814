// Package losses - Focal classification and smooth regression losses for anchor-based detectors.
package losses

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
	"github.com/nvr-ai/go-detloss/encoder"
	"github.com/nvr-ai/go-detloss/matching"
	"github.com/nvr-ai/go-detloss/metrics"
)

// ViewMode describes how the anchor template lines up with the prediction rows.
type ViewMode string

const (
	// ViewModeFused means predictions and anchors are one-to-one.
	ViewModeFused ViewMode = "fused"
	// ViewModeMultiView means predictions cover Views camera views and the
	// anchor template is tiled once per view.
	ViewModeMultiView ViewMode = "multiview"
)

// ThreatSpace selects what the inline threat score compares for positive anchors.
type ThreatSpace string

const (
	// ThreatSpaceDecoded decodes predictions and targets back into boxes through
	// their anchors and compares center and size.
	ThreatSpaceDecoded ThreatSpace = "decoded"
	// ThreatSpaceDeltas reads components 0..3 of the normalized deltas as boxes.
	ThreatSpaceDeltas ThreatSpace = "deltas"
	// ThreatSpaceDisabled skips the inline threat score and reports 0.
	ThreatSpaceDisabled ThreatSpace = "disabled"
)

// Config holds every constant of the loss computation.
type Config struct {
	// Alpha weights positive targets; negatives get 1 - Alpha.
	Alpha float32 `json:"alpha" yaml:"alpha"`
	// Gamma is the focal modulating exponent.
	Gamma float32 `json:"gamma" yaml:"gamma"`
	// Thresholds split anchors into negatives, ignored and positives.
	Thresholds matching.Thresholds `json:"thresholds" yaml:"thresholds"`
	// ProbabilityEpsilon clamps probabilities to [eps, 1-eps] before taking logs.
	ProbabilityEpsilon float32 `json:"probability_epsilon" yaml:"probability_epsilon"`
	// Encoder converts matched boxes into regression targets.
	Encoder encoder.Encoder `json:"encoder" yaml:"encoder"`
	// SmoothBeta is the quadratic/linear breakpoint of the regression loss.
	SmoothBeta float32 `json:"smooth_beta" yaml:"smooth_beta"`
	// ThreatThresholds are the IoU thresholds of the inline threat score.
	ThreatThresholds []float64 `json:"threat_thresholds" yaml:"threat_thresholds"`
	// ThreatSpace selects the inline threat comparison.
	ThreatSpace ThreatSpace `json:"threat_space" yaml:"threat_space"`
	// ViewMode selects anchor replication.
	ViewMode ViewMode `json:"view_mode" yaml:"view_mode"`
	// Views is the number of views for ViewModeMultiView.
	Views int `json:"views" yaml:"views"`
	// Device selects how images of a batch are scheduled.
	Device compute.Config `json:"device" yaml:"device"`
}

// DefaultConfig returns the standard RetinaNet-style constants.
//
// Returns:
//   - Config: alpha 0.25, gamma 2, thresholds 0.5/0.4, epsilon 1e-4,
//     scale (0.1, 0.1, 0.2, 0.2, 1), beta 1/9, fused anchors, serial device.
//
// @example
// cfg := DefaultConfig()
// cfg.Device.Backend = compute.BackendParallel
// loss, err := NewFocalLoss(cfg)
func DefaultConfig() Config {
	return Config{
		Alpha:              0.25,
		Gamma:              2.0,
		Thresholds:         matching.DefaultThresholds(),
		ProbabilityEpsilon: 1e-4,
		Encoder:            encoder.DefaultEncoder(),
		SmoothBeta:         1.0 / 9.0,
		ThreatThresholds:   append([]float64(nil), metrics.DefaultThresholds...),
		ThreatSpace:        ThreatSpaceDecoded,
		ViewMode:           ViewModeFused,
		Views:              6,
		Device:             compute.Config{Backend: compute.BackendSerial},
	}
}

// Validate checks that the configuration describes a well-defined loss.
func (c Config) Validate() error {
	if !(c.Alpha >= 0 && c.Alpha <= 1) {
		return errors.Errorf("alpha must lie in [0, 1], got %v", c.Alpha)
	}
	if !(c.Gamma >= 0) {
		return errors.Errorf("gamma must be >= 0, got %v", c.Gamma)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return errors.Wrap(err, "invalid thresholds")
	}
	if !(c.ProbabilityEpsilon > 0 && c.ProbabilityEpsilon < 0.5) {
		return errors.Errorf("probability_epsilon must lie in (0, 0.5), got %v", c.ProbabilityEpsilon)
	}
	if err := c.Encoder.Validate(); err != nil {
		return errors.Wrap(err, "invalid encoder")
	}
	if !(c.SmoothBeta > 0) {
		return errors.Errorf("smooth_beta must be > 0, got %v", c.SmoothBeta)
	}
	scorer := metrics.ThreatScorer{Thresholds: c.ThreatThresholds, Corners: boxes.CornersAxisAligned}
	if err := scorer.Validate(); err != nil {
		return errors.Wrap(err, "invalid threat thresholds")
	}
	switch c.ThreatSpace {
	case ThreatSpaceDecoded, ThreatSpaceDeltas, ThreatSpaceDisabled:
	default:
		return errors.Errorf("unsupported threat_space: %q", c.ThreatSpace)
	}
	switch c.ViewMode {
	case ViewModeFused:
	case ViewModeMultiView:
		if c.Views < 1 {
			return errors.Errorf("views must be >= 1 for %s, got %d", ViewModeMultiView, c.Views)
		}
	default:
		return errors.Errorf("unsupported view_mode: %q", c.ViewMode)
	}
	return nil
}

// LoadConfig reads a YAML (or JSON) file on top of DefaultConfig.
// Fields omitted from the file keep their default values.
//
// Arguments:
//   - path: Path to a .yaml, .yml or .json file.
//
// Returns:
//   - Config: The merged and validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	clean := filepath.Clean(path)
	switch ext := filepath.Ext(clean); ext {
	case ".yaml", ".yml", ".json":
	default:
		return cfg, errors.Errorf("config file must be .yaml, .yml or .json, got %q", ext)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %s", clean)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", clean)
	}
	return cfg, nil
}
