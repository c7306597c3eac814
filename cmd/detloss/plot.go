package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/nvr-ai/go-detloss/losses"
	"github.com/nvr-ai/go-detloss/metrics"
)

// plotLosses draws the per-image loss scalars against batch index.
func plotLosses(res *losses.Result, runID, path string) error {
	cls := make(plotter.XYs, len(res.Images))
	reg := make(plotter.XYs, len(res.Images))
	ts := make(plotter.XYs, len(res.Images))
	for j, im := range res.Images {
		x := float64(j)
		cls[j] = plotter.XY{X: x, Y: im.Classification}
		reg[j] = plotter.XY{X: x, Y: im.Regression}
		ts[j] = plotter.XY{X: x, Y: im.ThreatScore}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Per-image loss (run %s)", runID)
	p.X.Label.Text = "image"
	p.Y.Label.Text = "value"
	if err := plotutil.AddLinePoints(p, "classification", cls, "regression", reg, "threat score", ts); err != nil {
		return errors.Wrap(err, "failed to add loss lines")
	}
	return savePlot(p, path)
}

// plotThreat draws the threat score at each IoU threshold with the weighted average.
func plotThreat(r metrics.Report, runID, path string) error {
	pts := make(plotter.XYs, len(r.Thresholds))
	for k, ts := range r.Thresholds {
		pts[k] = plotter.XY{X: ts.Threshold, Y: ts.Score}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Threat score by IoU threshold (run %s)", runID)
	p.X.Label.Text = "IoU threshold"
	p.Y.Label.Text = "threat score"
	p.Y.Min, p.Y.Max = 0, 1

	if err := plotutil.AddLinePoints(p, "per threshold", pts); err != nil {
		return errors.Wrap(err, "failed to add threshold line")
	}

	if len(pts) > 0 {
		avg, err := plotter.NewLine(plotter.XYs{
			{X: pts[0].X, Y: r.Average},
			{X: pts[len(pts)-1].X, Y: r.Average},
		})
		if err != nil {
			return errors.Wrap(err, "failed to create average line")
		}
		avg.Width = vg.Points(1)
		avg.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(avg)
		p.Legend.Add("weighted average", avg)
	}
	return savePlot(p, path)
}

func savePlot(p *plot.Plot, path string) error {
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot %s", path)
	}
	return nil
}
