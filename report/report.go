// Package report draws PNG diagnostics for a workflow run.
package report

import (
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/scigo/onnxpipe/pkg/errors"
)

const size = 5 * vg.Inch

// SaveAgreementPlot scatters the original pipeline's predictions against
// the converted model's and draws the identity line. The file format
// follows the extension of path. A panic inside the plotting library is
// returned as *errors.PanicError.
func SaveAgreementPlot(path string, original []float64, converted []float32) error {
	return errors.SafeExecute("SaveAgreementPlot", func() error {
		return saveAgreement(path, original, converted)
	})
}

func saveAgreement(path string, original []float64, converted []float32) error {
	if len(original) != len(converted) {
		return errors.NewDimensionError("SaveAgreementPlot", len(original), len(converted), 0)
	}
	if len(original) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "SaveAgreementPlot")
	}

	pts := make(plotter.XYs, len(original))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range original {
		pts[i].X = original[i]
		pts[i].Y = float64(converted[i])
		lo = math.Min(lo, math.Min(pts[i].X, pts[i].Y))
		hi = math.Max(hi, math.Max(pts[i].X, pts[i].Y))
	}

	p := plot.New()
	p.Title.Text = "Original vs converted predictions"
	p.X.Label.Text = "pipeline (float64)"
	p.Y.Label.Text = "ONNX session (float32)"
	p.Add(plotter.NewGrid())

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "agreement scatter")
	}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(2)
	s.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "identity line")
	}
	identity.LineStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	identity.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}

	p.Add(s, identity)
	p.Legend.Add("records", s)
	p.Legend.Add("y = x", identity)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(size, size, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// SaveResidualPlot scatters residuals (yTrue - yPred) against predictions
// with a zero line.
func SaveResidualPlot(path string, yTrue, yPred []float64) error {
	return errors.SafeExecute("SaveResidualPlot", func() error {
		return saveResiduals(path, yTrue, yPred)
	})
}

func saveResiduals(path string, yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return errors.NewDimensionError("SaveResidualPlot", len(yTrue), len(yPred), 0)
	}
	if len(yTrue) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "SaveResidualPlot")
	}

	pts := make(plotter.XYs, len(yTrue))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range yTrue {
		pts[i].X = yPred[i]
		pts[i].Y = yTrue[i] - yPred[i]
		lo = math.Min(lo, yPred[i])
		hi = math.Max(hi, yPred[i])
	}

	p := plot.New()
	p.Title.Text = "Residuals on held-out records"
	p.X.Label.Text = "prediction"
	p.Y.Label.Text = "residual"
	p.Add(plotter.NewGrid())

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "residual scatter")
	}
	s.GlyphStyle.Radius = vg.Points(2)

	zero, err := plotter.NewLine(plotter.XYs{{X: lo, Y: 0}, {X: hi, Y: 0}})
	if err != nil {
		return errors.Wrap(err, "zero line")
	}
	zero.LineStyle.Width = vg.Points(1)

	p.Add(s, zero)
	if err := p.Save(size, size, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
