/*
Copyright © 2021 the PYRITE authors.
This file is part of PYRITE.

PYRITE is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PYRITE is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PYRITE.  If not, see <http://www.gnu.org/licenses/>.
*/


package plots

import (
	"fmt"
	"image/color"
	"math"

	"github.com/spatialmodel/pyrite"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// iterationLine returns a line with points of v against iteration number.
func iterationLine(p *plot.Plot, v []float64) error {
	xys := make(plotter.XYs, len(v))
	for i, y := range v {
		xys[i].X, xys[i].Y = float64(i), y
	}
	l, s, err := plotter.NewLinePoints(xys)
	if err != nil {
		return err
	}
	l.Color = blue
	s.Color = blue
	s.Radius = vg.Points(1.5)
	p.Add(l, s)
	logIfPositive(p, v)
	return nil
}

// Convergence draws the maximum relative change of the state at each
// iteration of r.
func Convergence(r *pyrite.Run, fileName string) error {
	p := plot.New()
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Maximum relative change"
	if err := iterationLine(p, r.Convergence); err != nil {
		return fmt.Errorf("plots: convergence: %v", err)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}})
}

// Cost draws the cost function at each iteration of r.
func Cost(r *pyrite.Run, fileName string) error {
	p := plot.New()
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Cost"
	if err := iterationLine(p, r.Cost); err != nil {
		return fmt.Errorf("plots: cost: %v", err)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}})
}

// Params draws the prior and posterior estimates of each parameter of
// m in run r. If targets is not nil, the values the pseudo-data of a
// twin experiment were generated with are marked.
func Params(m *pyrite.Model, r *pyrite.Run, targets map[string]pyrite.ParamEstimate, fileName string) error {
	const cols = 4
	nRows := (len(m.Params) + cols - 1) / cols
	rows := make([][]*plot.Plot, nRows)
	for i := range rows {
		rows[i] = make([]*plot.Plot, cols)
	}
	for i, param := range m.Params {
		p, err := paramPlot(param, r.Params[param.Name], targets)
		if err != nil {
			return fmt.Errorf("plots: %s: %v", param.Name, err)
		}
		rows[i/cols][i%cols] = p
	}
	for i := len(m.Params); i < nRows*cols; i++ {
		p := plot.New()
		p.HideAxes()
		rows[i/cols][i%cols] = p
	}
	return save(fileName, figWidth*1.4, figHeight*vg.Length(nRows)/1.5, rows)
}

func paramPlot(param pyrite.Param, est pyrite.ParamEstimate, targets map[string]pyrite.ParamEstimate) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = param.Name
	type point struct {
		label string
		e     pyrite.Estimate
		c     color.Color
		x     float64
	}
	pts := []point{{label: "Prior", e: pyrite.Estimate{Est: param.Prior, Err: param.PriorErr}, c: blue}}
	if param.DepthVarying {
		for i, z := range pyrite.ZoneNames {
			pts = append(pts, point{label: z, e: est.At(z), c: []color.Color{green, orange}[i]})
		}
	} else {
		pts = append(pts, point{label: "Posterior", e: est.Estimate, c: radish})
	}
	names := make([]string, len(pts))
	for i := range pts {
		pts[i].x = float64(i)
		names[i] = pts[i].label
		e := yErrPoints{
			XYs:     plotter.XYs{{X: pts[i].x, Y: pts[i].e.Est}},
			YErrors: plotter.YErrors{{Low: -pts[i].e.Err, High: pts[i].e.Err}},
		}
		s, err := plotter.NewScatter(e)
		if err != nil {
			return nil, err
		}
		s.Color = pts[i].c
		s.Radius = vg.Points(3)
		s.Shape = draw.CircleGlyph{}
		bars, err := plotter.NewYErrorBars(e)
		if err != nil {
			return nil, err
		}
		bars.Color = pts[i].c
		bars.CapWidth = vg.Points(6)
		p.Add(bars, s)
		if targets == nil || i == 0 {
			continue
		}
		target, ok := targets[param.Name]
		if !ok {
			continue
		}
		tv := target.Estimate.Est
		if param.DepthVarying {
			tv = target.At(pts[i].label).Est
		}
		ts, err := plotter.NewScatter(plotter.XYs{{X: pts[i].x + 0.3, Y: tv}})
		if err != nil {
			return nil, err
		}
		ts.Color = pts[i].c
		ts.Shape = draw.PlusGlyph{}
		ts.Radius = vg.Points(4)
		p.Add(ts)
	}
	p.NominalX(names...)
	p.X.Min, p.X.Max = -0.5, float64(len(pts))-0.5
	return p, nil
}

// Profiles draws the observed, prior, and posterior POC concentrations
// of run r. A panel of total POC is added if the model has a total POC
// constraint.
func Profiles(m *pyrite.Model, r *pyrite.Run, fileName string) error {
	depths := m.Grid.Depths()
	var row []*plot.Plot
	for _, t := range m.Tracers {
		p := depthPlot(t.Name+" (mmol m⁻³)", m.Grid.Boundary)
		obsX := make([]float64, len(t.Observations))
		obsErr := make([]float64, len(t.Observations))
		obsY := make([]float64, len(t.Observations))
		for i, o := range t.Observations {
			obsX[i], obsErr[i], obsY[i] = o.Conc, o.ConcErr, o.Depth
		}
		if err := addXErrors(p, newXErrPoints(obsX, obsErr, obsY), blue, draw.TriangleGlyph{}, "Data"); err != nil {
			return fmt.Errorf("plots: %s data: %v", t.Name, err)
		}
		if err := addXErrors(p, newXErrPoints(t.Prior, t.PriorErr, depths), sky, draw.CircleGlyph{}, "OI"); err != nil {
			return fmt.Errorf("plots: %s prior: %v", t.Name, err)
		}
		est := r.Tracers[t.Name]
		if err := addXErrors(p, newXErrPoints(est.Est, est.Err, depths), orange, draw.RingGlyph{}, "Estimate"); err != nil {
			return fmt.Errorf("plots: %s estimate: %v", t.Name, err)
		}
		row = append(row, p)
	}
	if m.Constraint != nil {
		p := depthPlot(pyrite.POCT+" (mmol m⁻³)", m.Grid.Boundary)
		sd := make([]float64, len(depths))
		for i := range sd {
			sd[i] = math.Sqrt(m.Constraint.Variance)
		}
		if err := addXErrors(p, newXErrPoints(m.Constraint.Profile, sd, depths), blue, draw.CircleGlyph{}, "Constraint"); err != nil {
			return fmt.Errorf("plots: %s constraint: %v", pyrite.POCT, err)
		}
		if err := addXErrors(p, newXErrPoints(r.Total.Est, r.Total.Err, depths), orange, draw.RingGlyph{}, "Estimate"); err != nil {
			return fmt.Errorf("plots: %s estimate: %v", pyrite.POCT, err)
		}
		row = append(row, p)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{row})
}

// histogram returns a probability density histogram of v.
func histogram(v []float64, xLabel string, bins int) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Probability density"
	h, err := plotter.NewHist(plotter.Values(v), bins)
	if err != nil {
		return nil, err
	}
	h.Normalize(1)
	h.FillColor = blue
	p.Add(h)
	return p, nil
}

// Residuals draws histograms of the normalized state and equation
// residuals of run r.
func Residuals(r *pyrite.Run, fileName string) error {
	x, err := histogram(r.XResids, "State residual / prior error", 20)
	if err != nil {
		return fmt.Errorf("plots: state residuals: %v", err)
	}
	f, err := histogram(r.FResids, "Equation residual / model error", 20)
	if err != nil {
		return fmt.Errorf("plots: equation residuals: %v", err)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{x, f}})
}

// fluxPlot draws the named flux profiles of run r on one plot.
func fluxPlot(m *pyrite.Model, r *pyrite.Run, names []string, xLabel string) (*plot.Plot, error) {
	depths := m.Grid.Depths()
	p := depthPlot(xLabel, m.Grid.Boundary)
	for i, name := range names {
		prof := m.FluxProfile(r, name)
		c := palette[i%len(palette)]
		if err := addXErrors(p, newXErrPoints(prof.Est, prof.Err, depths), c, draw.CircleGlyph{}, name); err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}
	}
	return p, nil
}

// SinkingFluxes draws the sinking fluxes of small, large, and total
// particles in run r.
func SinkingFluxes(m *pyrite.Model, r *pyrite.Run, fileName string) error {
	p, err := fluxPlot(m, r, []string{pyrite.SinkS, pyrite.SinkL, pyrite.SinkT}, "Sinking flux (mmol m⁻² d⁻¹)")
	if err != nil {
		return fmt.Errorf("plots: sinking fluxes: %v", err)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}})
}

// VolumetricFluxes draws, for each tracer, the profiles of the fluxes
// that act on it in run r.
func VolumetricFluxes(m *pyrite.Model, r *pyrite.Run, fileName string) error {
	var row []*plot.Plot
	for _, t := range m.Tracers {
		var names []string
		for _, f := range m.Fluxes() {
			for _, w := range f.WRT {
				if w == t.Name {
					names = append(names, f.Name)
				}
			}
		}
		p, err := fluxPlot(m, r, names, t.Name+" flux (mmol m⁻³ d⁻¹)")
		if err != nil {
			return fmt.Errorf("plots: %s fluxes: %v", t.Name, err)
		}
		row = append(row, p)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{row})
}

// Model draws every figure of each run of m into dir in the given
// format, followed by the figures that cover the whole model. If
// targets is not nil, m is the model of a twin experiment whose
// pseudo-data were generated with targets.
func Model(m *pyrite.Model, targets map[string]pyrite.ParamEstimate, dir, format string) error {
	twin := targets != nil
	if err := runFigures(m, targets, dir, format); err != nil {
		return err
	}
	if err := ParamComparison(m, targets, ModelFileName(dir, "param_comparison", twin, format)); err != nil {
		return err
	}
	if twin {
		return nil
	}
	if err := ZoneLengthScales(m, ModelFileName(dir, "zone_length_scales", false, format)); err != nil {
		return err
	}
	if c := m.Constraint; c != nil && len(c.Cp) > 0 {
		return CpRegression(c, ModelFileName(dir, "cp_Pt_regression", false, format))
	}
	return nil
}

func runFigures(m *pyrite.Model, targets map[string]pyrite.ParamEstimate, dir, format string) error {
	twin := targets != nil
	for _, r := range m.Runs {
		name := func(kind string) string { return FileName(dir, kind, r.Gamma, twin, format) }
		for _, fig := range []struct {
			kind string
			draw func(string) error
		}{
			{"conv", func(f string) error { return Convergence(r, f) }},
			{"cost", func(f string) error { return Cost(r, f) }},
			{"params", func(f string) error { return Params(m, r, targets, f) }},
			{"POCprofs", func(f string) error { return Profiles(m, r, f) }},
			{"pdfs", func(f string) error { return Residuals(r, f) }},
			{"sinkfluxes", func(f string) error { return SinkingFluxes(m, r, f) }},
			{"fluxes_volumetric", func(f string) error { return VolumetricFluxes(m, r, f) }},
			{"integrated_residuals", func(f string) error { return IntegratedResiduals(m, r, f) }},
		} {
			switch fig.kind {
			case "sinkfluxes", "fluxes_volumetric":
				if twin {
					continue
				}
			case "integrated_residuals":
				if r.IntegratedResids == nil {
					continue
				}
			}
			if err := fig.draw(name(fig.kind)); err != nil {
				return err
			}
		}
	}
	return nil
}
