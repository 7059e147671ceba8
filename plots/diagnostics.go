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
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ZoneLengthScales draws, for each zone of m, the autocorrelation
// function of the total POC prior and the exponential decay with the
// zone's correlation length scale.
func ZoneLengthScales(m *pyrite.Model, fileName string) error {
	if len(m.Zones) == 0 {
		return fmt.Errorf("plots: zone length scales: the model has no zones")
	}
	var row []*plot.Plot
	for _, z := range m.Zones {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s: L = %.1f m, R² = %.2f", z.Name, z.LengthScale, z.LengthScaleR2)
		p.X.Label.Text = "Lag (m)"
		p.Y.Label.Text = "Autocorrelation"
		xys := make(plotter.XYs, len(z.Lags))
		for i := range xys {
			xys[i].X, xys[i].Y = z.Lags[i], z.Autocorrelation[i]
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("plots: %s length scale: %v", z.Name, err)
		}
		s.Color = blue
		s.Radius = vg.Points(2.5)
		L := z.LengthScale
		fit := plotter.NewFunction(func(lag float64) float64 { return math.Exp(-lag / L) })
		fit.Color = orange
		p.Add(s, fit)
		p.Legend.Add("ACF", s)
		p.Legend.Add("exp(-lag/L)", fit)
		p.Legend.Top = true
		p.X.Min, p.Y.Max = 0, 1
		if n := len(z.Lags); n > 0 {
			p.X.Max = z.Lags[n-1]
		}
		row = append(row, p)
	}
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{row})
}

// CpRegression draws the total POC samples against beam attenuation
// and the logarithmic fit that calibrates the total POC constraint c.
func CpRegression(c *pyrite.TotalPOC, fileName string) error {
	if c == nil || len(c.Cp) == 0 || len(c.Cp) != len(c.Pt) {
		return fmt.Errorf("plots: cp regression: no paired samples")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("POCT = %.2f + %.2f ln(cp), R² = %.2f", c.Intercept, c.Slope, c.R2)
	p.X.Label.Text = "cp (m⁻¹)"
	p.Y.Label.Text = "POCT (mmol m⁻³)"
	xys := make(plotter.XYs, len(c.Cp))
	for i := range xys {
		xys[i].X, xys[i].Y = c.Cp[i], c.Pt[i]
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("plots: cp regression: %v", err)
	}
	s.Color = blue
	s.Shape = draw.CircleGlyph{}
	s.Radius = vg.Points(2.5)
	fit := plotter.NewFunction(func(cp float64) float64 { return c.Intercept + c.Slope*math.Log(cp) })
	fit.XMin, fit.XMax = floats.Min(c.Cp), floats.Max(c.Cp)
	fit.Color = orange
	p.Add(s, fit)
	p.Legend.Add("Samples", s)
	p.Legend.Add("Fit", fit)
	p.Legend.Top = true
	p.Legend.Left = true
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}})
}

// IntegratedResiduals draws the depth-integrated residuals of each
// tracer in each zone of run r.
func IntegratedResiduals(m *pyrite.Model, r *pyrite.Run, fileName string) error {
	if r.IntegratedResids == nil {
		return fmt.Errorf("plots: integrated residuals: no budgets for the run with gamma %g", r.Gamma)
	}
	p := plot.New()
	p.Y.Label.Text = "Integrated residual (mmol m⁻²)"
	names := make([]string, len(m.Zones))
	for i, z := range m.Zones {
		names[i] = z.Name
	}
	w := vg.Points(24)
	for ti, t := range m.Tracers {
		vs := make(plotter.Values, len(m.Zones))
		for i, z := range m.Zones {
			vs[i] = r.IntegratedResids[z.Name][t.Name]
		}
		b, err := plotter.NewBarChart(vs, w)
		if err != nil {
			return fmt.Errorf("plots: %s integrated residuals: %v", t.Name, err)
		}
		b.Color = palette[ti%len(palette)]
		b.LineStyle.Width = 0
		b.Offset = w * vg.Length(2*ti-len(m.Tracers)+1) / 2
		p.Add(b)
		p.Legend.Add(t.Name, b)
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = black
	p.Add(zero)
	p.NominalX(names...)
	p.Legend.Top = true
	return save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}})
}

// ParamComparison draws the estimate of each parameter of m in every
// run, against the model error factor of the run. The prior is drawn
// as a dashed line and, if targets is not nil, the target of a twin
// experiment as a dotted line.
func ParamComparison(m *pyrite.Model, targets map[string]pyrite.ParamEstimate, fileName string) error {
	if len(m.Runs) == 0 {
		return fmt.Errorf("plots: parameter comparison: the model has no runs")
	}
	const cols = 4
	nRows := (len(m.Params) + cols - 1) / cols
	rows := make([][]*plot.Plot, nRows)
	for i := range rows {
		rows[i] = make([]*plot.Plot, cols)
	}
	for i, param := range m.Params {
		p, err := comparisonPlot(m.Runs, param, targets)
		if err != nil {
			return fmt.Errorf("plots: %s comparison: %v", param.Name, err)
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

func comparisonPlot(runs []*pyrite.Run, param pyrite.Param, targets map[string]pyrite.ParamEstimate) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = param.Name
	p.X.Label.Text = "γ"
	prior := plotter.NewFunction(func(float64) float64 { return param.Prior })
	prior.Color = blue
	prior.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(prior)

	zones := []string{""}
	colors := []color.Color{radish}
	if param.DepthVarying {
		zones = pyrite.ZoneNames
		colors = []color.Color{green, orange}
	}
	target, hasTarget := targets[param.Name]
	for zi, zone := range zones {
		e := yErrPoints{XYs: make(plotter.XYs, len(runs)), YErrors: make(plotter.YErrors, len(runs))}
		shift := 0.3 * (float64(zi) - float64(len(zones)-1)/2)
		for i, r := range runs {
			est := r.Params[param.Name].Estimate
			if zone != "" {
				est = r.Params[param.Name].At(zone)
			}
			e.XYs[i].X, e.XYs[i].Y = float64(i)+shift, est.Est
			e.YErrors[i].Low, e.YErrors[i].High = -est.Err, est.Err
		}
		s, err := plotter.NewScatter(e)
		if err != nil {
			return nil, err
		}
		s.Color = colors[zi]
		s.Shape = draw.CircleGlyph{}
		s.Radius = vg.Points(3)
		bars, err := plotter.NewYErrorBars(e)
		if err != nil {
			return nil, err
		}
		bars.Color = colors[zi]
		bars.CapWidth = vg.Points(6)
		p.Add(bars, s)
		if zone != "" {
			p.Legend.Add(zone, s)
		}
		if !hasTarget {
			continue
		}
		tv := target.Estimate.Est
		if zone != "" {
			tv = target.At(zone).Est
		}
		tl := plotter.NewFunction(func(float64) float64 { return tv })
		tl.Color = colors[zi]
		tl.Dashes = []vg.Length{vg.Points(1), vg.Points(2)}
		p.Add(tl)
	}
	labels := make([]string, len(runs))
	for i, r := range runs {
		labels[i] = fmt.Sprint(r.Gamma)
	}
	p.NominalX(labels...)
	p.X.Min, p.X.Max = -0.5, float64(len(runs))-0.5
	p.Legend.Top = true
	return p, nil
}
