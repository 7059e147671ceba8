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


// Package plots draws figures of inversion results.
package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Colors.
var (
	black   = color.RGBA{A: 255}
	orange  = color.RGBA{R: 0xE6, G: 0x9F, A: 255}
	sky     = color.RGBA{R: 0x56, G: 0xB4, B: 0xE9, A: 255}
	green   = color.RGBA{G: 0x9E, B: 0x73, A: 255}
	blue    = color.RGBA{G: 0x72, B: 0xB2, A: 255}
	vermill = color.RGBA{R: 0xD5, G: 0x5E, A: 255}
	radish  = color.RGBA{R: 0xCC, G: 0x79, B: 0xA7, A: 255}
)

var palette = []color.Color{blue, orange, green, vermill, sky, radish, black}

const (
	figWidth  = 7 * vg.Inch
	figHeight = 4.5 * vg.Inch
)

// FileName returns the path within dir of the figure kind of the run
// with model error factor gamma, e.g. "conv_gam05.pdf". Figures of
// twin experiments get the suffix "_TE".
func FileName(dir, kind string, gamma float64, twin bool, format string) string {
	g := strings.Replace(fmt.Sprint(gamma), ".", "", 1)
	name := kind + "_gam" + g
	if twin {
		name += "_TE"
	}
	return filepath.Join(dir, name+"."+format)
}

// ModelFileName returns the path within dir of the figure kind that
// covers every run of a model, e.g. "param_comparison.pdf".
func ModelFileName(dir, kind string, twin bool, format string) string {
	if twin {
		kind += "_TE"
	}
	return filepath.Join(dir, kind+"."+format)
}

// save draws the rows of plots as tiles on one page and writes them to
// fileName in the format given by its extension.
func save(fileName string, w, h vg.Length, rows [][]*plot.Plot) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	c, err := draw.NewFormattedCanvas(w, h, format)
	if err != nil {
		return fmt.Errorf("plots: %s: %v", fileName, err)
	}
	t := draw.Tiles{
		Rows:      len(rows),
		Cols:      len(rows[0]),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(rows, t, draw.New(c))
	for j, row := range rows {
		for i, p := range row {
			if p != nil {
				p.Draw(canvases[j][i])
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm); err != nil {
		return fmt.Errorf("plots: %v", err)
	}
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("plots: %v", err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("plots: writing %s: %v", fileName, err)
	}
	return f.Close()
}

// xErrPoints are points with horizontal error bars.
type xErrPoints struct {
	plotter.XYs
	plotter.XErrors
}

func newXErrPoints(x, xErr, y []float64) xErrPoints {
	o := xErrPoints{XYs: make(plotter.XYs, len(x)), XErrors: make(plotter.XErrors, len(x))}
	for i := range x {
		o.XYs[i].X, o.XYs[i].Y = x[i], y[i]
		o.XErrors[i].Low, o.XErrors[i].High = -xErr[i], xErr[i]
	}
	return o
}

// yErrPoints are points with vertical error bars.
type yErrPoints struct {
	plotter.XYs
	plotter.YErrors
}

// addXErrors adds points with horizontal error bars to p.
func addXErrors(p *plot.Plot, pts xErrPoints, c color.Color, shape draw.GlyphDrawer, label string) error {
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(2)
	e, err := plotter.NewXErrorBars(pts)
	if err != nil {
		return err
	}
	e.LineStyle.Color = c
	e.CapWidth = vg.Points(3)
	p.Add(e, s)
	if label != "" {
		p.Legend.Add(label, s)
	}
	return nil
}

// depthPlot returns a plot with depth increasing downwards and a dashed
// line at the zone boundary.
func depthPlot(xLabel string, boundary float64) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Depth (m)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Y.Min = 0
	b := plotter.NewFunction(func(float64) float64 { return boundary })
	b.Color = black
	b.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(b)
	p.Legend.Left = false
	p.Legend.Top = false
	return p
}

// logIfPositive uses a log scale for the Y axis of p if all of v are
// positive.
func logIfPositive(p *plot.Plot, v []float64) {
	for _, x := range v {
		if !(x > 0) || math.IsInf(x, 0) {
			return
		}
	}
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
}
