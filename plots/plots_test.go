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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/mc"
)

// testRun returns an initialized model and a run whose estimates equal
// the priors.
func testRun(t *testing.T) (*pyrite.Model, *pyrite.Run) {
	t.Helper()
	cfg := pyrite.DefaultConfig()
	cfg.Grid = pyrite.Grid{MixedLayerDepth: 30, MaxDepth: 200, Step: 10, Boundary: 105}
	cfg.Gammas = []float64{0.5}
	var ps, pl []pyrite.Observation
	for _, d := range []float64{30, 50, 70, 90, 100, 120, 150, 180, 200} {
		s := 2*math.Exp(-(d-30)/60) + 0.2
		l := 0.2*math.Exp(-(d-30)/120) + 0.05
		ps = append(ps, pyrite.Observation{Depth: d, Conc: s, ConcErr: 0.1 * s})
		pl = append(pl, pyrite.Observation{Depth: d, Conc: l, ConcErr: 0.1 * l})
	}
	tracers := []*pyrite.Tracer{pyrite.NewTracer(pyrite.POCS, ps), pyrite.NewTracer(pyrite.POCL, pl)}
	m := pyrite.NewModel(cfg, tracers, pyrite.DefaultParams(0.5, 0.25, 40, 20))
	m.InitFuncs = []pyrite.ModelManipulator{pyrite.InterpolatePriors(), pyrite.DefineState()}
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	r := &pyrite.Run{
		Gamma:       0.5,
		Converged:   true,
		Cost:        []float64{100, 20, 15, 14.9},
		Convergence: []float64{1, 0.2, 0.03, 0.001},
		Xhat:        m.Xo,
		XhatErr:     m.PriorErrors(),
		Cvm:         m.Co,
		Tracers:     make(map[string]pyrite.Profile),
		Params:      make(map[string]pyrite.ParamEstimate),
	}
	for _, tr := range m.Tracers {
		r.Tracers[tr.Name] = pyrite.Profile{Est: tr.Prior, Err: tr.PriorErr}
	}
	for _, p := range m.Params {
		e := pyrite.Estimate{Est: p.Prior * 1.1, Err: p.PriorErr / 2}
		if p.DepthVarying {
			r.Params[p.Name] = pyrite.ParamEstimate{Zones: map[string]pyrite.Estimate{pyrite.LEZ: e, pyrite.UMZ: e}}
		} else {
			r.Params[p.Name] = pyrite.ParamEstimate{Estimate: e}
		}
	}
	for i := range m.Xo {
		r.XResids = append(r.XResids, math.Sin(float64(i)))
	}
	for i := 0; i < 2*m.Grid.Len(); i++ {
		r.FResids = append(r.FResids, math.Cos(float64(i))/2)
	}
	r.IntegratedResids = map[string]map[string]float64{
		pyrite.LEZ: {pyrite.POCS: 1.5, pyrite.POCL: -0.2},
		pyrite.UMZ: {pyrite.POCS: -3, pyrite.POCL: 0.4},
	}
	m.Runs = []*pyrite.Run{r}
	return m, r
}

func TestFileName(t *testing.T) {
	for _, test := range []struct {
		gamma float64
		twin  bool
		want  string
	}{
		{0.5, false, filepath.Join("out", "conv_gam05.pdf")},
		{0.02, false, filepath.Join("out", "conv_gam002.pdf")},
		{1, true, filepath.Join("out", "conv_gam1_TE.pdf")},
	} {
		if got := FileName("out", "conv", test.gamma, test.twin, "pdf"); got != test.want {
			t.Errorf("have %s, want %s", got, test.want)
		}
	}
}

func checkFiles(t *testing.T, files ...string) {
	t.Helper()
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			t.Error(err)
			continue
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", f)
		}
	}
}

func TestModel(t *testing.T) {
	m, r := testRun(t)
	dir := t.TempDir()
	if err := Model(m, nil, dir, "png"); err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, kind := range []string{"conv", "cost", "params", "POCprofs", "pdfs", "sinkfluxes", "fluxes_volumetric"} {
		files = append(files, FileName(dir, kind, r.Gamma, false, "png"))
	}
	files = append(files, FileName(dir, "integrated_residuals", r.Gamma, false, "png"))
	for _, kind := range []string{"param_comparison", "zone_length_scales"} {
		files = append(files, ModelFileName(dir, kind, false, "png"))
	}
	checkFiles(t, files...)
	if _, err := os.Stat(ModelFileName(dir, "cp_Pt_regression", false, "png")); !os.IsNotExist(err) {
		t.Error("a model without a total POC constraint should not have a cp regression figure")
	}
}

func TestModelFileName(t *testing.T) {
	if got, want := ModelFileName("out", "param_comparison", true, "pdf"), filepath.Join("out", "param_comparison_TE.pdf"); got != want {
		t.Errorf("have %s, want %s", got, want)
	}
}

func TestDiagnostics(t *testing.T) {
	m, r := testRun(t)
	for _, z := range m.Zones {
		if !(z.LengthScale > 0) || len(z.Lags) < 2 {
			t.Fatalf("%s: length scale %g from %d lags", z.Name, z.LengthScale, len(z.Lags))
		}
	}
	m.Runs = append(m.Runs, &pyrite.Run{Gamma: 1, Params: r.Params})
	dir := t.TempDir()
	c := &pyrite.TotalPOC{
		Cp:        []float64{0.02, 0.03, 0.05, 0.08},
		Pt:        []float64{1.1, 1.9, 3.1, 4.2},
		Slope:     2.9,
		Intercept: 12.5,
		R2:        0.98,
	}
	figs := map[string]func(string) error{
		"zone_length_scales":   func(f string) error { return ZoneLengthScales(m, f) },
		"cp_Pt_regression":     func(f string) error { return CpRegression(c, f) },
		"integrated_residuals": func(f string) error { return IntegratedResiduals(m, r, f) },
		"param_comparison":     func(f string) error { return ParamComparison(m, r.Params, f) },
	}
	for kind, draw := range figs {
		f := ModelFileName(dir, kind, false, "png")
		if err := draw(f); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		checkFiles(t, f)
	}

	if err := CpRegression(&pyrite.TotalPOC{Profile: []float64{1}}, filepath.Join(dir, "cp.png")); err == nil {
		t.Error("want an error for a constraint without samples")
	}
	if err := IntegratedResiduals(m, m.Runs[1], filepath.Join(dir, "resid.png")); err == nil {
		t.Error("want an error for a run without budgets")
	}
}

func TestModelTwin(t *testing.T) {
	m, r := testRun(t)
	dir := t.TempDir()
	if err := Model(m, r.Params, dir, "svg"); err != nil {
		t.Fatal(err)
	}
	checkFiles(t,
		FileName(dir, "params", r.Gamma, true, "svg"),
		FileName(dir, "POCprofs", r.Gamma, true, "svg"),
	)
	checkFiles(t, ModelFileName(dir, "param_comparison", true, "svg"))
	if _, err := os.Stat(FileName(dir, "sinkfluxes", r.Gamma, true, "svg")); !os.IsNotExist(err) {
		t.Error("twin experiments should not have flux figures")
	}
	if _, err := os.Stat(ModelFileName(dir, "zone_length_scales", true, "svg")); !os.IsNotExist(err) {
		t.Error("twin experiments should not have length scale figures")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, r := testRun(t)
	if err := Cost(r, filepath.Join(t.TempDir(), "cost.xyz")); err == nil {
		t.Error("want an error for an unsupported format")
	}
}

func TestParamHistograms(t *testing.T) {
	ranges := []mc.ParamRange{
		{Name: pyrite.WS, Min: 1, Max: 3},
		{Name: pyrite.WL, Min: 10, Max: 30},
		{Name: pyrite.B2p, Min: 0.01, Max: 0.02},
		{Name: pyrite.Bm2, Min: 0.5, Max: 1.5},
		{Name: pyrite.Bm1s, Min: 0.05, Max: 0.15},
		{Name: pyrite.Bm1l, Min: 0.1, Max: 0.2},
	}
	var rows []mc.TableRow
	for i, s := range mc.GenerateSets(ranges, 40, 1) {
		rows = append(rows, mc.TableRow{Set: s.ID, Values: s.Values, Success: i%3 != 0})
	}
	dir := t.TempDir()
	if err := ParamHistograms(rows, dir, "png"); err != nil {
		t.Fatal(err)
	}
	for _, p := range mc.Params {
		checkFiles(t, filepath.Join(dir, "hist_"+p+".png"))
	}
	if err := ParamHistograms(rows[:1], dir, "png"); err == nil {
		t.Error("want an error when no set succeeded")
	}
}
