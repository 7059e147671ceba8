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


package exports

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/tealeg/xlsx"
)

const testTolerance = 1.e-8

var testSampleDepths = []float64{30, 50, 75, 100, 110, 150, 200, 300, 400, 500}

func testPOCS(z float64) float64 { return 2*math.Exp(-(z-30)/100) + 0.5 }
func testPOCL(z float64) float64 { return 0.2*math.Exp(-(z-30)/150) + 0.05 }

// Total POC is related to cp by Pt = 2 + 3·ln(cp).
func testCp(depth float64) float64 { return 0.05 + 0.5*math.Exp(-depth/80) }

func addSheet(t *testing.T, f *xlsx.File, name string, header []string, rows [][]interface{}) {
	t.Helper()
	s, err := f.AddSheet(name)
	if err != nil {
		t.Fatal(err)
	}
	r := s.AddRow()
	for _, h := range header {
		r.AddCell().SetString(h)
	}
	for _, row := range rows {
		r := s.AddRow()
		for _, v := range row {
			c := r.AddCell()
			switch v := v.(type) {
			case float64:
				c.SetFloat(v)
			case string:
				c.SetString(v)
			}
		}
	}
}

// writeTestWorkbook writes a workbook with three casts at each sample
// depth, one extra single-cast depth, and NPP that decays exponentially
// with an e-folding length of 40 m.
func writeTestWorkbook(t *testing.T, constraint bool) string {
	t.Helper()
	f := xlsx.NewFile()
	var poc [][]interface{}
	for _, d := range testSampleDepths {
		for _, k := range []float64{0.9, 1, 1.1} {
			poc = append(poc, []interface{}{d, k * testPOCS(d), k * testPOCL(d)})
		}
	}
	poc = append(poc, []interface{}{250.0, testPOCS(250), testPOCL(250)})
	poc = append(poc, []interface{}{350.0, "", testPOCL(350)})
	addSheet(t, f, "POC", []string{"mod_depth", "POCS", "POCL"}, poc)

	var npp [][]interface{}
	for _, d := range []float64{5, 28, 35, 60, 90, 120} {
		npp = append(npp, []interface{}{d, 60 * math.Exp(-d/40)})
	}
	npp = append(npp, []interface{}{150.0, -1.0})
	addSheet(t, f, "NPP", []string{"target_depth", "npp"}, npp)

	if constraint {
		var discrete [][]interface{}
		for _, cast := range []string{"1", "2"} {
			for _, d := range []float64{30, 80, 150, 300} {
				discrete = append(discrete, []interface{}{cast, d, 2 + 3*math.Log(testCp(d))})
			}
		}
		addSheet(t, f, "poc_discrete", []string{"pump_cast", "depth", "Pt"}, discrete)
		var cp [][]interface{}
		for d := 1.0; d <= 600; d++ {
			cp = append(cp, []interface{}{testCp(d), testCp(d)})
		}
		addSheet(t, f, "cp_bycast", []string{"11", "12"}, cp)
		addSheet(t, f, "cast_match", []string{"pump_cast", "ctd_cast"}, [][]interface{}{
			{"1", "11"}, {"2", "12"},
		})
	}
	path := filepath.Join(t.TempDir(), "exports.xlsx")
	if err := f.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	d, err := Load(context.Background(), writeTestWorkbook(t, true))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.POC) != 32 {
		t.Errorf("have %d POC samples, want 32", len(d.POC))
	}
	if !math.IsNaN(d.POC[31].POCS) {
		t.Errorf("missing value read as %g", d.POC[31].POCS)
	}
	if len(d.NPP) != 7 {
		t.Errorf("have %d NPP samples, want 7", len(d.NPP))
	}
	if !d.HasConstraintData() {
		t.Fatal("constraint data not loaded")
	}
	if len(d.CpByCast["11"]) != 600 || len(d.Discrete) != 8 || d.CastMatch[1].CTD != "12" {
		t.Errorf("constraint data: %d cp values, %d discrete samples, matches %v",
			len(d.CpByCast["11"]), len(d.Discrete), d.CastMatch)
	}

	d2, err := Load(context.Background(), writeTestWorkbook(t, false))
	if err != nil {
		t.Fatal(err)
	}
	if d2.HasConstraintData() {
		t.Error("unexpected constraint data")
	}
}

func TestProcessPOC(t *testing.T) {
	d, err := Load(context.Background(), writeTestWorkbook(t, false))
	if err != nil {
		t.Fatal(err)
	}
	means, err := ProcessPOC(d.POC, pyrite.DefaultGrid())
	if err != nil {
		t.Fatal(err)
	}
	if len(means) != len(testSampleDepths) {
		t.Fatalf("have %d depths, want %d", len(means), len(testSampleDepths))
	}
	for i, m := range means {
		if m.Depth != testSampleDepths[i] || m.NCasts != 3 {
			t.Errorf("depth %d: %g m with %d casts", i, m.Depth, m.NCasts)
		}
		want := testPOCS(m.Depth)
		if math.Abs(m.Mean[pyrite.POCS]-want) > testTolerance*want {
			t.Errorf("%g m: POCS mean %g, want %g", m.Depth, m.Mean[pyrite.POCS], want)
		}
		// The relative standard deviation is 0.1 at every depth.
		if sd := m.SD[pyrite.POCL] / m.Mean[pyrite.POCL]; math.Abs(sd-0.1) > 1e-6 {
			t.Errorf("%g m: relative POCL SD %g", m.Depth, sd)
		}
		if se := m.SE[pyrite.POCS] * math.Sqrt(3); math.Abs(se-m.SD[pyrite.POCS]) > testTolerance {
			t.Errorf("%g m: POCS SE %g inconsistent with SD %g", m.Depth, m.SE[pyrite.POCS], m.SD[pyrite.POCS])
		}
	}
	tracers := Tracers(means)
	if len(tracers) != 2 || tracers[0].Name != pyrite.POCS || len(tracers[1].Observations) != len(means) {
		t.Errorf("tracers: %+v", tracers)
	}
}

func TestNPPPriors(t *testing.T) {
	d, err := Load(context.Background(), writeTestWorkbook(t, false))
	if err != nil {
		t.Fatal(err)
	}
	p, err := NPPPriors(d.NPP)
	if err != nil {
		t.Fatal(err)
	}
	wantP30 := (60*math.Exp(-28.0/40) + 60*math.Exp(-35.0/40)) / 2 / 12
	if math.Abs(p.P30-wantP30) > 1e-6 {
		t.Errorf("P30: have %g, want %g", p.P30, wantP30)
	}
	if !(p.P30Err > 0) {
		t.Errorf("P30 error: %g", p.P30Err)
	}
	if math.Abs(p.Lp-40) > 1e-6 || p.LpErr > 1e-6 {
		t.Errorf("Lp: have %g ± %g, want 40 ± 0", p.Lp, p.LpErr)
	}

	increasing := []NPPSample{{30, 1}, {32, 2}, {60, 3}, {90, 4}}
	if _, err := NPPPriors(increasing); err == nil {
		t.Error("expected an error for increasing NPP")
	}
}

func TestTotalPOCConstraint(t *testing.T) {
	d, err := Load(context.Background(), writeTestWorkbook(t, true))
	if err != nil {
		t.Fatal(err)
	}
	g := pyrite.DefaultGrid()
	c, reg, err := d.TotalPOCConstraint(g)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(reg.Slope-3) > 1e-6 || math.Abs(reg.Intercept-2) > 1e-6 {
		t.Errorf("regression: slope %g, intercept %g", reg.Slope, reg.Intercept)
	}
	if reg.Variance > 1e-9 {
		t.Errorf("residual variance %g", reg.Variance)
	}
	if len(c.Cp) != len(reg.Cp) || len(c.Pt) != len(c.Cp) || c.Slope != reg.Slope || c.R2 != reg.R2 {
		t.Errorf("constraint calibration: %d cp and %d POC samples, slope %g, R² %g", len(c.Cp), len(c.Pt), c.Slope, c.R2)
	}
	for i, depth := range g.Depths() {
		want := 2 + 3*math.Log(testCp(depth))
		if math.Abs(c.Profile[i]-want) > 1e-6 {
			t.Errorf("%g m: have %g, want %g", depth, c.Profile[i], want)
		}
	}
}

func TestNewModel(t *testing.T) {
	d, err := Load(context.Background(), writeTestWorkbook(t, false))
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(d, pyrite.DefaultConfig(), logrus.StandardLogger())
	if err != nil {
		t.Fatal(err)
	}
	m.InitFuncs = []pyrite.ModelManipulator{pyrite.InterpolatePriors(), pyrite.DefineState()}
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	if n := 2*m.Grid.Len() + 14; len(m.Xo) != n {
		t.Errorf("state has %d elements, want %d", len(m.Xo), n)
	}
	if m.Constraint != nil {
		t.Error("unexpected total POC constraint")
	}
}
