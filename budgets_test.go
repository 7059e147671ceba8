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


package pyrite

import (
	"math"
	"testing"
)

func TestBudgets(t *testing.T) {
	m := runTestModel(t)
	for _, r := range m.Runs {
		for _, z := range m.Zones {
			var inv float64
			for j, i := range z.Indices {
				inv += r.Tracers[POCS].Est[i] * z.Intervals[j]
			}
			if have := r.Inventories[z.Name][POCS]; different(have.Est, inv, testTolerance) || !(have.Err > 0) {
				t.Errorf("gamma=%g %s: POCS inventory %+v, want %g", r.Gamma, z.Name, have, inv)
			}
			for _, f := range []string{SinkS, SinkL, SinkT} {
				if _, ok := r.FluxIntegrals[z.Name][f]; ok {
					t.Errorf("gamma=%g %s: sinking flux %s should not be integrated", r.Gamma, z.Name, f)
				}
			}
			for _, f := range []string{SinkDivS, SinkDivL, ReminS, ReminL, Aggregation, Disaggregation, Production} {
				if _, ok := r.FluxIntegrals[z.Name][f]; !ok {
					t.Errorf("gamma=%g %s: missing integral of %s", r.Gamma, z.Name, f)
				}
			}
			if n := len(r.Timescales[z.Name][POCS]); n != 5 {
				t.Errorf("gamma=%g %s: have %d POCS timescales, want 5", r.Gamma, z.Name, n)
			}
			if n := len(r.Timescales[z.Name][POCL]); n != 4 {
				t.Errorf("gamma=%g %s: have %d POCL timescales, want 4", r.Gamma, z.Name, n)
			}
			ts := r.Timescales[z.Name][POCL][ReminL]
			want := r.Inventories[z.Name][POCL].Est / r.FluxIntegrals[z.Name][ReminL].Est
			if different(ts.Est, want, testTolerance) {
				t.Errorf("gamma=%g %s: POCL remineralization timescale %g, want %g", r.Gamma, z.Name, ts.Est, want)
			}
			if _, ok := r.IntegratedResids[z.Name][POCL]; !ok {
				t.Errorf("gamma=%g %s: missing integrated POCL residuals", r.Gamma, z.Name)
			}
		}
		checkClosure(t, m, r)
		s, l, tot := r.FluxProfiles[SinkS], r.FluxProfiles[SinkL], r.FluxProfiles[SinkT]
		for i := range tot.Est {
			if different(tot.Est[i], s.Est[i]+l.Est[i], testTolerance) {
				t.Errorf("gamma=%g: total sinking flux %d: have %g, want %g", r.Gamma, i, tot.Est[i], s.Est[i]+l.Est[i])
			}
		}
		p30, lp := r.Params[P30].Est, r.Params[Lp].Est
		prod := r.FluxProfiles[Production]
		for i, d := range m.Grid.Depths() {
			if want := p30 * math.Exp(-(d-m.Grid.MixedLayerDepth)/lp); different(prod.Est[i], want, testTolerance) {
				t.Errorf("gamma=%g: production %d: have %g, want %g", r.Gamma, i, prod.Est[i], want)
			}
		}
	}
}

func TestBudgetsNoRuns(t *testing.T) {
	m := testModel(t)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	if err := Budgets()(m); err == nil {
		t.Error("expected an error")
	}
}

func TestDVMEquations(t *testing.T) {
	base := testModel(t)
	if err := base.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.DVM = DVM{Enabled: true, MigrationDepth: 180}
	dvm := NewModel(cfg, testTracers(t, cfg), append(testParams(), DVMParams()...))
	dvm.InitFuncs = []ModelManipulator{InterpolatePriors(), DefineState()}
	if err := dvm.Init(); err != nil {
		t.Fatal(err)
	}
	if len(dvm.Xo) != len(base.Xo)+2 {
		t.Fatalf("DVM state has %d elements, want %d", len(dvm.Xo), len(base.Xo)+2)
	}
	fBase, _ := evaluate(base.equations, base.Xo, false)
	fDVM, _ := evaluate(dvm.equations, dvm.Xo, false)

	n := cfg.Grid.Len()
	b3 := dvm.Xo[dvm.StateIndex(B3)]
	for i, d := range cfg.Grid.Depths() {
		ds := fDVM[i] - fBase[i]
		dl := fDVM[n+i] - fBase[n+i]
		switch {
		case d < cfg.Grid.Boundary:
			if want := -b3 * dvm.Xo[i]; math.Abs(ds-want) > 1e-12 || dl != 0 {
				t.Errorf("depth %g: POCS change %g (want %g), POCL change %g", d, ds, want, dl)
			}
		case d < cfg.DVM.MigrationDepth:
			if ds != 0 || !(dl > 0) {
				t.Errorf("depth %g: POCS change %g, POCL change %g", d, ds, dl)
			}
		default:
			if ds != 0 || dl != 0 {
				t.Errorf("depth %g: POCS change %g, POCL change %g", d, ds, dl)
			}
		}
	}
	if fl := dvm.Fluxes(); fl[len(fl)-1].Name != DVMFlux {
		t.Errorf("missing %s flux", DVMFlux)
	}
}
