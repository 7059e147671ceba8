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
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
)

const testTolerance = 1.e-8

var testSampleDepths = []float64{30, 50, 70, 90, 100, 120, 150, 180, 200}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Grid = Grid{MixedLayerDepth: 30, MaxDepth: 200, Step: 10, Boundary: 105}
	cfg.Gammas = []float64{0.5, 1}
	return cfg
}

func testParams() []Param { return DefaultParams(0.5, 0.25, 40, 20) }

// testParamsFor returns testParams plus the parameters that the
// configuration's optional processes need.
func testParamsFor(cfg Config) []Param {
	p := testParams()
	if cfg.DVM.Enabled {
		p = append(p, DVMParams()...)
	}
	return p
}

// emptyTracers returns the tracers without observations.
func emptyTracers() []*Tracer { return []*Tracer{NewTracer(POCS, nil), NewTracer(POCL, nil)} }

// priorValues returns the parameter priors in the form of
// posterior estimates.
func priorValues(params []Param) map[string]ParamEstimate {
	o := make(map[string]ParamEstimate)
	for _, p := range params {
		e := Estimate{Est: p.Prior, Err: p.PriorErr}
		if p.DepthVarying {
			o[p.Name] = ParamEstimate{Zones: map[string]Estimate{LEZ: e, UMZ: e}}
		} else {
			o[p.Name] = ParamEstimate{Estimate: e}
		}
	}
	return o
}

// testTruth returns the tracer profiles that are consistent with the
// model equations when the parameters equal their priors.
func testTruth(t *testing.T, cfg Config) []float64 {
	t.Helper()
	m := NewModel(cfg, emptyTracers(), testParamsFor(cfg))
	zones, err := cfg.Grid.Zones()
	if err != nil {
		t.Fatal(err)
	}
	m.Zones = zones
	x, err := m.pseudoData(priorValues(m.Params))
	if err != nil {
		t.Fatal(err)
	}
	return x
}

// testTracers samples the true profiles at testSampleDepths with
// 10% errors.
func testTracers(t *testing.T, cfg Config) []*Tracer {
	t.Helper()
	x := testTruth(t, cfg)
	n := cfg.Grid.Len()
	var tracers []*Tracer
	for ti, name := range []string{POCS, POCL} {
		var obs []Observation
		for _, d := range testSampleDepths {
			c := x[ti*n+cfg.Grid.Nearest(d)]
			obs = append(obs, Observation{Depth: d, Conc: c, ConcErr: 0.1 * c})
		}
		tracers = append(tracers, NewTracer(name, obs))
	}
	return tracers
}

func testModel(t *testing.T) *Model {
	t.Helper()
	cfg := testConfig()
	m := NewModel(cfg, testTracers(t, cfg), testParams())
	m.InitFuncs = []ModelManipulator{InterpolatePriors(), DefineState()}
	m.RunFuncs = []ModelManipulator{SweepGammas(context.Background(), logrus.StandardLogger()), Budgets()}
	return m
}

func runTestModel(t *testing.T) *Model {
	t.Helper()
	m := testModel(t)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	return m
}

// checkClosure checks that in each zone of run r the integrated
// fluxes acting on each tracer add up to its integrated residual.
func checkClosure(t *testing.T, m *Model, r *Run) {
	t.Helper()
	signs := map[string]map[string]float64{
		POCS: {Production: 1, Disaggregation: 1, Aggregation: -1, ReminS: -1, SinkDivS: -1, DVMFlux: -1},
		POCL: {Aggregation: 1, Disaggregation: -1, ReminL: -1, SinkDivL: -1, DVMFlux: 1},
	}
	for _, z := range m.Zones {
		for tracer, fluxes := range signs {
			var sum, scale float64
			for f, sign := range fluxes {
				// Grazing removes small particles from the LEZ and
				// deposits large particles in the UMZ.
				if f == DVMFlux && (tracer == POCS) != (z.Name == LEZ) {
					continue
				}
				e, ok := r.FluxIntegrals[z.Name][f]
				if !ok {
					continue
				}
				sum += sign * e.Est
				scale += math.Abs(e.Est)
			}
			if !(scale > 0) {
				t.Errorf("gamma=%g %s: no %s fluxes", r.Gamma, z.Name, tracer)
				continue
			}
			if resid := r.IntegratedResids[z.Name][tracer]; math.Abs(sum-resid) > 1e-6*scale {
				t.Errorf("gamma=%g %s: %s fluxes sum to %g but the integrated residual is %g", r.Gamma, z.Name, tracer, sum, resid)
			}
		}
	}
}

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}
