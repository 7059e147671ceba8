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
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Pseudo-data generation settings.
const (
	// LinearB2 is the first-order aggregation rate constant used for the
	// initial linear pseudo-data solution [d⁻¹].
	LinearB2 = 0.8 / DaysPerYear

	pseudoMaxIterations = 20
	pseudoChangeLimit   = 0.01
)

// Twin is a twin experiment: the inversion of pseudo-data generated
// from the parameter estimates of a reference model.
type Twin struct {
	// Gamma is the model error factor of the reference run whose
	// parameter estimates are the targets.
	Gamma float64

	// Targets are the parameter values used to generate the pseudo-data.
	Targets map[string]ParamEstimate

	// Pseudo is the pseudo-data state of the tracers on the model grid.
	Pseudo []float64

	// Model is the model of the pseudo-data.
	Model *Model

	// Recovery holds, for each run of Model, how well the
	// targets were recovered.
	Recovery map[float64][]Recovery
}

// Recovery describes how well a parameter was recovered by a twin
// experiment.
type Recovery struct {
	Param string

	// Zone is empty for parameters that do not vary with depth.
	Zone string

	Target, Est, Err float64

	// RelBias is (Est-Target)/Target.
	RelBias float64

	// WithinError is true if the target lies within one standard error
	// of the estimate.
	WithinError bool
}

// NewTwin sets up a twin experiment from the run of ref with model error
// factor gamma. The twin model is inverted with the given model error
// factors.
func NewTwin(ref *Model, gamma float64, gammas []float64) (*Twin, error) {
	run, err := ref.RunWithGamma(gamma)
	if err != nil {
		return nil, err
	}
	ref.prepare()
	tw := &Twin{Gamma: gamma, Targets: run.Params}
	tw.Pseudo, err = ref.pseudoData(tw.Targets)
	if err != nil {
		return nil, err
	}

	n := ref.Grid.Len()
	cfg := ref.Config
	cfg.Gammas = append([]float64(nil), gammas...)
	if ref.Constraint != nil {
		pt := make([]float64, n)
		for i := range pt {
			pt[i] = tw.Pseudo[i] + tw.Pseudo[n+i]
		}
		cfg.Constraint = &TotalPOC{Profile: pt, Variance: ref.Constraint.Variance}
	}

	tracers := make([]*Tracer, len(ref.Tracers))
	for ti, t := range ref.Tracers {
		obs := make([]Observation, len(t.Observations))
		for j, o := range t.Observations {
			i := ref.Grid.Nearest(o.Depth)
			c := tw.Pseudo[ti*n+i]
			obs[j] = Observation{
				Depth:   ref.Grid.MixedLayerDepth + float64(i)*ref.Grid.Step,
				Conc:    c,
				ConcErr: c * o.ConcErr / o.Conc,
			}
		}
		tracers[ti] = NewTracer(t.Name, obs)
	}
	tw.Model = NewModel(cfg, tracers, append([]Param(nil), ref.Params...))
	return tw, nil
}

// Run inverts the pseudo-data and calculates the recovery statistics.
// Budgets are not calculated for twin experiments.
func (tw *Twin) Run(ctx context.Context, log logrus.FieldLogger, funcs ...IterationFunc) error {
	m := tw.Model
	m.InitFuncs = []ModelManipulator{InterpolatePriors(), DefineState()}
	m.RunFuncs = []ModelManipulator{SweepGammas(ctx, log, funcs...)}
	if err := m.Init(); err != nil {
		return err
	}
	if err := m.Run(); err != nil {
		return err
	}
	tw.Recovery = make(map[float64][]Recovery, len(m.Runs))
	for _, r := range m.Runs {
		tw.Recovery[r.Gamma] = tw.recovery(r)
	}
	return nil
}

func (tw *Twin) recovery(r *Run) []Recovery {
	var o []Recovery
	add := func(name, zone string, target, est Estimate) {
		rec := Recovery{
			Param:   name,
			Zone:    zone,
			Target:  target.Est,
			Est:     est.Est,
			Err:     est.Err,
			RelBias: (est.Est - target.Est) / target.Est,
		}
		rec.WithinError = math.Abs(est.Est-target.Est) <= est.Err
		o = append(o, rec)
	}
	for _, p := range tw.Model.Params {
		target, est := tw.Targets[p.Name], r.Params[p.Name]
		if p.DepthVarying {
			for _, z := range ZoneNames {
				add(p.Name, z, target.At(z), est.At(z))
			}
		} else {
			add(p.Name, "", target.Estimate, est.Estimate)
		}
	}
	return o
}

// pseudoData solves the model equations for the tracers with the
// parameters fixed at the target values. A solution of the equations
// with linear aggregation is the starting point of Newton iterations
// on the full equations.
func (m *Model) pseudoData(targets map[string]ParamEstimate) ([]float64, error) {
	params := m.knownParams(targets)
	nte := m.NumTracerElements()

	linear := m.buildEquations(equationOptions{params: params, linearB2: LinearB2})
	f, F := evaluate(linear, make([]float64, nte), false)
	var x mat.VecDense
	if err := solve(&x, F, negate(f)); err != nil {
		return nil, fmt.Errorf("pyrite: linear pseudo-data: %w", err)
	}

	eqs := m.buildEquations(equationOptions{params: params})
	xk := x.RawVector().Data
	for k := 0; k < pseudoMaxIterations; k++ {
		f, F = evaluate(eqs, xk, false)
		var dx mat.VecDense
		if err := solve(&dx, F, f); err != nil {
			return nil, fmt.Errorf("pyrite: pseudo-data iteration %d: %w", k, err)
		}
		xkp1 := make([]float64, nte)
		var change float64
		for i := range xkp1 {
			xkp1[i] = xk[i] - dx.AtVec(i)
			if math.IsNaN(xkp1[i]) || math.IsInf(xkp1[i], 0) {
				return nil, fmt.Errorf("%w: pseudo-data iteration %d", ErrNumerical, k)
			}
			change = math.Max(change, math.Abs((xkp1[i]-xk[i])/xk[i]))
		}
		xk = xkp1
		if change < pseudoChangeLimit {
			break
		}
	}
	return xk, nil
}

func negate(v []float64) []float64 {
	o := make([]float64, len(v))
	for i, x := range v {
		o[i] = -x
	}
	return o
}

// solve solves a·x = b.
func solve(x *mat.VecDense, a mat.Matrix, b []float64) error {
	err := x.SolveVec(a, mat.NewVecDense(len(b), b))
	if err == nil {
		return nil
	}
	if c, ok := err.(mat.Condition); ok {
		if math.IsInf(float64(c), 1) {
			return ErrSingular
		}
		return nil
	}
	return err
}
