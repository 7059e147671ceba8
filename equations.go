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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// paramSource returns the expression for parameter name at grid point i.
type paramSource func(name string, i int) Expr

// stateParams returns parameters as elements of the state vector.
func (m *Model) stateParams(name string, i int) Expr {
	return Var(m.paramIndex(name, m.Grid.ZoneIndex(i)))
}

// knownParams returns parameters as constants taken from the given
// estimates.
func (m *Model) knownParams(known map[string]ParamEstimate) paramSource {
	return func(name string, i int) Expr {
		return Const(known[name].At(ZoneNames[m.Grid.ZoneIndex(i)]).Est)
	}
}

// equationOptions modify the model equations.
type equationOptions struct {
	params paramSource

	// linearB2, if positive, replaces the aggregation term B2p·PS²
	// with the first-order term linearB2·PS.
	linearB2 float64

	// constraint adds the total POC equations.
	constraint bool
}

// tracerVar returns the state element of tracer t (by position) at
// grid point i.
func (m *Model) tracerVar(t, i int) Expr { return Var(t*m.Grid.Len() + i) }

// buildEquations returns the model equations: for each tracer, one
// steady-state balance per grid point, followed by the total POC
// equations if requested.
func (m *Model) buildEquations(o equationOptions) []Expr {
	n := m.Grid.Len()
	eqs := make([]Expr, 0, 3*n)
	for i := 0; i < n; i++ {
		eqs = append(eqs, m.smallPOCEquation(i, o))
	}
	for i := 0; i < n; i++ {
		eqs = append(eqs, m.largePOCEquation(i, o))
	}
	if o.constraint {
		for i := 0; i < n; i++ {
			eqs = append(eqs, Sub(Const(m.Constraint.Profile[i]),
				Add(m.tracerVar(0, i), m.tracerVar(1, i))))
		}
	}
	return eqs
}

// sinkingDivergence returns the finite-difference approximation of
// d(wP)/dz for tracer t at grid point i > 0, excluding the factor w.
func (m *Model) sinkingDivergence(t, i int) Expr {
	dz2 := 2 * m.Grid.Step
	if i <= 2 {
		return Scale(1/dz2, Sub(m.tracerVar(t, i+1), m.tracerVar(t, i-1)))
	}
	return Scale(1/dz2, Add(Scale(3, m.tracerVar(t, i)),
		Scale(-4, m.tracerVar(t, i-1)), m.tracerVar(t, i-2)))
}

// production returns the production of small particles at grid point i.
func (m *Model) production(i int, p paramSource) Expr {
	z := m.Grid.MixedLayerDepth + float64(i)*m.Grid.Step
	return Mul(p(P30, i), Exp(Div(Const(-(z-m.Grid.MixedLayerDepth)), p(Lp, i))))
}

func (m *Model) aggregation(i int, o equationOptions) Expr {
	ps := m.tracerVar(0, i)
	if o.linearB2 > 0 {
		return Scale(o.linearB2, ps)
	}
	return Mul(o.params(B2p, i), Pow(ps, 2))
}

func (m *Model) smallPOCEquation(i int, o equationOptions) Expr {
	p := o.params
	ps, pl := m.tracerVar(0, i), m.tracerVar(1, i)
	terms := []Expr{
		Mul(p(Bm2, i), pl),
		Scale(-1, m.aggregation(i, o)),
		Scale(-1, Mul(p(Bm1s, i), ps)),
		m.production(i, p),
	}
	if i == 0 {
		terms = append(terms, Scale(-1/m.Grid.MixedLayerDepth, Mul(p(WS, i), ps)))
	} else {
		terms = append(terms, Scale(-1, Mul(p(WS, i), m.sinkingDivergence(0, i))))
	}
	if m.DVM.Enabled && m.Grid.ZoneIndex(i) == 0 {
		terms = append(terms, Scale(-1, Mul(p(B3, i), ps)))
	}
	return Add(terms...)
}

func (m *Model) largePOCEquation(i int, o equationOptions) Expr {
	p := o.params
	pl := m.tracerVar(1, i)
	terms := []Expr{
		m.aggregation(i, o),
		Scale(-1, Mul(Add(p(Bm2, i), p(Bm1l, i)), pl)),
	}
	if i == 0 {
		terms = append(terms, Scale(-1/m.Grid.MixedLayerDepth, Mul(p(WL, i), pl)))
	} else {
		terms = append(terms, Scale(-1, Mul(p(WL, i), m.sinkingDivergence(1, i))))
	}
	if dvm := m.dvmDeposition(i, p); dvm != nil {
		terms = append(terms, dvm)
	}
	return Add(terms...)
}

// dvmGrazing returns the depth-integrated grazing of small particles
// in the LEZ.
func (m *Model) dvmGrazing(p paramSource) Expr {
	lez := m.Zones[0]
	terms := make([]Expr, len(lez.Indices))
	for j, i := range lez.Indices {
		terms[j] = Scale(lez.Intervals[j], m.tracerVar(0, i))
	}
	return Mul(p(B3, lez.Indices[0]), Add(terms...))
}

// dvmDeposition returns the deposition of grazed material into the
// large particle pool at grid point i, or nil if there is none.
// A fraction a of the LEZ grazing is released between the zone boundary
// and the migration depth with a half-sine vertical profile.
func (m *Model) dvmDeposition(i int, p paramSource) Expr {
	if !m.DVM.Enabled || m.Grid.ZoneIndex(i) == 0 {
		return nil
	}
	zb, zm := m.Grid.Boundary, m.DVM.MigrationDepth
	z := m.Grid.MixedLayerDepth + float64(i)*m.Grid.Step
	if z >= zm {
		return nil
	}
	shape := math.Pi / (2 * (zm - zb)) * math.Sin(math.Pi*(z-zb)/(zm-zb))
	return Scale(shape, Mul(p(Alpha, i), m.dvmGrazing(p)))
}

// evaluate returns the values of eqs and their Jacobian at x. If
// logScale is true, x holds the logarithm of the state and the
// Jacobian is taken with respect to it.
func evaluate(eqs []Expr, x []float64, logScale bool) ([]float64, *mat.Dense) {
	state := x
	if logScale {
		state = make([]float64, len(x))
		for i, v := range x {
			state[i] = math.Exp(v)
		}
	}
	f := make([]float64, len(eqs))
	jac := mat.NewDense(len(eqs), len(x), nil)
	for r, e := range eqs {
		f[r] = e.Eval(state)
		for j, d := range Grad(e, state) {
			if logScale {
				d *= state[j] // ∂f/∂ln(x) = x·∂f/∂x
			}
			jac.Set(r, j, d)
		}
	}
	return f, jac
}

// checkParams makes sure all parameters the equations refer to
// are present.
func (m *Model) checkParams() error {
	need := []string{WS, WL, B2p, Bm2, Bm1s, Bm1l, P30, Lp}
	if m.DVM.Enabled {
		need = append(need, B3, Alpha)
	}
	for _, n := range need {
		if _, ok := m.Param(n); !ok {
			return fmt.Errorf("pyrite: missing parameter %s", n)
		}
	}
	return nil
}
