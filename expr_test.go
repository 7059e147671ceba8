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

func TestExprGrad(t *testing.T) {
	// 2·x0·x1² + x2/x0 − exp(−3/x1)
	e := Sub(Add(Scale(2, Mul(Var(0), Pow(Var(1), 2))), Div(Var(2), Var(0))),
		Exp(Div(Const(-3), Var(1))))
	x := []float64{1.5, 0.7, 4}
	f := func(x []float64) float64 {
		return 2*x[0]*x[1]*x[1] + x[2]/x[0] - math.Exp(-3/x[1])
	}
	if have, want := e.Eval(x), f(x); different(have, want, testTolerance) {
		t.Errorf("Eval: have %g, want %g", have, want)
	}
	g := Grad(e, x)
	for i := range x {
		h := 1e-6
		xp := append([]float64(nil), x...)
		xm := append([]float64(nil), x...)
		xp[i] += h
		xm[i] -= h
		want := (f(xp) - f(xm)) / (2 * h)
		if different(g[i], want, 1e-6) {
			t.Errorf("∂/∂x%d: have %g, want %g", i, g[i], want)
		}
	}
	if vars := Vars(e, x); len(vars) != 3 {
		t.Errorf("Vars: have %v", vars)
	}
}

func TestPropagate(t *testing.T) {
	x := []float64{2, 3}
	cov := []float64{
		0.04, 0.01,
		0.01, 0.09,
	}
	sum := Propagate(Add(Var(0), Var(1)), x, cov)
	if sum.Est != 5 {
		t.Errorf("sum: have %g, want 5", sum.Est)
	}
	if want := math.Sqrt(0.04 + 0.09 + 2*0.01); different(sum.Err, want, testTolerance) {
		t.Errorf("sum error: have %g, want %g", sum.Err, want)
	}
	prod := Propagate(Mul(Var(0), Var(1)), x, cov)
	want := math.Sqrt(9*0.04 + 4*0.09 + 2*3*2*0.01)
	if prod.Est != 6 || different(prod.Err, want, testTolerance) {
		t.Errorf("product: have %+v, want {6 %g}", prod, want)
	}
	if c := Propagate(Const(3), x, cov); c.Est != 3 || c.Err != 0 {
		t.Errorf("constant: have %+v", c)
	}
}
