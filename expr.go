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
	"sort"
)

// Expr is an expression of state vector elements that can be evaluated
// and differentiated.
type Expr interface {
	// Eval evaluates the expression at state x.
	Eval(x []float64) float64

	// grad adds s*∂e/∂x to g for every element of x the expression
	// depends on.
	grad(x []float64, s float64, g map[int]float64)
}

// Grad returns the nonzero partial derivatives of e at x, keyed by
// state index.
func Grad(e Expr, x []float64) map[int]float64 {
	g := make(map[int]float64)
	e.grad(x, 1, g)
	return g
}

// Vars returns the sorted state indices e depends on.
func Vars(e Expr, x []float64) []int {
	g := Grad(e, x)
	o := make([]int, 0, len(g))
	for i := range g {
		o = append(o, i)
	}
	sort.Ints(o)
	return o
}

// Var is the state element with the given index.
type Var int

// Eval implements Expr.
func (v Var) Eval(x []float64) float64 { return x[v] }

func (v Var) grad(_ []float64, s float64, g map[int]float64) { g[int(v)] += s }

// Const is a constant.
type Const float64

// Eval implements Expr.
func (c Const) Eval([]float64) float64 { return float64(c) }

func (Const) grad([]float64, float64, map[int]float64) {}

type sum []Expr

// Add returns the sum of the terms.
func Add(terms ...Expr) Expr {
	if len(terms) == 1 {
		return terms[0]
	}
	return sum(terms)
}

func (e sum) Eval(x []float64) float64 {
	var v float64
	for _, t := range e {
		v += t.Eval(x)
	}
	return v
}

func (e sum) grad(x []float64, s float64, g map[int]float64) {
	for _, t := range e {
		t.grad(x, s, g)
	}
}

// Sub returns a-b.
func Sub(a, b Expr) Expr { return sum{a, Scale(-1, b)} }

type product [2]Expr

// Mul returns a*b, or the product of all factors if more are given.
func Mul(a, b Expr, more ...Expr) Expr {
	p := Expr(product{a, b})
	for _, m := range more {
		p = product{p, m}
	}
	return p
}

func (e product) Eval(x []float64) float64 { return e[0].Eval(x) * e[1].Eval(x) }

func (e product) grad(x []float64, s float64, g map[int]float64) {
	a, b := e[0].Eval(x), e[1].Eval(x)
	e[0].grad(x, s*b, g)
	e[1].grad(x, s*a, g)
}

type quotient [2]Expr

// Div returns a/b.
func Div(a, b Expr) Expr { return quotient{a, b} }

func (e quotient) Eval(x []float64) float64 { return e[0].Eval(x) / e[1].Eval(x) }

func (e quotient) grad(x []float64, s float64, g map[int]float64) {
	a, b := e[0].Eval(x), e[1].Eval(x)
	e[0].grad(x, s/b, g)
	e[1].grad(x, -s*a/(b*b), g)
}

type scaled struct {
	c float64
	e Expr
}

// Scale returns c*e.
func Scale(c float64, e Expr) Expr { return scaled{c: c, e: e} }

func (e scaled) Eval(x []float64) float64 { return e.c * e.e.Eval(x) }

func (e scaled) grad(x []float64, s float64, g map[int]float64) { e.e.grad(x, s*e.c, g) }

type power struct {
	e Expr
	n float64
}

// Pow returns e raised to the constant power n.
func Pow(e Expr, n float64) Expr { return power{e: e, n: n} }

func (e power) Eval(x []float64) float64 { return math.Pow(e.e.Eval(x), e.n) }

func (e power) grad(x []float64, s float64, g map[int]float64) {
	e.e.grad(x, s*e.n*math.Pow(e.e.Eval(x), e.n-1), g)
}

type exponential struct{ e Expr }

// Exp returns exp(e).
func Exp(e Expr) Expr { return exponential{e: e} }

func (e exponential) Eval(x []float64) float64 { return math.Exp(e.e.Eval(x)) }

func (e exponential) grad(x []float64, s float64, g map[int]float64) {
	e.e.grad(x, s*math.Exp(e.e.Eval(x)), g)
}

// Propagate evaluates e at x and returns the value along with its
// standard error, computed by linear error propagation with the
// n×n row-major covariance matrix cov.
func Propagate(e Expr, x, cov []float64) Estimate {
	n := len(x)
	g := Grad(e, x)
	idx := make([]int, 0, len(g))
	for i := range g {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	var v float64
	for _, i := range idx {
		for _, j := range idx {
			v += g[i] * g[j] * cov[i*n+j]
		}
	}
	return Estimate{Est: e.Eval(x), Err: math.Sqrt(v)}
}

// Estimate is a value with its uncertainty.
type Estimate struct {
	Est, Err float64
}
