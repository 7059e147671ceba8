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
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Profile is a vertical profile of estimates on the model grid.
type Profile struct {
	Est, Err []float64
}

// At returns the estimate at grid point i.
func (p Profile) At(i int) Estimate { return Estimate{Est: p.Est[i], Err: p.Err[i]} }

// ParamEstimate is the posterior estimate of a parameter. Depth-varying
// parameters have one estimate per zone.
type ParamEstimate struct {
	Estimate
	Zones map[string]Estimate
}

// At returns the estimate in the given zone.
func (p ParamEstimate) At(zone string) Estimate {
	if p.Zones != nil {
		return p.Zones[zone]
	}
	return p.Estimate
}

// Run holds the results of one inversion.
type Run struct {
	// Gamma is the model error factor.
	Gamma float64

	Converged bool

	// Cost and Convergence hold the value of the cost function and
	// the maximum relative change of the state at each iteration.
	Cost, Convergence []float64

	// Cf is the diagonal of the model error covariance matrix.
	Cf []float64

	// Xhat and XhatErr are the posterior state estimates and errors,
	// and Cvm is their row-major covariance matrix.
	Xhat, XhatErr, Cvm []float64

	Tracers map[string]Profile
	Params  map[string]ParamEstimate

	// Total is total POC (POCS + POCL).
	Total Profile

	// XResids are the state residuals normalized by the prior errors, and
	// FResids are the equation residuals normalized by the model errors.
	XResids, FResids []float64

	// TracerResids are the residuals of each tracer's equations.
	TracerResids map[string][]float64

	// Inventories and IntegratedResids are indexed by zone and tracer.
	Inventories      map[string]map[string]Estimate
	IntegratedResids map[string]map[string]float64

	FluxProfiles map[string]Profile

	// FluxIntegrals are indexed by zone and flux.
	FluxIntegrals map[string]map[string]Estimate

	// Timescales are indexed by zone, tracer, and flux.
	Timescales map[string]map[string]map[string]Estimate
}

// Iteration describes the state of an inversion after an iteration.
type Iteration struct {
	Run       *Run
	K         int
	Cost      float64
	MaxChange float64
}

// IterationFunc is called after each iteration of an inversion.
type IterationFunc func(Iteration) error

// LogIterations returns a function that logs the progress of the
// inversion.
func LogIterations(log logrus.FieldLogger) IterationFunc {
	return func(it Iteration) error {
		log.WithFields(logrus.Fields{
			"gamma":     it.Run.Gamma,
			"iteration": it.K,
			"cost":      it.Cost,
			"change":    it.MaxChange,
		}).Debug("ATI iteration")
		return nil
	}
}

// SweepGammas returns a function that runs one inversion for each of
// the model's model error factors, concurrently.
func SweepGammas(ctx context.Context, log logrus.FieldLogger, funcs ...IterationFunc) ModelManipulator {
	return func(m *Model) error {
		m.prepare()
		m.Runs = make([]*Run, len(m.Gammas))
		g, ctx := errgroup.WithContext(ctx)
		for i, gamma := range m.Gammas {
			i, gamma := i, gamma
			g.Go(func() error {
				r, err := m.Invert(ctx, gamma, funcs...)
				if err != nil {
					return fmt.Errorf("pyrite: gamma=%g: %w", gamma, err)
				}
				log.WithFields(logrus.Fields{
					"gamma":      gamma,
					"converged":  r.Converged,
					"iterations": len(r.Cost),
				}).Info("inversion finished")
				m.Runs[i] = r
				return nil
			})
		}
		return g.Wait()
	}
}

// modelError returns the diagonal of the model error covariance matrix
// for model error factor gamma.
func (m *Model) modelError(gamma float64) []float64 {
	p30, _ := m.Param(P30)
	cf := make([]float64, len(m.EquationElements))
	nte := m.NumTracerElements()
	for i := range cf {
		if i < nte {
			cf[i] = p30.Prior * p30.Prior * gamma
		} else {
			cf[i] = m.Constraint.Variance
		}
	}
	return cf
}

// logPrior returns the prior state and covariance matrix transformed
// to log space.
func (m *Model) logPrior() (*mat.VecDense, *mat.Dense) {
	n := len(m.Xo)
	xo := mat.NewVecDense(n, nil)
	co := mat.NewDense(n, n, nil)
	for i, v := range m.Xo {
		xo.SetVec(i, math.Log(v))
		for j := 0; j < n; j++ {
			co.Set(i, j, math.Log(1+m.Co[i*n+j]/(v*m.Xo[j])))
		}
	}
	return xo, co
}

// Invert runs the algorithm of total inversion with model error factor
// gamma. Failure to converge within MaxIterations is not an error; it is
// reported in the Converged field of the result.
func (m *Model) Invert(ctx context.Context, gamma float64, funcs ...IterationFunc) (*Run, error) {
	m.prepare()
	r := &Run{Gamma: gamma, Cf: m.modelError(gamma)}
	n, ne := len(m.Xo), len(m.equations)

	xoLog, coLog := m.logPrior()
	var coLogInv mat.Dense
	if err := inverse(&coLogInv, coLog); err != nil {
		return nil, err
	}
	cfInv := make([]float64, ne)
	for i, v := range r.Cf {
		cfInv[i] = 1 / v
	}

	xk := mat.VecDenseCopyOf(xoLog)
	xkp1 := mat.NewVecDense(n, nil)
	var (
		F    *mat.Dense
		coFT mat.Dense
		a    mat.Dense
	)
	for k := 0; k < m.MaxIterations; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var f []float64
		f, F = evaluate(m.equations, xk.RawVector().Data, true)

		coFT.Mul(coLog, F.T())
		var fcoft mat.Dense
		fcoft.Mul(F, &coFT)
		for i, v := range r.Cf {
			fcoft.Set(i, i, fcoft.At(i, i)+v)
		}
		if err := inverse(&a, &fcoft); err != nil {
			return nil, err
		}

		var dx, rhs, tmp mat.VecDense
		dx.SubVec(xk, xoLog)
		rhs.MulVec(F, &dx)
		rhs.SubVec(&rhs, mat.NewVecDense(ne, f))
		tmp.MulVec(&a, &rhs)
		xkp1.MulVec(&coFT, &tmp)
		xkp1.AddVec(xkp1, xoLog)

		cost := mat.Inner(&dx, &coLogInv, &dx)
		for i, v := range f {
			cost += v * v * cfInv[i]
		}
		r.Cost = append(r.Cost, cost)

		var change float64
		for i := 0; i < n; i++ {
			next, prev := xkp1.AtVec(i), xk.AtVec(i)
			if math.IsNaN(next) || math.IsInf(next, 0) {
				return nil, fmt.Errorf("%w: %s is %g at iteration %d", ErrNumerical, m.StateElements[i], next, k)
			}
			c := math.Abs((math.Exp(next) - math.Exp(prev)) / math.Exp(prev))
			change = math.Max(change, c)
		}
		r.Convergence = append(r.Convergence, change)
		for _, fn := range funcs {
			if err := fn(Iteration{Run: r, K: k, Cost: cost, MaxChange: change}); err != nil {
				return nil, err
			}
		}
		if change < m.ConvergenceLimit {
			r.Converged = true
			break
		}
		xk.CopyVec(xkp1)
	}

	// Posterior covariance in log space.
	var coftA, b1, aF, b2, ckp1 mat.Dense
	coftA.Mul(&coFT, &a)
	b1.Mul(&coftA, F)
	b1.Sub(eye(n), &b1)
	aF.Mul(&a, F)
	b2.Mul(F.T(), &aF)
	b2.Mul(&b2, coLog)
	b2.Sub(eye(n), &b2)
	ckp1.Mul(&b1, coLog)
	ckp1.Mul(&ckp1, &b2)

	if err := m.unlog(r, xkp1, &ckp1); err != nil {
		return nil, err
	}
	m.unpack(r)
	m.residuals(r)
	return r, nil
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// unlog converts the lognormal posterior to expected values, errors,
// and covariances of the state.
func (m *Model) unlog(r *Run, mean *mat.VecDense, cov *mat.Dense) error {
	n := mean.Len()
	r.Xhat = make([]float64, n)
	r.XhatErr = make([]float64, n)
	r.Cvm = make([]float64, n*n)
	for i := 0; i < n; i++ {
		mi, vi := mean.AtVec(i), cov.At(i, i)
		r.Xhat[i] = math.Exp(mi + vi/2)
		r.XhatErr[i] = math.Sqrt(math.Exp(2*mi+vi) * (math.Exp(vi) - 1))
		for j := 0; j < n; j++ {
			mj, vj := mean.AtVec(j), cov.At(j, j)
			r.Cvm[i*n+j] = math.Exp(mi+mj) * math.Exp((vi+vj)/2) * (math.Exp(cov.At(i, j)) - 1)
		}
	}
	for i, v := range r.Xhat {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(r.XhatErr[i]) {
			return fmt.Errorf("%w: posterior estimate of %s is not finite", ErrNumerical, m.StateElements[i])
		}
	}
	return nil
}

// unpack sorts the posterior state into tracer profiles and parameter
// estimates, and calculates total POC.
func (m *Model) unpack(r *Run) {
	n := m.Grid.Len()
	r.Tracers = make(map[string]Profile, len(m.Tracers))
	for ti, t := range m.Tracers {
		r.Tracers[t.Name] = Profile{
			Est: append([]float64(nil), r.Xhat[ti*n:(ti+1)*n]...),
			Err: append([]float64(nil), r.XhatErr[ti*n:(ti+1)*n]...),
		}
	}
	r.Params = make(map[string]ParamEstimate, len(m.Params))
	for _, p := range m.Params {
		if p.DepthVarying {
			pe := ParamEstimate{Zones: make(map[string]Estimate)}
			for zi, z := range ZoneNames {
				i := m.paramIndex(p.Name, zi)
				pe.Zones[z] = Estimate{Est: r.Xhat[i], Err: r.XhatErr[i]}
			}
			r.Params[p.Name] = pe
		} else {
			i := m.paramIndex(p.Name, 0)
			r.Params[p.Name] = ParamEstimate{Estimate: Estimate{Est: r.Xhat[i], Err: r.XhatErr[i]}}
		}
	}
	r.Total = Profile{Est: make([]float64, n), Err: make([]float64, n)}
	for i := 0; i < n; i++ {
		e := r.Propagate(Add(m.tracerVar(0, i), m.tracerVar(1, i)))
		r.Total.Est[i], r.Total.Err[i] = e.Est, e.Err
	}
}

// residuals calculates the normalized state and equation residuals.
func (m *Model) residuals(r *Run) {
	coErr := m.PriorErrors()
	r.XResids = make([]float64, len(r.Xhat))
	for i, x := range r.Xhat {
		r.XResids[i] = (x - m.Xo[i]) / coErr[i]
	}
	f, _ := evaluate(m.equations, r.Xhat, false)
	r.FResids = make([]float64, len(f))
	for i, v := range f {
		r.FResids[i] = v / math.Sqrt(r.Cf[i])
	}
	n := m.Grid.Len()
	r.TracerResids = make(map[string][]float64, len(m.Tracers))
	for ti, t := range m.Tracers {
		r.TracerResids[t.Name] = append([]float64(nil), f[ti*n:(ti+1)*n]...)
	}
}

// Propagate evaluates e at the posterior state and propagates the
// posterior covariance through it.
func (r *Run) Propagate(e Expr) Estimate { return Propagate(e, r.Xhat, r.Cvm) }
