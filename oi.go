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
	"sort"

	"github.com/GaryBoone/GoStats/stats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// InterpolatePriors returns a function that splits the grid into zones
// and objectively interpolates the tracer observations onto the grid
// to obtain the tracer priors. The correlation length scale of each zone
// is derived from the total POC profile first.
func InterpolatePriors() ModelManipulator {
	return func(m *Model) error {
		if err := m.Config.Validate(); err != nil {
			return err
		}
		zones, err := m.Grid.Zones()
		if err != nil {
			return err
		}
		m.Zones = zones
		pt, err := m.totalProfile()
		if err != nil {
			return err
		}
		for _, z := range m.Zones {
			if err := z.setLengthScale(pt, m.Grid.Step, m.LengthScaleFraction); err != nil {
				return err
			}
		}
		n := m.Grid.Len()
		for _, t := range m.Tracers {
			t.Prior = make([]float64, n)
			t.PriorErr = make([]float64, n)
			t.ZoneCov = make([][]float64, len(m.Zones))
			for zi, z := range m.Zones {
				est, cov, err := objectiveInterpolation(z, t.Observations)
				if err != nil {
					return fmt.Errorf("pyrite: interpolating %s in the %s: %w", t.Name, z.Name, err)
				}
				k := len(z.Indices)
				for j, i := range z.Indices {
					t.Prior[i] = est[j]
					t.PriorErr[i] = math.Sqrt(cov[j*k+j])
				}
				t.ZoneCov[zi] = cov
			}
		}
		return nil
	}
}

// totalProfile returns total POC at each grid point, either from the
// total POC constraint or by linear interpolation of the sum of the
// observed size fractions.
func (m *Model) totalProfile() ([]float64, error) {
	if m.Constraint != nil {
		return m.Constraint.Profile, nil
	}
	sums := make(map[float64]float64)
	counts := make(map[float64]int)
	for _, t := range m.Tracers {
		for _, o := range t.Observations {
			sums[o.Depth] += o.Conc
			counts[o.Depth]++
		}
	}
	var depths []float64
	for d, c := range counts {
		if c == len(m.Tracers) {
			depths = append(depths, d)
		}
	}
	if len(depths) < 2 {
		return nil, fmt.Errorf("pyrite: need at least 2 depths where all tracers are observed but have %d", len(depths))
	}
	sort.Float64s(depths)
	totals := make([]float64, len(depths))
	for i, d := range depths {
		totals[i] = sums[d]
	}
	var pl interp.PiecewiseLinear
	pl.Fit(depths, totals)
	grid := m.Grid.Depths()
	o := make([]float64, len(grid))
	for i, d := range grid {
		o[i] = pl.Predict(d)
	}
	return o, nil
}

// setLengthScale fits an exponential decay to the autocorrelation
// function of the zone's portion of profile.
func (z *Zone) setLengthScale(profile []float64, step, fraction float64) error {
	x := make([]float64, len(z.Indices))
	for j, i := range z.Indices {
		x[j] = profile[i]
	}
	nLags := int(math.Ceil(float64(len(x)) * fraction))
	acf, err := autocorrelation(x, nLags)
	if err != nil {
		return fmt.Errorf("pyrite: %s length scale: %w", z.Name, err)
	}
	z.Lags = z.Lags[:0]
	z.Autocorrelation = z.Autocorrelation[:0]
	var logAC []float64
	for k, ac := range acf {
		if ac <= 0 {
			break
		}
		z.Lags = append(z.Lags, float64(k)*step)
		z.Autocorrelation = append(z.Autocorrelation, ac)
		logAC = append(logAC, math.Log(ac))
	}
	if len(logAC) < 2 {
		return fmt.Errorf("pyrite: %s length scale: autocorrelation is not positive at the first lag", z.Name)
	}
	slope, _, r2, _, _, _ := stats.LinearRegression(z.Lags, logAC)
	if !(slope < 0) {
		return fmt.Errorf("pyrite: %s length scale: autocorrelation does not decay with lag (slope %g)", z.Name, slope)
	}
	z.LengthScale = -1 / slope
	z.LengthScaleR2 = r2
	return nil
}

// autocorrelation returns the autocorrelation function of x at lags
// 0 through nLags.
func autocorrelation(x []float64, nLags int) ([]float64, error) {
	n := len(x)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 values but have %d", n)
	}
	if nLags >= n {
		nLags = n - 1
	}
	mean := stat.Mean(x, nil)
	acov := make([]float64, nLags+1)
	for k := range acov {
		for t := 0; t < n-k; t++ {
			acov[k] += (x[t] - mean) * (x[t+k] - mean)
		}
		acov[k] /= float64(n)
	}
	a0 := acov[0]
	if a0 == 0 {
		return nil, fmt.Errorf("profile has no variance")
	}
	for k := range acov {
		acov[k] /= a0
	}
	return acov, nil
}

// objectiveInterpolation interpolates the observations located within
// the depth range of zone z onto the zone's grid points. It returns the
// interpolated values and their row-major covariance matrix.
func objectiveInterpolation(z *Zone, obs []Observation) ([]float64, []float64, error) {
	minDepth, maxDepth := z.Depths[0], z.Depths[len(z.Depths)-1]
	var depths, conc, concErr []float64
	for _, o := range obs {
		if o.Depth >= minDepth && o.Depth <= maxDepth {
			depths = append(depths, o.Depth)
			conc = append(conc, o.Conc)
			concErr = append(concErr, o.ConcErr)
		}
	}
	m := len(depths)
	if m < 2 {
		return nil, nil, fmt.Errorf("need at least 2 observations but have %d", m)
	}
	L := z.LengthScale
	mean, variance := stat.MeanVariance(conc, nil)
	var noise float64
	for _, e := range concErr {
		noise += e * e
	}
	variance += noise / float64(m)

	corr := func(a, b []float64) *mat.Dense {
		r := mat.NewDense(len(a), len(b), nil)
		r.Apply(func(i, j int, _ float64) float64 {
			return variance * math.Exp(-math.Abs(a[i]-b[j])/L)
		}, r)
		return r
	}
	ryy := corr(depths, depths)
	for i, e := range concErr {
		ryy.Set(i, i, ryy.At(i, i)+e*e)
	}
	rxx := corr(z.Depths, z.Depths)
	rxy := corr(z.Depths, depths)

	var ryyInv mat.Dense
	if err := inverse(&ryyInv, ryy); err != nil {
		return nil, nil, err
	}
	var gain mat.Dense
	gain.Mul(rxy, &ryyInv)

	anom := mat.NewVecDense(m, nil)
	for i, c := range conc {
		anom.SetVec(i, c-mean)
	}
	var est mat.VecDense
	est.MulVec(&gain, anom)

	var p mat.Dense
	p.Mul(&gain, rxy.T())
	p.Sub(rxx, &p)

	k := len(z.Depths)
	o := make([]float64, k)
	for i := range o {
		o[i] = est.AtVec(i) + mean
	}
	cov := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			cov[i*k+j] = p.At(i, j)
		}
	}
	return o, cov, nil
}

// inverse stores the inverse of a in dst. Exactly singular matrices
// result in ErrSingular; ill-conditioned matrices are still inverted.
func inverse(dst *mat.Dense, a mat.Matrix) error {
	err := dst.Inverse(a)
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
