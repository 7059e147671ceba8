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
	"fmt"
	"math"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/spatialmodel/pyrite"
	"gonum.org/v1/gonum/stat"
)

// Mixed layer depth range used to estimate P30 [m].
const (
	mixedLayerTop    = 28
	mixedLayerBottom = 35
)

// Means are the cast-averaged POC concentrations at a grid depth.
type Means struct {
	Depth  float64
	NCasts int

	// Mean, SD, and SE are the mean, standard deviation, and standard
	// error of each tracer, keyed by tracer name.
	Mean, SD, SE map[string]float64
}

// ProcessPOC averages the POC samples at each grid depth. The standard
// deviation at the shallowest sampled depth is taken to have the same
// relative value as at the next sampled depth. Depths without a mean
// and standard error of both tracers are dropped.
func ProcessPOC(samples []Sample, g pyrite.Grid) ([]Means, error) {
	tracers := []string{pyrite.POCS, pyrite.POCL}
	var o []Means
	for _, depth := range g.Depths() {
		vals := map[string][]float64{}
		n := 0
		for _, s := range samples {
			if s.Depth != depth {
				continue
			}
			n++
			if !math.IsNaN(s.POCS) {
				vals[pyrite.POCS] = append(vals[pyrite.POCS], s.POCS)
			}
			if !math.IsNaN(s.POCL) {
				vals[pyrite.POCL] = append(vals[pyrite.POCL], s.POCL)
			}
		}
		if n == 0 {
			continue
		}
		m := Means{
			Depth:  depth,
			NCasts: n,
			Mean:   make(map[string]float64),
			SD:     make(map[string]float64),
			SE:     make(map[string]float64),
		}
		for _, t := range tracers {
			switch len(vals[t]) {
			case 0:
				m.Mean[t], m.SD[t] = nan, nan
			case 1:
				m.Mean[t], m.SD[t] = vals[t][0], nan
			default:
				m.Mean[t], m.SD[t] = stat.MeanStdDev(vals[t], nil)
			}
		}
		o = append(o, m)
	}
	if len(o) > 1 {
		for _, t := range tracers {
			o[0].SD[t] = o[0].Mean[t] * o[1].SD[t] / o[1].Mean[t]
		}
	}
	var kept []Means
	for _, m := range o {
		ok := true
		for _, t := range tracers {
			m.SE[t] = m.SD[t] / math.Sqrt(float64(m.NCasts))
			if math.IsNaN(m.Mean[t]) || math.IsNaN(m.SE[t]) {
				ok = false
			}
		}
		if ok {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("exports: no POC samples at grid depths")
	}
	return kept, nil
}

// Tracers converts the averaged samples to model tracers.
func Tracers(means []Means) []*pyrite.Tracer {
	var o []*pyrite.Tracer
	for _, t := range []string{pyrite.POCS, pyrite.POCL} {
		obs := make([]pyrite.Observation, len(means))
		for i, m := range means {
			obs[i] = pyrite.Observation{Depth: m.Depth, Conc: m.Mean[t], ConcErr: m.SE[t]}
		}
		o = append(o, pyrite.NewTracer(t, obs))
	}
	return o
}

// ProductionPriors are the priors of the production parameters.
type ProductionPriors struct {
	P30, P30Err float64 // mmol m⁻³ d⁻¹
	Lp, LpErr   float64 // m
}

// NPPPriors derives the priors of P30 and Lp from net primary
// production measurements. P30 is the mean production in the mixed
// layer, and Lp is the e-folding length of production below it.
func NPPPriors(npp []NPPSample) (ProductionPriors, error) {
	var ml, depths, values []float64
	for _, s := range npp {
		if !(s.NPP > 0) {
			continue
		}
		if s.Depth >= mixedLayerTop && s.Depth <= mixedLayerBottom {
			ml = append(ml, s.NPP)
		}
		if s.Depth >= mixedLayerTop {
			depths = append(depths, s.Depth)
			values = append(values, s.NPP)
		}
	}
	if len(ml) < 2 {
		return ProductionPriors{}, fmt.Errorf("exports: need at least 2 NPP measurements between %d and %d m but have %d",
			mixedLayerTop, mixedLayerBottom, len(ml))
	}
	if len(depths) < 3 {
		return ProductionPriors{}, fmt.Errorf("exports: need at least 3 NPP measurements below %d m but have %d",
			mixedLayerTop, len(depths))
	}
	mean, sd := stat.MeanStdDev(ml, nil)
	p := ProductionPriors{
		P30:    mean / pyrite.MolarMassC,
		P30Err: stat.StdErr(sd, float64(len(ml))) / pyrite.MolarMassC,
	}
	logs := make([]float64, len(values))
	for i, v := range values {
		logs[i] = math.Log(v / (pyrite.MolarMassC * p.P30))
	}
	slope, _, _, _, slopeSE, _ := stats.LinearRegression(depths, logs)
	if !(slope < 0) {
		return ProductionPriors{}, fmt.Errorf("exports: NPP does not decrease with depth (slope %g)", slope)
	}
	p.Lp = -1 / slope
	p.LpErr = slopeSE / (slope * slope)
	return p, nil
}
