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


package geotraces

import (
	"fmt"
	"math"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
)

const (
	// lpFitRange is the depth range below the mixed layer used to fit
	// the production length scale [m].
	lpFitRange = 150

	// p30RelErr is the relative error of the P30 prior.
	p30RelErr = 0.5

	// defaultLpRelErr is the relative error of the default Lp prior.
	defaultLpRelErr = 0.5
)

// Priors are the station-specific prior estimates.
type Priors struct {
	Station int

	MixedLayerDepth float64 // m

	// Lp is the e-folding length scale of production [m]. LpDefault is
	// true if it could not be fit to the POC profile.
	Lp, LpErr float64
	LpDefault bool

	// EuphoticDepth is the depth of the 1% light level, Lp·ln(100) [m].
	EuphoticDepth float64

	// NPP is the satellite-derived depth-integrated net primary
	// production [mg C m⁻² d⁻¹].
	NPP float64

	P30, P30Err float64 // mmol m⁻³ d⁻¹

	Grid pyrite.Grid
}

// StationPriors derives the priors of station st. mld is the mixed layer
// depth [m], npp the depth-integrated net primary production
// [mg C m⁻² d⁻¹], and step the grid spacing [m]. If the POC profile
// does not decay below the mixed layer, defaultLp is used for Lp.
func StationPriors(st *Station, mld, npp, step, defaultLp float64, log logrus.FieldLogger) (Priors, error) {
	p := Priors{Station: st.ID, MixedLayerDepth: mld, NPP: npp}
	if !(mld > 0) {
		return p, fmt.Errorf("geotraces: station %d: invalid mixed layer depth %g", st.ID, mld)
	}
	if !(npp > 0) {
		return p, fmt.Errorf("geotraces: station %d: invalid NPP %g", st.ID, npp)
	}
	lp, lpErr, err := fitLp(st, mld)
	if err != nil {
		log.WithField("station", st.ID).Warnf("%v; using Lp = %g m", err, defaultLp)
		lp, lpErr = defaultLp, defaultLp*defaultLpRelErr
		p.LpDefault = true
	}
	p.Lp, p.LpErr = lp, lpErr
	p.EuphoticDepth = lp * math.Log(100)
	p.P30 = npp / (pyrite.MolarMassC * (mld + lp))
	p.P30Err = p30RelErr * p.P30
	p.Grid, err = StationGrid(st, mld, p.EuphoticDepth, step)
	if err != nil {
		return p, err
	}
	return p, nil
}

// fitLp fits an exponential decay to the small-particle POC profile
// between the mixed layer depth and 150 m below it.
func fitLp(st *Station, mld float64) (lp, lpErr float64, err error) {
	var depths, logs []float64
	for _, s := range st.Samples {
		if s.Depth >= mld && s.Depth <= mld+lpFitRange && s.POCS > 0 {
			depths = append(depths, s.Depth)
			logs = append(logs, math.Log(s.POCS))
		}
	}
	if len(depths) < 3 {
		return 0, 0, fmt.Errorf("station %d has %d POCS samples to fit Lp", st.ID, len(depths))
	}
	slope, _, _, _, slopeSE, _ := stats.LinearRegression(depths, logs)
	if !(slope < 0) {
		return 0, 0, fmt.Errorf("station %d POCS does not decrease below the mixed layer (slope %g)", st.ID, slope)
	}
	return -1 / slope, slopeSE / (slope * slope), nil
}

// StationGrid returns the model grid of station st. The first grid point
// is the mixed layer depth rounded to the grid step, the last is the
// deepest sample rounded down to the step, and the zone boundary is
// the grid midpoint closest to the euphotic zone depth ez. Each zone
// keeps at least three grid points.
func StationGrid(st *Station, mld, ez, step float64) (pyrite.Grid, error) {
	if !(step > 0) {
		return pyrite.Grid{}, fmt.Errorf("geotraces: grid step must be positive")
	}
	if len(st.Samples) == 0 {
		return pyrite.Grid{}, fmt.Errorf("geotraces: station %d has no samples", st.ID)
	}
	g := pyrite.Grid{
		MixedLayerDepth: math.Max(step, math.Round(mld/step)*step),
		MaxDepth:        math.Floor(st.Samples[len(st.Samples)-1].Depth/step) * step,
		Step:            step,
	}
	k := math.Floor((ez-g.MixedLayerDepth)/step) + 0.5
	kMax := (g.MaxDepth-g.MixedLayerDepth)/step - 2.5
	k = math.Min(math.Max(k, 2.5), kMax)
	g.Boundary = g.MixedLayerDepth + k*step
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("geotraces: station %d: %w", st.ID, err)
	}
	return g, nil
}

// NewModel creates a model of station st with the given priors.
// cfg.Grid is replaced by the station grid.
func NewModel(st *Station, p Priors, cfg pyrite.Config) *pyrite.Model {
	cfg.Grid = p.Grid
	params := pyrite.DefaultParams(p.P30, p.P30Err, p.Lp, p.LpErr)
	if cfg.DVM.Enabled {
		params = append(params, pyrite.DVMParams()...)
	}
	return pyrite.NewModel(cfg, st.Tracers(), params)
}
