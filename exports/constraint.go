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
)

// CpRegression is the regression of total POC on the logarithm of the
// beam attenuation coefficient cp.
type CpRegression struct {
	Slope, Intercept, R2 float64

	// Variance is the mean square of the residuals.
	Variance float64

	// Cp and Pt are the paired samples used in the regression.
	Cp, Pt []float64
}

// Predict returns the total POC estimated from cp.
func (r *CpRegression) Predict(cp float64) float64 {
	return r.Intercept + r.Slope*math.Log(cp)
}

// cpAt returns the cp of CTD cast ctd at the given depth.
func (d *Data) cpAt(ctd string, depth float64) (float64, error) {
	prof, ok := d.CpByCast[ctd]
	if !ok {
		return 0, fmt.Errorf("exports: no cp profile for CTD cast %s", ctd)
	}
	i := int(math.Round(depth)) - 1
	if i < 0 || i >= len(prof) || math.IsNaN(prof[i]) {
		return 0, fmt.Errorf("exports: CTD cast %s has no cp at %g m", ctd, depth)
	}
	return prof[i], nil
}

// RegressCp regresses the discrete total POC samples on the cp
// measured by the matching CTD casts.
func (d *Data) RegressCp() (*CpRegression, error) {
	if !d.HasConstraintData() {
		return nil, fmt.Errorf("exports: the workbook has no total POC constraint data")
	}
	match := make(map[string]string, len(d.CastMatch))
	for _, m := range d.CastMatch {
		match[m.Pump] = m.CTD
	}
	r := new(CpRegression)
	for _, s := range d.Discrete {
		ctd, ok := match[s.Cast]
		if !ok {
			return nil, fmt.Errorf("exports: pump cast %s has no matching CTD cast", s.Cast)
		}
		cp, err := d.cpAt(ctd, s.Depth)
		if err != nil {
			return nil, err
		}
		r.Cp = append(r.Cp, cp)
		r.Pt = append(r.Pt, s.Pt)
	}
	n := len(r.Cp)
	if n < 3 {
		return nil, fmt.Errorf("exports: need at least 3 discrete total POC samples but have %d", n)
	}
	logCp := make([]float64, n)
	for i, cp := range r.Cp {
		logCp[i] = math.Log(cp)
	}
	r.Slope, r.Intercept, r.R2, _, _, _ = stats.LinearRegression(logCp, r.Pt)
	var sse float64
	for i, pt := range r.Pt {
		res := pt - r.Predict(r.Cp[i])
		sse += res * res
	}
	r.Variance = sse / float64(n-2)
	return r, nil
}

// TotalPOCConstraint estimates total POC at each grid depth from the
// mean cp profile of the CTD casts matched to pump casts.
func (d *Data) TotalPOCConstraint(g pyrite.Grid) (*pyrite.TotalPOC, *CpRegression, error) {
	reg, err := d.RegressCp()
	if err != nil {
		return nil, nil, err
	}
	depths := g.Depths()
	c := &pyrite.TotalPOC{
		Profile:   make([]float64, len(depths)),
		Variance:  reg.Variance,
		Cp:        reg.Cp,
		Pt:        reg.Pt,
		Slope:     reg.Slope,
		Intercept: reg.Intercept,
		R2:        reg.R2,
	}
	for i, depth := range depths {
		var sum float64
		for _, m := range d.CastMatch {
			cp, err := d.cpAt(m.CTD, depth)
			if err != nil {
				return nil, nil, err
			}
			sum += cp
		}
		c.Profile[i] = reg.Predict(sum / float64(len(d.CastMatch)))
	}
	return c, reg, nil
}
