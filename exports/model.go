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
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
)

// NewModel creates a model of the EXPORTS observations. The total POC
// constraint is used if the workbook holds the data for it.
func NewModel(d *Data, cfg pyrite.Config, log logrus.FieldLogger) (*pyrite.Model, error) {
	means, err := ProcessPOC(d.POC, cfg.Grid)
	if err != nil {
		return nil, err
	}
	pp, err := NPPPriors(d.NPP)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"P30": pp.P30, "P30_err": pp.P30Err,
		"Lp": pp.Lp, "Lp_err": pp.LpErr,
	}).Info("production priors")
	if d.HasConstraintData() {
		c, reg, err := d.TotalPOCConstraint(cfg.Grid)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"slope": reg.Slope, "intercept": reg.Intercept,
			"r2": reg.R2, "variance": reg.Variance,
		}).Info("total POC constraint")
		cfg.Constraint = c
	}
	params := pyrite.DefaultParams(pp.P30, pp.P30Err, pp.Lp, pp.LpErr)
	if cfg.DVM.Enabled {
		params = append(params, pyrite.DVMParams()...)
	}
	return pyrite.NewModel(cfg, Tracers(means), params), nil
}
