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


package plots

import (
	"fmt"
	"path/filepath"

	"github.com/spatialmodel/pyrite/mc"
	"gonum.org/v1/plot"
)

// ParamHistograms draws, for each sampled parameter, a histogram of the
// prior values of the parameter sets that were successful at every
// station. The files are named hist_<param>.<format>.
func ParamHistograms(rows []mc.TableRow, dir, format string) error {
	var n int
	for _, r := range rows {
		if r.Success {
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("plots: no successful parameter sets")
	}
	for _, param := range mc.Params {
		v := make([]float64, 0, n)
		for _, r := range rows {
			if r.Success {
				v = append(v, r.Values[param])
			}
		}
		p, err := histogram(v, param, 30)
		if err != nil {
			return fmt.Errorf("plots: %s histogram: %v", param, err)
		}
		p.Title.Text = fmt.Sprintf("%d of %d sets", n, len(rows))
		fileName := filepath.Join(dir, "hist_"+param+"."+format)
		if err := save(fileName, figWidth, figHeight, [][]*plot.Plot{{p}}); err != nil {
			return err
		}
	}
	return nil
}
