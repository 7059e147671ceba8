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
)

// Zone names.
const (
	LEZ = "LEZ" // lower euphotic zone
	UMZ = "UMZ" // upper mesopelagic zone
)

// ZoneNames lists the zones in the order they occur with depth.
var ZoneNames = []string{LEZ, UMZ}

// Grid specifies the vertical model grid. Grid points are located
// at MixedLayerDepth, MixedLayerDepth+Step, ..., MaxDepth, and are
// split into the two zones at Boundary. All values are in meters.
type Grid struct {
	// MixedLayerDepth is the depth of the first grid point.
	MixedLayerDepth float64

	// MaxDepth is the depth of the last grid point.
	MaxDepth float64

	// Step is the distance between grid points.
	Step float64

	// Boundary is the depth dividing the LEZ from the UMZ.
	// It must not coincide with a grid point.
	Boundary float64
}

// DefaultGrid returns the grid used for the EXPORTS North Pacific station.
func DefaultGrid() Grid {
	return Grid{
		MixedLayerDepth: 30,
		MaxDepth:        500,
		Step:            5,
		Boundary:        112.5,
	}
}

// Depths returns the depths of the grid points.
func (g Grid) Depths() []float64 {
	n := g.Len()
	o := make([]float64, n)
	for i := range o {
		o[i] = g.MixedLayerDepth + float64(i)*g.Step
	}
	return o
}

// Len returns the number of grid points.
func (g Grid) Len() int {
	if g.Step <= 0 || g.MaxDepth < g.MixedLayerDepth {
		return 0
	}
	return int(math.Floor((g.MaxDepth-g.MixedLayerDepth)/g.Step+1e-9)) + 1
}

// Validate checks whether g can be used in a model.
func (g Grid) Validate() error {
	if g.Step <= 0 {
		return fmt.Errorf("pyrite: grid step must be positive but is %g", g.Step)
	}
	if g.MixedLayerDepth <= 0 {
		return fmt.Errorf("pyrite: mixed layer depth must be positive but is %g", g.MixedLayerDepth)
	}
	if n := g.Len(); n < 4 {
		return fmt.Errorf("pyrite: the grid needs at least 4 points but has %d", n)
	}
	for _, d := range g.Depths() {
		if d == g.Boundary {
			return fmt.Errorf("pyrite: zone boundary %g coincides with a grid point", g.Boundary)
		}
	}
	if g.Boundary <= g.MixedLayerDepth || g.Boundary >= g.MaxDepth {
		return fmt.Errorf("pyrite: zone boundary %g must be between %g and %g",
			g.Boundary, g.MixedLayerDepth, g.MaxDepth)
	}
	return nil
}

// Zone is a contiguous set of grid points.
type Zone struct {
	Name string

	// Indices are the grid indices in the zone.
	Indices []int

	// Depths are the depths of the grid points in the zone.
	Depths []float64

	// Intervals are the integration intervals of the grid points.
	Intervals []float64

	// LengthScale is the correlation length scale used in objective
	// interpolation [m].
	LengthScale float64

	// Lags and Autocorrelation hold the autocorrelation function
	// used to derive LengthScale, and LengthScaleR2 is the coefficient
	// of determination of the fit.
	Lags, Autocorrelation []float64
	LengthScaleR2         float64
}

// Zones splits the grid into the LEZ and the UMZ.
func (g Grid) Zones() ([]*Zone, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	lez := &Zone{Name: LEZ}
	umz := &Zone{Name: UMZ}
	for i, d := range g.Depths() {
		z := umz
		if d < g.Boundary {
			z = lez
		}
		z.Indices = append(z.Indices, i)
		z.Depths = append(z.Depths, d)
		z.Intervals = append(z.Intervals, g.Step)
	}
	lez.Intervals[0] = g.Step / 2
	umz.Intervals[len(umz.Intervals)-1] = g.Step / 2
	return []*Zone{lez, umz}, nil
}

// ZoneIndex returns the index (0 for the LEZ, 1 for the UMZ) of the zone
// containing grid point i.
func (g Grid) ZoneIndex(i int) int {
	if g.MixedLayerDepth+float64(i)*g.Step < g.Boundary {
		return 0
	}
	return 1
}

// Nearest returns the index of the grid point closest to depth.
func (g Grid) Nearest(depth float64) int {
	i := int(math.Round((depth - g.MixedLayerDepth) / g.Step))
	if i < 0 {
		return 0
	}
	if n := g.Len(); i >= n {
		return n - 1
	}
	return i
}
