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

// DefineState returns a function that lays out the state vector,
// assembles the prior state and its covariance matrix, and builds the
// model equations. InterpolatePriors needs to have been run first.
func DefineState() ModelManipulator {
	return func(m *Model) error {
		if err := m.checkParams(); err != nil {
			return err
		}
		if len(m.Tracers) != 2 || m.Tracers[0].Name != POCS || m.Tracers[1].Name != POCL {
			return fmt.Errorf("pyrite: the model needs the tracers %s and %s, in that order", POCS, POCL)
		}
		n := m.Grid.Len()
		m.StateElements = m.StateElements[:0]
		var xo, variance []float64
		for _, t := range m.Tracers {
			if len(t.Prior) != n {
				return fmt.Errorf("pyrite: tracer %s has no prior; run InterpolatePriors first", t.Name)
			}
			for i := 0; i < n; i++ {
				m.StateElements = append(m.StateElements, fmt.Sprintf("%s_%d", t.Name, i))
			}
			xo = append(xo, t.Prior...)
		}
		nte := len(xo)
		for _, p := range m.Params {
			if p.DepthVarying {
				for _, z := range ZoneNames {
					m.StateElements = append(m.StateElements, p.Name+"_"+z)
					xo = append(xo, p.Prior)
					variance = append(variance, p.PriorErr*p.PriorErr)
				}
			} else {
				m.StateElements = append(m.StateElements, p.Name)
				xo = append(xo, p.Prior)
				variance = append(variance, p.PriorErr*p.PriorErr)
			}
		}
		for i, v := range xo {
			if !(v > 0) {
				return fmt.Errorf("%w: %s=%g", ErrNonPositivePrior, m.StateElements[i], v)
			}
		}
		nse := len(xo)
		co := make([]float64, nse*nse)
		for ti, t := range m.Tracers {
			for zi, z := range m.Zones {
				k := len(z.Indices)
				for a, ia := range z.Indices {
					for b, ib := range z.Indices {
						r, c := ti*n+ia, ti*n+ib
						co[r*nse+c] = t.ZoneCov[zi][a*k+b]
					}
				}
			}
		}
		for j, v := range variance {
			i := nte + j
			co[i*nse+i] = v
		}
		m.Xo, m.Co = xo, co

		m.EquationElements = m.EquationElements[:0]
		for _, t := range m.Tracers {
			for i := 0; i < n; i++ {
				m.EquationElements = append(m.EquationElements, fmt.Sprintf("%s_%d", t.Name, i))
			}
		}
		if m.Constraint != nil {
			for i := 0; i < n; i++ {
				m.EquationElements = append(m.EquationElements, fmt.Sprintf("%s_%d", POCT, i))
			}
		}
		m.index = nil
		m.equations = nil
		m.prepare()
		return nil
	}
}

// prepare rebuilds the unexported lookup tables, for example after
// the model has been loaded from a file.
func (m *Model) prepare() {
	if m.index == nil {
		m.index = make(map[string]int, len(m.StateElements))
		for i, e := range m.StateElements {
			m.index[e] = i
		}
	}
	if m.equations == nil && m.Zones != nil {
		m.equations = m.buildEquations(equationOptions{
			params:     m.stateParams,
			constraint: m.Constraint != nil,
		})
	}
}

// StateIndex returns the index of the named state element, or -1 if
// there is none.
func (m *Model) StateIndex(name string) int {
	m.prepare()
	if i, ok := m.index[name]; ok {
		return i
	}
	return -1
}

// paramIndex returns the state index of parameter name in zone z
// (0 or 1). Parameters that do not vary with depth have a single index.
func (m *Model) paramIndex(name string, z int) int {
	if i, ok := m.index[name+"_"+ZoneNames[z]]; ok {
		return i
	}
	if i, ok := m.index[name]; ok {
		return i
	}
	panic(fmt.Errorf("pyrite: no state element for parameter %s", name))
}

// NumTracerElements returns the number of tracer elements in the
// state vector.
func (m *Model) NumTracerElements() int { return len(m.Tracers) * m.Grid.Len() }

// PriorErrors returns the square root of the diagonal of Co.
func (m *Model) PriorErrors() []float64 {
	n := len(m.Xo)
	o := make([]float64, n)
	for i := range o {
		o[i] = math.Sqrt(m.Co[i*n+i])
	}
	return o
}
