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
	"encoding/gob"
	"fmt"
	"io"
)

// modelData holds the persisted fields of a model.
type modelData struct {
	Config           Config
	Tracers          []*Tracer
	Params           []Param
	Zones            []*Zone
	StateElements    []string
	EquationElements []string
	Xo, Co           []float64
	Runs             []*Run
}

func (m *Model) data() *modelData {
	return &modelData{
		Config:           m.Config,
		Tracers:          m.Tracers,
		Params:           m.Params,
		Zones:            m.Zones,
		StateElements:    m.StateElements,
		EquationElements: m.EquationElements,
		Xo:               m.Xo,
		Co:               m.Co,
		Runs:             m.Runs,
	}
}

func (m *Model) setData(d *modelData) {
	m.Config = d.Config
	m.Tracers = d.Tracers
	m.Params = d.Params
	m.Zones = d.Zones
	m.StateElements = d.StateElements
	m.EquationElements = d.EquationElements
	m.Xo, m.Co = d.Xo, d.Co
	m.Runs = d.Runs
	m.index, m.equations = nil, nil
	m.prepare()
}

// Save returns a function that saves the model, including its runs,
// to w.
func Save(w io.Writer) ModelManipulator {
	return func(m *Model) error {
		e := gob.NewEncoder(w)
		if err := e.Encode(m.data()); err != nil {
			return fmt.Errorf("pyrite.Model.Save: %v", err)
		}
		return nil
	}
}

// Load returns a function that loads a previously saved model from r.
// The manipulator fields of the receiving model are kept.
func Load(r io.Reader) ModelManipulator {
	return func(m *Model) error {
		dec := gob.NewDecoder(r)
		var d modelData
		if err := dec.Decode(&d); err != nil {
			return fmt.Errorf("pyrite.Model.Load: %v", err)
		}
		m.setData(&d)
		return nil
	}
}

type twinData struct {
	Gamma    float64
	Targets  map[string]ParamEstimate
	Pseudo   []float64
	Model    *modelData
	Recovery map[float64][]Recovery
}

// SaveTwin writes the twin experiment to w.
func SaveTwin(w io.Writer, tw *Twin) error {
	d := twinData{
		Gamma:    tw.Gamma,
		Targets:  tw.Targets,
		Pseudo:   tw.Pseudo,
		Model:    tw.Model.data(),
		Recovery: tw.Recovery,
	}
	if err := gob.NewEncoder(w).Encode(&d); err != nil {
		return fmt.Errorf("pyrite: saving twin experiment: %v", err)
	}
	return nil
}

// LoadTwin reads a twin experiment written by SaveTwin.
func LoadTwin(r io.Reader) (*Twin, error) {
	var d twinData
	if err := gob.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("pyrite: loading twin experiment: %v", err)
	}
	tw := &Twin{
		Gamma:    d.Gamma,
		Targets:  d.Targets,
		Pseudo:   d.Pseudo,
		Model:    new(Model),
		Recovery: d.Recovery,
	}
	tw.Model.setData(d.Model)
	return tw, nil
}
