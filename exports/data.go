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


// Package exports loads and processes the observations made at the
// EXPORTS North Pacific station.
package exports

import (
	"context"
	"math"
	"strconv"

	"github.com/spatialmodel/pyrite/internal/workbook"
	"github.com/tealeg/xlsx"
)

// Sample is a POC sample from one in-situ pump cast.
type Sample struct {
	// Depth is the model grid depth the sample is assigned to [m].
	Depth float64

	// POCS and POCL are the small- and large-particle POC concentrations
	// [mmol m⁻³]. Missing values are NaN.
	POCS, POCL float64
}

// NPPSample is a net primary production measurement.
type NPPSample struct {
	Depth float64 // m
	NPP   float64 // mg C m⁻³ d⁻¹
}

// DiscreteSample is a total POC measurement from a pump cast.
type DiscreteSample struct {
	Cast  string
	Depth float64 // m
	Pt    float64 // mmol m⁻³
}

// Data holds the contents of an EXPORTS workbook.
type Data struct {
	POC []Sample
	NPP []NPPSample

	// Discrete, CpByCast, and CastMatch are only present if the workbook
	// holds the data for the total POC constraint.
	Discrete []DiscreteSample

	// CpByCast holds the beam attenuation profile of each CTD cast.
	// Element i of a profile is at depth i+1 m.
	CpByCast map[string][]float64

	// CastMatch matches each pump cast with a CTD cast.
	CastMatch []CastMatch
}

// CastMatch pairs a pump cast with a CTD cast.
type CastMatch struct {
	Pump, CTD string
}

// HasConstraintData reports whether d holds the data needed for the
// total POC constraint.
func (d *Data) HasConstraintData() bool {
	return len(d.Discrete) > 0 && len(d.CpByCast) > 0 && len(d.CastMatch) > 0
}

// Load reads the EXPORTS workbook fileName.
func Load(ctx context.Context, fileName string) (*Data, error) {
	f, err := workbook.Open(ctx, fileName)
	if err != nil {
		return nil, err
	}
	d := new(Data)

	poc, err := workbook.ReadTable(f, "POC", true)
	if err != nil {
		return nil, err
	}
	for r := range poc.Rows {
		depth, ok, err := poc.Float(r, "mod_depth")
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		s := Sample{Depth: depth}
		for _, c := range []struct {
			col string
			v   *float64
		}{{"POCS", &s.POCS}, {"POCL", &s.POCL}} {
			v, ok, err := poc.Float(r, c.col)
			if err != nil {
				return nil, err
			}
			if !ok {
				v = nan
			}
			*c.v = v
		}
		d.POC = append(d.POC, s)
	}

	npp, err := workbook.ReadTable(f, "NPP", true)
	if err != nil {
		return nil, err
	}
	for r := range npp.Rows {
		depth, ok1, err := npp.Float(r, "target_depth")
		if err != nil {
			return nil, err
		}
		v, ok2, err := npp.Float(r, "npp")
		if err != nil {
			return nil, err
		}
		if ok1 && ok2 {
			d.NPP = append(d.NPP, NPPSample{Depth: depth, NPP: v})
		}
	}

	if err := d.loadConstraintData(f); err != nil {
		return nil, err
	}
	return d, nil
}

// loadConstraintData reads the optional sheets needed for the total
// POC constraint.
func (d *Data) loadConstraintData(f *xlsx.File) error {
	discrete, err := workbook.ReadTable(f, "poc_discrete", false)
	if err != nil {
		return err
	}
	cp, err := workbook.ReadTable(f, "cp_bycast", false)
	if err != nil {
		return err
	}
	match, err := workbook.ReadTable(f, "cast_match", false)
	if err != nil {
		return err
	}
	if discrete == nil || cp == nil || match == nil {
		return nil
	}
	for r := range discrete.Rows {
		cast, err := discrete.Text(r, "pump_cast")
		if err != nil {
			return err
		}
		depth, ok1, err := discrete.Float(r, "depth")
		if err != nil {
			return err
		}
		pt, ok2, err := discrete.Float(r, "Pt")
		if err != nil {
			return err
		}
		if ok1 && ok2 {
			d.Discrete = append(d.Discrete, DiscreteSample{Cast: castKey(cast), Depth: depth, Pt: pt})
		}
	}
	d.CpByCast = make(map[string][]float64)
	for _, h := range cp.Header {
		if h == "" {
			continue
		}
		prof := make([]float64, len(cp.Rows))
		for r := range cp.Rows {
			v, ok, err := cp.Float(r, h)
			if err != nil {
				return err
			}
			if !ok {
				v = nan
			}
			prof[r] = v
		}
		d.CpByCast[castKey(h)] = prof
	}
	for r := range match.Rows {
		pump, err := match.Text(r, "pump_cast")
		if err != nil {
			return err
		}
		ctd, err := match.Text(r, "ctd_cast")
		if err != nil {
			return err
		}
		d.CastMatch = append(d.CastMatch, CastMatch{Pump: castKey(pump), CTD: castKey(ctd)})
	}
	return nil
}

// castKey normalizes cast identifiers so that, for example, "4" and
// "4.0" refer to the same cast.
func castKey(s string) string {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return s
}

var nan = math.NaN()
