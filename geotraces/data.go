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


// Package geotraces loads the size-fractionated POC observations made
// along the GEOTRACES GP15 transect and prepares one model per station.
package geotraces

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/internal/workbook"
)

// Column names of the GEOTRACES data tables.
const (
	colStation   = "GTStn"
	colCast      = "CastType"
	colDepth     = "CorrectedMeanDepthm"
	colLatitude  = "Latitudedegrees_north"
	colLongitude = "Longitudedegrees_east"
	colDate      = "DateatMidcastGMTyyyymmdd"
	colSPM       = "SPM_SPT_ugL"
	colPOCS      = "POC_SPT_uM"
	colPOCL      = "POC_LPT_uM"
)

const (
	// excludedStation is missing the upper 500 m.
	excludedStation = 18.3

	loadMaxDepth    = 1000 // m
	stationMaxDepth = 600  // m

	// dateLayout is the format of the cast dates.
	dateLayout = "1/2/06 15:04"

	// surfaceCast marks casts that sampled the upper ocean.
	surfaceCast = "S"
)

// flagsToClean are the quality flags of values that are replaced by
// interpolation between the neighboring samples.
var flagsToClean = map[int]bool{3: true, 4: true}

// Sample is a size-fractionated POC sample.
type Sample struct {
	Station   float64
	Cast      string
	Depth     float64 // m
	Latitude  float64 // °N
	Longitude float64 // °E
	Date      string

	// POCS and POCL are the small- and large-particle POC concentrations
	// and POCSErr and POCLErr their uncertainties [mmol m⁻³].
	POCS, POCL       float64
	POCSErr, POCLErr float64

	// POCSFlag and POCLFlag are the quality flags of the concentrations.
	POCSFlag, POCLFlag int
}

// Load reads the sample values, errors, and quality flags from three
// aligned CSV tables. Samples missing any value, samples from the
// excluded station, and samples deeper than 1000 m are dropped.
func Load(valuesFile, errorsFile, flagsFile string) ([]Sample, error) {
	values, err := readCSV(valuesFile)
	if err != nil {
		return nil, err
	}
	errs, err := readCSV(errorsFile)
	if err != nil {
		return nil, err
	}
	flags, err := readCSV(flagsFile)
	if err != nil {
		return nil, err
	}
	if len(errs.rows) != len(values.rows) || len(flags.rows) != len(values.rows) {
		return nil, fmt.Errorf("geotraces: the values, errors, and flags tables have %d, %d, and %d rows",
			len(values.rows), len(errs.rows), len(flags.rows))
	}
	var o []Sample
	for r := range values.rows {
		s, ok, err := readSample(values, errs, flags, r)
		if err != nil {
			return nil, err
		}
		if !ok || s.Station == excludedStation || s.Depth >= loadMaxDepth {
			continue
		}
		o = append(o, s)
	}
	return o, nil
}

// readSample reads row r of the data tables. ok is false if any value
// is missing.
func readSample(values, errs, flags *csvTable, r int) (s Sample, ok bool, err error) {
	floats := []struct {
		t   *csvTable
		col string
		v   *float64
	}{
		{values, colStation, &s.Station},
		{values, colDepth, &s.Depth},
		{values, colLatitude, &s.Latitude},
		{values, colLongitude, &s.Longitude},
		{values, colPOCS, &s.POCS},
		{values, colPOCL, &s.POCL},
		{errs, colPOCS, &s.POCSErr},
		{errs, colPOCL, &s.POCLErr},
	}
	for _, f := range floats {
		v, found, err := f.t.float(r, f.col)
		if err != nil || !found {
			return s, false, err
		}
		*f.v = v
	}
	// SPM is missing for intercalibration samples.
	for _, t := range []*csvTable{values, errs, flags} {
		if _, found, err := t.value(r, colSPM); err != nil || !found {
			return s, false, err
		}
	}
	for _, f := range []struct {
		col string
		v   *int
	}{{colPOCS, &s.POCSFlag}, {colPOCL, &s.POCLFlag}} {
		v, found, err := flags.float(r, f.col)
		if err != nil || !found {
			return s, false, err
		}
		*f.v = int(v)
	}
	for _, f := range []struct {
		col string
		v   *string
	}{{colCast, &s.Cast}, {colDate, &s.Date}} {
		v, found, err := values.value(r, f.col)
		if err != nil || !found {
			return s, false, err
		}
		*f.v = v
	}
	return s, true, nil
}

// Station holds the samples taken at one station, sorted by depth.
type Station struct {
	ID      int
	Samples []Sample

	// Latitude, Longitude, and Date are those of the shallowest
	// surface cast sample.
	Latitude, Longitude float64
	Date                time.Time
}

// ByStation groups samples by station. Flagged values are cleaned and
// samples at or below 600 m are dropped. The stations are returned in
// ascending order.
func ByStation(samples []Sample) ([]*Station, error) {
	groups := make(map[int][]Sample)
	for _, s := range samples {
		id := int(s.Station)
		groups[id] = append(groups[id], s)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	o := make([]*Station, 0, len(ids))
	for _, id := range ids {
		raw := groups[id]
		sort.SliceStable(raw, func(i, j int) bool { return raw[i].Depth < raw[j].Depth })
		st := &Station{ID: id}
		for _, s := range cleanFlags(raw) {
			if s.Depth < stationMaxDepth {
				st.Samples = append(st.Samples, s)
			}
		}
		if len(st.Samples) == 0 {
			continue
		}
		for _, s := range st.Samples {
			if s.Cast != surfaceCast {
				continue
			}
			date, err := time.Parse(dateLayout, s.Date)
			if err != nil {
				return nil, fmt.Errorf("geotraces: station %d: %v", id, err)
			}
			st.Latitude, st.Longitude, st.Date = s.Latitude, s.Longitude, date
			break
		}
		o = append(o, st)
	}
	return o, nil
}

// tracerFields return the value, error, and flag of each tracer in a sample.
var tracerFields = []func(s *Sample) (v, err *float64, flag int){
	func(s *Sample) (*float64, *float64, int) { return &s.POCS, &s.POCSErr, s.POCSFlag },
	func(s *Sample) (*float64, *float64, int) { return &s.POCL, &s.POCLErr, s.POCLFlag },
}

// cleanFlags replaces flagged values by linear interpolation between
// the neighboring samples, with an error of 100%. Flagged values of the
// first and last sample have only one neighbor, so those samples
// are dropped. samples must be sorted by depth.
func cleanFlags(samples []Sample) []Sample {
	c := make([]Sample, len(samples))
	copy(c, samples)
	drop := make([]bool, len(c))
	for i := range c {
		for _, f := range tracerFields {
			v, e, flag := f(&c[i])
			if !flagsToClean[flag] {
				continue
			}
			if i == 0 || i == len(c)-1 {
				drop[i] = true
				continue
			}
			lo, _, _ := f(&c[i-1])
			hi, _, _ := f(&c[i+1])
			*v = *lo
			if dz := c[i+1].Depth - c[i-1].Depth; dz != 0 {
				*v += (*hi - *lo) * (c[i].Depth - c[i-1].Depth) / dz
			}
			*e = *v
		}
	}
	o := c[:0]
	for i, s := range c {
		if !drop[i] {
			o = append(o, s)
		}
	}
	return o
}

// Tracers returns the POC observations of the station.
func (st *Station) Tracers() []*pyrite.Tracer {
	ps := make([]pyrite.Observation, len(st.Samples))
	pl := make([]pyrite.Observation, len(st.Samples))
	for i, s := range st.Samples {
		ps[i] = pyrite.Observation{Depth: s.Depth, Conc: s.POCS, ConcErr: s.POCSErr}
		pl[i] = pyrite.Observation{Depth: s.Depth, Conc: s.POCL, ConcErr: s.POCLErr}
	}
	return []*pyrite.Tracer{
		pyrite.NewTracer(pyrite.POCS, ps),
		pyrite.NewTracer(pyrite.POCL, pl),
	}
}

// MedianPOCS returns the median small-particle POC concentration of all
// samples at all stations.
func MedianPOCS(stations []*Station) (float64, error) {
	var x []float64
	for _, st := range stations {
		for _, s := range st.Samples {
			x = append(x, s.POCS)
		}
	}
	if len(x) == 0 {
		return math.NaN(), fmt.Errorf("geotraces: no samples")
	}
	sort.Float64s(x)
	n := len(x)
	if n%2 == 1 {
		return x[n/2], nil
	}
	return (x[n/2-1] + x[n/2]) / 2, nil
}

// MixedLayerDepths reads the mixed layer depth of each station from
// the first sheet of an Excel file with the columns "Station No"
// and "MLD".
func MixedLayerDepths(ctx context.Context, fileName string) (map[int]float64, error) {
	f, err := workbook.Open(ctx, fileName)
	if err != nil {
		return nil, err
	}
	t, err := workbook.ReadTable(f, "", true)
	if err != nil {
		return nil, err
	}
	o := make(map[int]float64)
	for r := range t.Rows {
		stn, ok1, err := t.Float(r, "Station No")
		if err != nil {
			return nil, err
		}
		mld, ok2, err := t.Float(r, "MLD")
		if err != nil {
			return nil, err
		}
		if ok1 && ok2 {
			o[int(stn)] = mld
		}
	}
	if len(o) == 0 {
		return nil, fmt.Errorf("geotraces: no mixed layer depths in %s", fileName)
	}
	return o, nil
}
