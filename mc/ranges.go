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


// Package mc runs Monte Carlo experiments in which the GEOTRACES
// stations are inverted with parameter priors sampled from ranges
// reported in the literature, and compiles their results.
package mc

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spatialmodel/pyrite"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Params are the parameters whose priors are sampled.
var Params = []string{pyrite.WS, pyrite.WL, pyrite.B2p, pyrite.Bm2, pyrite.Bm1s, pyrite.Bm1l}

// compilationName returns the name a parameter is reported under in the
// literature compilation. The compilation holds second-order aggregation
// rate constants B2 [d⁻¹] rather than B2p [m³ mmol⁻¹ d⁻¹].
func compilationName(p string) string {
	if p == pyrite.B2p {
		return "B2"
	}
	return p
}

// LoadCompilation reads a CSV file of literature parameter values with
// the columns "param" and "val".
func LoadCompilation(r io.Reader) (map[string][]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("mc: reading compilation header: %v", err)
	}
	pCol, vCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "param":
			pCol = i
		case "val":
			vCol = i
		}
	}
	if pCol < 0 || vCol < 0 {
		return nil, fmt.Errorf("mc: compilation needs the columns param and val")
	}
	o := make(map[string][]float64)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mc: reading compilation: %v", err)
		}
		if pCol >= len(rec) || vCol >= len(rec) || strings.TrimSpace(rec[vCol]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[vCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("mc: compilation line %d: %v", line, err)
		}
		p := strings.TrimSpace(rec[pCol])
		o[p] = append(o[p], v)
	}
	return o, nil
}

// LoadCompilationFile reads the compilation from a file.
func LoadCompilationFile(fileName string) (map[string][]float64, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("mc: %v", err)
	}
	defer f.Close()
	return LoadCompilation(f)
}

// ParamRange is the range a parameter prior is sampled from.
type ParamRange struct {
	Name     string
	Min, Max float64
}

// ParamRanges returns the range of each sampled parameter: the extrema of
// the compiled values that lie within 1.5 interquartile ranges of the
// quartiles. The aggregation rate constants are divided by medianPOCS
// to convert them to B2p.
func ParamRanges(compilation map[string][]float64, medianPOCS float64) ([]ParamRange, error) {
	if !(medianPOCS > 0) {
		return nil, fmt.Errorf("mc: median POCS must be positive but is %g", medianPOCS)
	}
	o := make([]ParamRange, len(Params))
	for i, p := range Params {
		lo, hi, err := inlierRange(compilation[compilationName(p)])
		if err != nil {
			return nil, fmt.Errorf("mc: %s: %v", p, err)
		}
		if p == pyrite.B2p {
			lo, hi = lo/medianPOCS, hi/medianPOCS
		}
		o[i] = ParamRange{Name: p, Min: lo, Max: hi}
	}
	return o, nil
}

// inlierRange returns the smallest and largest values that lie within
// 1.5 interquartile ranges of the quartiles.
func inlierRange(values []float64) (lo, hi float64, err error) {
	if len(values) == 0 {
		return 0, 0, fmt.Errorf("no values")
	}
	x := append([]float64(nil), values...)
	sort.Float64s(x)
	q1, q3 := percentile(x, 0.25), percentile(x, 0.75)
	iqr := q3 - q1
	loLimit, hiLimit := q1-1.5*iqr, q3+1.5*iqr
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range x {
		if v >= loLimit && v <= hiLimit {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	return lo, hi, nil
}

// percentile returns the p-quantile of sorted, interpolating linearly
// between the closest ranks at position (n-1)·p.
func percentile(sorted []float64, p float64) float64 {
	pos := float64(len(sorted)-1) * p
	i := int(math.Floor(pos))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (pos-float64(i))*(sorted[i+1]-sorted[i])
}

// ParamSet is a sample of parameter priors.
type ParamSet struct {
	ID     int
	Values map[string]float64
}

// GenerateSets draws n parameter sets with each parameter uniformly
// distributed within its range. The sets are the same for the same seed.
func GenerateSets(ranges []ParamRange, n int, seed uint64) []ParamSet {
	src := rand.NewSource(seed)
	dists := make([]distuv.Uniform, len(ranges))
	for i, r := range ranges {
		dists[i] = distuv.Uniform{Min: r.Min, Max: r.Max, Src: src}
	}
	sets := make([]ParamSet, n)
	for i := range sets {
		sets[i] = ParamSet{ID: i, Values: make(map[string]float64, len(ranges))}
		for j, r := range ranges {
			sets[i].Values[r.Name] = dists[j].Rand()
		}
	}
	return sets
}

// apply overrides the priors of params with the values in s. The prior
// errors keep the relative errors of the defaults.
func (s ParamSet) apply(params []pyrite.Param) []pyrite.Param {
	relErr := pyrite.RelativeErrors(pyrite.DefaultParams(1, 1, 1, 1))
	o := make([]pyrite.Param, len(params))
	copy(o, params)
	for i, p := range o {
		if v, ok := s.Values[p.Name]; ok {
			o[i].Prior = v
			o[i].PriorErr = v * relErr[p.Name]
		}
	}
	return o
}
