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


package mc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/internal/netcdf"
)

// Sinking fluxes stored in result files.
var sinkFluxes = map[string]string{
	"sinkflux_S": pyrite.SinkS,
	"sinkflux_L": pyrite.SinkL,
	"sinkflux_T": pyrite.SinkT,
}

// RunResult is the result of a successful Monte Carlo inversion.
type RunResult struct {
	Station, Set int
	Gamma        float64

	// Priors are the sampled parameter priors.
	Priors map[string]float64

	Depths []float64 // m

	// Params holds the posterior estimates of each parameter, one per
	// zone for depth-varying parameters.
	Params, ParamErrs map[string][]float64

	// Profiles holds the posterior tracer concentrations and the sinking
	// fluxes at each depth.
	Profiles, ProfileErrs map[string][]float64

	Cost, Convergence []float64

	// XResids are the normalized state residuals.
	XResids []float64
}

// newRunResult collects the results of run r of model m.
func newRunResult(m *pyrite.Model, r *pyrite.Run, station int, set ParamSet) *RunResult {
	rr := &RunResult{
		Station:     station,
		Set:         set.ID,
		Gamma:       r.Gamma,
		Priors:      set.Values,
		Depths:      m.Grid.Depths(),
		Params:      make(map[string][]float64),
		ParamErrs:   make(map[string][]float64),
		Profiles:    make(map[string][]float64),
		ProfileErrs: make(map[string][]float64),
		Cost:        r.Cost,
		Convergence: r.Convergence,
		XResids:     r.XResids,
	}
	for name, pe := range r.Params {
		if pe.Zones == nil {
			rr.Params[name] = []float64{pe.Est}
			rr.ParamErrs[name] = []float64{pe.Err}
			continue
		}
		for _, z := range pyrite.ZoneNames {
			rr.Params[name] = append(rr.Params[name], pe.Zones[z].Est)
			rr.ParamErrs[name] = append(rr.ParamErrs[name], pe.Zones[z].Err)
		}
	}
	for name, p := range r.Tracers {
		rr.Profiles[name], rr.ProfileErrs[name] = p.Est, p.Err
	}
	for v, flux := range sinkFluxes {
		p := m.FluxProfile(r, flux)
		rr.Profiles[v], rr.ProfileErrs[v] = p.Est, p.Err
	}
	return rr
}

func sortedKeys[V any](m map[string]V) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// Encode returns rr as a classic netCDF file.
func (rr *RunResult) Encode() ([]byte, error) {
	params, profiles := sortedKeys(rr.Params), sortedKeys(rr.Profiles)
	if len(rr.Depths) == 0 || len(rr.Cost) == 0 || len(rr.XResids) == 0 {
		return nil, fmt.Errorf("mc: station %d set %d: incomplete result", rr.Station, rr.Set)
	}
	h := cdf.NewHeader(
		[]string{"depth", "zone", "scalar", "iteration", "state"},
		[]int{len(rr.Depths), len(pyrite.ZoneNames), 1, len(rr.Cost), len(rr.XResids)},
	)
	h.AddAttribute("", "station", []int32{int32(rr.Station)})
	h.AddAttribute("", "param_set", []int32{int32(rr.Set)})
	h.AddAttribute("", "gamma", []float64{rr.Gamma})
	h.AddAttribute("", "params", strings.Join(params, ","))
	h.AddAttribute("", "profiles", strings.Join(profiles, ","))
	priorNames := make([]string, 0, len(rr.Priors))
	for p := range rr.Priors {
		priorNames = append(priorNames, p)
	}
	sort.Strings(priorNames)
	for _, p := range priorNames {
		h.AddAttribute("", "prior_"+p, []float64{rr.Priors[p]})
	}

	data := map[string][]float64{
		"depth":                 rr.Depths,
		"cost_evolution":        rr.Cost,
		"convergence_evolution": rr.Convergence,
		"x_resids":              rr.XResids,
	}
	h.AddVariable("depth", []string{"depth"}, []float64{0})
	h.AddAttribute("depth", "units", "m")
	for _, p := range params {
		dim := "scalar"
		if len(rr.Params[p]) == len(pyrite.ZoneNames) {
			dim = "zone"
		}
		h.AddVariable(p, []string{dim}, []float64{0})
		h.AddVariable(p+"_err", []string{dim}, []float64{0})
		data[p], data[p+"_err"] = rr.Params[p], rr.ParamErrs[p]
	}
	for _, p := range profiles {
		h.AddVariable(p, []string{"depth"}, []float64{0})
		h.AddVariable(p+"_err", []string{"depth"}, []float64{0})
		data[p], data[p+"_err"] = rr.Profiles[p], rr.ProfileErrs[p]
	}
	h.AddVariable("cost_evolution", []string{"iteration"}, []float64{0})
	h.AddVariable("convergence_evolution", []string{"iteration"}, []float64{0})
	h.AddVariable("x_resids", []string{"state"}, []float64{0})
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("mc: invalid result file header: %v", errs[0])
	}

	buf := netcdf.NewBuffer(nil)
	f, err := cdf.Create(buf, h)
	if err != nil {
		return nil, fmt.Errorf("mc: creating result file: %v", err)
	}
	for _, v := range h.Variables() {
		if err := netcdf.Write(f, v, nil, nil, data[v]); err != nil {
			return nil, fmt.Errorf("mc: %v", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeRunResult reads a result file created by Encode.
func DecodeRunResult(b []byte) (*RunResult, error) {
	f, err := cdf.Open(netcdf.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("mc: opening result file: %v", err)
	}
	rr := &RunResult{
		Priors:      make(map[string]float64),
		Params:      make(map[string][]float64),
		ParamErrs:   make(map[string][]float64),
		Profiles:    make(map[string][]float64),
		ProfileErrs: make(map[string][]float64),
	}
	intAttr := func(a string) (int, error) {
		v, ok := f.Header.GetAttribute("", a).([]int32)
		if !ok || len(v) != 1 {
			return 0, fmt.Errorf("mc: result file has no %s attribute", a)
		}
		return int(v[0]), nil
	}
	if rr.Station, err = intAttr("station"); err != nil {
		return nil, err
	}
	if rr.Set, err = intAttr("param_set"); err != nil {
		return nil, err
	}
	if g, ok := f.Header.GetAttribute("", "gamma").([]float64); ok && len(g) == 1 {
		rr.Gamma = g[0]
	}
	for _, a := range f.Header.Attributes("") {
		if strings.HasPrefix(a, "prior_") {
			if v, ok := f.Header.GetAttribute("", a).([]float64); ok && len(v) == 1 {
				rr.Priors[strings.TrimPrefix(a, "prior_")] = v[0]
			}
		}
	}
	read := func(v string) ([]float64, error) { return netcdf.ReadFloats(f, v, nil, nil) }
	for _, field := range []struct {
		v   string
		dst *[]float64
	}{
		{"depth", &rr.Depths},
		{"cost_evolution", &rr.Cost},
		{"convergence_evolution", &rr.Convergence},
		{"x_resids", &rr.XResids},
	} {
		if *field.dst, err = read(field.v); err != nil {
			return nil, err
		}
	}
	for _, group := range []struct {
		attr      string
		est, errs map[string][]float64
	}{
		{"params", rr.Params, rr.ParamErrs},
		{"profiles", rr.Profiles, rr.ProfileErrs},
	} {
		names, _ := f.Header.GetAttribute("", group.attr).(string)
		for _, p := range strings.Split(names, ",") {
			if p == "" {
				continue
			}
			if group.est[p], err = read(p); err != nil {
				return nil, err
			}
			if group.errs[p], err = read(p + "_err"); err != nil {
				return nil, err
			}
		}
	}
	return rr, nil
}

// Success reports whether run r converged to finite, positive estimates.
func Success(r *pyrite.Run) bool {
	if !r.Converged {
		return false
	}
	for _, v := range r.Xhat {
		if !(v > 0) || math.IsInf(v, 1) {
			return false
		}
	}
	return true
}
