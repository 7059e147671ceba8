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
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ctessum/cdf"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/internal/netcdf"
	"gocloud.dev/blob"
)

// TableRow summarizes the inversions of one parameter set.
type TableRow struct {
	Set    int
	Values map[string]float64

	// NSuccess is the number of stations that were inverted
	// successfully, and Success is true if all of them were.
	NSuccess int
	Success  bool
}

// Compilation describes a compiled Monte Carlo experiment.
type Compilation struct {
	// BatchID identifies the archive.
	BatchID string

	// Runs is the number of result files in the archive.
	Runs int

	Table []TableRow
}

// Compile gathers the result files in bucket whose keys match pattern
// into a single netCDF archive with one record per run, written to
// archive, and tabulates which parameter sets succeeded at every one of
// stations.
func Compile(ctx context.Context, bucket *blob.Bucket, pattern string, sets []ParamSet, stations []int, archive io.Writer, log logrus.FieldLogger) (*Compilation, error) {
	keys, err := listKeys(ctx, bucket, pattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("mc: no result files match %q", pattern)
	}
	results := make([]*RunResult, 0, len(keys))
	for _, k := range keys {
		b, err := readBlob(ctx, bucket, k, log)
		if err != nil {
			return nil, err
		}
		rr, err := DecodeRunResult(b)
		if err != nil {
			return nil, fmt.Errorf("mc: %s: %w", k, err)
		}
		results = append(results, rr)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Set != results[j].Set {
			return results[i].Set < results[j].Set
		}
		return results[i].Station < results[j].Station
	})
	c := &Compilation{BatchID: uuid.New().String(), Runs: len(results)}
	log.WithFields(logrus.Fields{"batch": c.BatchID, "runs": c.Runs}).Info("compiling results")
	if err := writeArchive(results, c.BatchID, archive); err != nil {
		return nil, err
	}
	c.Table = tabulate(results, sets, stations)
	return c, nil
}

// tabulate counts the successful stations of each parameter set.
func tabulate(results []*RunResult, sets []ParamSet, stations []int) []TableRow {
	want := make(map[int]bool, len(stations))
	for _, s := range stations {
		want[s] = true
	}
	n := make(map[int]int)
	for _, rr := range results {
		if want[rr.Station] {
			n[rr.Set]++
		}
	}
	rows := make([]TableRow, len(sets))
	for i, s := range sets {
		rows[i] = TableRow{
			Set:      s.ID,
			Values:   s.Values,
			NSuccess: n[s.ID],
			Success:  len(stations) > 0 && n[s.ID] == len(stations),
		}
	}
	return rows
}

// archiveVar is a variable of the archive.
type archiveVar struct {
	name string
	dim  string // second dimension, or "" for one value per run
	get  func(rr *RunResult) []float64
}

// archiveVars returns the variables of the archive in the order they
// are written.
func archiveVars(results []*RunResult) []archiveVar {
	params := make(map[string]int)
	profiles := make(map[string]bool)
	priors := make(map[string]bool)
	for _, rr := range results {
		for p, v := range rr.Params {
			params[p] = len(v)
		}
		for p := range rr.Profiles {
			profiles[p] = true
		}
		for p := range rr.Priors {
			priors[p] = true
		}
	}
	vars := []archiveVar{
		{name: "gamma", get: func(rr *RunResult) []float64 { return []float64{rr.Gamma} }},
		{name: "depth", dim: "depth", get: func(rr *RunResult) []float64 { return rr.Depths }},
	}
	for _, p := range sortedKeys(priors) {
		p := p
		vars = append(vars, archiveVar{name: "prior_" + p, get: func(rr *RunResult) []float64 {
			v, ok := rr.Priors[p]
			if !ok {
				return nil
			}
			return []float64{v}
		}})
	}
	for _, p := range sortedKeys(params) {
		p, dim := p, ""
		if params[p] == len(pyrite.ZoneNames) {
			dim = "zone"
		}
		vars = append(vars,
			archiveVar{name: p, dim: dim, get: func(rr *RunResult) []float64 { return rr.Params[p] }},
			archiveVar{name: p + "_err", dim: dim, get: func(rr *RunResult) []float64 { return rr.ParamErrs[p] }},
		)
	}
	for _, p := range sortedKeys(profiles) {
		p := p
		vars = append(vars,
			archiveVar{name: p, dim: "depth", get: func(rr *RunResult) []float64 { return rr.Profiles[p] }},
			archiveVar{name: p + "_err", dim: "depth", get: func(rr *RunResult) []float64 { return rr.ProfileErrs[p] }},
		)
	}
	return append(vars,
		archiveVar{name: "cost_evolution", dim: "iteration", get: func(rr *RunResult) []float64 { return rr.Cost }},
		archiveVar{name: "convergence_evolution", dim: "iteration", get: func(rr *RunResult) []float64 { return rr.Convergence }},
		archiveVar{name: "x_resids", dim: "state", get: func(rr *RunResult) []float64 { return rr.XResids }},
	)
}

// writeArchive writes results to w as a netCDF file with the record
// dimension "run". Profiles are padded with NaN to the deepest grid.
func writeArchive(results []*RunResult, batchID string, w io.Writer) error {
	lengths := map[string]int{"zone": len(pyrite.ZoneNames)}
	for _, rr := range results {
		lengths["depth"] = max(lengths["depth"], len(rr.Depths))
		lengths["iteration"] = max(lengths["iteration"], len(rr.Cost))
		lengths["state"] = max(lengths["state"], len(rr.XResids))
	}
	dims := []string{"run", "depth", "zone", "iteration", "state"}
	h := cdf.NewHeader(dims, []int{0, lengths["depth"], lengths["zone"], lengths["iteration"], lengths["state"]})
	h.AddAttribute("", "batch_id", batchID)
	h.AddAttribute("", "created", time.Now().UTC().Format(time.RFC3339))
	h.AddVariable("station", []string{"run"}, []int32{0})
	h.AddVariable("param_set", []string{"run"}, []int32{0})
	vars := archiveVars(results)
	for _, v := range vars {
		d := []string{"run"}
		if v.dim != "" {
			d = append(d, v.dim)
		}
		h.AddVariable(v.name, d, []float64{0})
	}
	h.Define()

	f, err := os.CreateTemp("", "pyrite_archive_*.nc")
	if err != nil {
		return fmt.Errorf("mc: creating archive: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("mc: creating archive: %v", err)
	}
	for i, rr := range results {
		ids := map[string]int32{"station": int32(rr.Station), "param_set": int32(rr.Set)}
		for _, name := range []string{"station", "param_set"} {
			if err := netcdf.Write(ff, name, []int{i}, []int{i}, []int32{ids[name]}); err != nil {
				return fmt.Errorf("mc: archive: %v", err)
			}
		}
		for _, v := range vars {
			n := 1
			begin, end := []int{i}, []int{i}
			if v.dim != "" {
				n = lengths[v.dim]
				begin, end = []int{i, 0}, []int{i, n - 1}
			}
			data := make([]float64, n)
			for j := range data {
				data[j] = math.NaN()
			}
			copy(data, v.get(rr))
			if err := netcdf.Write(ff, v.name, begin, end, data); err != nil {
				return fmt.Errorf("mc: archive: %v", err)
			}
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return fmt.Errorf("mc: updating archive record count: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("mc: %v", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("mc: copying archive: %v", err)
	}
	return nil
}

// WriteTable writes rows as CSV with one column per sampled parameter.
func WriteTable(w io.Writer, rows []TableRow) error {
	cw := csv.NewWriter(w)
	header := append([]string{"set"}, Params...)
	header = append(header, "n_success", "set_success")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("mc: writing table: %v", err)
	}
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Set)}
		for _, p := range Params {
			rec = append(rec, strconv.FormatFloat(r.Values[p], 'g', -1, 64))
		}
		rec = append(rec, strconv.Itoa(r.NSuccess), strconv.FormatBool(r.Success))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("mc: writing table: %v", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("mc: writing table: %v", err)
	}
	return nil
}

// ReadTable reads a table written by WriteTable.
func ReadTable(r io.Reader) ([]TableRow, error) {
	recs, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("mc: reading table: %v", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("mc: empty table")
	}
	cols := make(map[string]int)
	for i, h := range recs[0] {
		cols[h] = i
	}
	for _, c := range append([]string{"set", "n_success", "set_success"}, Params...) {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("mc: table has no column %s", c)
		}
	}
	rows := make([]TableRow, 0, len(recs)-1)
	for line, rec := range recs[1:] {
		var (
			row TableRow
			err error
		)
		if row.Set, err = strconv.Atoi(rec[cols["set"]]); err != nil {
			return nil, fmt.Errorf("mc: table line %d: %v", line+2, err)
		}
		if row.NSuccess, err = strconv.Atoi(rec[cols["n_success"]]); err != nil {
			return nil, fmt.Errorf("mc: table line %d: %v", line+2, err)
		}
		if row.Success, err = strconv.ParseBool(rec[cols["set_success"]]); err != nil {
			return nil, fmt.Errorf("mc: table line %d: %v", line+2, err)
		}
		row.Values = make(map[string]float64, len(Params))
		for _, p := range Params {
			if row.Values[p], err = strconv.ParseFloat(rec[cols[p]], 64); err != nil {
				return nil, fmt.Errorf("mc: table line %d: %v", line+2, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
