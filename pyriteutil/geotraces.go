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

package pyriteutil

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/geotraces"
	"github.com/spatialmodel/pyrite/mc"
	"github.com/spatialmodel/pyrite/plots"
)

// runPattern matches the result files in the output directory.
const runPattern = "*.nc"

// GEOTRACESRun derives the priors of each GEOTRACES station and inverts
// every station with every sampled parameter set.
func GEOTRACESRun(ctx context.Context, log logrus.FieldLogger, gc GEOTRACESConfig, cfg pyrite.Config, workers int) (*mc.Summary, error) {
	stations, err := loadStations(gc)
	if err != nil {
		return nil, err
	}
	sets, err := parameterSets(gc, stations, log)
	if err != nil {
		return nil, err
	}
	mld, err := geotraces.MixedLayerDepths(ctx, gc.MLDFile)
	if err != nil {
		return nil, err
	}
	product, err := geotraces.OpenGriddedProduct(gc.NPPDir, gc.NPPVariable)
	if err != nil {
		return nil, err
	}
	npp, err := product.Stations(ctx, stations)
	if err != nil {
		return nil, err
	}
	var mcStations []mc.Station
	for _, st := range stations {
		slog := log.WithField("station", st.ID)
		h, ok := mld[st.ID]
		if !ok {
			slog.Warn("no mixed layer depth; skipping station")
			continue
		}
		p, err := geotraces.StationPriors(st, h, npp[st.ID], gc.Step, gc.DefaultLp, slog)
		if err != nil {
			slog.WithError(err).Warn("skipping station")
			continue
		}
		slog.WithFields(logrus.Fields{
			"mld": p.MixedLayerDepth, "npp": p.NPP,
			"Lp": p.Lp, "P30": p.P30,
		}).Info("station priors")
		mcStations = append(mcStations, mc.Station{Station: st, Priors: p})
	}

	output, err := mc.OpenBucket(ctx, gc.OutputDir)
	if err != nil {
		return nil, err
	}
	defer output.Close()
	index, err := mc.OpenIndex(gc.IndexFile)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	r := &mc.Runner{
		Config:   cfg,
		Gamma:    gc.Gamma,
		Workers:  workers,
		Stations: mcStations,
		Output:   output,
		Index:    index,
		Log:      log,
	}
	s, err := r.Run(ctx, sets)
	if err != nil {
		return s, err
	}
	fields := logrus.Fields{"runs": s.Runs}
	for status, n := range s.Outcomes {
		fields[string(status)] = n
	}
	log.WithFields(fields).Info("Monte Carlo experiment finished")
	return s, nil
}

// GEOTRACESCompile compiles the results of GEOTRACESRun into an
// archive and a table of parameter sets.
func GEOTRACESCompile(ctx context.Context, log logrus.FieldLogger, gc GEOTRACESConfig) (*mc.Compilation, error) {
	stations, err := loadStations(gc)
	if err != nil {
		return nil, err
	}
	sets, err := parameterSets(gc, stations, log)
	if err != nil {
		return nil, err
	}
	index, err := mc.OpenIndex(gc.IndexFile)
	if err != nil {
		return nil, err
	}
	defer index.Close()
	ids, err := indexedStations(ctx, index)
	if err != nil {
		return nil, err
	}
	bucket, err := mc.OpenBucket(ctx, gc.OutputDir)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	archive, err := mc.Create(ctx, gc.ArchiveFile)
	if err != nil {
		return nil, err
	}
	c, err := mc.Compile(ctx, bucket, runPattern, sets, ids, archive, log)
	if err != nil {
		archive.Abort()
		return nil, err
	}
	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("pyrite: writing archive: %v", err)
	}
	if err := writeTo(ctx, gc.TableFile, func(w io.Writer) error { return mc.WriteTable(w, c.Table) }); err != nil {
		return nil, err
	}
	var succeeded int
	for _, row := range c.Table {
		if row.Success {
			succeeded++
		}
	}
	log.WithFields(logrus.Fields{
		"batch":     c.BatchID,
		"runs":      c.Runs,
		"sets":      len(c.Table),
		"succeeded": succeeded,
	}).Info("compiled results")
	return c, nil
}

// GEOTRACESFigures draws histograms of the parameter sets in tableFile
// that succeeded at every station.
func GEOTRACESFigures(ctx context.Context, tableFile, dir, format string) error {
	r, err := mc.Open(ctx, tableFile)
	if err != nil {
		return err
	}
	defer r.Close()
	rows, err := mc.ReadTable(r)
	if err != nil {
		return err
	}
	return plots.ParamHistograms(rows, dir, format)
}

func loadStations(gc GEOTRACESConfig) ([]*geotraces.Station, error) {
	samples, err := geotraces.Load(gc.ValuesFile, gc.ErrorsFile, gc.FlagsFile)
	if err != nil {
		return nil, err
	}
	return geotraces.ByStation(samples)
}

// parameterSets samples the Monte Carlo parameter sets. The sets only
// depend on the configuration, so they can be regenerated after the
// inversions have been run.
func parameterSets(gc GEOTRACESConfig, stations []*geotraces.Station, log logrus.FieldLogger) ([]mc.ParamSet, error) {
	if gc.NumSets < 1 {
		return nil, fmt.Errorf("pyrite: NumSets must be at least 1")
	}
	compilation, err := mc.LoadCompilationFile(gc.CompilationFile)
	if err != nil {
		return nil, err
	}
	median, err := geotraces.MedianPOCS(stations)
	if err != nil {
		return nil, err
	}
	ranges, err := mc.ParamRanges(compilation, median)
	if err != nil {
		return nil, err
	}
	for _, r := range ranges {
		log.WithFields(logrus.Fields{"param": r.Name, "min": r.Min, "max": r.Max}).Debug("parameter range")
	}
	return mc.GenerateSets(ranges, gc.NumSets, gc.Seed), nil
}

// indexedStations returns the stations that were inverted.
func indexedStations(ctx context.Context, index *mc.Index) ([]int, error) {
	records, err := index.Records(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var ids []int
	for _, r := range records {
		if !seen[r.Station] {
			seen[r.Station] = true
			ids = append(ids, r.Station)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("pyrite: the run index holds no inversions")
	}
	sort.Ints(ids)
	return ids, nil
}
