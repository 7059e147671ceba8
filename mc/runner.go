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
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/geotraces"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

// Station is a station to be inverted with each parameter set.
type Station struct {
	Station *geotraces.Station
	Priors  geotraces.Priors
}

// Runner inverts every station with every parameter set.
type Runner struct {
	// Config is the model configuration. The grid is replaced by each
	// station's grid.
	Config pyrite.Config

	// Gamma is the model error factor of the inversions.
	Gamma float64

	// Workers is the maximum number of concurrent inversions.
	Workers int

	Stations []Station

	// Output receives one result file per successful inversion.
	Output *blob.Bucket

	Index *Index

	Log logrus.FieldLogger
}

// Summary counts the outcomes of a Monte Carlo experiment.
type Summary struct {
	Runs     int
	Outcomes map[Status]int
}

// RunKey returns the key of the result file of station and set.
func RunKey(station, set int) string { return fmt.Sprintf("%d_%d.nc", station, set) }

// Run inverts each station with each parameter set. Inversions that
// fail because of a singular matrix or numerical instability are
// recorded and skipped; any other error stops the experiment.
func (r *Runner) Run(ctx context.Context, sets []ParamSet) (*Summary, error) {
	if r.Workers < 1 {
		return nil, fmt.Errorf("mc: Workers must be at least 1")
	}
	if !(r.Gamma > 0) {
		return nil, fmt.Errorf("mc: gamma must be positive")
	}
	stations := r.checkStations()
	if len(stations) == 0 {
		return nil, fmt.Errorf("mc: no stations can be inverted")
	}
	s := &Summary{Outcomes: make(map[Status]int)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
loop:
	for _, set := range sets {
		for _, st := range stations {
			if gctx.Err() != nil {
				break loop
			}
			set, st := set, st
			g.Go(func() error {
				rec, err := r.invert(gctx, st, set)
				if err != nil {
					return err
				}
				if err := r.Index.Add(gctx, rec); err != nil {
					return err
				}
				mu.Lock()
				s.Runs++
				s.Outcomes[rec.Status]++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return s, err
	}
	return s, ctx.Err()
}

// newModel returns the model of station st with the priors of set.
func (r *Runner) newModel(st Station, set *ParamSet) *pyrite.Model {
	cfg := r.Config
	cfg.Gammas = []float64{r.Gamma}
	m := geotraces.NewModel(st.Station, st.Priors, cfg)
	if set != nil {
		m.Params = set.apply(m.Params)
	}
	m.InitFuncs = []pyrite.ModelManipulator{pyrite.InterpolatePriors(), pyrite.DefineState()}
	return m
}

// checkStations returns the stations whose models can be initialized.
func (r *Runner) checkStations() []Station {
	var o []Station
	for _, st := range r.Stations {
		if err := r.newModel(st, nil).Init(); err != nil {
			r.Log.WithField("station", st.Station.ID).WithError(err).Warn("skipping station")
			continue
		}
		o = append(o, st)
	}
	return o
}

// invert runs one inversion and writes its result file if it succeeds.
func (r *Runner) invert(ctx context.Context, st Station, set ParamSet) (Record, error) {
	id := st.Station.ID
	rec := Record{Station: id, Set: set.ID}
	log := r.Log.WithFields(logrus.Fields{"station": id, "set": set.ID})
	m := r.newModel(st, &set)
	if err := m.Init(); err != nil {
		return rec, fmt.Errorf("mc: station %d set %d: %w", id, set.ID, err)
	}
	run, err := m.Invert(ctx, r.Gamma, pyrite.LogIterations(log))
	switch {
	case errors.Is(err, pyrite.ErrSingular):
		log.Warn("singular matrix")
		rec.Status = StatusSingular
		return rec, nil
	case errors.Is(err, pyrite.ErrNumerical):
		log.WithError(err).Warn("numerical instability")
		rec.Status = StatusUnstable
		return rec, nil
	case err != nil:
		return rec, fmt.Errorf("mc: station %d set %d: %w", id, set.ID, err)
	}
	rec.Converged = run.Converged
	rec.Iterations = len(run.Cost)
	rec.Cost = run.Cost[len(run.Cost)-1]
	if !Success(run) {
		rec.Status = StatusFailed
		log.Debug("inversion failed")
		return rec, nil
	}
	b, err := newRunResult(m, run, id, set).Encode()
	if err != nil {
		return rec, err
	}
	rec.Key = RunKey(id, set.ID)
	if err := writeBlob(ctx, r.Output, rec.Key, b, log); err != nil {
		return rec, err
	}
	rec.Status = StatusSuccess
	log.Debug("inversion succeeded")
	return rec, nil
}
