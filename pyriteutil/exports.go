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

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/exports"
	"github.com/spatialmodel/pyrite/mc"
	"github.com/spatialmodel/pyrite/plots"
)

// ExportsRun inverts the observations in the EXPORTS workbook dataFile
// with configuration cfg and saves the model to modelFile, which may be
// a local path or a blob storage URL.
func ExportsRun(ctx context.Context, log logrus.FieldLogger, cfg pyrite.Config, dataFile, modelFile string) error {
	d, err := exports.Load(ctx, dataFile)
	if err != nil {
		return err
	}
	m, err := exports.NewModel(d, cfg, log)
	if err != nil {
		return err
	}
	w, err := mc.Create(ctx, modelFile)
	if err != nil {
		return err
	}
	m.InitFuncs = []pyrite.ModelManipulator{
		pyrite.InterpolatePriors(),
		pyrite.DefineState(),
	}
	m.RunFuncs = []pyrite.ModelManipulator{
		pyrite.SweepGammas(ctx, log, pyrite.LogIterations(log)),
		pyrite.Budgets(),
		pyrite.Save(w),
	}
	if err := m.Init(); err != nil {
		w.Abort()
		return err
	}
	for _, z := range m.Zones {
		log.WithFields(logrus.Fields{
			"zone":         z.Name,
			"length_scale": z.LengthScale,
			"r2":           z.LengthScaleR2,
		}).Info("correlation length scale")
	}
	if err := m.Run(); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("pyrite: saving model: %v", err)
	}
	log.WithField("file", modelFile).Info("saved model")
	return nil
}

// ExportsTwin runs a twin experiment on the model saved in modelFile,
// with the parameter estimates of its run with model error factor gamma
// as the targets, and saves it to twinFile.
func ExportsTwin(ctx context.Context, log logrus.FieldLogger, modelFile, twinFile string, gamma float64, gammas []float64) error {
	m, err := loadModel(ctx, modelFile)
	if err != nil {
		return err
	}
	tw, err := pyrite.NewTwin(m, gamma, gammas)
	if err != nil {
		return err
	}
	if err := tw.Run(ctx, log, pyrite.LogIterations(log)); err != nil {
		return err
	}
	for g, rec := range tw.Recovery {
		var within int
		for _, r := range rec {
			if r.WithinError {
				within++
			}
		}
		log.WithFields(logrus.Fields{
			"gamma":        g,
			"params":       len(rec),
			"within_error": within,
		}).Info("twin experiment recovery")
	}
	w, err := mc.Create(ctx, twinFile)
	if err != nil {
		return err
	}
	if err := pyrite.SaveTwin(w, tw); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("pyrite: saving twin experiment: %v", err)
	}
	log.WithField("file", twinFile).Info("saved twin experiment")
	return nil
}

// ExportsSummary writes the report of the model saved in modelFile to
// summaryFile and, if yamlFile is not empty, to yamlFile as YAML. If
// twinFile exists, the recovery statistics of the twin experiment are
// appended to the text report.
func ExportsSummary(ctx context.Context, modelFile, twinFile, summaryFile, yamlFile string, derived map[string]string) error {
	m, err := loadModel(ctx, modelFile)
	if err != nil {
		return err
	}
	rep, err := pyrite.NewReport(m, derived)
	if err != nil {
		return err
	}
	tw, err := maybeLoadTwin(ctx, twinFile)
	if err != nil {
		return err
	}
	if err := writeTo(ctx, summaryFile, func(w io.Writer) error {
		if err := rep.WriteText(w); err != nil {
			return err
		}
		if tw == nil {
			return nil
		}
		return pyrite.WriteRecovery(w, tw)
	}); err != nil {
		return err
	}
	if yamlFile == "" {
		return nil
	}
	return writeTo(ctx, yamlFile, rep.WriteYAML)
}

// ExportsFigures draws the figures of the model saved in modelFile,
// and of the twin experiment in twinFile if it exists, into dir.
func ExportsFigures(ctx context.Context, modelFile, twinFile, dir, format string) error {
	m, err := loadModel(ctx, modelFile)
	if err != nil {
		return err
	}
	if err := plots.Model(m, nil, dir, format); err != nil {
		return err
	}
	tw, err := maybeLoadTwin(ctx, twinFile)
	if err != nil || tw == nil {
		return err
	}
	return plots.Model(tw.Model, tw.Targets, dir, format)
}

func loadModel(ctx context.Context, modelFile string) (*pyrite.Model, error) {
	r, err := mc.Open(ctx, modelFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	m := new(pyrite.Model)
	if err := pyrite.Load(r)(m); err != nil {
		return nil, err
	}
	return m, nil
}

// maybeLoadTwin loads the twin experiment in twinFile, or returns nil
// if there is none.
func maybeLoadTwin(ctx context.Context, twinFile string) (*pyrite.Twin, error) {
	if twinFile == "" {
		return nil, nil
	}
	ok, err := mc.Exists(ctx, twinFile)
	if err != nil || !ok {
		return nil, err
	}
	r, err := mc.Open(ctx, twinFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return pyrite.LoadTwin(r)
}

// writeTo creates the file at location and writes it with write.
func writeTo(ctx context.Context, location string, write func(io.Writer) error) error {
	w, err := mc.Create(ctx, location)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("pyrite: writing %s: %v", location, err)
	}
	return nil
}
