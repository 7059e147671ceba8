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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/mc"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

// modelConfig returns the model configuration held by cfg.
func modelConfig(cfg *viper.Viper) (pyrite.Config, error) {
	c := pyrite.DefaultConfig()
	gammas, err := getFloat64s("Gammas", cfg)
	if err != nil {
		return c, err
	}
	c.Gammas = gammas
	c.Grid = pyrite.Grid{
		MixedLayerDepth: cfg.GetFloat64("Grid.MixedLayerDepth"),
		MaxDepth:        cfg.GetFloat64("Grid.MaxDepth"),
		Step:            cfg.GetFloat64("Grid.Step"),
		Boundary:        cfg.GetFloat64("Grid.Boundary"),
	}
	c.DVM = pyrite.DVM{
		Enabled:        cfg.GetBool("DVM.Enabled"),
		MigrationDepth: cfg.GetFloat64("DVM.MigrationDepth"),
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// GEOTRACESConfig holds the file locations and settings of the GEOTRACES
// Monte Carlo experiment. Locations have had their environment
// variables expanded.
type GEOTRACESConfig struct {
	ValuesFile, ErrorsFile, FlagsFile string
	MLDFile                           string
	NPPDir, NPPVariable               string
	CompilationFile                   string

	OutputDir, IndexFile  string
	ArchiveFile, TableFile string

	NumSets int
	Seed    uint64

	Gamma, Step, DefaultLp float64
}

func geotracesConfig(cfg *viper.Viper) GEOTRACESConfig {
	path := func(name string) string { return os.ExpandEnv(cfg.GetString("GEOTRACES." + name)) }
	return GEOTRACESConfig{
		ValuesFile:      path("ValuesFile"),
		ErrorsFile:      path("ErrorsFile"),
		FlagsFile:       path("FlagsFile"),
		MLDFile:         path("MLDFile"),
		NPPDir:          path("NPPDir"),
		NPPVariable:     cfg.GetString("GEOTRACES.NPPVariable"),
		CompilationFile: path("CompilationFile"),
		OutputDir:       path("OutputDir"),
		IndexFile:       path("IndexFile"),
		ArchiveFile:     path("ArchiveFile"),
		TableFile:       path("TableFile"),
		NumSets:         cfg.GetInt("GEOTRACES.NumSets"),
		Seed:            uint64(cfg.GetInt("GEOTRACES.Seed")),
		Gamma:           cfg.GetFloat64("GEOTRACES.Gamma"),
		Step:            cfg.GetFloat64("GEOTRACES.Step"),
		DefaultLp:       cfg.GetFloat64("GEOTRACES.DefaultLp"),
	}
}

// floatStrings formats v for use as the default of a string slice flag.
func floatStrings(v []float64) []string {
	o := make([]string, len(v))
	for i, f := range v {
		o[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return o
}

// getFloat64s returns the list of numbers held by variable varName.
// Lists can be given as numbers in a configuration file or as a
// comma-separated string in a flag or environment variable.
func getFloat64s(varName string, cfg *viper.Viper) ([]float64, error) {
	var vals []string
	for _, s := range cfg.GetStringSlice(varName) {
		for _, f := range strings.Split(strings.Trim(s, "[]"), ",") {
			if f = strings.TrimSpace(f); f != "" {
				vals = append(vals, f)
			}
		}
	}
	o := make([]float64, len(vals))
	for i, s := range vals {
		v, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, fmt.Errorf("pyrite: invalid value for %s: %v", varName, err)
		}
		o[i] = v
	}
	return o, nil
}

// GetStringMapString returns a map[string]string from a configuration
// variable, which can be a table in a configuration file or a JSON
// object in a flag or environment variable.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, fmt.Errorf("pyrite: invalid value for %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("pyrite: invalid type for %s: %#v", varName, i)
	}
}

// checkLogFile returns logFile, or a file next to outputFile if
// logFile is empty.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return os.ExpandEnv(logFile)
}

// newLogger returns a logger writing to the output of cmd and to
// logFile, which may be a blob storage URL. The returned function
// closes the log file.
func newLogger(cmd *cobra.Command, logFile string) (*logrus.Logger, func() error, error) {
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return nil, nil, fmt.Errorf("pyrite: %v", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := mc.Create(ctx, logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("pyrite: problem creating log file: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.MultiWriter(cmd.OutOrStdout(), w))
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return log, w.Close, nil
}
