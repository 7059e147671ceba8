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

// Package pyriteutil implements the pyrite command-line interface.
package pyriteutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/pyrite"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	grid := pyrite.DefaultGrid()
	dflt := pyrite.DefaultConfig()

	// Options are the configuration options available to PYRITE.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile will be saved
              next to the main output of the command.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum severity of logged messages: one of
              "debug", "info", "warning", or "error". ATI iterations are logged
              at the debug level.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the maximum number of inversions that are run concurrently
              in a Monte Carlo experiment.`,
			shorthand:  "w",
			defaultVal: 4,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "Gammas",
			usage: `
              Gammas are the model error factors that the inversions are run with.`,
			defaultVal: floatStrings(dflt.Gammas),
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags(), exportsTwinCmd.Flags()},
		},
		{
			name: "Grid.MixedLayerDepth",
			usage: `
              Grid.MixedLayerDepth is the depth of the first grid point [m].`,
			defaultVal: grid.MixedLayerDepth,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags()},
		},
		{
			name: "Grid.MaxDepth",
			usage: `
              Grid.MaxDepth is the depth of the last grid point [m].`,
			defaultVal: grid.MaxDepth,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags()},
		},
		{
			name: "Grid.Step",
			usage: `
              Grid.Step is the distance between grid points [m].`,
			defaultVal: grid.Step,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags()},
		},
		{
			name: "Grid.Boundary",
			usage: `
              Grid.Boundary is the depth separating the lower euphotic zone from the
              upper mesopelagic zone [m]. It must lie between two grid points.`,
			defaultVal: grid.Boundary,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags()},
		},
		{
			name: "DVM.Enabled",
			usage: `
              DVM.Enabled specifies whether to model particle transport by
              diel vertical migration of zooplankton.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags(), geotracesRunCmd.Flags()},
		},
		{
			name: "DVM.MigrationDepth",
			usage: `
              DVM.MigrationDepth is the depth below which migrating zooplankton
              deposit no material [m].`,
			defaultVal: dflt.DVM.MigrationDepth,
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags(), geotracesRunCmd.Flags()},
		},
		{
			name: "FigureFormat",
			usage: `
              FigureFormat is the file format of figures, for example "png",
              "svg", or "pdf".`,
			defaultVal: "png",
			flagsets:   []*pflag.FlagSet{exportsFiguresCmd.Flags(), geotracesFiguresCmd.Flags()},
		},
		{
			name: "Exports.DataFile",
			usage: `
              Exports.DataFile is the path to the EXPORTS workbook holding the
              POC, NPP, and (optionally) total POC constraint observations.
              It can include environment variables.`,
			defaultVal: "${PYRITE_DATA}/EXPORTSfluxes.xlsx",
			flagsets:   []*pflag.FlagSet{exportsRunCmd.Flags()},
		},
		{
			name: "Exports.ModelFile",
			usage: `
              Exports.ModelFile is the location of the saved EXPORTS model,
              either a local path or a blob storage URL. It can include
              environment variables.`,
			defaultVal: "exports_model.gob",
			flagsets: []*pflag.FlagSet{exportsRunCmd.Flags(), exportsTwinCmd.Flags(),
				exportsSummaryCmd.Flags(), exportsFiguresCmd.Flags()},
		},
		{
			name: "Exports.TwinFile",
			usage: `
              Exports.TwinFile is the location of the saved twin experiment.
              The summary and figures include the twin experiment if this file
              exists.`,
			defaultVal: "exports_twin.gob",
			flagsets:   []*pflag.FlagSet{exportsTwinCmd.Flags(), exportsSummaryCmd.Flags(), exportsFiguresCmd.Flags()},
		},
		{
			name: "Exports.TwinGamma",
			usage: `
              Exports.TwinGamma is the model error factor of the run whose parameter
              estimates are the targets of the twin experiment.`,
			defaultVal: 0.02,
			flagsets:   []*pflag.FlagSet{exportsTwinCmd.Flags()},
		},
		{
			name: "Exports.SummaryFile",
			usage: `
              Exports.SummaryFile is the location of the text summary.`,
			defaultVal: "exports_summary.txt",
			flagsets:   []*pflag.FlagSet{exportsSummaryCmd.Flags()},
		},
		{
			name: "Exports.SummaryYAML",
			usage: `
              Exports.SummaryYAML, if not empty, is the location of a YAML
              rendition of the summary.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{exportsSummaryCmd.Flags()},
		},
		{
			name: "Exports.FigureDir",
			usage: `
              Exports.FigureDir is the directory figures are saved in.`,
			defaultVal: "exports_figures",
			flagsets:   []*pflag.FlagSet{exportsFiguresCmd.Flags()},
		},
		{
			name: "Exports.Derived",
			usage: `
              Exports.Derived are additional quantities reported in the summary,
              as expressions of the parameter estimates of each zone. Names
              in the expressions are parameter names with the zone appended,
              for example "wl_LEZ / ws_LEZ", or parameter names alone for
              parameters that do not vary with depth.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{exportsSummaryCmd.Flags()},
		},
		{
			name: "GEOTRACES.ValuesFile",
			usage: `
              GEOTRACES.ValuesFile is the path to the CSV file of GEOTRACES
              POC concentrations. It can include environment variables.`,
			defaultVal: "${PYRITE_DATA}/GP15merge.csv",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.ErrorsFile",
			usage: `
              GEOTRACES.ErrorsFile is the path to the CSV file of the
              concentration uncertainties.`,
			defaultVal: "${PYRITE_DATA}/GP15merge_err.csv",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.FlagsFile",
			usage: `
              GEOTRACES.FlagsFile is the path to the CSV file of the quality flags.`,
			defaultVal: "${PYRITE_DATA}/GP15merge_flag.csv",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.MLDFile",
			usage: `
              GEOTRACES.MLDFile is the path to the workbook of mixed layer depths
              by station.`,
			defaultVal: "${PYRITE_DATA}/gp15_mld.xlsx",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.NPPDir",
			usage: `
              GEOTRACES.NPPDir is the directory of the satellite-derived 8-day
              net primary production composites.`,
			defaultVal: "${PYRITE_DATA}/npp_8day",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.NPPVariable",
			usage: `
              GEOTRACES.NPPVariable is the name of the production variable in
              the composite files.`,
			defaultVal: "npp",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.CompilationFile",
			usage: `
              GEOTRACES.CompilationFile is the path to the CSV compilation of
              parameter values reported in the literature, which the Monte Carlo
              parameter ranges are derived from.`,
			defaultVal: "${PYRITE_DATA}/param_compilation.csv",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.OutputDir",
			usage: `
              GEOTRACES.OutputDir is the location the per-run result files are
              written to, either a local directory or a blob storage URL.`,
			defaultVal: "geotraces_runs",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.IndexFile",
			usage: `
              GEOTRACES.IndexFile is the path to the SQLite index of runs.`,
			defaultVal: "geotraces_runs.db",
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.ArchiveFile",
			usage: `
              GEOTRACES.ArchiveFile is the location of the consolidated netCDF
              archive of the successful runs.`,
			defaultVal: "geotraces_runs.nc",
			flagsets:   []*pflag.FlagSet{geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.TableFile",
			usage: `
              GEOTRACES.TableFile is the location of the CSV table of parameter
              sets and their success.`,
			defaultVal: "geotraces_table.csv",
			flagsets:   []*pflag.FlagSet{geotracesCompileCmd.Flags(), geotracesFiguresCmd.Flags()},
		},
		{
			name: "GEOTRACES.NumSets",
			usage: `
              GEOTRACES.NumSets is the number of parameter sets to sample.`,
			defaultVal: 1000,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.Seed",
			usage: `
              GEOTRACES.Seed seeds the random number generator the parameter
              sets are sampled with. The same seed yields the same sets.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags(), geotracesCompileCmd.Flags()},
		},
		{
			name: "GEOTRACES.Gamma",
			usage: `
              GEOTRACES.Gamma is the model error factor of the Monte Carlo
              inversions.`,
			defaultVal: 0.5,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.Step",
			usage: `
              GEOTRACES.Step is the grid spacing of the station models [m].`,
			defaultVal: 10.0,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.DefaultLp",
			usage: `
              GEOTRACES.DefaultLp is the production length scale used for
              stations whose POC profile it cannot be fit to [m].`,
			defaultVal: 28.0,
			flagsets:   []*pflag.FlagSet{geotracesRunCmd.Flags()},
		},
		{
			name: "GEOTRACES.FigureDir",
			usage: `
              GEOTRACES.FigureDir is the directory Monte Carlo figures are
              saved in.`,
			defaultVal: "geotraces_figures",
			flagsets:   []*pflag.FlagSet{geotracesFiguresCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("PYRITE")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic(fmt.Errorf("invalid type for option %s", option.name))
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(exportsCmd)
	exportsCmd.AddCommand(exportsRunCmd)
	exportsCmd.AddCommand(exportsTwinCmd)
	exportsCmd.AddCommand(exportsSummaryCmd)
	exportsCmd.AddCommand(exportsFiguresCmd)
	Root.AddCommand(geotracesCmd)
	geotracesCmd.AddCommand(geotracesRunCmd)
	geotracesCmd.AddCommand(geotracesCompileCmd)
	geotracesCmd.AddCommand(geotracesFiguresCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("pyrite: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "pyrite",
	Short: "Inverse models of particulate organic carbon cycling.",
	Long: `PYRITE estimates the rate parameters of particulate organic carbon (POC)
cycling in the upper ocean by inverting size-fractionated POC observations
with the algorithm of total inversion. Use the subcommands specified below to
process the EXPORTS and GEOTRACES observations.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'PYRITE_var' where 'var' is the
name of the variable to be set, with any '.' replaced by '_'. File locations
are allowed to contain environment variables within them.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of PYRITE.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("PYRITE v%s\n", pyrite.Version)
	},
	DisableAutoGenTag: true,
}

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "Invert the EXPORTS observations.",
	Long: `exports inverts the POC observations of the EXPORTS North Pacific
cruise and reports the results. Run the subcommands in the order
run, twin, summary, figures.`,
	DisableAutoGenTag: true,
}

var exportsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the inversions.",
	Long: `run interpolates the EXPORTS observations onto the model grid, inverts
them once for each model error factor in Gammas, and saves the model to
Exports.ModelFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := modelConfig(Cfg)
		if err != nil {
			return err
		}
		modelFile := os.ExpandEnv(Cfg.GetString("Exports.ModelFile"))
		log, closeLog, err := newLogger(cmd, checkLogFile(Cfg.GetString("LogFile"), modelFile))
		if err != nil {
			return err
		}
		defer closeLog()
		return ExportsRun(cmd.Context(), log, cfg,
			os.ExpandEnv(Cfg.GetString("Exports.DataFile")), modelFile)
	},
	DisableAutoGenTag: true,
}

var exportsTwinCmd = &cobra.Command{
	Use:   "twin",
	Short: "Run a twin experiment.",
	Long: `twin generates pseudo-data from the parameter estimates of the
inversion with model error factor Exports.TwinGamma, inverts them for each
model error factor in Gammas, and saves the experiment to Exports.TwinFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gammas, err := getFloat64s("Gammas", Cfg)
		if err != nil {
			return err
		}
		twinFile := os.ExpandEnv(Cfg.GetString("Exports.TwinFile"))
		log, closeLog, err := newLogger(cmd, checkLogFile(Cfg.GetString("LogFile"), twinFile))
		if err != nil {
			return err
		}
		defer closeLog()
		return ExportsTwin(cmd.Context(), log,
			os.ExpandEnv(Cfg.GetString("Exports.ModelFile")), twinFile,
			Cfg.GetFloat64("Exports.TwinGamma"), gammas)
	},
	DisableAutoGenTag: true,
}

var exportsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the inversions.",
	Long: `summary writes the parameter estimates, inventories, integrated fluxes,
timescales, and derived quantities of each inversion to Exports.SummaryFile,
followed by the recovery statistics of the twin experiment if there is one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		derived, err := GetStringMapString("Exports.Derived", Cfg)
		if err != nil {
			return err
		}
		return ExportsSummary(cmd.Context(),
			os.ExpandEnv(Cfg.GetString("Exports.ModelFile")),
			os.ExpandEnv(Cfg.GetString("Exports.TwinFile")),
			os.ExpandEnv(Cfg.GetString("Exports.SummaryFile")),
			os.ExpandEnv(Cfg.GetString("Exports.SummaryYAML")),
			derived)
	},
	DisableAutoGenTag: true,
}

var exportsFiguresCmd = &cobra.Command{
	Use:   "figures",
	Short: "Draw figures of the inversions.",
	Long: `figures draws the convergence, cost, parameter, profile, residual, and
flux figures of each inversion, and of the twin experiment if there is one,
into Exports.FigureDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ExportsFigures(cmd.Context(),
			os.ExpandEnv(Cfg.GetString("Exports.ModelFile")),
			os.ExpandEnv(Cfg.GetString("Exports.TwinFile")),
			os.ExpandEnv(Cfg.GetString("Exports.FigureDir")),
			Cfg.GetString("FigureFormat"))
	},
	DisableAutoGenTag: true,
}

var geotracesCmd = &cobra.Command{
	Use:   "geotraces",
	Short: "Run Monte Carlo inversions of the GEOTRACES observations.",
	Long: `geotraces inverts the POC observations of each GEOTRACES GP15 station
with parameter priors sampled from ranges reported in the literature. Run the
subcommands in the order run, compile, figures.`,
	DisableAutoGenTag: true,
}

var geotracesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Monte Carlo inversions.",
	Long: `run derives the priors of each station, samples GEOTRACES.NumSets
parameter sets, and inverts every station with every set. Successful
inversions are written to GEOTRACES.OutputDir and every inversion is
recorded in GEOTRACES.IndexFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gc := geotracesConfig(Cfg)
		cfg, err := modelConfig(Cfg)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cmd, checkLogFile(Cfg.GetString("LogFile"), gc.IndexFile))
		if err != nil {
			return err
		}
		defer closeLog()
		_, err = GEOTRACESRun(cmd.Context(), log, gc, cfg, Cfg.GetInt("Workers"))
		return err
	},
	DisableAutoGenTag: true,
}

var geotracesCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the Monte Carlo results.",
	Long: `compile consolidates the result files in GEOTRACES.OutputDir into
GEOTRACES.ArchiveFile and tabulates the parameter sets and whether they
succeeded at every station into GEOTRACES.TableFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gc := geotracesConfig(Cfg)
		log, closeLog, err := newLogger(cmd, checkLogFile(Cfg.GetString("LogFile"), gc.ArchiveFile))
		if err != nil {
			return err
		}
		defer closeLog()
		_, err = GEOTRACESCompile(cmd.Context(), log, gc)
		return err
	},
	DisableAutoGenTag: true,
}

var geotracesFiguresCmd = &cobra.Command{
	Use:   "figures",
	Short: "Draw figures of the Monte Carlo results.",
	Long: `figures draws a histogram of each sampled parameter over the parameter
sets that succeeded at every station into GEOTRACES.FigureDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return GEOTRACESFigures(cmd.Context(),
			os.ExpandEnv(Cfg.GetString("GEOTRACES.TableFile")),
			os.ExpandEnv(Cfg.GetString("GEOTRACES.FigureDir")),
			Cfg.GetString("FigureFormat"))
	},
	DisableAutoGenTag: true,
}
