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

package pyrite

import (
	"errors"
	"fmt"
)

// Tracer names.
const (
	POCS = "POCS" // small-particle POC
	POCL = "POCL" // large-particle POC
	POCT = "POCT" // total POC
)

// Parameter names.
const (
	WS    = "ws"
	WL    = "wl"
	B2p   = "B2p"
	Bm2   = "Bm2"
	Bm1s  = "Bm1s"
	Bm1l  = "Bm1l"
	P30   = "P30"
	Lp    = "Lp"
	B3    = "B3"
	Alpha = "a"
)

// Physical constants.
const (
	MolarMassC  = 12     // g mol⁻¹
	DaysPerYear = 365.24 // d yr⁻¹
)

var (
	// ErrSingular is returned when a matrix that needs to be inverted
	// is singular.
	ErrSingular = errors.New("pyrite: singular matrix")

	// ErrNumerical is returned when an inversion produces values that
	// are not finite.
	ErrNumerical = errors.New("pyrite: numerical instability")

	// ErrNonPositivePrior is returned when a prior estimate is not
	// positive, which is incompatible with the lognormal state.
	ErrNonPositivePrior = errors.New("pyrite: prior estimates must be positive")
)

// Observation is a tracer concentration measured at a given depth.
type Observation struct {
	Depth   float64 // m
	Conc    float64 // mmol m⁻³
	ConcErr float64 // mmol m⁻³
}

// Tracer holds the observations of a tracer and its prior profile
// on the model grid.
type Tracer struct {
	Name         string
	Observations []Observation

	// Prior and PriorErr are the objectively interpolated
	// concentrations and their uncertainties at each grid point.
	Prior, PriorErr []float64

	// ZoneCov holds the row-major covariance matrix of the interpolated
	// concentrations within each zone.
	ZoneCov [][]float64
}

// NewTracer returns a tracer with the given observations.
func NewTracer(name string, obs []Observation) *Tracer {
	return &Tracer{Name: name, Observations: obs}
}

// Param is a model parameter and its prior estimate.
type Param struct {
	Name           string
	Prior, PriorErr float64

	// DepthVarying parameters are estimated separately in each zone.
	DepthVarying bool
}

// DefaultParams returns the parameters with their default priors. The
// production parameters P30 and Lp have no default and are
// given as arguments.
func DefaultParams(p30, p30Err, lp, lpErr float64) []Param {
	return []Param{
		{Name: WS, Prior: 2, PriorErr: 2, DepthVarying: true},
		{Name: WL, Prior: 20, PriorErr: 15, DepthVarying: true},
		{Name: B2p, Prior: 0.5 * MolarMassC / DaysPerYear, PriorErr: 0.5 * MolarMassC / DaysPerYear, DepthVarying: true},
		{Name: Bm2, Prior: 400 / DaysPerYear, PriorErr: 10000 / DaysPerYear, DepthVarying: true},
		{Name: Bm1s, Prior: 0.1, PriorErr: 0.1, DepthVarying: true},
		{Name: Bm1l, Prior: 0.15, PriorErr: 0.15, DepthVarying: true},
		{Name: P30, Prior: p30, PriorErr: p30Err},
		{Name: Lp, Prior: lp, PriorErr: lpErr},
	}
}

// DVMParams returns the parameters of zooplankton-mediated transport.
func DVMParams() []Param {
	return []Param{
		{Name: B3, Prior: 0.06, PriorErr: 0.06},
		{Name: Alpha, Prior: 0.3, PriorErr: 0.15},
	}
}

// RelativeErrors returns the relative prior error of each parameter.
func RelativeErrors(params []Param) map[string]float64 {
	o := make(map[string]float64, len(params))
	for _, p := range params {
		o[p.Name] = p.PriorErr / p.Prior
	}
	return o
}

// TotalPOC is an independent estimate of total POC at each grid point,
// used as an additional constraint on the sum of the size fractions.
type TotalPOC struct {
	Profile []float64

	// Variance is the error variance of each element of Profile.
	Variance float64

	// Cp and Pt are the beam attenuation and total POC samples that
	// Profile was calibrated with, Pt = Intercept + Slope·ln(Cp).
	Cp, Pt               []float64
	Slope, Intercept, R2 float64
}

// DVM configures zooplankton-mediated transport.
type DVM struct {
	Enabled bool

	// MigrationDepth is the depth below which no grazed
	// material is deposited [m].
	MigrationDepth float64
}

// Config holds the configuration of a model.
type Config struct {
	Grid Grid

	// Gammas are the model error factors to run the inversion with.
	Gammas []float64

	// MaxIterations is the maximum number of ATI iterations.
	MaxIterations int

	// ConvergenceLimit is the maximum relative change of every state
	// element between iterations for the inversion to be converged.
	ConvergenceLimit float64

	// LengthScaleFraction is the fraction of the zone's grid points used
	// as the maximum lag when calculating autocorrelations.
	LengthScaleFraction float64

	// Constraint, if not nil, adds a total POC equation at each
	// grid point.
	Constraint *TotalPOC

	DVM DVM
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Grid:                DefaultGrid(),
		Gammas:              []float64{0.02, 0.05, 0.1, 0.5, 1},
		MaxIterations:       25,
		ConvergenceLimit:    0.01,
		LengthScaleFraction: 0.25,
		DVM:                 DVM{MigrationDepth: 500},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if len(c.Gammas) == 0 {
		return fmt.Errorf("pyrite: no model error factors (gammas) specified")
	}
	for _, g := range c.Gammas {
		if !(g > 0) {
			return fmt.Errorf("pyrite: model error factors must be positive but one is %g", g)
		}
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("pyrite: MaxIterations must be at least 1")
	}
	if !(c.ConvergenceLimit > 0) {
		return fmt.Errorf("pyrite: ConvergenceLimit must be positive")
	}
	if c.Constraint != nil && len(c.Constraint.Profile) != c.Grid.Len() {
		return fmt.Errorf("pyrite: total POC constraint has %d values but the grid has %d points",
			len(c.Constraint.Profile), c.Grid.Len())
	}
	if c.DVM.Enabled && c.DVM.MigrationDepth <= c.Grid.Boundary {
		return fmt.Errorf("pyrite: DVM migration depth %g must be below the zone boundary %g",
			c.DVM.MigrationDepth, c.Grid.Boundary)
	}
	return nil
}

// ModelManipulator is a function that operates on a model.
type ModelManipulator func(m *Model) error

// Model is an inverse model of particle cycling at one location.
type Model struct {
	Config

	Tracers []*Tracer
	Params  []Param
	Zones   []*Zone

	// StateElements and EquationElements name the elements of the state
	// vector and of the vector of model equations.
	StateElements    []string
	EquationElements []string

	// Xo is the prior state vector and Co its row-major covariance matrix.
	Xo, Co []float64

	// Runs holds one inversion per model error factor.
	Runs []*Run

	// InitFuncs are run once when the model is initialized.
	InitFuncs []ModelManipulator

	// RunFuncs are run once each, in order, when the model is run.
	RunFuncs []ModelManipulator

	// CleanupFuncs are run after the model has been run.
	CleanupFuncs []ModelManipulator

	index     map[string]int
	equations []Expr
}

// NewModel returns a model with the given configuration, tracers,
// and parameters. The manipulator fields need to be filled in before
// the model is initialized.
func NewModel(cfg Config, tracers []*Tracer, params []Param) *Model {
	return &Model{Config: cfg, Tracers: tracers, Params: params}
}

// Init initializes the model by running m.InitFuncs.
func (m *Model) Init() error { return m.do(m.InitFuncs) }

// Run runs m.RunFuncs.
func (m *Model) Run() error { return m.do(m.RunFuncs) }

// Cleanup runs m.CleanupFuncs.
func (m *Model) Cleanup() error { return m.do(m.CleanupFuncs) }

func (m *Model) do(funcs []ModelManipulator) error {
	for _, f := range funcs {
		if err := f(m); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer with the given name, or nil if there is none.
func (m *Model) Tracer(name string) *Tracer {
	for _, t := range m.Tracers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Param returns the parameter with the given name.
func (m *Model) Param(name string) (Param, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// RunWithGamma returns the run with model error factor g.
func (m *Model) RunWithGamma(g float64) (*Run, error) {
	for _, r := range m.Runs {
		if r.Gamma == g {
			return r, nil
		}
	}
	return nil, fmt.Errorf("pyrite: no run with gamma=%g", g)
}
