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
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"
)

// NamedEstimate is a named value with its uncertainty.
type NamedEstimate struct {
	Name string  `yaml:"name"`
	Est  float64 `yaml:"est"`
	Err  float64 `yaml:"err"`
}

// ZoneEstimates are the estimates within a zone.
type ZoneEstimates struct {
	Zone      string          `yaml:"zone"`
	Estimates []NamedEstimate `yaml:"estimates"`
}

// TracerTimescales are the residence timescales of a tracer in a zone
// with respect to each flux.
type TracerTimescales struct {
	Zone       string          `yaml:"zone"`
	Tracer     string          `yaml:"tracer"`
	Timescales []NamedEstimate `yaml:"timescales"`
}

// ZoneValues are values without uncertainty within a zone.
type ZoneValues struct {
	Zone   string             `yaml:"zone"`
	Values map[string]float64 `yaml:"values"`
}

// LengthScale is the correlation length scale of a zone and the
// coefficient of determination of the fit it was derived from.
type LengthScale struct {
	Zone        string  `yaml:"zone"`
	LengthScale float64 `yaml:"length_scale"`
	R2          float64 `yaml:"r2"`
}

// ConstraintReport describes the regression the total POC constraint
// was derived from.
type ConstraintReport struct {
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
	R2        float64 `yaml:"r2"`
	Variance  float64 `yaml:"variance"`
	Samples   int     `yaml:"samples"`
}

// RunReport summarizes one run of a model.
type RunReport struct {
	Gamma      float64         `yaml:"gamma"`
	Converged  bool            `yaml:"converged"`
	Iterations int             `yaml:"iterations"`
	Params     []NamedEstimate `yaml:"params"`

	Inventories      []ZoneEstimates    `yaml:"inventories,omitempty"`
	IntegratedResids []ZoneValues       `yaml:"integrated_resids,omitempty"`
	FluxIntegrals    []ZoneEstimates    `yaml:"flux_integrals,omitempty"`
	Timescales       []TracerTimescales `yaml:"timescales,omitempty"`
	Derived          []NamedEstimate    `yaml:"derived,omitempty"`
}

// Report summarizes all runs of a model.
type Report struct {
	LengthScales []LengthScale      `yaml:"length_scales,omitempty"`
	Constraint   *ConstraintReport `yaml:"constraint,omitempty"`
	Runs         []RunReport       `yaml:"runs"`
}

var derivedFunctions = map[string]govaluate.ExpressionFunction{
	"exp": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("exp: wrong number of arguments")
		}
		return math.Exp(arg[0].(float64)), nil
	},
	"log": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("log: wrong number of arguments")
		}
		return math.Log(arg[0].(float64)), nil
	},
	"sqrt": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("sqrt: wrong number of arguments")
		}
		return math.Sqrt(arg[0].(float64)), nil
	},
}

// NewReport summarizes the runs of m. derived holds optional named
// expressions of state elements (for example "wl_LEZ / ws_LEZ") that
// are evaluated at the posterior state of each run.
func NewReport(m *Model, derived map[string]string) (*Report, error) {
	m.prepare()
	names := make([]string, 0, len(derived))
	exprs := make(map[string]*govaluate.EvaluableExpression, len(derived))
	for name, d := range derived {
		e, err := govaluate.NewEvaluableExpressionWithFunctions(d, derivedFunctions)
		if err != nil {
			return nil, fmt.Errorf("pyrite: derived quantity %s: %v", name, err)
		}
		for _, v := range e.Vars() {
			if m.StateIndex(v) < 0 {
				return nil, fmt.Errorf("pyrite: derived quantity %s: unknown variable %s", name, v)
			}
		}
		names = append(names, name)
		exprs[name] = e
	}
	sort.Strings(names)

	rep := new(Report)
	for _, z := range m.Zones {
		if z.LengthScale > 0 {
			rep.LengthScales = append(rep.LengthScales, LengthScale{Zone: z.Name, LengthScale: z.LengthScale, R2: z.LengthScaleR2})
		}
	}
	if c := m.Constraint; c != nil && len(c.Cp) > 0 {
		rep.Constraint = &ConstraintReport{
			Slope:     c.Slope,
			Intercept: c.Intercept,
			R2:        c.R2,
			Variance:  c.Variance,
			Samples:   len(c.Cp),
		}
	}
	for _, r := range m.Runs {
		rr := RunReport{Gamma: r.Gamma, Converged: r.Converged, Iterations: len(r.Cost)}
		for _, p := range m.Params {
			pe := r.Params[p.Name]
			if p.DepthVarying {
				for _, z := range m.Zones {
					e := pe.At(z.Name)
					rr.Params = append(rr.Params, NamedEstimate{Name: fmt.Sprintf("%s (%s)", p.Name, z.Name), Est: e.Est, Err: e.Err})
				}
			} else {
				rr.Params = append(rr.Params, NamedEstimate{Name: p.Name, Est: pe.Est, Err: pe.Err})
			}
		}
		if r.Inventories != nil {
			for _, z := range m.Zones {
				inv := ZoneEstimates{Zone: z.Name}
				for _, t := range m.Tracers {
					e := r.Inventories[z.Name][t.Name]
					inv.Estimates = append(inv.Estimates, NamedEstimate{Name: t.Name, Est: e.Est, Err: e.Err})
				}
				rr.Inventories = append(rr.Inventories, inv)
				rr.IntegratedResids = append(rr.IntegratedResids, ZoneValues{Zone: z.Name, Values: r.IntegratedResids[z.Name]})

				fi := ZoneEstimates{Zone: z.Name}
				for _, f := range m.Fluxes() {
					if e, ok := r.FluxIntegrals[z.Name][f.Name]; ok {
						fi.Estimates = append(fi.Estimates, NamedEstimate{Name: f.Name, Est: e.Est, Err: e.Err})
					}
				}
				rr.FluxIntegrals = append(rr.FluxIntegrals, fi)

				for _, t := range m.Tracers {
					ts := TracerTimescales{Zone: z.Name, Tracer: t.Name}
					for _, f := range m.Fluxes() {
						if e, ok := r.Timescales[z.Name][t.Name][f.Name]; ok {
							ts.Timescales = append(ts.Timescales, NamedEstimate{Name: f.Name, Est: e.Est, Err: e.Err})
						}
					}
					rr.Timescales = append(rr.Timescales, ts)
				}
			}
		}
		for _, name := range names {
			e, err := m.evalDerived(r, exprs[name])
			if err != nil {
				return nil, fmt.Errorf("pyrite: derived quantity %s: %v", name, err)
			}
			rr.Derived = append(rr.Derived, NamedEstimate{Name: name, Est: e.Est, Err: e.Err})
		}
		rep.Runs = append(rep.Runs, rr)
	}
	return rep, nil
}

// evalDerived evaluates e at the posterior state of r. The error is
// propagated using a central-difference gradient.
func (m *Model) evalDerived(r *Run, e *govaluate.EvaluableExpression) (Estimate, error) {
	vars := e.Vars()
	params := make(map[string]interface{}, len(vars))
	for _, v := range vars {
		params[v] = r.Xhat[m.StateIndex(v)]
	}
	eval := func() (float64, error) {
		res, err := e.Evaluate(params)
		if err != nil {
			return math.NaN(), err
		}
		f, ok := res.(float64)
		if !ok {
			return math.NaN(), fmt.Errorf("result %v is not a number", res)
		}
		return f, nil
	}
	est, err := eval()
	if err != nil {
		return Estimate{}, err
	}
	n := len(r.Xhat)
	grad := make(map[int]float64, len(vars))
	for _, v := range vars {
		i := m.StateIndex(v)
		x := r.Xhat[i]
		h := 1e-6 * math.Max(math.Abs(x), 1e-12)
		params[v] = x + h
		hi, err := eval()
		if err != nil {
			return Estimate{}, err
		}
		params[v] = x - h
		lo, err := eval()
		if err != nil {
			return Estimate{}, err
		}
		params[v] = x
		grad[i] = (hi - lo) / (2 * h)
	}
	var variance float64
	for i, gi := range grad {
		for j, gj := range grad {
			variance += gi * gj * r.Cvm[i*n+j]
		}
	}
	return Estimate{Est: est, Err: math.Sqrt(variance)}, nil
}

const (
	gammaBanner   = "#################################"
	sectionBanner = "+++++++++++++++++++++++++++"
)

// WriteText writes the report in a fixed text layout.
func (rep *Report) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}
	section := func(title string) {
		ew.println(sectionBanner)
		ew.println(title)
		ew.println(sectionBanner)
	}
	if len(rep.LengthScales) > 0 {
		section("Correlation Length Scales")
		for _, l := range rep.LengthScales {
			ew.printf("%s: %.1f m (R² = %.3f)\n", l.Zone, l.LengthScale, l.R2)
		}
	}
	if c := rep.Constraint; c != nil {
		section("Total POC Constraint")
		ew.printf("POCT = %.3f + %.3f ln(cp) (R² = %.3f, %d samples)\n", c.Intercept, c.Slope, c.R2, c.Samples)
		ew.printf("Variance: %.3g\n", c.Variance)
	}
	for _, r := range rep.Runs {
		ew.println(gammaBanner)
		ew.printf("GAMMA = %g\n", r.Gamma)
		ew.println(gammaBanner)
		section("Parameter Estimates")
		for _, p := range r.Params {
			ew.printf("%s: %.3f ± %.3f\n", p.Name, p.Est, p.Err)
		}
		if len(r.Inventories) > 0 {
			section("Tracer Inventories")
			for _, z := range r.Inventories {
				ew.printf("--------%s--------\n", z.Zone)
				for _, e := range z.Estimates {
					ew.printf("%s: %.0f ± %.0f\n", e.Name, e.Est, e.Err)
				}
			}
			section("Integrated Residuals")
			for _, z := range r.IntegratedResids {
				ew.printf("--------%s--------\n", z.Zone)
				names := make([]string, 0, len(z.Values))
				for name := range z.Values {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					ew.printf("%s: %.2f\n", name, z.Values[name])
				}
			}
			section("Integrated Fluxes")
			for _, z := range r.FluxIntegrals {
				ew.printf("--------%s--------\n", z.Zone)
				for _, e := range z.Estimates {
					ew.printf("%s: %.2f ± %.2f\n", e.Name, e.Est, e.Err)
				}
			}
			section("Timescales")
			zone := ""
			for _, ts := range r.Timescales {
				if ts.Zone != zone {
					zone = ts.Zone
					ew.printf("--------%s--------\n", zone)
				}
				ew.printf("***%s***\n", ts.Tracer)
				for _, e := range ts.Timescales {
					ew.printf("%s: %.3f ± %.3f\n", e.Name, e.Est, e.Err)
				}
			}
		}
		if len(r.Derived) > 0 {
			section("Derived Quantities")
			for _, e := range r.Derived {
				ew.printf("%s: %.3f ± %.3f\n", e.Name, e.Est, e.Err)
			}
		}
	}
	return ew.err
}

// WriteRecovery writes how well each twin experiment run recovered
// the target parameter values.
func WriteRecovery(w io.Writer, tw *Twin) error {
	ew := &errWriter{w: w}
	ew.println(sectionBanner)
	ew.printf("Twin experiment (targets from GAMMA = %g)\n", tw.Gamma)
	ew.println(sectionBanner)
	gammas := make([]float64, 0, len(tw.Recovery))
	for g := range tw.Recovery {
		gammas = append(gammas, g)
	}
	sort.Float64s(gammas)
	for _, g := range gammas {
		ew.printf("--------GAMMA = %g--------\n", g)
		for _, rc := range tw.Recovery[g] {
			name := rc.Param
			if rc.Zone != "" {
				name += " (" + rc.Zone + ")"
			}
			mark := ""
			if !rc.WithinError {
				mark = " *"
			}
			ew.printf("%s: target %.3f, estimate %.3f ± %.3f, bias %+.1f%%%s\n",
				name, rc.Target, rc.Est, rc.Err, 100*rc.RelBias, mark)
		}
	}
	return ew.err
}

// WriteYAML writes the report as YAML.
func (rep *Report) WriteYAML(w io.Writer) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(rep); err != nil {
		return fmt.Errorf("pyrite: writing YAML report: %v", err)
	}
	return e.Close()
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, a ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, a...)
}

func (ew *errWriter) println(s string) { ew.printf("%s\n", s) }
