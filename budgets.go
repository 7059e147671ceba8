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

import "fmt"

// Flux names.
const (
	SinkS          = "sink_S"
	SinkL          = "sink_L"
	SinkT          = "sink_T"
	SinkDivS       = "sinkdiv_S"
	SinkDivL       = "sinkdiv_L"
	ReminS         = "remin_S"
	ReminL         = "remin_L"
	Aggregation    = "aggregation"
	Disaggregation = "disaggregation"
	Production     = "production"
	DVMFlux        = "dvm"
)

// Flux is a particle-cycling flux.
type Flux struct {
	Name string

	// WRT lists the tracers the flux acts on. Only fluxes that act on
	// a tracer are integrated by zone and used to calculate timescales.
	WRT []string
}

// Fluxes returns the fluxes calculated for the model.
func (m *Model) Fluxes() []Flux {
	f := []Flux{
		{Name: SinkS},
		{Name: SinkL},
		{Name: SinkT},
		{Name: SinkDivS, WRT: []string{POCS}},
		{Name: SinkDivL, WRT: []string{POCL}},
		{Name: ReminS, WRT: []string{POCS}},
		{Name: ReminL, WRT: []string{POCL}},
		{Name: Aggregation, WRT: []string{POCS, POCL}},
		{Name: Disaggregation, WRT: []string{POCS, POCL}},
		{Name: Production, WRT: []string{POCS}},
	}
	if m.DVM.Enabled {
		f = append(f, Flux{Name: DVMFlux, WRT: []string{POCS, POCL}})
	}
	return f
}

func (f Flux) actsOn(tracer string) bool {
	for _, t := range f.WRT {
		if t == tracer {
			return true
		}
	}
	return false
}

// fluxExpr returns the expression for the named flux at grid point i
// in terms of the state vector.
func (m *Model) fluxExpr(name string, i int) Expr {
	p := m.stateParams
	ps, pl := m.tracerVar(0, i), m.tracerVar(1, i)
	switch name {
	case SinkS:
		return Mul(p(WS, i), ps)
	case SinkL:
		return Mul(p(WL, i), pl)
	case SinkT:
		return Add(Mul(p(WS, i), ps), Mul(p(WL, i), pl))
	case SinkDivS, SinkDivL:
		t, w := 0, WS
		if name == SinkDivL {
			t, w = 1, WL
		}
		if i == 0 {
			return Scale(1/m.Grid.MixedLayerDepth, Mul(p(w, i), m.tracerVar(t, i)))
		}
		return Mul(p(w, i), m.sinkingDivergence(t, i))
	case ReminS:
		return Mul(p(Bm1s, i), ps)
	case ReminL:
		return Mul(p(Bm1l, i), pl)
	case Aggregation:
		return Mul(p(B2p, i), Pow(ps, 2))
	case Disaggregation:
		return Mul(p(Bm2, i), pl)
	case Production:
		return m.production(i, p)
	case DVMFlux:
		if m.Grid.ZoneIndex(i) == 0 {
			return Mul(p(B3, i), ps)
		}
		if e := m.dvmDeposition(i, p); e != nil {
			return e
		}
		return Const(0)
	}
	panic(fmt.Errorf("pyrite: unknown flux %s", name))
}

// FluxProfile returns the posterior estimate of the named flux at each
// grid point of run r.
func (m *Model) FluxProfile(r *Run, name string) Profile {
	m.prepare()
	n := m.Grid.Len()
	prof := Profile{Est: make([]float64, n), Err: make([]float64, n)}
	for i := 0; i < n; i++ {
		e := r.Propagate(m.fluxExpr(name, i))
		prof.Est[i], prof.Err[i] = e.Est, e.Err
	}
	return prof
}

// integrate returns the sum over the zone of the expressions at each
// grid point multiplied by the integration intervals.
func integrate(z *Zone, at func(i int) Expr) Expr {
	terms := make([]Expr, len(z.Indices))
	for j, i := range z.Indices {
		terms[j] = Scale(z.Intervals[j], at(i))
	}
	return Add(terms...)
}

// Budgets returns a function that calculates tracer inventories,
// integrated residuals, flux profiles, integrated fluxes, and
// residence timescales for every run of the model.
func Budgets() ModelManipulator {
	return func(m *Model) error {
		m.prepare()
		if len(m.Runs) == 0 {
			return fmt.Errorf("pyrite: no model runs to calculate budgets for")
		}
		for _, r := range m.Runs {
			m.budgets(r)
		}
		return nil
	}
}

func (m *Model) budgets(r *Run) {
	fluxes := m.Fluxes()

	inventories := make(map[string]map[string]Expr)
	r.Inventories = make(map[string]map[string]Estimate)
	r.IntegratedResids = make(map[string]map[string]float64)
	for _, z := range m.Zones {
		inventories[z.Name] = make(map[string]Expr)
		r.Inventories[z.Name] = make(map[string]Estimate)
		r.IntegratedResids[z.Name] = make(map[string]float64)
		for ti, t := range m.Tracers {
			ti := ti
			inv := integrate(z, func(i int) Expr { return m.tracerVar(ti, i) })
			inventories[z.Name][t.Name] = inv
			r.Inventories[z.Name][t.Name] = r.Propagate(inv)
			var resid float64
			for j, i := range z.Indices {
				resid += r.TracerResids[t.Name][i] * z.Intervals[j]
			}
			r.IntegratedResids[z.Name][t.Name] = resid
		}
	}

	r.FluxProfiles = make(map[string]Profile, len(fluxes))
	for _, f := range fluxes {
		r.FluxProfiles[f.Name] = m.FluxProfile(r, f.Name)
	}

	r.FluxIntegrals = make(map[string]map[string]Estimate)
	r.Timescales = make(map[string]map[string]map[string]Estimate)
	for _, z := range m.Zones {
		r.FluxIntegrals[z.Name] = make(map[string]Estimate)
		r.Timescales[z.Name] = make(map[string]map[string]Estimate)
		integrals := make(map[string]Expr)
		for _, f := range fluxes {
			if len(f.WRT) == 0 {
				continue
			}
			name := f.Name
			integrals[name] = integrate(z, func(i int) Expr { return m.fluxExpr(name, i) })
			r.FluxIntegrals[z.Name][name] = r.Propagate(integrals[name])
		}
		for _, t := range m.Tracers {
			ts := make(map[string]Estimate)
			for _, f := range fluxes {
				if !f.actsOn(t.Name) {
					continue
				}
				ts[f.Name] = r.Propagate(Div(inventories[z.Name][t.Name], integrals[f.Name]))
			}
			r.Timescales[z.Name][t.Name] = ts
		}
	}
}
