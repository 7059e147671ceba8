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
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestReport(t *testing.T) {
	m := runTestModel(t)
	rep, err := NewReport(m, map[string]string{
		"wl_ws_LEZ": "wl_LEZ / ws_LEZ",
		"P_ML":      "P30 * exp(0)",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Runs) != len(m.Runs) {
		t.Fatalf("have %d runs, want %d", len(rep.Runs), len(m.Runs))
	}
	for i, rr := range rep.Runs {
		r := m.Runs[i]
		if len(rr.Params) != 14 {
			t.Errorf("gamma=%g: have %d parameter estimates, want 14", rr.Gamma, len(rr.Params))
		}
		if rr.Params[0].Name != "ws (LEZ)" {
			t.Errorf("first parameter is %s", rr.Params[0].Name)
		}
		if len(rr.Derived) != 2 || rr.Derived[0].Name != "P_ML" {
			t.Fatalf("derived quantities: %+v", rr.Derived)
		}
		p30 := r.Params[P30]
		if d := rr.Derived[0]; different(d.Est, p30.Est, testTolerance) || different(d.Err, p30.Err, 1e-4) {
			t.Errorf("P_ML: have %+v, want %+v", d, p30.Estimate)
		}
		want := r.Params[WL].At(LEZ).Est / r.Params[WS].At(LEZ).Est
		if different(rr.Derived[1].Est, want, testTolerance) || !(rr.Derived[1].Err > 0) {
			t.Errorf("wl_ws_LEZ: have %+v, want %g", rr.Derived[1], want)
		}
	}

	if len(rep.LengthScales) != len(m.Zones) {
		t.Errorf("have %d length scales, want %d", len(rep.LengthScales), len(m.Zones))
	}
	if rep.Constraint != nil {
		t.Error("a model without a total POC constraint has a constraint report")
	}
	for i, rr := range rep.Runs {
		for _, z := range rr.IntegratedResids {
			for name, v := range z.Values {
				if v != m.Runs[i].IntegratedResids[z.Zone][name] {
					t.Errorf("gamma=%g: %s %s integrated residual %g", rr.Gamma, z.Zone, name, v)
				}
			}
		}
		if len(rr.IntegratedResids) != len(m.Zones) {
			t.Errorf("gamma=%g: integrated residuals for %d zones", rr.Gamma, len(rr.IntegratedResids))
		}
	}

	buf := new(bytes.Buffer)
	if err := rep.WriteText(buf); err != nil {
		t.Fatal(err)
	}
	text := buf.String()
	for _, s := range []string{
		"GAMMA = 0.5\n",
		"GAMMA = 1\n",
		"Parameter Estimates\n",
		"Tracer Inventories\n",
		"Integrated Fluxes\n",
		"Timescales\n",
		"--------LEZ--------\n",
		"***POCL***\n",
		"Derived Quantities\n",
		"Correlation Length Scales\n",
		"Integrated Residuals\n",
	} {
		if !strings.Contains(text, s) {
			t.Errorf("report is missing %q", s)
		}
	}

	buf.Reset()
	if err := rep.WriteYAML(buf); err != nil {
		t.Fatal(err)
	}
	var rep2 Report
	if err := yaml.Unmarshal(buf.Bytes(), &rep2); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rep, &rep2); diff != "" {
		t.Errorf("YAML round trip (-want +have):\n%s", diff)
	}
}

func TestReportUnknownVariable(t *testing.T) {
	m := runTestModel(t)
	if _, err := NewReport(m, map[string]string{"x": "nope_LEZ * 2"}); err == nil {
		t.Error("expected an error")
	}
}

func TestWriteRecovery(t *testing.T) {
	tw := &Twin{
		Gamma: 0.5,
		Recovery: map[float64][]Recovery{
			1: {{Param: P30, Target: 2, Est: 2.2, Err: 0.1, RelBias: 0.1}},
			0.1: {
				{Param: WS, Zone: "LEZ", Target: 2, Est: 1.9, Err: 0.3, RelBias: -0.05, WithinError: true},
			},
		},
	}
	var b bytes.Buffer
	if err := WriteRecovery(&b, tw); err != nil {
		t.Fatal(err)
	}
	want := sectionBanner + "\n" +
		"Twin experiment (targets from GAMMA = 0.5)\n" +
		sectionBanner + "\n" +
		"--------GAMMA = 0.1--------\n" +
		"ws (LEZ): target 2.000, estimate 1.900 ± 0.300, bias -5.0%\n" +
		"--------GAMMA = 1--------\n" +
		"P30: target 2.000, estimate 2.200 ± 0.100, bias +10.0% *\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("recovery report (-want +got):\n%s", diff)
	}
}
