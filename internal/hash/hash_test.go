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

package hash

import (
	"math"
	"testing"
)

type request struct {
	File, Variable string
	Scale          float64
}

type unexported struct {
	a int
}

type named string

func (n named) String() string { return "name:" + string(n) }

func TestKey(t *testing.T) {
	a := Key(request{File: "a.nc", Variable: "npp", Scale: 1})
	if a != Key(request{File: "a.nc", Variable: "npp", Scale: 1}) {
		t.Error("equal objects have different keys")
	}
	if a == Key(request{File: "b.nc", Variable: "npp", Scale: 1}) {
		t.Error("different objects have the same key")
	}
	if len(a) != 32 {
		t.Errorf("key length %d", len(a))
	}
	u1, u2 := Key(unexported{a: 1}), Key(unexported{a: 2})
	if u1 == u2 {
		t.Error("spew fallback ignores field values")
	}
	if Key(request{Scale: math.NaN()}) == "" {
		t.Error("empty key")
	}
	if k := Key(named("x")); k != "name:x" {
		t.Errorf("stringer key %q", k)
	}
}
