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


package netcdf

import (
	"io"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/google/go-cmp/cmp"
)

func TestBuffer(t *testing.T) {
	b := NewBuffer(nil)
	if _, err := b.WriteAt([]byte("cdf"), 2); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 5 {
		t.Errorf("length = %d, want 5", b.Len())
	}
	p := make([]byte, 4)
	n, err := b.ReadAt(p, 2)
	if err != io.EOF || n != 3 || string(p[:n]) != "cdf" {
		t.Errorf("ReadAt = %d %q %v", n, p[:n], err)
	}
	if _, err := b.ReadAt(p, 10); err != io.EOF {
		t.Errorf("reading past the end: %v", err)
	}
}

func TestReadWrite(t *testing.T) {
	h := cdf.NewHeader([]string{"time", "depth"}, []int{0, 3})
	h.AddVariable("depth", []string{"depth"}, []float64{0})
	h.AddVariable("count", []string{"time"}, []int32{0})
	h.AddVariable("poc", []string{"time", "depth"}, []float32{0})
	h.Define()
	buf := NewBuffer(nil)
	f, err := cdf.Create(buf, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(f, "depth", nil, nil, []float64{10, 20, 30}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := Write(f, "count", []int{i}, []int{i}, []int32{int32(i + 5)}); err != nil {
			t.Fatal(err)
		}
		v := float32(i + 1)
		if err := Write(f, "poc", []int{i, 0}, []int{i, 2}, []float32{v, 2 * v, 3 * v}); err != nil {
			t.Fatal(err)
		}
	}
	if err := Write(f, "missing", nil, nil, []float64{1}); err == nil {
		t.Error("want an error for a missing variable")
	}

	f, err = cdf.Open(NewBuffer(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !Has(f, "poc") || Has(f, "missing") {
		t.Error("Has is wrong")
	}
	for _, test := range []struct {
		v          string
		begin, end []int
		want       []float64
	}{
		{"depth", nil, nil, []float64{10, 20, 30}},
		{"count", []int{0}, []int{1}, []float64{5, 6}},
		{"poc", []int{1, 0}, []int{1, 2}, []float64{2, 4, 6}},
	} {
		got, err := ReadFloats(f, test.v, test.begin, test.end)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", test.v, diff)
		}
	}
	if _, err := ReadFloats(f, "missing", nil, nil); err == nil {
		t.Error("want an error for a missing variable")
	}
	if _, err := ReadFloats(f, "poc", []int{0}, []int{0}); err == nil {
		t.Error("want an error for corners of the wrong rank")
	}
}

func TestToFloat64(t *testing.T) {
	for _, buf := range []interface{}{
		[]float32{1, 2}, []int32{1, 2}, []int16{1, 2}, []uint8{1, 2}, []float64{1, 2},
	} {
		got, err := ToFloat64(buf)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
			t.Errorf("%T (-want +got):\n%s", buf, diff)
		}
	}
	if _, err := ToFloat64([]string{"a"}); err == nil {
		t.Error("want an error for strings")
	}
}
