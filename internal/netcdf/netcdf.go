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


// Package netcdf holds helpers for reading and writing classic netCDF
// files with github.com/ctessum/cdf.
package netcdf

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/ctessum/cdf"
)

// Buffer is an in-memory cdf.ReaderWriterAt that grows as it is written to.
type Buffer struct {
	mu sync.RWMutex
	b  []byte
}

// NewBuffer returns a buffer holding b.
func NewBuffer(b []byte) *Buffer { return &Buffer{b: b} }

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if off < 0 {
		return 0, fmt.Errorf("netcdf: negative offset %d", off)
	}
	if off >= int64(len(b.b)) {
		return 0, io.EOF
	}
	n := copy(p, b.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("netcdf: negative offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(b.b)) {
		if end > int64(cap(b.b)) {
			nb := make([]byte, end, 2*end)
			copy(nb, b.b)
			b.b = nb
		} else {
			b.b = b.b[:end]
		}
	}
	return copy(b.b[off:], p), nil
}

// Bytes returns the contents of the buffer.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.b
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.b)
}

// ReadFloats reads variable v from f between the corners begin and
// end (inclusive) and converts the values to float64. nil begin and
// end read the whole of a fixed-size variable.
func ReadFloats(f *cdf.File, v string, begin, end []int) ([]float64, error) {
	if err := checkCorners(f, v, begin, end); err != nil {
		return nil, err
	}
	r := f.Reader(v, begin, end)
	buf := r.Zero(-1)
	if begin != nil && end != nil {
		n := 1
		for i := range begin {
			n *= end[i] - begin[i] + 1
		}
		buf = r.Zero(n)
	}
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("netcdf: reading %s: %v", v, err)
	}
	return ToFloat64(buf)
}

// Write writes values to variable v of f between the corners begin and
// end (inclusive). nil begin and end write the whole of a fixed-size
// variable.
func Write(f *cdf.File, v string, begin, end []int, values interface{}) error {
	if err := checkCorners(f, v, begin, end); err != nil {
		return err
	}
	w := f.Writer(v, begin, end)
	n, err := w.Write(values)
	// The writer returns io.EOF once it reaches end.
	if err == io.EOF && n == reflect.ValueOf(values).Len() {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("netcdf: writing %s: %v", v, err)
	}
	return nil
}

// checkCorners returns an error where cdf would panic: when f has no
// variable v or when the corners do not match its rank.
func checkCorners(f *cdf.File, v string, begin, end []int) error {
	if !Has(f, v) {
		return fmt.Errorf("netcdf: no variable %s", v)
	}
	rank := len(f.Header.Dimensions(v))
	if begin != nil && len(begin) != rank {
		return fmt.Errorf("netcdf: %s has %d dimensions but begin has %d", v, rank, len(begin))
	}
	if end != nil && len(end) != rank {
		return fmt.Errorf("netcdf: %s has %d dimensions but end has %d", v, rank, len(end))
	}
	return nil
}

// ToFloat64 converts a slice of netCDF values to float64.
func ToFloat64(buf interface{}) ([]float64, error) {
	switch d := buf.(type) {
	case []float64:
		return d, nil
	case []float32:
		o := make([]float64, len(d))
		for i, v := range d {
			o[i] = float64(v)
		}
		return o, nil
	case []int32:
		o := make([]float64, len(d))
		for i, v := range d {
			o[i] = float64(v)
		}
		return o, nil
	case []int16:
		o := make([]float64, len(d))
		for i, v := range d {
			o[i] = float64(v)
		}
		return o, nil
	case []uint8:
		o := make([]float64, len(d))
		for i, v := range d {
			o[i] = float64(v)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("netcdf: unsupported data type %T", buf)
	}
}

// Has reports whether f has a variable named v.
func Has(f *cdf.File, v string) bool {
	for _, name := range f.Header.Variables() {
		if name == v {
			return true
		}
	}
	return false
}
