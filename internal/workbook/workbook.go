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


// Package workbook reads tables from Excel workbooks.
package workbook

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/tealeg/xlsx"
)

var (
	cache     *requestcache.Cache
	cacheOnce sync.Once
)

// Open opens an Excel file, utilizing a cache to avoid loading
// the same file more than once.
func Open(ctx context.Context, fileName string) (*xlsx.File, error) {
	cacheOnce.Do(func() {
		cache = requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
			f, err := xlsx.OpenFile(req.(string))
			if err != nil {
				return nil, fmt.Errorf("workbook: opening %s: %v", req.(string), err)
			}
			return f, nil
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(10))
	})
	r := cache.NewRequest(ctx, fileName, fileName)
	fI, err := r.Result()
	if err != nil {
		return nil, err
	}
	return fI.(*xlsx.File), nil
}

// Table is a worksheet with a header row.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string

	columns map[string]int
}

// ReadTable reads the named sheet of f. If sheet is empty, the first
// sheet is read. If required is false, a missing sheet results in a
// nil table rather than an error.
func ReadTable(f *xlsx.File, sheet string, required bool) (*Table, error) {
	var s *xlsx.Sheet
	if sheet == "" {
		if len(f.Sheets) == 0 {
			return nil, fmt.Errorf("workbook: no sheets")
		}
		s = f.Sheets[0]
		sheet = s.Name
	} else {
		var ok bool
		s, ok = f.Sheet[sheet]
		if !ok {
			if required {
				return nil, fmt.Errorf("workbook: no sheet %s", sheet)
			}
			return nil, nil
		}
	}
	t := &Table{Name: sheet, columns: make(map[string]int)}
	for _, row := range s.Rows {
		vals := make([]string, len(row.Cells))
		empty := true
		for j, c := range row.Cells {
			vals[j] = strings.TrimSpace(c.Value)
			if vals[j] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		if t.Header == nil {
			t.Header = vals
			for j, h := range vals {
				t.columns[h] = j
			}
			continue
		}
		t.Rows = append(t.Rows, vals)
	}
	if t.Header == nil {
		return nil, fmt.Errorf("workbook: sheet %s is empty", sheet)
	}
	return t, nil
}

// Float returns the value of column col in row r. ok is false if the
// cell is empty or holds "nan".
func (t *Table) Float(r int, col string) (v float64, ok bool, err error) {
	j, found := t.columns[col]
	if !found {
		return 0, false, fmt.Errorf("workbook: sheet %s has no column %s", t.Name, col)
	}
	row := t.Rows[r]
	if j >= len(row) || row[j] == "" || strings.EqualFold(row[j], "nan") {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(row[j], 64)
	if err != nil {
		return 0, false, fmt.Errorf("workbook: sheet %s row %d column %s: %v", t.Name, r+2, col, err)
	}
	return v, true, nil
}

// Text returns the contents of column col in row r.
func (t *Table) Text(r int, col string) (string, error) {
	j, found := t.columns[col]
	if !found {
		return "", fmt.Errorf("workbook: sheet %s has no column %s", t.Name, col)
	}
	if j >= len(t.Rows[r]) {
		return "", nil
	}
	return t.Rows[r][j], nil
}
