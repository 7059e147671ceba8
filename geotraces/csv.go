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


package geotraces

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// csvTable is a CSV file with a header row.
type csvTable struct {
	name    string
	columns map[string]int
	rows    [][]string
}

func readCSV(fileName string) (*csvTable, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("geotraces: %v", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	t := &csvTable{name: fileName, columns: make(map[string]int)}
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("geotraces: reading header of %s: %v", fileName, err)
	}
	for i, h := range header {
		t.columns[strings.TrimSpace(h)] = i
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("geotraces: reading %s: %v", fileName, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// value returns the trimmed contents of column col in row r. ok is
// false for missing values.
func (t *csvTable) value(r int, col string) (v string, ok bool, err error) {
	j, found := t.columns[col]
	if !found {
		return "", false, fmt.Errorf("geotraces: %s has no column %s", t.name, col)
	}
	row := t.rows[r]
	if j >= len(row) {
		return "", false, nil
	}
	v = strings.TrimSpace(row[j])
	if v == "" || strings.EqualFold(v, "nan") {
		return "", false, nil
	}
	return v, true, nil
}

func (t *csvTable) float(r int, col string) (float64, bool, error) {
	s, ok, err := t.value(r, col)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("geotraces: %s row %d column %s: %v", t.name, r+2, col, err)
	}
	return v, true, nil
}
