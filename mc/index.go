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


package mc

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Status is the outcome of a Monte Carlo inversion.
type Status string

// Inversion outcomes.
const (
	// StatusSuccess means the inversion converged to finite, positive
	// estimates.
	StatusSuccess Status = "success"

	// StatusFailed means the inversion did not converge or produced
	// estimates that are not positive.
	StatusFailed Status = "failed"

	// StatusSingular and StatusUnstable mean the inversion was stopped
	// by a singular matrix or by values that are not finite.
	StatusSingular Status = "singular"
	StatusUnstable Status = "unstable"
)

// Record describes one inversion in the run index.
type Record struct {
	Station    int
	Set        int
	Status     Status
	Converged  bool
	Iterations int
	Cost       float64

	// Key is the key of the run's result file; it is empty for runs
	// that did not succeed.
	Key string
}

// Index is a SQLite database with one record per inversion.
type Index struct {
	mu sync.Mutex
	db *sql.DB
}

const createRuns = `CREATE TABLE IF NOT EXISTS runs (
	station INTEGER NOT NULL,
	param_set INTEGER NOT NULL,
	status TEXT NOT NULL,
	converged INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	cost REAL,
	key TEXT,
	PRIMARY KEY (station, param_set)
)`

// OpenIndex opens the run index at path, creating it if necessary.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mc: opening run index: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createRuns); err != nil {
		db.Close()
		return nil, fmt.Errorf("mc: creating run index: %v", err)
	}
	return &Index{db: db}, nil
}

// Add adds r to the index, replacing any earlier record of the same
// station and parameter set.
func (ix *Index) Add(ctx context.Context, r Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (station, param_set, status, converged, iterations, cost, key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Station, r.Set, string(r.Status), r.Converged, r.Iterations, r.Cost, r.Key)
	if err != nil {
		return fmt.Errorf("mc: adding station %d set %d to run index: %v", r.Station, r.Set, err)
	}
	return nil
}

// Records returns all records, ordered by parameter set and station.
func (ix *Index) Records(ctx context.Context) ([]Record, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, err := ix.db.QueryContext(ctx,
		`SELECT station, param_set, status, converged, iterations, cost, key
		FROM runs ORDER BY param_set, station`)
	if err != nil {
		return nil, fmt.Errorf("mc: querying run index: %v", err)
	}
	defer rows.Close()
	var o []Record
	for rows.Next() {
		var (
			r      Record
			status string
			cost   sql.NullFloat64
			key    sql.NullString
		)
		if err := rows.Scan(&r.Station, &r.Set, &status, &r.Converged, &r.Iterations, &cost, &key); err != nil {
			return nil, fmt.Errorf("mc: reading run index: %v", err)
		}
		r.Status, r.Cost, r.Key = Status(status), cost.Float64, key.String
		o = append(o, r)
	}
	return o, rows.Err()
}

// Counts returns the number of records with each status.
func (ix *Index) Counts(ctx context.Context) (map[Status]int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, err := ix.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("mc: querying run index: %v", err)
	}
	defer rows.Close()
	o := make(map[Status]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("mc: reading run index: %v", err)
		}
		o[Status(s)] = n
	}
	return o, rows.Err()
}

// Close closes the index.
func (ix *Index) Close() error { return ix.db.Close() }
