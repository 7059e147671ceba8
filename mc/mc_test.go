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
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/pyrite"
	"github.com/spatialmodel/pyrite/geotraces"
	"github.com/spatialmodel/pyrite/internal/netcdf"
	"go.uber.org/goleak"
	"gocloud.dev/blob"
)

func TestMain(m *testing.M) {
	// gocloud starts the opencensus view worker on first use.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestPercentile(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	for _, test := range []struct {
		p, want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	} {
		if got := percentile(x, test.p); math.Abs(got-test.want) > 1e-12 {
			t.Errorf("percentile(%g) = %g, want %g", test.p, got, test.want)
		}
	}
}

const testCompilation = `param,val,ref
ws,1,a
ws,2,b
ws,3,c
ws,4,d
ws,100,e
wl,10,a
wl,20,b
wl,,c
B2,1,a
B2,2,b
B2,3,c
Bm2,0.5,a
Bm2,1.5,b
Bm1s,0.01,a
Bm1s,0.1,b
Bm1l,0.02,a
Bm1l,0.2,b
`

func TestParamRanges(t *testing.T) {
	c, err := LoadCompilation(strings.NewReader(testCompilation))
	if err != nil {
		t.Fatal(err)
	}
	if len(c["wl"]) != 2 {
		t.Errorf("wl has %d values, want 2", len(c["wl"]))
	}
	ranges, err := ParamRanges(c, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []ParamRange{
		{Name: pyrite.WS, Min: 1, Max: 4},
		{Name: pyrite.WL, Min: 10, Max: 20},
		{Name: pyrite.B2p, Min: 0.5, Max: 1.5},
		{Name: pyrite.Bm2, Min: 0.5, Max: 1.5},
		{Name: pyrite.Bm1s, Min: 0.01, Max: 0.1},
		{Name: pyrite.Bm1l, Min: 0.02, Max: 0.2},
	}
	if diff := cmp.Diff(want, ranges); diff != "" {
		t.Errorf("ranges (-want +got):\n%s", diff)
	}

	if _, err := ParamRanges(c, 0); err == nil {
		t.Error("want an error for a non-positive median")
	}
	delete(c, "Bm2")
	if _, err := ParamRanges(c, 2); err == nil {
		t.Error("want an error for a missing parameter")
	}
}

func testRanges() []ParamRange {
	return []ParamRange{
		{Name: pyrite.WS, Min: 1, Max: 3},
		{Name: pyrite.WL, Min: 10, Max: 30},
		{Name: pyrite.B2p, Min: 0.01, Max: 0.02},
		{Name: pyrite.Bm2, Min: 0.5, Max: 1.5},
		{Name: pyrite.Bm1s, Min: 0.05, Max: 0.15},
		{Name: pyrite.Bm1l, Min: 0.1, Max: 0.2},
	}
}

func TestGenerateSets(t *testing.T) {
	ranges := testRanges()
	sets := GenerateSets(ranges, 50, 1)
	if len(sets) != 50 {
		t.Fatalf("have %d sets, want 50", len(sets))
	}
	for i, s := range sets {
		if s.ID != i {
			t.Errorf("set %d has ID %d", i, s.ID)
		}
		for _, r := range ranges {
			if v := s.Values[r.Name]; v < r.Min || v > r.Max {
				t.Errorf("set %d: %s=%g is outside [%g, %g]", i, r.Name, v, r.Min, r.Max)
			}
		}
	}
	if diff := cmp.Diff(sets, GenerateSets(ranges, 50, 1)); diff != "" {
		t.Errorf("sets differ for the same seed:\n%s", diff)
	}
	if cmp.Equal(sets, GenerateSets(ranges, 50, 2)) {
		t.Error("sets are the same for different seeds")
	}
}

func TestApply(t *testing.T) {
	s := ParamSet{ID: 3, Values: map[string]float64{pyrite.WS: 4, pyrite.Bm2: 2}}
	params := s.apply(pyrite.DefaultParams(1, 0.5, 40, 20))
	for _, p := range params {
		switch p.Name {
		case pyrite.WS:
			if p.Prior != 4 || p.PriorErr != 4 {
				t.Errorf("ws = %g ± %g, want 4 ± 4", p.Prior, p.PriorErr)
			}
		case pyrite.Bm2:
			if p.Prior != 2 || math.Abs(p.PriorErr-50) > 1e-9 {
				t.Errorf("Bm2 = %g ± %g, want 2 ± 50", p.Prior, p.PriorErr)
			}
		case pyrite.P30:
			if p.Prior != 1 || p.PriorErr != 0.5 {
				t.Errorf("P30 = %g ± %g, want 1 ± 0.5", p.Prior, p.PriorErr)
			}
		}
	}
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()
	recs := []Record{
		{Station: 2, Set: 0, Status: StatusSingular},
		{Station: 1, Set: 1, Status: StatusFailed, Iterations: 25, Cost: 3.5},
		{Station: 1, Set: 0, Status: StatusSuccess, Converged: true, Iterations: 6, Cost: 1.5, Key: "1_0.nc"},
		{Station: 2, Set: 0, Status: StatusUnstable, Iterations: 2, Cost: 8},
	}
	for _, r := range recs {
		if err := ix.Add(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ix.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Record{recs[2], recs[3], recs[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	counts, err := ix.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantCounts := map[Status]int{StatusSuccess: 1, StatusFailed: 1, StatusUnstable: 1}
	if diff := cmp.Diff(wantCounts, counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestSplitLocation(t *testing.T) {
	for _, test := range []struct {
		location, dir, key string
	}{
		{"gs://bucket/runs/table.csv", "gs://bucket", "runs/table.csv"},
		{"s3://bucket/archive.nc", "s3://bucket", "archive.nc"},
		{"file:///tmp/out/archive.nc", "file:///tmp/out", "archive.nc"},
	} {
		dir, key, err := splitLocation(test.location)
		if err != nil {
			t.Fatal(err)
		}
		if dir != test.dir || key != test.key {
			t.Errorf("%s: have %s %s, want %s %s", test.location, dir, key, test.dir, test.key)
		}
	}
}

func TestCreateOpen(t *testing.T) {
	ctx := context.Background()
	for _, location := range []string{
		filepath.Join(t.TempDir(), "sub", "table.csv"),
		"file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "table.csv")),
	} {
		if ok, err := Exists(ctx, location); err != nil || ok {
			t.Fatalf("%s exists before creation: %v, %v", location, ok, err)
		}
		w, err := Create(ctx, location)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, "set,n_success\n"); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if ok, err := Exists(ctx, location); err != nil || !ok {
			t.Fatalf("%s does not exist after creation: %v", location, err)
		}
		r, err := Open(ctx, location)
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "set,n_success\n" {
			t.Errorf("%s: read %q", location, b)
		}
	}
}

func TestReadWriteBlob(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	if err := writeBlob(ctx, bucket, "runs/a.nc", []byte("CDF"), testLog()); err != nil {
		t.Fatal(err)
	}
	b, err := readBlob(ctx, bucket, "runs/a.nc", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "CDF" {
		t.Errorf("read %q", b)
	}
	start := time.Now()
	if _, err := readBlob(ctx, bucket, "runs/missing.nc", testLog()); err == nil {
		t.Error("want an error for a missing blob")
	}
	if d := time.Since(start); d > 400*time.Millisecond {
		t.Errorf("a missing blob was retried for %v", d)
	}
}

func TestCreateAbort(t *testing.T) {
	ctx := context.Background()
	for _, location := range []string{
		filepath.Join(t.TempDir(), "model.gob"),
		"file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "model.gob")),
	} {
		w, err := Create(ctx, location)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, "partial"); err != nil {
			t.Fatal(err)
		}
		if err := w.Abort(); err != nil {
			t.Fatalf("%s: %v", location, err)
		}
		if ok, err := Exists(ctx, location); err != nil || ok {
			t.Errorf("%s exists after aborting: %v, %v", location, ok, err)
		}
	}
}

func testRunResult(station, set, n int) *RunResult {
	depths := make([]float64, n)
	profile := make([]float64, n)
	for i := range depths {
		depths[i] = 30 + 10*float64(i)
		profile[i] = math.Exp(-float64(i) / 10)
	}
	return &RunResult{
		Station:     station,
		Set:         set,
		Gamma:       0.5,
		Priors:      map[string]float64{pyrite.WS: 2, pyrite.WL: 20},
		Depths:      depths,
		Params:      map[string][]float64{pyrite.WS: {2.5, 3}, pyrite.P30: {0.5}},
		ParamErrs:   map[string][]float64{pyrite.WS: {0.5, 0.6}, pyrite.P30: {0.1}},
		Profiles:    map[string][]float64{pyrite.POCS: profile, "sinkflux_S": profile},
		ProfileErrs: map[string][]float64{pyrite.POCS: profile, "sinkflux_S": profile},
		Cost:        []float64{10, 5, 4},
		Convergence: []float64{1, 0.1, 0.005},
		XResids:     []float64{0.1, -0.2, 0.3, 0.05},
	}
}

func TestRunResultEncode(t *testing.T) {
	rr := testRunResult(3, 7, 5)
	b, err := rr.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRunResult(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rr, got); diff != "" {
		t.Errorf("decoded result (-want +got):\n%s", diff)
	}
	rr.Cost = nil
	if _, err := rr.Encode(); err == nil {
		t.Error("want an error for an empty cost evolution")
	}
}

func TestDecodeRunResultMalformed(t *testing.T) {
	h := cdf.NewHeader([]string{"depth"}, []int{3})
	h.AddAttribute("", "station", []int32{1})
	h.AddAttribute("", "param_set", []int32{0})
	h.AddAttribute("", "params", "P30")
	h.AddVariable("depth", []string{"depth"}, []float64{0})
	h.Define()
	buf := netcdf.NewBuffer(nil)
	f, err := cdf.Create(buf, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := netcdf.Write(f, "depth", nil, nil, []float64{30, 35, 40}); err != nil {
		t.Fatal(err)
	}
	for name, b := range map[string][]byte{
		"missing variables": buf.Bytes(),
		"not netcdf":        []byte("station,param_set\n1,0\n"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeRunResult(b); err == nil {
				t.Error("want an error for a malformed result file")
			}
		})
	}
}

func TestSuccess(t *testing.T) {
	for _, test := range []struct {
		name string
		run  pyrite.Run
		want bool
	}{
		{"ok", pyrite.Run{Converged: true, Xhat: []float64{1, 2}}, true},
		{"not converged", pyrite.Run{Xhat: []float64{1, 2}}, false},
		{"negative", pyrite.Run{Converged: true, Xhat: []float64{1, -2}}, false},
		{"infinite", pyrite.Run{Converged: true, Xhat: []float64{math.Inf(1), 2}}, false},
		{"nan", pyrite.Run{Converged: true, Xhat: []float64{math.NaN(), 2}}, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Success(&test.run); got != test.want {
				t.Errorf("have %v, want %v", got, test.want)
			}
		})
	}
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	results := []*RunResult{
		testRunResult(1, 0, 5),
		testRunResult(2, 0, 8),
		testRunResult(1, 1, 6),
	}
	results[2].Cost = []float64{9, 8, 7, 6}
	results[2].Convergence = []float64{1, 0.5, 0.1, 0.001}
	for _, rr := range results {
		b, err := rr.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if err := writeBlob(ctx, bucket, "runs/"+RunKey(rr.Station, rr.Set), b, testLog()); err != nil {
			t.Fatal(err)
		}
	}
	if err := bucket.WriteAll(ctx, "runs/notes.txt", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}
	sets := []ParamSet{
		{ID: 0, Values: map[string]float64{pyrite.WS: 1, pyrite.WL: 2, pyrite.B2p: 3, pyrite.Bm2: 4, pyrite.Bm1s: 5, pyrite.Bm1l: 6}},
		{ID: 1, Values: map[string]float64{pyrite.WS: 1.5, pyrite.WL: 2, pyrite.B2p: 3, pyrite.Bm2: 4, pyrite.Bm1s: 5, pyrite.Bm1l: 6}},
	}
	var archive bytes.Buffer
	c, err := Compile(ctx, bucket, "runs/*.nc", sets, []int{1, 2}, &archive, testLog())
	if err != nil {
		t.Fatal(err)
	}
	if c.Runs != 3 || c.BatchID == "" {
		t.Errorf("compilation = %+v", c)
	}
	wantTable := []TableRow{
		{Set: 0, Values: sets[0].Values, NSuccess: 2, Success: true},
		{Set: 1, Values: sets[1].Values, NSuccess: 1, Success: false},
	}
	if diff := cmp.Diff(wantTable, c.Table); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}

	f, err := cdf.Open(netcdf.NewBuffer(archive.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := f.Header.GetAttribute("", "batch_id").(string); id != c.BatchID {
		t.Errorf("batch_id = %q, want %q", id, c.BatchID)
	}
	stations, err := netcdf.ReadFloats(f, "station", []int{0}, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2, 1}, stations); diff != "" {
		t.Errorf("stations (-want +got):\n%s", diff)
	}
	depth, err := netcdf.ReadFloats(f, "depth", []int{0, 0}, []int{0, 7})
	if err != nil {
		t.Fatal(err)
	}
	if depth[4] != 70 || !math.IsNaN(depth[5]) {
		t.Errorf("first run depths = %v, want 5 depths padded with NaN", depth)
	}
	cost, err := netcdf.ReadFloats(f, "cost_evolution", []int{2, 0}, []int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{9, 8, 7, 6}, cost); diff != "" {
		t.Errorf("cost (-want +got):\n%s", diff)
	}

	var table bytes.Buffer
	if err := WriteTable(&table, c.Table); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadTable(&table)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c.Table, rows); diff != "" {
		t.Errorf("table round trip (-want +got):\n%s", diff)
	}

	if _, err := Compile(ctx, bucket, "other/*.nc", sets, []int{1, 2}, io.Discard, testLog()); err == nil {
		t.Error("want an error when no files match")
	}
}

// testStation returns a station with smoothly decaying POC profiles.
func testStation(id int, depths []float64) *geotraces.Station {
	st := &geotraces.Station{ID: id}
	for _, d := range depths {
		ps := 3*math.Exp(-(d-30)/40) + 0.3
		pl := 0.4*math.Exp(-(d-30)/150) + 0.05
		st.Samples = append(st.Samples, geotraces.Sample{
			Station: float64(id), Cast: "S", Depth: d,
			POCS: ps, POCSErr: 0.1 * ps,
			POCL: pl, POCLErr: 0.1 * pl,
		})
	}
	return st
}

func testRunner(t *testing.T, bucket *blob.Bucket) *Runner {
	var depths []float64
	for d := 40.; d <= 480; d += 20 {
		depths = append(depths, d)
	}
	good := testStation(1, depths)
	priors, err := geotraces.StationPriors(good, 30, 500, 10, 40, testLog())
	if err != nil {
		t.Fatal(err)
	}
	// Too few samples to interpolate.
	bad := testStation(2, []float64{40, 60})
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return &Runner{
		Config:   pyrite.DefaultConfig(),
		Gamma:    0.5,
		Workers:  2,
		Stations: []Station{{Station: good, Priors: priors}, {Station: bad, Priors: priors}},
		Output:   bucket,
		Index:    ix,
		Log:      testLog(),
	}
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	r := testRunner(t, bucket)
	sets := GenerateSets(testRanges(), 3, 1)
	s, err := r.Run(ctx, sets)
	if err != nil {
		t.Fatal(err)
	}
	if s.Runs != len(sets) {
		t.Errorf("have %d runs, want %d", s.Runs, len(sets))
	}
	var n int
	for _, c := range s.Outcomes {
		n += c
	}
	if n != s.Runs {
		t.Errorf("outcomes %v do not add up to %d runs", s.Outcomes, s.Runs)
	}
	recs, err := r.Index.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != len(sets) {
		t.Fatalf("index has %d records, want %d", len(recs), len(sets))
	}
	for _, rec := range recs {
		if rec.Station != 1 {
			t.Errorf("station %d should have been skipped", rec.Station)
		}
		if rec.Status != StatusSuccess {
			if rec.Key != "" {
				t.Errorf("unsuccessful run has key %s", rec.Key)
			}
			continue
		}
		b, err := bucket.ReadAll(ctx, rec.Key)
		if err != nil {
			t.Fatal(err)
		}
		rr, err := DecodeRunResult(b)
		if err != nil {
			t.Fatal(err)
		}
		if rr.Station != 1 || rr.Set != rec.Set || rr.Gamma != 0.5 {
			t.Errorf("result file %s is for station %d set %d gamma %g", rec.Key, rr.Station, rr.Set, rr.Gamma)
		}
		if len(rr.Depths) != r.Stations[0].Priors.Grid.Len() {
			t.Errorf("result file %s has %d depths", rec.Key, len(rr.Depths))
		}
		for _, p := range Params {
			if rr.Priors[p] != sets[rec.Set].Values[p] {
				t.Errorf("%s prior = %g, want %g", p, rr.Priors[p], sets[rec.Set].Values[p])
			}
		}
	}
}

func TestRunnerCanceled(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	r := testRunner(t, bucket)
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	s, err := r.Run(ctx, GenerateSets(testRanges(), 3, 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("have error %v, want context.Canceled", err)
	}
	if s.Runs != 0 {
		t.Errorf("have %d runs after cancellation", s.Runs)
	}
	r.Workers = 0
	if _, err := r.Run(context.Background(), nil); err == nil {
		t.Error("want an error for zero workers")
	}
}
