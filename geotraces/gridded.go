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
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/requestcache"
	"github.com/spatialmodel/pyrite/internal/hash"
	"github.com/spatialmodel/pyrite/internal/netcdf"
)

const (
	// missingValue is the upper bound of the fill values in
	// gridded products.
	missingValue = -9999

	// searchRadius is the maximum latitude and longitude difference
	// between a station and a pixel [°].
	searchRadius = 1

	earthRadius = 6371.0088 // km
)

// GriddedProduct is a time series of satellite-derived composites,
// such as net primary production, with one classic netCDF file per
// composite.
type GriddedProduct struct {
	Variable   string
	Composites []Composite
}

// Composite is one file of a gridded product.
type Composite struct {
	Date time.Time
	File string
}

// OpenGriddedProduct finds the composites of variable in dir. The date of
// each composite is parsed from its file name, which must contain a
// dot-separated field formatted as YYYYMMDD or YYYYDDD.
func OpenGriddedProduct(dir, variable string) (*GriddedProduct, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("geotraces: %v", err)
	}
	g := &GriddedProduct{Variable: variable}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".nc" {
			continue
		}
		d, err := compositeDate(e.Name())
		if err != nil {
			return nil, err
		}
		g.Composites = append(g.Composites, Composite{Date: d, File: filepath.Join(dir, e.Name())})
	}
	if len(g.Composites) == 0 {
		return nil, fmt.Errorf("geotraces: no netCDF files in %s", dir)
	}
	sort.Slice(g.Composites, func(i, j int) bool {
		return g.Composites[i].Date.Before(g.Composites[j].Date)
	})
	return g, nil
}

// compositeDate parses the date from a composite file name.
func compositeDate(name string) (time.Time, error) {
	for _, f := range strings.Split(name, ".") {
		if _, err := strconv.Atoi(f); err != nil {
			continue
		}
		switch len(f) {
		case 8:
			if d, err := time.Parse("20060102", f); err == nil {
				return d, nil
			}
		case 7:
			year, _ := strconv.Atoi(f[:4])
			day, _ := strconv.Atoi(f[4:])
			if day >= 1 && day <= 366 {
				return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("geotraces: no date in file name %s", name)
}

// composite returns the latest composite on or before date.
func (g *GriddedProduct) composite(date time.Time) (Composite, error) {
	i := sort.Search(len(g.Composites), func(i int) bool {
		return g.Composites[i].Date.After(date)
	})
	if i == 0 {
		return Composite{}, fmt.Errorf("geotraces: no %s composite on or before %s",
			g.Variable, date.Format("2006-01-02"))
	}
	return g.Composites[i-1], nil
}

// At returns the value of the composite for date at the valid pixel
// nearest to the given location.
func (g *GriddedProduct) At(ctx context.Context, lat, lon float64, date time.Time) (float64, error) {
	c, err := g.composite(date)
	if err != nil {
		return math.NaN(), err
	}
	f, err := loadField(ctx, c.File, g.Variable)
	if err != nil {
		return math.NaN(), err
	}
	return f.nearest(lat, lon)
}

// Stations returns the value of the product at each station.
func (g *GriddedProduct) Stations(ctx context.Context, stations []*Station) (map[int]float64, error) {
	o := make(map[int]float64, len(stations))
	for _, st := range stations {
		if st.Date.IsZero() {
			return nil, fmt.Errorf("geotraces: station %d has no surface cast", st.ID)
		}
		v, err := g.At(ctx, st.Latitude, st.Longitude, st.Date)
		if err != nil {
			return nil, fmt.Errorf("geotraces: station %d: %w", st.ID, err)
		}
		o[st.ID] = v
	}
	return o, nil
}

// field is a 2-D variable on a latitude-longitude grid.
type field struct {
	lat, lon []float64
	values   []float64 // row-major, latitude first
}

var (
	fieldCache     *requestcache.Cache
	fieldCacheOnce sync.Once
)

type fieldRequest struct {
	File, Variable string
}

// loadField reads a variable from a composite file, utilizing a cache
// to avoid reading the same file more than once.
func loadField(ctx context.Context, file, variable string) (*field, error) {
	fieldCacheOnce.Do(func() {
		fieldCache = requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(fieldRequest)
			return readField(r.File, r.Variable)
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(4))
	})
	req := fieldRequest{File: file, Variable: variable}
	r := fieldCache.NewRequest(ctx, req, hash.Key(req))
	fI, err := r.Result()
	if err != nil {
		return nil, err
	}
	return fI.(*field), nil
}

// readField reads variable from file. The last two dimensions of
// the variable are latitude and longitude; only the first element of
// any other dimension is read. The coordinates are read from the "lat"
// and "lon" variables if they exist, otherwise the grid is assumed
// to be a regular global grid starting at 90°N and 180°W.
func readField(file, variable string) (*field, error) {
	r, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("geotraces: %v", err)
	}
	defer r.Close()
	f, err := cdf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("geotraces: opening %s: %v", file, err)
	}
	if !netcdf.Has(f, variable) {
		return nil, fmt.Errorf("geotraces: %s has no variable %s", file, variable)
	}
	dims := f.Header.Lengths(variable)
	if len(dims) < 2 {
		return nil, fmt.Errorf("geotraces: variable %s in %s has %d dimensions; need at least 2",
			variable, file, len(dims))
	}
	nlat, nlon := dims[len(dims)-2], dims[len(dims)-1]
	begin := make([]int, len(dims))
	end := make([]int, len(dims))
	end[len(dims)-2], end[len(dims)-1] = nlat-1, nlon-1
	o := new(field)
	if o.values, err = netcdf.ReadFloats(f, variable, begin, end); err != nil {
		return nil, err
	}
	if len(o.values) < nlat*nlon {
		return nil, fmt.Errorf("geotraces: variable %s in %s is truncated", variable, file)
	}
	o.values = o.values[:nlat*nlon]
	if netcdf.Has(f, "lat") && netcdf.Has(f, "lon") {
		if o.lat, err = netcdf.ReadFloats(f, "lat", nil, nil); err != nil {
			return nil, err
		}
		if o.lon, err = netcdf.ReadFloats(f, "lon", nil, nil); err != nil {
			return nil, err
		}
		if len(o.lat) != nlat || len(o.lon) != nlon {
			return nil, fmt.Errorf("geotraces: coordinates in %s do not match variable %s", file, variable)
		}
		return o, nil
	}
	o.lat = make([]float64, nlat)
	for i := range o.lat {
		o.lat[i] = 90 - (float64(i)+0.5)*180/float64(nlat)
	}
	o.lon = make([]float64, nlon)
	for j := range o.lon {
		o.lon[j] = -180 + (float64(j)+0.5)*360/float64(nlon)
	}
	return o, nil
}

// nearest returns the value of the valid pixel closest to the given
// location, considering pixels within searchRadius degrees.
func (f *field) nearest(lat, lon float64) (float64, error) {
	type pixel struct {
		i, j int
		dist float64
	}
	var candidates []pixel
	for i, plat := range f.lat {
		if math.Abs(plat-lat) >= searchRadius {
			continue
		}
		for j, plon := range f.lon {
			if math.Abs(plon-lon) >= searchRadius {
				continue
			}
			candidates = append(candidates, pixel{i: i, j: j, dist: haversine(lat, lon, plat, plon)})
		}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
	for _, p := range candidates {
		v := f.values[p.i*len(f.lon)+p.j]
		if v > missingValue && !math.IsNaN(v) {
			return v, nil
		}
	}
	return math.NaN(), fmt.Errorf("geotraces: no valid pixel within %g° of (%g, %g)", float64(searchRadius), lat, lon)
}

// haversine returns the great-circle distance between two points [km].
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}
