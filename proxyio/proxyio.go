/*
Copyright © 2024 the ch4grid authors.
This file is part of ch4grid.

ch4grid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ch4grid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ch4grid.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package proxyio loads spatial proxies for methane emissions sectors
// from shapefiles, GeoJSON feature collections, facility lists and
// pre-gridded NetCDF fields.
package proxyio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ch4grid"
)

// Geometry kinds accepted by Source.Type.
const (
	Point   = "point"
	Line    = "line"
	Polygon = "polygon"
	Raster  = "raster"
)

// Source describes where the proxy of a sector is stored.
type Source struct {
	// Type is the geometry kind of the proxy features: "point", "line",
	// "polygon" or "raster". Features of a different kind are counted as
	// malformed. If Type is empty, any kind is accepted.
	Type string

	// File holds a time-invariant proxy. Files holds one proxy file per
	// year, keyed by year. Only one of them should be set.
	File  string
	Files map[string]string

	// WeightField is the attribute or column that holds the activity
	// intensity of each feature. If it is empty, every feature has a
	// weight of 1.
	WeightField string

	// RegionField is the attribute or column that holds the region
	// (for example, the state) of each feature.
	RegionField string

	// YearField, if set, is the attribute or column that holds the year
	// of each feature in File, so that a single file can hold a separate
	// proxy for each year.
	YearField string

	// Variable is the name of the NetCDF variable of a raster proxy.
	Variable string

	// Locations is a CSV table of facility locations that is joined to a
	// facility list by facility name and region.
	Locations string

	// Mask is a GeoJSON polygon restricting where the sector emits.
	Mask string
}

// A Loader loads proxies onto a grid.
type Loader struct {
	Grid *ch4grid.GridDef

	// Log receives warnings. If nil, the logrus standard logger is used.
	Log logrus.FieldLogger
}

func (l *Loader) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// record is one proxy feature read from a file.
type record struct {
	g      geom.Geom
	weight float64
	region string
	year   string

	// lonLat is true if g is in longitude-latitude coordinates rather
	// than the spatial reference of the grid.
	lonLat bool
}

// Load loads the proxy of sector described by src.
func (l *Loader) Load(sector string, src *Source) (ch4grid.ProxySource, error) {
	var mask *ch4grid.Mask
	if src.Mask != "" {
		var err error
		if mask, err = ReadMask(os.ExpandEnv(src.Mask), l.Grid); err != nil {
			return nil, err
		}
	}
	switch {
	case src.File != "" && len(src.Files) > 0:
		return nil, fmt.Errorf("proxyio: sector %s: only one of File and Files may be set", sector)
	case len(src.Files) > 0:
		o := make(ch4grid.AnnualProxies)
		for ys, f := range src.Files {
			y, err := strconv.Atoi(strings.TrimSpace(ys))
			if err != nil {
				return nil, fmt.Errorf("proxyio: sector %s: invalid proxy year %q", sector, ys)
			}
			byYear, err := l.features(f, src)
			if err != nil {
				return nil, fmt.Errorf("proxyio: sector %s year %d: %w", sector, y, err)
			}
			var fs []ch4grid.Feature
			for _, yfs := range byYear {
				fs = append(fs, yfs...)
			}
			o[y] = &ch4grid.Proxy{Sector: sector, Year: y, Features: fs, Mask: mask}
		}
		return o, nil
	case src.File != "":
		byYear, err := l.features(src.File, src)
		if err != nil {
			return nil, fmt.Errorf("proxyio: sector %s: %w", sector, err)
		}
		if src.YearField == "" {
			p := &ch4grid.Proxy{Sector: sector, Year: ch4grid.TimeInvariant,
				Features: byYear[""], Mask: mask}
			key := *src
			key.Files = nil
			return &ch4grid.StaticProxy{P: p, Key: key}, nil
		}
		o := make(ch4grid.AnnualProxies)
		for ys, fs := range byYear {
			y, err := strconv.Atoi(ys)
			if err != nil {
				return nil, fmt.Errorf("proxyio: sector %s: invalid %s %q in %s", sector, src.YearField, ys, src.File)
			}
			o[y] = &ch4grid.Proxy{Sector: sector, Year: y, Features: fs, Mask: mask}
		}
		return o, nil
	default:
		return nil, fmt.Errorf("proxyio: sector %s: no proxy file", sector)
	}
}

// features reads the features in file grouped by the value of
// src.YearField.
func (l *Loader) features(file string, src *Source) (map[string][]ch4grid.Feature, error) {
	file = os.ExpandEnv(file)
	if src.Type == Raster || strings.EqualFold(filepath.Ext(file), ".nc") {
		f, err := ReadRaster(file, src.Variable, l.Grid)
		if err != nil {
			return nil, err
		}
		return map[string][]ch4grid.Feature{"": {f}}, nil
	}
	var recs []record
	var err error
	switch strings.ToLower(filepath.Ext(file)) {
	case ".shp":
		recs, err = l.readShapefile(file, src)
	case ".geojson", ".json":
		recs, err = readGeoJSON(file, src)
	case ".csv":
		recs, err = l.readFacilities(file, src)
	default:
		return nil, fmt.Errorf("proxyio: unsupported proxy file type %s", file)
	}
	if err != nil {
		return nil, err
	}
	ct, err := transform(l.Grid)
	if err != nil {
		return nil, err
	}
	o := make(map[string][]ch4grid.Feature)
	for _, r := range recs {
		g := r.g
		if g != nil && ct != nil && r.lonLat {
			if g, err = g.Transform(ct); err != nil {
				g = nil
			}
		}
		o[r.year] = append(o[r.year], newFeature(g, r.weight, r.region, src.Type))
	}
	return o, nil
}

// transform returns a transform from longitude-latitude coordinates to
// the spatial reference of grid, or nil if none is needed.
func transform(grid *ch4grid.GridDef) (proj.Transformer, error) {
	if grid.SR == nil {
		return nil, nil
	}
	ll, err := proj.Parse(ch4grid.LongLat)
	if err != nil {
		return nil, err
	}
	if ll.Equal(grid.SR, 0) {
		return nil, nil
	}
	return ll.NewTransform(grid.SR)
}

// newFeature wraps g in the Feature type for its geometry kind. It
// returns nil if g is missing or not of the given kind.
func newFeature(g geom.Geom, w float64, region, kind string) ch4grid.Feature {
	switch t := g.(type) {
	case geom.Point:
		if kind == "" || kind == Point {
			return &ch4grid.PointFeature{Point: t, W: w, R: region}
		}
	case geom.MultiPoint:
		if kind == "" || kind == Point {
			return &ch4grid.MultiPointFeature{MultiPoint: t, W: w, R: region}
		}
	case geom.Polygonal:
		if kind == "" || kind == Polygon {
			return &ch4grid.PolygonFeature{Polygonal: t, W: w, R: region}
		}
	case geom.Linear:
		if kind == "" || kind == Line {
			return &ch4grid.LineFeature{Linear: t, W: w, R: region}
		}
	}
	return nil
}

// parseWeight parses a feature weight. A blank weight is zero and an
// invalid one is NaN, which marks the feature as malformed.
func parseWeight(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
