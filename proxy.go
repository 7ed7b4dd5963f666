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

package ch4grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// TimeInvariant is the Year of a Proxy that applies to every year.
const TimeInvariant = 0

// ErrMalformed is returned by Feature.Rasterize when a feature cannot be
// apportioned to grid cells, for example because it has a negative or
// undefined weight or a degenerate geometry.
var ErrMalformed = errors.New("ch4grid: malformed proxy feature")

// A Feature is an element of spatial evidence for where a sector emits.
type Feature interface {
	// Weight returns the activity intensity of the feature.
	Weight() float64

	// Region returns the region (e.g. state) the feature is associated
	// with, or "" if the feature is not associated with a region.
	Region() string

	// Rasterize adds the feature's weight to intensity, apportioned across
	// the cells of grid. It returns the portion of the weight that fell
	// within the grid.
	Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error)
}

// checkWeight returns ErrMalformed if w is not a valid intensity.
func checkWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("%w: weight %g", ErrMalformed, w)
	}
	return nil
}

// PointFeature is a facility or other point source.
type PointFeature struct {
	geom.Point
	W float64
	R string
}

// Weight implements Feature.
func (f *PointFeature) Weight() float64 { return f.W }

// Region implements Feature.
func (f *PointFeature) Region() string { return f.R }

// Rasterize implements Feature by assigning the full weight to the cell
// containing the point.
func (f *PointFeature) Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error) {
	if err := checkWeight(f.W); err != nil {
		return 0, err
	}
	row, col, ok := grid.CellIndex(f.Point)
	if !ok {
		return 0, nil
	}
	intensity.AddVal(f.W, row, col)
	return f.W, nil
}

// MultiPointFeature is a group of point sources that share a single
// weight, which is split evenly among the points.
type MultiPointFeature struct {
	geom.MultiPoint
	W float64
	R string
}

// Weight implements Feature.
func (f *MultiPointFeature) Weight() float64 { return f.W }

// Region implements Feature.
func (f *MultiPointFeature) Region() string { return f.R }

// Rasterize implements Feature.
func (f *MultiPointFeature) Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error) {
	if err := checkWeight(f.W); err != nil {
		return 0, err
	}
	if len(f.MultiPoint) == 0 {
		return 0, fmt.Errorf("%w: empty multipoint", ErrMalformed)
	}
	w := f.W / float64(len(f.MultiPoint))
	var placed float64
	for _, p := range f.MultiPoint {
		row, col, ok := grid.CellIndex(p)
		if !ok {
			continue
		}
		intensity.AddVal(w, row, col)
		placed += w
	}
	return placed, nil
}

// LineFeature is a linear source such as a pipeline or road segment.
// Its weight is apportioned among cells by the fraction of its length
// within each cell.
type LineFeature struct {
	geom.Linear
	W float64
	R string
}

// Weight implements Feature.
func (f *LineFeature) Weight() float64 { return f.W }

// Region implements Feature.
func (f *LineFeature) Region() string { return f.R }

// Rasterize implements Feature.
func (f *LineFeature) Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error) {
	if err := checkWeight(f.W); err != nil {
		return 0, err
	}
	if f.Linear == nil {
		return 0, fmt.Errorf("%w: nil line", ErrMalformed)
	}
	length := f.Length()
	if !(length > 0) || math.IsInf(length, 0) {
		return 0, fmt.Errorf("%w: line length %g", ErrMalformed, length)
	}
	cells := grid.CellsIntersecting(f.Bounds())
	frac := make([]float64, len(cells))
	var sum float64
	for i, cell := range cells {
		clipped := f.Clip(cell.Polygonal)
		if clipped == nil {
			continue
		}
		frac[i] = clipped.Length() / length
		sum += frac[i]
	}
	// Segments lying on a shared cell edge are clipped into both cells.
	if sum > 1 {
		for i := range frac {
			frac[i] /= sum
		}
		sum = 1
	}
	for i, cell := range cells {
		if frac[i] > 0 {
			intensity.AddVal(f.W*frac[i], cell.Row, cell.Col)
		}
	}
	return f.W * sum, nil
}

// PolygonFeature is an areal source such as a county, a field or a
// basin. Its weight is apportioned among cells by the fraction of its
// area within each cell.
type PolygonFeature struct {
	geom.Polygonal
	W float64
	R string
}

// Weight implements Feature.
func (f *PolygonFeature) Weight() float64 { return f.W }

// Region implements Feature.
func (f *PolygonFeature) Region() string { return f.R }

// Rasterize implements Feature.
func (f *PolygonFeature) Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error) {
	if err := checkWeight(f.W); err != nil {
		return 0, err
	}
	if f.Polygonal == nil {
		return 0, fmt.Errorf("%w: nil polygon", ErrMalformed)
	}
	area := f.Area()
	if !(area > 0) || math.IsInf(area, 0) {
		return 0, fmt.Errorf("%w: polygon area %g", ErrMalformed, area)
	}
	cells := grid.CellsIntersecting(f.Bounds())
	if len(cells) == 1 {
		// The feature is entirely within one cell, unless it extends past
		// the edge of the grid.
		isect := f.Intersection(cells[0].Polygonal)
		if isect == nil {
			return 0, nil
		}
		frac := math.Min(isect.Area()/area, 1)
		intensity.AddVal(f.W*frac, cells[0].Row, cells[0].Col)
		return f.W * frac, nil
	}
	var placed float64
	for _, cell := range cells {
		isect := f.Intersection(cell.Polygonal)
		if isect == nil {
			continue
		}
		a := isect.Area()
		if a <= 0 {
			continue
		}
		w := f.W * a / area
		intensity.AddVal(w, cell.Row, cell.Col)
		placed += w
	}
	return placed, nil
}

// RasterField is a pre-gridded proxy such as population or cropland.
// Values must be nonnegative.
type RasterField struct {
	Grid   *GridDef
	Values *sparse.DenseArray
	R      string
}

// Weight implements Feature by returning the sum of the field. A field
// without values has a NaN weight.
func (f *RasterField) Weight() float64 {
	if f.Values == nil {
		return math.NaN()
	}
	return f.Values.Sum()
}

// Region implements Feature.
func (f *RasterField) Region() string { return f.R }

// Rasterize implements Feature. If the field's grid is compatible with
// grid, values are copied cell-for-cell. Otherwise each source cell is
// apportioned to the target cells it overlaps by area.
func (f *RasterField) Rasterize(grid *GridDef, intensity *sparse.DenseArray) (float64, error) {
	if f.Grid == nil || f.Values == nil {
		return 0, fmt.Errorf("%w: raster without grid or values", ErrMalformed)
	}
	if s := f.Values.Shape; len(s) != 2 || s[0] != f.Grid.Ny || s[1] != f.Grid.Nx {
		return 0, fmt.Errorf("%w: raster shape %v does not match grid %s", ErrMalformed, s, f.Grid)
	}
	for _, v := range f.Values.Elements {
		if err := checkWeight(v); err != nil {
			return 0, err
		}
	}
	if grid.Compatible(f.Grid) {
		intensity.AddDense(f.Values)
		return f.Values.Sum(), nil
	}
	var placed float64
	for i, v := range f.Values.Elements {
		if v == 0 {
			continue
		}
		cell := f.Grid.Cells[i]
		pf := &PolygonFeature{Polygonal: cell.Polygonal, W: v}
		p, err := pf.Rasterize(grid, intensity)
		if err != nil {
			return placed, err
		}
		placed += p
	}
	return placed, nil
}

// A Proxy is the spatial evidence for one sector in one year, or in every
// year if Year is TimeInvariant.
type Proxy struct {
	Sector   string
	Year     int
	Features []Feature

	// Mask, if not nil, restricts the cells where the sector can emit.
	Mask *Mask
}

// Diagnostics counts the proxy features that were used or dropped while
// building a WeightGrid.
type Diagnostics struct {
	Features      int
	Used          int
	ZeroMagnitude int
	OutOfExtent   int
	Malformed     int

	// NoRegionTotal counts features in regions without a total when
	// allocating regional totals.
	NoRegionTotal int
}

// Dropped returns the number of features that were not used.
func (d Diagnostics) Dropped() int {
	return d.ZeroMagnitude + d.OutOfExtent + d.Malformed + d.NoRegionTotal
}

// Add returns the sum of two sets of diagnostics.
func (d Diagnostics) Add(o Diagnostics) Diagnostics {
	return Diagnostics{
		Features:      d.Features + o.Features,
		Used:          d.Used + o.Used,
		ZeroMagnitude: d.ZeroMagnitude + o.ZeroMagnitude,
		OutOfExtent:   d.OutOfExtent + o.OutOfExtent,
		Malformed:     d.Malformed + o.Malformed,
		NoRegionTotal: d.NoRegionTotal + o.NoRegionTotal,
	}
}

// rasterize sums the intensity of features onto grid.
func rasterize(grid *GridDef, features []Feature) (*sparse.DenseArray, Diagnostics) {
	intensity := grid.NewArray()
	d := Diagnostics{Features: len(features)}
	for _, f := range features {
		if f == nil {
			d.Malformed++
			continue
		}
		if w := f.Weight(); w == 0 {
			d.ZeroMagnitude++
			continue
		}
		placed, err := f.Rasterize(grid, intensity)
		switch {
		case err != nil:
			d.Malformed++
		case placed == 0:
			d.OutOfExtent++
		default:
			d.Used++
		}
	}
	return intensity, d
}
