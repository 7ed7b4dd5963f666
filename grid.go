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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
)

// Parameters of the published grid product. Changing them breaks
// cell-for-cell comparability with previously published grids.
const (
	CONUSWest  = -130.0
	CONUSEast  = -60.0
	CONUSSouth = 20.0
	CONUSNorth = 55.0
	Resolution = 0.1

	// LongLat is the spatial reference of the grid product.
	LongLat = "+proj=longlat +units=degrees"
)

// earthRadius is the mean radius of the earth [m].
const earthRadius = 6371007.2

// GridDef specifies the grid that emissions are allocated to.
// A GridDef must not be modified after it is created.
type GridDef struct {
	Name   string
	Nx, Ny int
	Dx, Dy float64
	X0, Y0 float64

	// Cells are stored in row-major order, where row 0 is the
	// southernmost row and column 0 is the westernmost column.
	Cells  []*GridCell
	SR     *proj.SR
	Extent geom.Polygon
	rtree  *rtree.Rtree
}

// GridCell defines an individual cell in a grid.
type GridCell struct {
	geom.Polygonal
	Row, Col int
}

var (
	conusOnce sync.Once
	conus     *GridDef
	conusErr  error
)

// CONUS returns the 0.1° × 0.1° grid covering the contiguous United States.
// The same instance is returned on every call.
func CONUS() (*GridDef, error) {
	conusOnce.Do(func() {
		var sr *proj.SR
		sr, conusErr = proj.Parse(LongLat)
		if conusErr != nil {
			return
		}
		nx := int(math.Round((CONUSEast - CONUSWest) / Resolution))
		ny := int(math.Round((CONUSNorth - CONUSSouth) / Resolution))
		conus = NewGridRegular("conus_0.1deg", nx, ny, Resolution, Resolution,
			CONUSWest, CONUSSouth, sr)
	})
	return conus, conusErr
}

// NewGridRegular creates a new regular grid, where all grid cells are the
// same size.
func NewGridRegular(name string, nx, ny int, dx, dy, x0, y0 float64,
	sr *proj.SR) *GridDef {
	grid := &GridDef{
		Name: name,
		Nx:   nx, Ny: ny,
		Dx: dx, Dy: dy,
		X0: x0, Y0: y0,
		SR:    sr,
		rtree: rtree.NewTree(25, 50),
		Cells: make([]*GridCell, nx*ny),
	}
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			// Shared edges are computed identically for neighboring cells.
			xw, xe := grid.xEdge(ix), grid.xEdge(ix+1)
			ys, yn := grid.yEdge(iy), grid.yEdge(iy+1)
			cell := &GridCell{
				Row: iy, Col: ix,
				Polygonal: geom.Polygon{{
					{X: xw, Y: ys}, {X: xe, Y: ys},
					{X: xe, Y: yn}, {X: xw, Y: yn}, {X: xw, Y: ys}}},
			}
			grid.rtree.Insert(cell)
			grid.Cells[grid.Index(iy, ix)] = cell
		}
	}
	xe, yn := grid.xEdge(nx), grid.yEdge(ny)
	grid.Extent = geom.Polygon{{{X: x0, Y: y0}, {X: xe, Y: y0},
		{X: xe, Y: yn}, {X: x0, Y: yn}, {X: x0, Y: y0}}}
	return grid
}

func (grid *GridDef) xEdge(i int) float64 { return grid.X0 + float64(i)*grid.Dx }
func (grid *GridDef) yEdge(j int) float64 { return grid.Y0 + float64(j)*grid.Dy }

// Index returns the row-major one-dimensional index of the given cell.
func (grid *GridDef) Index(row, col int) int { return row*grid.Nx + col }

// RowCol returns the row and column of the cell with one-dimensional index i.
func (grid *GridDef) RowCol(i int) (row, col int) { return i / grid.Nx, i % grid.Nx }

// Len returns the number of cells in the grid.
func (grid *GridDef) Len() int { return grid.Nx * grid.Ny }

// Bounds returns the bounding box of the grid.
func (grid *GridDef) Bounds() *geom.Bounds { return grid.Extent.Bounds() }

// NewArray returns a zero-valued array shaped to hold one value per cell.
func (grid *GridDef) NewArray() *sparse.DenseArray {
	return sparse.ZerosDense(grid.Ny, grid.Nx)
}

// Compatible returns whether grid and other were created with identical
// parameters, so that arrays keyed to one align cell-for-cell with the other.
func (grid *GridDef) Compatible(other *GridDef) bool {
	if grid == other {
		return true
	}
	if grid == nil || other == nil {
		return false
	}
	return grid.Name == other.Name &&
		grid.Nx == other.Nx && grid.Ny == other.Ny &&
		grid.Dx == other.Dx && grid.Dy == other.Dy &&
		grid.X0 == other.X0 && grid.Y0 == other.Y0
}

// CheckCompatible returns a *GridMismatchError if other is not
// compatible with the receiver.
func (grid *GridDef) CheckCompatible(other *GridDef) error {
	if grid.Compatible(other) {
		return nil
	}
	return &GridMismatchError{A: grid.String(), B: other.String()}
}

func (grid *GridDef) String() string {
	if grid == nil {
		return "<nil grid>"
	}
	return fmt.Sprintf("%s(nx=%d ny=%d dx=%g dy=%g x0=%g y0=%g)",
		grid.Name, grid.Nx, grid.Ny, grid.Dx, grid.Dy, grid.X0, grid.Y0)
}

// CellIndex returns the row and column of the cell containing p.
// withinGrid is false if p is outside of the grid.
// A point on an edge shared by more than one cell is assigned to the
// cell with the lowest row-major index.
func (grid *GridDef) CellIndex(p geom.Point) (row, col int, withinGrid bool) {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return -1, -1, false
	}
	col, ok := locate(p.X, grid.Nx, grid.xEdge)
	if !ok {
		return -1, -1, false
	}
	row, ok = locate(p.Y, grid.Ny, grid.yEdge)
	if !ok {
		return -1, -1, false
	}
	return row, col, true
}

// locate returns the index i such that edge(i) < v <= edge(i+1), except
// that v == edge(0) is assigned to index 0.
func locate(v float64, n int, edge func(int) float64) (int, bool) {
	if v < edge(0) || v > edge(n) {
		return -1, false
	}
	i := int(math.Floor((v - edge(0)) / (edge(1) - edge(0))))
	if i < 0 {
		i = 0
	} else if i > n-1 {
		i = n - 1
	}
	// Correct for floating point error in the division.
	for i > 0 && v <= edge(i) {
		i--
	}
	for i < n-1 && v > edge(i+1) {
		i++
	}
	return i, true
}

// CellsIntersecting returns the cells whose bounds overlap b.
func (grid *GridDef) CellsIntersecting(b *geom.Bounds) []*GridCell {
	found := grid.rtree.SearchIntersect(b)
	o := make([]*GridCell, len(found))
	for i, c := range found {
		o[i] = c.(*GridCell)
	}
	return o
}

// Centroid returns the longitude and latitude (or x and y) of
// the center of the given cell.
func (grid *GridDef) Centroid(row, col int) geom.Point {
	return geom.Point{
		X: (grid.xEdge(col) + grid.xEdge(col+1)) / 2,
		Y: (grid.yEdge(row) + grid.yEdge(row+1)) / 2,
	}
}

// Lons returns the x coordinates of the cell centers, west to east.
func (grid *GridDef) Lons() []float64 {
	o := make([]float64, grid.Nx)
	for i := range o {
		o[i] = grid.Centroid(0, i).X
	}
	return o
}

// Lats returns the y coordinates of the cell centers, south to north.
func (grid *GridDef) Lats() []float64 {
	o := make([]float64, grid.Ny)
	for j := range o {
		o[j] = grid.Centroid(j, 0).Y
	}
	return o
}

// CellArea returns the area [m²] of each cell, assuming that the grid
// is in longitude-latitude coordinates on a spherical earth.
func (grid *GridDef) CellArea() *sparse.DenseArray {
	o := grid.NewArray()
	dLon := grid.Dx * math.Pi / 180
	for j := 0; j < grid.Ny; j++ {
		s := math.Sin(grid.yEdge(j) * math.Pi / 180)
		n := math.Sin(grid.yEdge(j+1) * math.Pi / 180)
		a := earthRadius * earthRadius * dLon * math.Abs(n-s)
		for i := 0; i < grid.Nx; i++ {
			o.Set(a, j, i)
		}
	}
	return o
}

// WriteToShp writes the grid definition to a shapefile in directory outdir.
func (grid *GridDef) WriteToShp(outdir string) error {
	for _, ext := range []string{".shp", ".prj", ".dbf", ".shx"} {
		os.Remove(filepath.Join(outdir, grid.Name+ext))
	}
	fields := []goshp.Field{
		goshp.NumberField("row", 10),
		goshp.NumberField("col", 10),
		goshp.FloatField("area_m2", 24, 4),
	}
	shpf, err := shp.NewEncoderFromFields(filepath.Join(outdir, grid.Name+".shp"),
		goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("ch4grid: creating grid shapefile: %w", err)
	}
	area := grid.CellArea()
	for _, cell := range grid.Cells {
		err = shpf.EncodeFields(cell.Polygonal, cell.Row, cell.Col, area.Get(cell.Row, cell.Col))
		if err != nil {
			shpf.Close()
			return fmt.Errorf("ch4grid: writing grid shapefile: %w", err)
		}
	}
	shpf.Close()
	return nil
}
