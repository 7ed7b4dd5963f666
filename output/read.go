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

package output

import (
	"fmt"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/ch4grid"
)

// ReadNetCDF reads the sector flux grids of year from a grid product
// written by WriteNetCDF in KtPerYear units. The product must be on a
// grid compatible with grid. Sectors with no emissions in year are
// omitted. The Total of each flux grid is its gridded sum.
func ReadNetCDF(rw cdf.ReaderWriterAt, grid *ch4grid.GridDef, year int) (map[string]*ch4grid.FluxGrid, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("output: opening NetCDF file: %w", err)
	}
	if u, _ := f.Header.GetAttribute("", "units").(string); Units(u) != KtPerYear {
		return nil, fmt.Errorf("output: grid product units are %q; %q are required", u, KtPerYear)
	}
	if err := checkGrid(f, grid); err != nil {
		return nil, err
	}

	times, ok := readAll(f, "time").([]int32)
	if !ok {
		return nil, fmt.Errorf("output: grid product has no time variable")
	}
	ti := -1
	for i, t := range times {
		if int(t) == year {
			ti = i
		}
	}
	if ti < 0 {
		return nil, fmt.Errorf("output: grid product has no year %d", year)
	}

	o := make(map[string]*ch4grid.FluxGrid)
	for _, v := range f.Header.Variables() {
		switch v {
		case "time", "lat", "lon", TotalVariable:
			continue
		}
		dims := f.Header.Lengths(v)
		if len(dims) != 3 || dims[1] != grid.Ny || dims[2] != grid.Nx {
			return nil, fmt.Errorf("output: variable %s has dimensions %v", v, dims)
		}
		r := f.Reader(v, []int{ti, 0, 0}, []int{ti + 1, grid.Ny, grid.Nx})
		buf := r.Zero(grid.Len())
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("output: reading variable %s: %w", v, err)
		}
		vals, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("output: variable %s has type %T", v, buf)
		}
		missing := true
		for _, x := range vals {
			if x != FillValue {
				missing = false
				break
			}
		}
		if missing {
			continue
		}
		fg := &ch4grid.FluxGrid{
			Grid:   grid,
			Sector: v,
			Year:   year,
			Flux:   sparse.ZerosDense(grid.Ny, grid.Nx),
		}
		copy(fg.Flux.Elements, vals)
		fg.Total = fg.Sum()
		o[v] = fg
	}
	return o, nil
}

func readAll(f *cdf.File, v string) interface{} {
	if len(f.Header.Lengths(v)) == 0 {
		return nil
	}
	r := f.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil
	}
	return buf
}

// checkGrid returns a *ch4grid.GridMismatchError if the grid product in
// f is not on grid.
func checkGrid(f *cdf.File, grid *ch4grid.GridDef) error {
	name, _ := f.Header.GetAttribute("", "grid_name").(string)
	num := func(a string) float64 {
		switch v := f.Header.GetAttribute("", a).(type) {
		case []float64:
			if len(v) > 0 {
				return v[0]
			}
		case []int32:
			if len(v) > 0 {
				return float64(v[0])
			}
		}
		return -1
	}
	if name == grid.Name &&
		int(num("nx")) == grid.Nx && int(num("ny")) == grid.Ny &&
		num("dx") == grid.Dx && num("dy") == grid.Dy &&
		num("x0") == grid.X0 && num("y0") == grid.Y0 {
		return nil
	}
	return &ch4grid.GridMismatchError{
		A: grid.String(),
		B: fmt.Sprintf("%s(nx=%g ny=%g dx=%g dy=%g x0=%g y0=%g)", name,
			num("nx"), num("ny"), num("dx"), num("dy"), num("x0"), num("y0")),
	}
}
