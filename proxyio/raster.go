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

package proxyio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/ch4grid"
)

// ReadRaster reads a pre-gridded proxy from variable varName in a NetCDF
// file. The variable must have dimensions (y, x), and the file must have
// global attributes "x0", "y0", "dx" and "dy" giving the lower-left corner
// and cell size of the raster in the spatial reference of grid. Missing
// values, either NaN or equal to the variable's "_FillValue" attribute,
// are treated as zero.
func ReadRaster(file, varName string, grid *ch4grid.GridDef) (*ch4grid.RasterField, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("proxyio: %w", err)
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("proxyio: opening NetCDF file %s: %w", file, err)
	}
	dims := ff.Header.Lengths(varName)
	if len(dims) != 2 {
		return nil, fmt.Errorf("proxyio: NetCDF file %s: variable %q must have 2 dimensions but has %d", file, varName, len(dims))
	}
	var attrs [4]float64
	for i, a := range []string{"x0", "y0", "dx", "dy"} {
		if attrs[i], err = floatAttribute(ff, "", a); err != nil {
			return nil, fmt.Errorf("proxyio: NetCDF file %s: %w", file, err)
		}
	}
	x0, y0, dx, dy := attrs[0], attrs[1], attrs[2], attrs[3]

	values, err := readVariable(ff, varName, dims)
	if err != nil {
		return nil, fmt.Errorf("proxyio: NetCDF file %s: %w", file, err)
	}
	fill, fillErr := floatAttribute(ff, varName, "_FillValue")
	for i, v := range values.Elements {
		if math.IsNaN(v) || (fillErr == nil && v == fill) {
			values.Elements[i] = 0
		}
	}

	ny, nx := dims[0], dims[1]
	rg := grid
	if nx != grid.Nx || ny != grid.Ny || dx != grid.Dx || dy != grid.Dy || x0 != grid.X0 || y0 != grid.Y0 {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		rg = ch4grid.NewGridRegular(name, nx, ny, dx, dy, x0, y0, grid.SR)
	}
	return &ch4grid.RasterField{Grid: rg, Values: values}, nil
}

// floatAttribute returns the first value of a numeric NetCDF attribute.
func floatAttribute(ff *cdf.File, v, name string) (float64, error) {
	switch a := ff.Header.GetAttribute(v, name).(type) {
	case []float64:
		if len(a) > 0 {
			return a[0], nil
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), nil
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), nil
		}
	case nil:
		return math.NaN(), fmt.Errorf("missing attribute %q", name)
	}
	return math.NaN(), fmt.Errorf("attribute %q is not a number", name)
}

func readVariable(ff *cdf.File, varName string, dims []int) (*sparse.DenseArray, error) {
	r := ff.Reader(varName, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %w", varName, err)
	}
	data := sparse.ZerosDense(dims...)
	switch b := buf.(type) {
	case []float32:
		for i, val := range b {
			data.Elements[i] = float64(val)
		}
	case []float64:
		copy(data.Elements, b)
	case []int32:
		for i, val := range b {
			data.Elements[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("variable %s has unsupported type %T", varName, buf)
	}
	return data, nil
}
