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

// Package output writes gridded methane emissions products and
// quality-control summaries.
package output

import (
	"fmt"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/ch4grid"
)

// Units are the units of a grid product.
type Units string

// Supported product units.
const (
	KtPerYear   Units = "kt/year"
	FluxDensity Units = ch4grid.FluxDensityUnits
)

// ParseUnits parses a string representation of product units.
// "kt" and "kt/year" give kilotonnes per cell per year, and "flux" gives
// molecules per cm² per second.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kt", "kt/year":
		return KtPerYear, nil
	case "flux", strings.ToLower(ch4grid.FluxDensityUnits):
		return FluxDensity, nil
	default:
		return "", fmt.Errorf("output: invalid units '%s'", s)
	}
}

// FillValue marks sector-years with no gridded emissions.
const FillValue = -9999.0

// TotalVariable is the name of the variable holding the sum of all sectors.
const TotalVariable = "total"

// Metadata describes a grid product.
type Metadata struct {
	Title, Description string

	// Sectors holds information about each sector, keyed by sector name.
	Sectors map[string]SectorInfo
}

// SectorInfo describes one sector of a grid product.
type SectorInfo struct {
	// IPCC is the sector's IPCC source category code, e.g. "1B2b".
	IPCC        string
	Title       string
	Description string
}

// WriteNetCDF writes the flux grids in r to w as a NetCDF file with
// dimensions (time, lat, lon), one variable per sector and a "total"
// variable holding the combined grid of each year. Grid cells of
// sector-years that were not gridded hold FillValue, as does the total
// of a year in which every sector failed.
func WriteNetCDF(w cdf.ReaderWriterAt, r *ch4grid.Result, grid *ch4grid.GridDef, units Units, meta *Metadata) error {
	years := r.Years()
	if len(years) == 0 {
		return fmt.Errorf("output: no gridded emissions to write")
	}
	if meta == nil {
		meta = new(Metadata)
	}
	sectors := r.Sectors()
	nt, ny, nx := len(years), grid.Ny, grid.Nx

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{nt, ny, nx})
	h.AddAttribute("", "title", meta.Title)
	h.AddAttribute("", "description", meta.Description)
	h.AddAttribute("", "units", string(units))
	h.AddAttribute("", "first_year", []int32{int32(years[0])})
	h.AddAttribute("", "last_year", []int32{int32(years[nt-1])})
	h.AddAttribute("", "grid_name", grid.Name)
	h.AddAttribute("", "crs", ch4grid.LongLat)
	h.AddAttribute("", "x0", []float64{grid.X0})
	h.AddAttribute("", "y0", []float64{grid.Y0})
	h.AddAttribute("", "dx", []float64{grid.Dx})
	h.AddAttribute("", "dy", []float64{grid.Dy})
	h.AddAttribute("", "nx", []int32{int32(nx)})
	h.AddAttribute("", "ny", []int32{int32(ny)})

	h.AddVariable("time", []string{"time"}, []int32{0})
	h.AddAttribute("time", "units", "year")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddAttribute("lat", "description", "latitude of grid cell centers")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddAttribute("lon", "description", "longitude of grid cell centers")

	for _, s := range sectors {
		switch s {
		case "time", "lat", "lon", TotalVariable:
			return fmt.Errorf("output: sector name %q is reserved", s)
		}
		info := meta.Sectors[s]
		h.AddVariable(s, []string{"time", "lat", "lon"}, []float64{0})
		h.AddAttribute(s, "units", string(units))
		h.AddAttribute(s, "sector", s)
		h.AddAttribute(s, "ipcc", info.IPCC)
		h.AddAttribute(s, "title", info.Title)
		h.AddAttribute(s, "description", info.Description)
		h.AddAttribute(s, "_FillValue", []float64{FillValue})
	}
	h.AddVariable(TotalVariable, []string{"time", "lat", "lon"}, []float64{0})
	h.AddAttribute(TotalVariable, "units", string(units))
	h.AddAttribute(TotalVariable, "description", "sum of all sectors")
	h.AddAttribute(TotalVariable, "_FillValue", []float64{FillValue})
	var incomplete []int32
	for _, y := range years {
		if c := r.Combined[y]; c != nil && c.Incomplete {
			incomplete = append(incomplete, int32(y))
		}
	}
	if len(incomplete) > 0 {
		h.AddAttribute(TotalVariable, "incomplete_years", incomplete)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return fmt.Errorf("output: creating NetCDF file: %w", err)
	}
	times := make([]int32, nt)
	for i, y := range years {
		times[i] = int32(y)
	}
	if err := writeVar(f, "time", times); err != nil {
		return err
	}
	if err := writeVar(f, "lat", grid.Lats()); err != nil {
		return err
	}
	if err := writeVar(f, "lon", grid.Lons()); err != nil {
		return err
	}

	fill := make([]float64, ny*nx)
	for i := range fill {
		fill[i] = FillValue
	}
	for ti, y := range years {
		for _, s := range sectors {
			v := fill
			if fg, ok := r.Grids[y][s]; ok {
				v = convert(fg, units).Elements
			}
			if err := writeYear(f, s, ti, v); err != nil {
				return err
			}
		}
		v := fill
		if c := r.Combined[y]; c != nil && len(c.Sectors) > 0 {
			v = convert(&ch4grid.FluxGrid{Grid: c.Grid, Year: y, Flux: c.Flux}, units).Elements
		}
		if err := writeYear(f, TotalVariable, ti, v); err != nil {
			return err
		}
	}
	return nil
}

func convert(f *ch4grid.FluxGrid, units Units) *sparse.DenseArray {
	if units == FluxDensity {
		return ch4grid.FluxDensity(f)
	}
	return f.Flux
}

// writeYear writes the (lat, lon) array data to time step ti of
// variable name.
func writeYear(f *cdf.File, name string, ti int, data []float64) error {
	l := f.Header.Lengths(name)
	w := f.Writer(name, []int{ti, 0, 0}, []int{ti + 1, l[1], l[2]})
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("output: writing variable %s to NetCDF file: %w", name, err)
	}
	return nil
}

func writeVar(f *cdf.File, name string, data interface{}) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("output: writing variable %s to NetCDF file: %w", name, err)
	}
	return nil
}
