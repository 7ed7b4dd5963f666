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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// A CombinedGrid is the sum of the flux grids of several sectors in one
// year.
type CombinedGrid struct {
	Grid    *GridDef
	Year    int
	Sectors []string

	// Total is the sum of the contributing sectors' national totals.
	Total float64
	Flux  *sparse.DenseArray

	// Incomplete is true if one or more sectors that should have
	// contributed to the grid failed. They are listed in Missing.
	Incomplete bool
	Missing    []string

	provenance map[string]*sparse.SparseArray
}

// Aggregate sums the given flux grids, which must all be for the
// same year and on compatible grids. Each sector may contribute only once.
func Aggregate(year int, grids ...*FluxGrid) (*CombinedGrid, error) {
	var a *Allocator
	return a.Aggregate(year, grids...)
}

// Aggregate is like the package-level Aggregate, but checks
// conservation using the allocator's tolerance.
func (a *Allocator) Aggregate(year int, grids ...*FluxGrid) (*CombinedGrid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("ch4grid: aggregate year %d: no flux grids", year)
	}
	grid := grids[0].Grid
	c := &CombinedGrid{
		Grid:       grid,
		Year:       year,
		Flux:       grid.NewArray(),
		provenance: make(map[string]*sparse.SparseArray),
	}
	totals := make([]float64, 0, len(grids))
	for _, g := range grids {
		if err := grid.CheckCompatible(g.Grid); err != nil {
			return nil, fmt.Errorf("ch4grid: aggregate sector %s: %w", g.Sector, err)
		}
		if g.Year != year {
			return nil, fmt.Errorf("ch4grid: aggregate year %d: sector %s is for year %d", year, g.Sector, g.Year)
		}
		if _, ok := c.provenance[g.Sector]; ok {
			return nil, fmt.Errorf("ch4grid: aggregate year %d: duplicate sector %s", year, g.Sector)
		}
		p := sparse.ZerosSparse(grid.Ny, grid.Nx)
		for i, v := range g.Flux.Elements {
			if v != 0 {
				p.Elements[i] = v
			}
		}
		c.provenance[g.Sector] = p
		c.Sectors = append(c.Sectors, g.Sector)
		c.Flux.AddDense(g.Flux)
		totals = append(totals, g.Total)
	}
	sort.Strings(c.Sectors)
	c.Total = floats.Sum(totals)
	if err := checkConservation("combined", year, c.Total, floats.Sum(c.Flux.Elements), a.tolerance()); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkIncomplete records that the given sectors failed and are missing
// from the combined grid.
func (c *CombinedGrid) MarkIncomplete(sectors ...string) {
	if len(sectors) == 0 {
		return
	}
	c.Incomplete = true
	c.Missing = append(c.Missing, sectors...)
	sort.Strings(c.Missing)
}

// Contribution returns the emissions contributed by sector to the given
// cell.
func (c *CombinedGrid) Contribution(sector string, row, col int) float64 {
	p, ok := c.provenance[sector]
	if !ok {
		return 0
	}
	return p.Get(row, col)
}

// Contributors returns the sectors that contributed nonzero emissions to
// the given cell, in alphabetical order.
func (c *CombinedGrid) Contributors(row, col int) []string {
	var o []string
	for _, s := range c.Sectors {
		if c.provenance[s].Get(row, col) != 0 {
			o = append(o, s)
		}
	}
	return o
}

// SectorFlux returns the emissions contributed by sector to each cell.
func (c *CombinedGrid) SectorFlux(sector string) (*sparse.SparseArray, bool) {
	p, ok := c.provenance[sector]
	return p, ok
}
