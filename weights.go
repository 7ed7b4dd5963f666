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

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// A WeightGrid holds the fraction of a sector's emissions in each grid
// cell for one year. Its weights sum to either 1 or 0.
type WeightGrid struct {
	Grid        *GridDef
	Sector      string
	Year        int
	Weights     *sparse.DenseArray
	Diagnostics Diagnostics
}

// Sum returns the sum of the weights.
func (w *WeightGrid) Sum() float64 { return floats.Sum(w.Weights.Elements) }

// IsZero returns whether the weight grid holds no spatial evidence.
func (w *WeightGrid) IsZero() bool { return w.Sum() == 0 }

// NewWeightGrid rasterizes the features in p onto grid and normalizes the
// result so that it sums to 1. If p has a mask, cells outside of the mask
// are set to zero and the remainder renormalized. A proxy with no usable
// features results in an all-zero weight grid.
func NewWeightGrid(p *Proxy, grid *GridDef) (*WeightGrid, error) {
	if p.Mask != nil {
		if err := grid.CheckCompatible(p.Mask.Grid); err != nil {
			return nil, fmt.Errorf("ch4grid: mask for sector %s: %w", p.Sector, err)
		}
	}
	intensity, diag := rasterize(grid, p.Features)
	normalize(intensity)
	if p.Mask != nil {
		p.Mask.apply(intensity)
		normalize(intensity)
	}
	return &WeightGrid{
		Grid:        grid,
		Sector:      p.Sector,
		Year:        p.Year,
		Weights:     intensity,
		Diagnostics: diag,
	}, nil
}

// normalize scales a so that it sums to 1, unless it sums to 0.
func normalize(a *sparse.DenseArray) {
	sum := floats.Sum(a.Elements)
	if sum == 0 {
		return
	}
	floats.Scale(1/sum, a.Elements)
}

// A Mask holds the fraction of each grid cell, between 0 and 1, where a
// sector is able to emit.
type Mask struct {
	Grid      *GridDef
	Fractions *sparse.DenseArray
}

func (m *Mask) apply(a *sparse.DenseArray) {
	floats.Mul(a.Elements, m.Fractions.Elements)
}

// Cells returns the number of cells with a nonzero mask fraction.
func (m *Mask) Cells() int {
	n := 0
	for _, v := range m.Fractions.Elements {
		if v > 0 {
			n++
		}
	}
	return n
}

// NewMaskFromPolygon creates a mask that includes each cell in grid whose
// centroid is inside or on the edge of poly.
func NewMaskFromPolygon(grid *GridDef, poly geom.Polygonal) *Mask {
	m := &Mask{Grid: grid, Fractions: grid.NewArray()}
	for _, cell := range grid.CellsIntersecting(poly.Bounds()) {
		in := grid.Centroid(cell.Row, cell.Col).Within(poly)
		if in == geom.Inside || in == geom.OnEdge {
			m.Fractions.Set(1, cell.Row, cell.Col)
		}
	}
	return m
}

// UniformWeights returns a weight grid that distributes emissions evenly
// over the cells of mask, or over the whole grid if mask is nil.
func UniformWeights(grid *GridDef, mask *Mask) (*WeightGrid, error) {
	w := grid.NewArray()
	if mask != nil {
		if err := grid.CheckCompatible(mask.Grid); err != nil {
			return nil, fmt.Errorf("ch4grid: uniform weights: %w", err)
		}
		copy(w.Elements, mask.Fractions.Elements)
	} else {
		for i := range w.Elements {
			w.Elements[i] = 1
		}
	}
	normalize(w)
	return &WeightGrid{Grid: grid, Year: TimeInvariant, Weights: w}, nil
}
