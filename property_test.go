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
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const nPoints = 8

func pointFeatures(xs, ys, ws []float64) []Feature {
	f := make([]Feature, len(xs))
	for i := range xs {
		f[i] = &PointFeature{Point: geom.Point{X: xs[i], Y: ys[i]}, W: ws[i]}
	}
	return f
}

func TestWeightGridProperties(t *testing.T) {
	g := testGrid(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Points may fall outside of the grid and weights may be zero.
	coords := gen.SliceOfN(nPoints, gen.Float64Range(-1, 5))
	weights := gen.SliceOfN(nPoints, gen.OneGenOf(gen.Const(0.0), gen.Float64Range(0, 1e3)))

	properties.Property("weights sum to 0 or 1 and are nonnegative", prop.ForAll(
		func(xs, ys, ws []float64) bool {
			w, err := NewWeightGrid(&Proxy{Features: pointFeatures(xs, ys, ws)}, g)
			if err != nil {
				return false
			}
			for _, v := range w.Weights.Elements {
				if v < 0 {
					return false
				}
			}
			s := w.Sum()
			return s == 0 || math.Abs(s-1) <= DefaultTolerance
		},
		coords, coords, weights,
	))

	properties.Property("allocation conserves mass", prop.ForAll(
		func(xs, ys, ws []float64, total float64) bool {
			// Guarantee evidence within the grid.
			xs[0], ys[0], ws[0] = 1.5, 1.5, 1
			w, err := NewWeightGrid(&Proxy{Features: pointFeatures(xs, ys, ws)}, g)
			if err != nil {
				return false
			}
			f, err := Allocate(w, total)
			if err != nil {
				return false
			}
			for _, v := range f.Flux.Elements {
				if v < 0 {
					return false
				}
			}
			return checkConservation("", 0, total, f.Sum(), DefaultTolerance) == nil
		},
		coords, coords, weights, gen.Float64Range(0, 1e9),
	))

	properties.TestingRun(t)
}

func TestDownscaleProperties(t *testing.T) {
	g := testGrid(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cells := gen.SliceOfN(g.Len(), gen.OneGenOf(gen.Const(0.0), gen.Float64Range(0.001, 1e4)))

	base := func(vals []float64) (*FluxGrid, float64) {
		f := &FluxGrid{Grid: g, Sector: "s", Year: 2018, Flux: g.NewArray()}
		copy(f.Flux.Elements, vals)
		f.Flux.Elements[0] += 1
		f.Total = f.Sum()
		return f, f.Total
	}

	properties.Property("downscaling with the base total is the identity", prop.ForAll(
		func(vals []float64) bool {
			b, total := base(vals)
			d, err := Downscale(b, total, total, 2019)
			if err != nil {
				return false
			}
			for i, v := range d.Flux.Elements {
				if v != b.Flux.Elements[i] {
					return false
				}
			}
			return true
		},
		cells,
	))

	properties.Property("downscaling preserves the spatial pattern", prop.ForAll(
		func(vals []float64, newTotal float64) bool {
			b, total := base(vals)
			d, err := Downscale(b, total, newTotal, 2019)
			if err != nil {
				return false
			}
			want := newTotal / total
			for i, v := range b.Flux.Elements {
				if v == 0 {
					if d.Flux.Elements[i] != 0 {
						return false
					}
					continue
				}
				if math.Abs(d.Flux.Elements[i]/v-want) > 1e-12*want {
					return false
				}
			}
			return checkConservation("", 0, newTotal, d.Sum(), DefaultTolerance) == nil
		},
		cells, gen.Float64Range(0.001, 1e6),
	))

	properties.TestingRun(t)
}

func TestAggregateProperties(t *testing.T) {
	g := testGrid(t)
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	cells := gen.SliceOfN(g.Len(), gen.OneGenOf(gen.Const(0.0), gen.Float64Range(0, 1e4)))
	flux := func(sector string, vals []float64) *FluxGrid {
		f := &FluxGrid{Grid: g, Sector: sector, Year: 2012, Flux: g.NewArray()}
		copy(f.Flux.Elements, vals)
		f.Total = f.Sum()
		return f
	}

	properties.Property("aggregating one sector is the identity", prop.ForAll(
		func(a []float64) bool {
			fa := flux("a", a)
			c, err := Aggregate(2012, fa)
			if err != nil {
				return false
			}
			for i, v := range c.Flux.Elements {
				if v != fa.Flux.Elements[i] {
					return false
				}
			}
			return true
		},
		cells,
	))

	properties.Property("provenance recovers each sector's contribution", prop.ForAll(
		func(a, b []float64) bool {
			fa, fb := flux("a", a), flux("b", b)
			c, err := Aggregate(2012, fa, fb)
			if err != nil {
				return false
			}
			for _, cell := range g.Cells {
				r, col := cell.Row, cell.Col
				if c.Contribution("a", r, col) != fa.Flux.Get(r, col) ||
					c.Contribution("b", r, col) != fb.Flux.Get(r, col) {
					return false
				}
			}
			return true
		},
		cells, cells,
	))

	properties.TestingRun(t)
}
