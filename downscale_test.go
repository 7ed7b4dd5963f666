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
	"math"
	"testing"
)

func pairGrid() *GridDef { return NewGridRegular("pair", 2, 1, 1, 1, 0, 0, nil) }

func TestDownscale(t *testing.T) {
	g := pairGrid()
	base := fluxGrid(g, "natural_gas", 2020, map[[2]int]float64{{0, 0}: 60, {0, 1}: 40})
	f, err := Downscale(base, 100, 150, 2022)
	if err != nil {
		t.Fatal(err)
	}
	checkGrid(t, f.Flux, [][]float64{{90, 60}}, 1e-12)
	if !f.Downscaled || f.BaseYear != 2020 || f.Year != 2022 || f.Total != 150 {
		t.Errorf("have %+v", f)
	}
	if base.Flux.Get(0, 0) != 60 {
		t.Error("base grid should not be modified")
	}
}

func TestDownscaleIdentity(t *testing.T) {
	g := pairGrid()
	base := fluxGrid(g, "natural_gas", 2020, map[[2]int]float64{{0, 0}: 0.3, {0, 1}: 0.7})
	f, err := Downscale(base, 1, 1, 2021)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range f.Flux.Elements {
		if v != base.Flux.Elements[i] {
			t.Errorf("cell %d: have %g, want %g", i, v, base.Flux.Elements[i])
		}
	}
}

func TestDownscaleZeroBase(t *testing.T) {
	g := pairGrid()
	base := fluxGrid(g, "natural_gas", 2020, nil)
	for _, bt := range []float64{0, -1, math.NaN()} {
		_, err := Downscale(base, bt, 150, 2022)
		var zb *ZeroBaseError
		if !errors.As(err, &zb) {
			t.Errorf("base total %g: have %v, want *ZeroBaseError", bt, err)
			continue
		}
		if zb.BaseYear != 2020 || zb.Year != 2022 {
			t.Errorf("have %+v", zb)
		}
	}
}

func TestDownscaleBaseMismatch(t *testing.T) {
	g := pairGrid()
	base := fluxGrid(g, "natural_gas", 2020, map[[2]int]float64{{0, 0}: 60, {0, 1}: 40})
	_, err := Downscale(base, 120, 150, 2022)
	var ce *ConservationError
	if !errors.As(err, &ce) {
		t.Errorf("have %v, want *ConservationError", err)
	}
}
