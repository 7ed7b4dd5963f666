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
)

func TestDaysInYear(t *testing.T) {
	for year, want := range map[int]int{2012: 366, 2019: 365, 2020: 366, 2100: 365, 2000: 366} {
		if have := DaysInYear(year); have != want {
			t.Errorf("%d: have %d, want %d", year, have, want)
		}
	}
}

func TestFluxDensity(t *testing.T) {
	g := pairGrid()
	f := fluxGrid(g, "rice", 2019, map[[2]int]float64{{0, 0}: 1})
	d := FluxDensity(f)
	area := g.CellArea().Get(0, 0) * 1e4
	want := 1e9 * Avogadro / (MolarCH4 * 365 * 86400) / area
	if have := d.Get(0, 0); math.Abs(have-want)/want > 1e-12 {
		t.Errorf("have %g, want %g", have, want)
	}
	if d.Get(0, 1) != 0 {
		t.Errorf("empty cell: have %g", d.Get(0, 1))
	}

	leap := fluxGrid(g, "rice", 2020, map[[2]int]float64{{0, 0}: 1})
	ratio := FluxDensity(leap).Get(0, 0) / d.Get(0, 0)
	if math.Abs(ratio-365./366) > 1e-12 {
		t.Errorf("leap year ratio: have %g, want %g", ratio, 365./366)
	}
}

func TestCO2e(t *testing.T) {
	if have := CO2e(2); have != 50 {
		t.Errorf("have %g, want 50", have)
	}
}
