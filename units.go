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
	"time"

	"github.com/ctessum/sparse"
)

// Physical constants and unit conversions.
const (
	Avogadro = 6.02214129e23 // molecules/mol
	MolarCH4 = 16.04         // g/mol
	TgToKt   = 1000.0
	KtToG    = 1e9
	GWPCH4   = 25.0 // 100-year global warming potential of methane

	secondsPerDay = 86400.0
	m2ToCm2       = 1e4
)

// FluxDensityUnits are the units of FluxDensity.
const FluxDensityUnits = "molecules CH4 cm-2 s-1"

// DaysInYear returns the number of days in the given year.
func DaysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

// FluxDensity converts f, which must be in kt per cell per year, to a
// flux density in molecules of methane per cm² per second.
func FluxDensity(f *FluxGrid) *sparse.DenseArray {
	area := f.Grid.CellArea()
	seconds := float64(DaysInYear(f.Year)) * secondsPerDay
	o := f.Flux.Copy()
	for i, v := range o.Elements {
		o.Elements[i] = v * KtToG * Avogadro / (MolarCH4 * seconds) / (area.Elements[i] * m2ToCm2)
	}
	return o
}

// CO2e converts a methane mass to carbon dioxide equivalent in the
// same mass units.
func CO2e(ch4 float64) float64 { return ch4 * GWPCH4 }
