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

	"github.com/sirupsen/logrus"
)

// Downscale creates a flux grid for year by rescaling base, which holds
// baseTotal, so that it holds newTotal. The spatial pattern of base is
// kept fixed: every cell is multiplied by newTotal/baseTotal.
// A *ZeroBaseError is returned if baseTotal is not positive.
func Downscale(base *FluxGrid, baseTotal, newTotal float64, year int) (*FluxGrid, error) {
	var a *Allocator
	return a.Downscale(base, baseTotal, newTotal, year)
}

// Downscale is like the package-level Downscale, but checks
// conservation using the allocator's tolerance.
func (a *Allocator) Downscale(base *FluxGrid, baseTotal, newTotal float64, year int) (*FluxGrid, error) {
	if !(baseTotal > 0) || math.IsInf(baseTotal, 0) {
		return nil, &ZeroBaseError{Sector: base.Sector, BaseYear: base.Year, Year: year, BaseTotal: baseTotal}
	}
	if math.IsNaN(newTotal) || math.IsInf(newTotal, 0) || newTotal < 0 {
		return nil, fmt.Errorf("ch4grid: downscale sector %s to year %d: invalid total %g", base.Sector, year, newTotal)
	}
	if err := checkConservation(base.Sector, base.Year, baseTotal, base.Sum(), a.tolerance()); err != nil {
		return nil, fmt.Errorf("ch4grid: downscale base grid: %w", err)
	}
	scale := newTotal / baseTotal
	f := &FluxGrid{
		Grid:       base.Grid,
		Sector:     base.Sector,
		Year:       year,
		Total:      newTotal,
		Flux:       base.Flux.ScaleCopy(scale),
		Downscaled: true,
		BaseYear:   base.Year,
	}
	a.log().WithFields(logrus.Fields{
		"sector":    base.Sector,
		"base_year": base.Year,
		"year":      year,
		"scale":     scale,
	}).Debug("downscaled flux grid")
	if err := a.CheckConservation(f); err != nil {
		return nil, err
	}
	return f, nil
}
