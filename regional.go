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
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// AllocateRegional allocates each region's total in totals to the
// features of p that are associated with that region, and returns the
// sum of the regional grids. Regions with a nonzero total but no
// spatial evidence, and no fallback, result in a *DanglingMassError for
// each such region, joined together.
func (a *Allocator) AllocateRegional(p *Proxy, grid *GridDef, totals map[string]float64) (*FluxGrid, error) {
	byRegion := make(map[string][]Feature)
	for _, f := range p.Features {
		if f == nil {
			byRegion[""] = append(byRegion[""], f)
			continue
		}
		byRegion[f.Region()] = append(byRegion[f.Region()], f)
	}
	regions := make([]string, 0, len(totals))
	for r := range totals {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	out := &FluxGrid{
		Grid:   grid,
		Sector: p.Sector,
		Year:   p.Year,
		Flux:   grid.NewArray(),
	}
	var errs []error
	for _, r := range regions {
		rp := &Proxy{Sector: p.Sector, Year: p.Year, Features: byRegion[r], Mask: p.Mask}
		w, err := NewWeightGrid(rp, grid)
		if err != nil {
			return nil, err
		}
		out.Diagnostics = out.Diagnostics.Add(w.Diagnostics)
		f, err := a.allocate(w, totals[r], r, nil)
		if err != nil {
			var dm *DanglingMassError
			if errors.As(err, &dm) {
				errs = append(errs, err)
				continue
			}
			return nil, fmt.Errorf("ch4grid: region %s: %w", r, err)
		}
		out.Total += totals[r]
		out.FallbackUsed = out.FallbackUsed || f.FallbackUsed
		out.Flux.AddDense(f.Flux)
		delete(byRegion, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if unmatched := countFeatures(byRegion); unmatched > 0 {
		out.Diagnostics.Features += unmatched
		out.Diagnostics.NoRegionTotal += unmatched
		a.log().WithFields(logrus.Fields{
			"sector":   p.Sector,
			"year":     p.Year,
			"features": unmatched,
		}).Info("proxy features in regions without a total were not used")
	}
	if err := a.CheckConservation(out); err != nil {
		return nil, err
	}
	return out, nil
}

func countFeatures(m map[string][]Feature) int {
	n := 0
	for _, f := range m {
		n += len(f)
	}
	return n
}
