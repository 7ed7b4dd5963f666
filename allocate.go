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

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultTolerance is the default relative tolerance for checking that
// gridded emissions sum to the national total.
const DefaultTolerance = 1e-6

// A FluxGrid holds the emissions of one sector in one year in each grid
// cell. Units are the units of Total per cell. A FluxGrid must not be
// modified after it is created.
type FluxGrid struct {
	Grid   *GridDef
	Sector string
	Year   int

	// Total is the national total that was allocated.
	Total float64
	Flux  *sparse.DenseArray

	// Downscaled is true if the grid was created by rescaling the
	// grid for BaseYear rather than from proxy data.
	Downscaled bool
	BaseYear   int

	// FallbackUsed is true if the sector's proxy held no spatial evidence
	// and a fallback distribution was used instead.
	FallbackUsed bool

	Diagnostics Diagnostics
}

// Sum returns the gridded total.
func (f *FluxGrid) Sum() float64 { return floats.Sum(f.Flux.Elements) }

// A Fallback supplies the spatial distribution used when a proxy
// holds no spatial evidence for a nonzero total.
type Fallback interface {
	Weights(grid *GridDef) (*WeightGrid, error)
}

// UniformFallback distributes emissions evenly across the cells of Mask,
// or across the whole grid if Mask is nil.
type UniformFallback struct {
	Mask *Mask
}

// Weights implements Fallback.
func (u UniformFallback) Weights(grid *GridDef) (*WeightGrid, error) {
	return UniformWeights(grid, u.Mask)
}

// ProxyFallback distributes emissions according to another weight grid,
// for example a population-based one.
type ProxyFallback struct {
	*WeightGrid
}

// Weights implements Fallback.
func (p ProxyFallback) Weights(grid *GridDef) (*WeightGrid, error) {
	if err := grid.CheckCompatible(p.Grid); err != nil {
		return nil, err
	}
	return p.WeightGrid, nil
}

// An Allocator allocates national totals to grid cells.
type Allocator struct {
	// Tolerance is the relative tolerance for weight normalization and
	// mass conservation. If zero, DefaultTolerance is used.
	Tolerance float64

	// Fallback, if not nil, is used when a nonzero total is allocated
	// with weights that sum to zero. Otherwise a *DanglingMassError
	// is returned.
	Fallback Fallback

	// Log receives diagnostic messages. If nil, the logrus standard
	// logger is used.
	Log logrus.FieldLogger
}

func (a *Allocator) tolerance() float64 {
	if a == nil || a.Tolerance <= 0 {
		return DefaultTolerance
	}
	return a.Tolerance
}

func (a *Allocator) log() logrus.FieldLogger {
	if a == nil || a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}

// Allocate allocates total to the cells of w.Grid in proportion to w.
func Allocate(w *WeightGrid, total float64) (*FluxGrid, error) {
	var a *Allocator
	return a.Allocate(w, total)
}

// Allocate allocates total to the cells of w.Grid in proportion to w.
// The gridded result sums to total within the allocator's tolerance.
func (a *Allocator) Allocate(w *WeightGrid, total float64) (*FluxGrid, error) {
	return a.allocate(w, total, "", nil)
}

// allocate allocates total for one region. fallback overrides a.Fallback
// if not nil.
func (a *Allocator) allocate(w *WeightGrid, total float64, region string, fallback Fallback) (*FluxGrid, error) {
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return nil, fmt.Errorf("ch4grid: sector %s, year %d: invalid total %g", w.Sector, w.Year, total)
	}
	tol := a.tolerance()
	if err := checkWeights(w, tol); err != nil {
		return nil, err
	}
	f := &FluxGrid{
		Grid:        w.Grid,
		Sector:      w.Sector,
		Year:        w.Year,
		Total:       total,
		Diagnostics: w.Diagnostics,
	}
	if total == 0 {
		f.Flux = w.Grid.NewArray()
		return f, nil
	}
	weights := w
	if w.IsZero() {
		if fallback == nil && a != nil {
			fallback = a.Fallback
		}
		dangling := &DanglingMassError{Sector: w.Sector, Region: region, Year: w.Year, Total: total}
		if fallback == nil {
			return nil, dangling
		}
		fw, err := fallback.Weights(w.Grid)
		if err != nil {
			return nil, fmt.Errorf("ch4grid: fallback for sector %s: %w", w.Sector, err)
		}
		if err := checkWeights(fw, tol); err != nil {
			return nil, err
		}
		if fw.IsZero() {
			return nil, dangling
		}
		a.log().WithFields(logrus.Fields{
			"sector": w.Sector,
			"region": region,
			"year":   w.Year,
			"total":  total,
		}).Warn("no spatial proxy evidence; using fallback distribution")
		weights = fw
		f.FallbackUsed = true
	}
	f.Flux = weights.Weights.ScaleCopy(total)
	if err := a.CheckConservation(f); err != nil {
		return nil, err
	}
	return f, nil
}

// checkWeights returns an error if w has negative cells or does not sum
// to 0 or 1 within tolerance tol.
func checkWeights(w *WeightGrid, tol float64) error {
	for _, v := range w.Weights.Elements {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("ch4grid: sector %s, year %d: invalid weight %g", w.Sector, w.Year, v)
		}
	}
	sum := w.Sum()
	if sum != 0 && !floats.EqualWithinRel(sum, 1, tol) {
		return fmt.Errorf("ch4grid: sector %s, year %d: weights sum to %g rather than 0 or 1",
			w.Sector, w.Year, sum)
	}
	return nil
}

// CheckConservation returns a *ConservationError if the gridded total of
// f differs from f.Total by more than the allocator's relative tolerance.
func (a *Allocator) CheckConservation(f *FluxGrid) error {
	have := f.Sum()
	if err := checkConservation(f.Sector, f.Year, f.Total, have, a.tolerance()); err != nil {
		a.log().WithFields(logrus.Fields{
			"sector":         f.Sector,
			"year":           f.Year,
			"national_total": f.Total,
			"gridded_total":  have,
			"relative_delta": err.RelDelta,
		}).Error("gridded emissions do not match national total")
		return err
	}
	return nil
}

func checkConservation(sector string, year int, want, have, tol float64) *ConservationError {
	if want == have {
		return nil
	}
	var rel float64
	if want == 0 {
		rel = math.Inf(1)
	} else {
		rel = math.Abs(have-want) / math.Abs(want)
	}
	if rel <= tol {
		return nil
	}
	return &ConservationError{Sector: sector, Year: year, Want: want, Have: have, RelDelta: rel}
}
