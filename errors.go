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

import "fmt"

// GridMismatchError is returned when two operands are keyed to
// incompatible grid definitions.
type GridMismatchError struct {
	A, B string
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("ch4grid: grid mismatch: %s != %s", e.A, e.B)
}

// DanglingMassError is returned when a nonzero total has no spatial
// evidence to be allocated against. Region is empty for national totals.
type DanglingMassError struct {
	Sector, Region string
	Year           int
	Total          float64
}

func (e *DanglingMassError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("ch4grid: sector %s, region %s, year %d: total %g has no spatial proxy to allocate to",
			e.Sector, e.Region, e.Year, e.Total)
	}
	return fmt.Sprintf("ch4grid: sector %s, year %d: total %g has no spatial proxy to allocate to",
		e.Sector, e.Year, e.Total)
}

// ZeroBaseError is returned when downscaling from a base year whose
// total is zero, negative, or missing.
type ZeroBaseError struct {
	Sector         string
	BaseYear, Year int
	BaseTotal      float64
}

func (e *ZeroBaseError) Error() string {
	return fmt.Sprintf("ch4grid: sector %s: can't downscale base year %d (total %g) to year %d",
		e.Sector, e.BaseYear, e.BaseTotal, e.Year)
}

// ConservationError is returned when a gridded total differs from
// the total it was allocated from by more than the allowed tolerance.
type ConservationError struct {
	Sector     string
	Year       int
	Want, Have float64
	RelDelta   float64
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("ch4grid: sector %s, year %d: gridded total %g != national total %g (relative difference %g)",
		e.Sector, e.Year, e.Have, e.Want, e.RelDelta)
}

// MissingProxyError is returned when a year that has a national total
// has no spatial proxy.
type MissingProxyError struct {
	Sector string
	Year   int
}

func (e *MissingProxyError) Error() string {
	return fmt.Sprintf("ch4grid: sector %s: no spatial proxy for year %d", e.Sector, e.Year)
}
