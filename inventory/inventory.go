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

// Package inventory reads national and regional methane emissions totals
// from greenhouse gas inventory tables.
package inventory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ctessum/unit"
	"github.com/ctessum/unit/badunit"
)

// Key identifies an inventory total. Region is empty for national totals.
type Key struct {
	Sector, Region string
	Year           int
}

// Totals holds emissions totals in kilotonnes (kt) per year.
type Totals struct {
	m map[Key]float64
}

// New returns an empty set of totals.
func New() *Totals {
	return &Totals{m: make(map[Key]float64)}
}

// Set sets the total for the given key. v must be in kt.
func (t *Totals) Set(k Key, v float64) {
	t.m[k] = v
}

// Add adds v, in kt, to the total for the given key.
func (t *Totals) Add(k Key, v float64) {
	t.m[k] += v
}

// Get returns the national total for sector in year.
func (t *Totals) Get(sector string, year int) (float64, bool) {
	v, ok := t.m[Key{Sector: sector, Year: year}]
	return v, ok
}

// Len returns the number of totals.
func (t *Totals) Len() int { return len(t.m) }

// National returns the national totals of sector by year.
func (t *Totals) National(sector string) map[int]float64 {
	o := make(map[int]float64)
	for k, v := range t.m {
		if k.Sector == sector && k.Region == "" {
			o[k.Year] = v
		}
	}
	return o
}

// Regional returns the regional totals of sector by year and region,
// or nil if there are none.
func (t *Totals) Regional(sector string) map[int]map[string]float64 {
	var o map[int]map[string]float64
	for k, v := range t.m {
		if k.Sector != sector || k.Region == "" {
			continue
		}
		if o == nil {
			o = make(map[int]map[string]float64)
		}
		if o[k.Year] == nil {
			o[k.Year] = make(map[string]float64)
		}
		o[k.Year][k.Region] = v
	}
	return o
}

// Sectors returns the sectors with totals, in alphabetical order.
func (t *Totals) Sectors() []string {
	m := make(map[string]struct{})
	for k := range t.m {
		m[k.Sector] = struct{}{}
	}
	o := make([]string, 0, len(m))
	for s := range m {
		o = append(o, s)
	}
	sort.Strings(o)
	return o
}

// Years returns the years with totals for sector in ascending order.
func (t *Totals) Years(sector string) []int {
	m := make(map[int]struct{})
	for k := range t.m {
		if k.Sector == sector {
			m[k.Year] = struct{}{}
		}
	}
	o := make([]int, 0, len(m))
	for y := range m {
		o = append(o, y)
	}
	sort.Ints(o)
	return o
}

// InputUnits specify the units of inventory tables.
type InputUnits int

// Supported units, all per year.
const (
	Tg InputUnits = iota
	Kt
	Tonne
	Kg
	Ton
)

// ParseInputUnits parses a string representation of input units.
// Currently supported options are "Tg", "kt", "tonnes", "kg", and "tons".
func ParseInputUnits(units string) (InputUnits, error) {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(units), "/year")) {
	case "tg", "mmt":
		return Tg, nil
	case "kt", "gg":
		return Kt, nil
	case "tonnes", "t":
		return Tonne, nil
	case "kg":
		return Kg, nil
	case "tons":
		return Ton, nil
	default:
		return -1, fmt.Errorf("inventory: invalid input units '%s'", units)
	}
}

// Conversion returns a function that converts a value to kilograms.
func (u InputUnits) Conversion() func(v float64) *unit.Unit {
	switch u {
	case Tg:
		return func(v float64) *unit.Unit { return unit.New(v*1e9, unit.Kilogram) }
	case Kt:
		return func(v float64) *unit.Unit { return unit.New(v*1e6, unit.Kilogram) }
	case Tonne:
		return func(v float64) *unit.Unit { return unit.New(v*1e3, unit.Kilogram) }
	case Kg:
		return func(v float64) *unit.Unit { return unit.New(v, unit.Kilogram) }
	case Ton:
		return badunit.Ton
	default:
		panic(fmt.Errorf("inventory: unknown value %d for InputUnits", u))
	}
}

// ToKt converts a mass to kilotonnes.
func ToKt(m *unit.Unit) (float64, error) {
	if err := m.Check(unit.Kilogram); err != nil {
		return math.NaN(), fmt.Errorf("inventory: %w", err)
	}
	return m.Value() / 1e6, nil
}
