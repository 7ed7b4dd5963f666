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

package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/proj"
	"github.com/spatialmodel/ch4grid"
)

func testGrid(t *testing.T) *ch4grid.GridDef {
	t.Helper()
	sr, err := proj.Parse(ch4grid.LongLat)
	if err != nil {
		t.Fatal(err)
	}
	return ch4grid.NewGridRegular("test", 4, 3, 1, 1, -100, 30, sr)
}

func fluxGrid(grid *ch4grid.GridDef, sector string, year int, vals map[[2]int]float64) *ch4grid.FluxGrid {
	f := &ch4grid.FluxGrid{Grid: grid, Sector: sector, Year: year, Flux: grid.NewArray()}
	for c, v := range vals {
		f.Flux.Set(v, c[0], c[1])
	}
	f.Total = f.Sum()
	return f
}

// testResult returns a result with two sectors in 2012 and one in 2013.
func testResult(t *testing.T, grid *ch4grid.GridDef) *ch4grid.Result {
	t.Helper()
	wells12 := fluxGrid(grid, "wells", 2012, map[[2]int]float64{{0, 0}: 2, {1, 2}: 1})
	rice12 := fluxGrid(grid, "rice", 2012, map[[2]int]float64{{0, 0}: 0.5})
	wells13 := fluxGrid(grid, "wells", 2013, map[[2]int]float64{{2, 3}: 4})
	c12, err := ch4grid.Aggregate(2012, wells12, rice12)
	if err != nil {
		t.Fatal(err)
	}
	c13, err := ch4grid.Aggregate(2013, wells13)
	if err != nil {
		t.Fatal(err)
	}
	c13.MarkIncomplete("rice")
	rep := new(ch4grid.Report)
	rep.Add(
		&ch4grid.TaskReport{Sector: "wells", Year: 2012, Status: ch4grid.StatusOK, NationalTotal: 3, GriddedTotal: 3},
		&ch4grid.TaskReport{Sector: "rice", Year: 2012, Status: ch4grid.StatusOK, NationalTotal: 0.5, GriddedTotal: 0.5},
		&ch4grid.TaskReport{Sector: "wells", Year: 2013, Status: ch4grid.StatusOK, NationalTotal: 4, GriddedTotal: 4},
		&ch4grid.TaskReport{Sector: "rice", Year: 2013, Status: ch4grid.StatusFailed, NationalTotal: 1,
			Err: errors.New("no proxy\nfor 2013")},
	)
	return &ch4grid.Result{
		Grids: map[int]map[string]*ch4grid.FluxGrid{
			2012: {"wells": wells12, "rice": rice12},
			2013: {"wells": wells13},
		},
		Combined: map[int]*ch4grid.CombinedGrid{2012: c12, 2013: c13},
		Report:   rep,
	}
}

func writeProduct(t *testing.T, r *ch4grid.Result, grid *ch4grid.GridDef, units Units) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "ch4.nc"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	meta := &Metadata{
		Title: "Gridded methane emissions",
		Sectors: map[string]SectorInfo{
			"wells": {IPCC: "1B2b", Title: "Abandoned wells"},
		},
	}
	if err := WriteNetCDF(f, r, grid, units, meta); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestWriteNetCDF(t *testing.T) {
	grid := testGrid(t)
	f := writeProduct(t, testResult(t, grid), grid, KtPerYear)

	ff, err := cdf.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ff.Header.Variables(), []string{"time", "lat", "lon", "rice", "wells", "total"}; !reflect.DeepEqual(have, want) {
		t.Errorf("variables: have %v, want %v", have, want)
	}
	if have := ff.Header.Lengths("wells"); !reflect.DeepEqual(have, []int{2, 3, 4}) {
		t.Errorf("dimensions: have %v", have)
	}
	if ipcc := ff.Header.GetAttribute("wells", "ipcc").(string); ipcc != "1B2b" {
		t.Errorf("ipcc: have %q", ipcc)
	}
	if inc := ff.Header.GetAttribute(TotalVariable, "incomplete_years").([]int32); !reflect.DeepEqual(inc, []int32{2013}) {
		t.Errorf("incomplete years: have %v", inc)
	}
	if times := readAll(ff, "time").([]int32); !reflect.DeepEqual(times, []int32{2012, 2013}) {
		t.Errorf("times: have %v", times)
	}
	if lats := readAll(ff, "lat").([]float64); !reflect.DeepEqual(lats, []float64{30.5, 31.5, 32.5}) {
		t.Errorf("lats: have %v", lats)
	}
	if lons := readAll(ff, "lon").([]float64); !reflect.DeepEqual(lons, []float64{-99.5, -98.5, -97.5, -96.5}) {
		t.Errorf("lons: have %v", lons)
	}

	total := readAll(ff, TotalVariable).([]float64)
	if total[0] != 2.5 || total[12+11] != 4 {
		t.Errorf("total: have %v", total)
	}
	rice := readAll(ff, "rice").([]float64)
	for _, v := range rice[12:] {
		if v != FillValue {
			t.Fatalf("rice 2013 should be missing, have %v", rice[12:])
		}
	}
}

func TestReadNetCDF(t *testing.T) {
	grid := testGrid(t)
	r := testResult(t, grid)
	f := writeProduct(t, r, grid, KtPerYear)

	grids, err := ReadNetCDF(f, grid, 2013)
	if err != nil {
		t.Fatal(err)
	}
	if len(grids) != 1 {
		t.Fatalf("have %d sectors in 2013, want 1", len(grids))
	}
	w := grids["wells"]
	if w.Total != 4 || w.Flux.Get(2, 3) != 4 || w.Year != 2013 {
		t.Errorf("wells 2013: total %g, cell %g, year %d", w.Total, w.Flux.Get(2, 3), w.Year)
	}

	grids, err = ReadNetCDF(f, grid, 2012)
	if err != nil {
		t.Fatal(err)
	}
	for s, want := range r.Grids[2012] {
		if !reflect.DeepEqual(grids[s].Flux.Elements, want.Flux.Elements) {
			t.Errorf("%s: have %v, want %v", s, grids[s].Flux.Elements, want.Flux.Elements)
		}
	}

	if _, err := ReadNetCDF(f, grid, 2020); err == nil {
		t.Error("a missing year should fail")
	}
	other := ch4grid.NewGridRegular("other", 4, 3, 1, 1, -100, 30, grid.SR)
	var gm *ch4grid.GridMismatchError
	if _, err := ReadNetCDF(f, other, 2012); !errors.As(err, &gm) {
		t.Errorf("have %v, want *GridMismatchError", err)
	}

	flux := writeProduct(t, r, grid, FluxDensity)
	if _, err := ReadNetCDF(flux, grid, 2012); err == nil {
		t.Error("reading a flux density product should fail")
	}
}

func TestFluxDensityProduct(t *testing.T) {
	grid := testGrid(t)
	r := testResult(t, grid)
	f := writeProduct(t, r, grid, FluxDensity)
	ff, err := cdf.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	if u := ff.Header.GetAttribute("wells", "units").(string); u != ch4grid.FluxDensityUnits {
		t.Errorf("units: have %q", u)
	}
	wells := readAll(ff, "wells").([]float64)
	want := ch4grid.FluxDensity(r.Grids[2012]["wells"]).Get(0, 0)
	if math.Abs(wells[0]-want)/want > 1e-12 {
		t.Errorf("flux density: have %g, want %g", wells[0], want)
	}
}

func TestParseUnits(t *testing.T) {
	for in, want := range map[string]Units{
		"kt/year": KtPerYear,
		"":        KtPerYear,
		"KT":      KtPerYear,
		"flux":    FluxDensity,
	} {
		have, err := ParseUnits(in)
		if err != nil {
			t.Fatal(err)
		}
		if have != want {
			t.Errorf("%q: have %q, want %q", in, have, want)
		}
	}
	if _, err := ParseUnits("Tg"); err == nil {
		t.Error("Tg should not be a valid product unit")
	}
}

func TestWriteQC(t *testing.T) {
	grid := testGrid(t)
	var b bytes.Buffer
	if err := WriteQC(&b, testResult(t, grid).Report); err != nil {
		t.Fatal(err)
	}
	recs, err := csv.NewReader(&b).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Fatalf("have %d rows, want 5", len(recs))
	}
	// Rows are sorted by sector and year.
	last := recs[2]
	if last[0] != "rice" || last[1] != "2013" || last[2] != "failed" || last[13] != "no proxy; for 2013" {
		t.Errorf("rice 2013: have %v", last)
	}
}

func TestWriteNetCDFFailedYear(t *testing.T) {
	grid := testGrid(t)
	r := testResult(t, grid)
	c := &ch4grid.CombinedGrid{Grid: grid, Year: 2014, Flux: grid.NewArray()}
	c.MarkIncomplete("wells", "rice")
	r.Combined[2014] = c

	ff, err := cdf.Open(writeProduct(t, r, grid, KtPerYear))
	if err != nil {
		t.Fatal(err)
	}
	if times := readAll(ff, "time").([]int32); !reflect.DeepEqual(times, []int32{2012, 2013, 2014}) {
		t.Errorf("times: have %v", times)
	}
	if inc := ff.Header.GetAttribute(TotalVariable, "incomplete_years").([]int32); !reflect.DeepEqual(inc, []int32{2013, 2014}) {
		t.Errorf("incomplete years: have %v", inc)
	}
	n := grid.Len()
	for _, v := range []string{TotalVariable, "wells"} {
		vals := readAll(ff, v).([]float64)
		for _, x := range vals[2*n:] {
			if x != FillValue {
				t.Fatalf("%s 2014 should be missing, have %v", v, vals[2*n:])
			}
		}
	}
}
