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

package ch4util

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/geom/proj"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/ch4grid"
	"github.com/spatialmodel/ch4grid/output"
	"github.com/spatialmodel/ch4grid/proxyio"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	f := filepath.Join(dir, name)
	if err := os.WriteFile(f, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestReadSectors(t *testing.T) {
	s, err := ReadSectors(strings.NewReader(`
[[Sector]]
Name = " landfills "
IPCC = "5A"
Mask = "mask.geojson"
Fallback = "Mask"
[Sector.Proxy]
Type = "point"
File = "landfills.csv"
WeightField = "waste_in_place"
RegionField = "state"

[[Sector]]
Name = "rice"
RegionTotals = false
[Sector.Proxy]
Type = "raster"
Variable = "rice_area"
[Sector.Proxy.Files]
"2012" = "rice_2012.nc"
"2013" = "rice_2013.nc"
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 {
		t.Fatalf("have %d sectors, want 2", len(s))
	}
	lf := s[0]
	if lf.Name != "landfills" || lf.IPCC != "5A" || lf.Fallback != FallbackMask {
		t.Errorf("landfills: %+v", lf)
	}
	if lf.Proxy.Mask != "mask.geojson" || lf.Proxy.WeightField != "waste_in_place" {
		t.Errorf("landfills proxy: %+v", lf.Proxy)
	}
	if s[1].Fallback != FallbackNone {
		t.Errorf("default fallback: have %q", s[1].Fallback)
	}
	want := map[string]string{"2012": "rice_2012.nc", "2013": "rice_2013.nc"}
	if !reflect.DeepEqual(s[1].Proxy.Files, want) {
		t.Errorf("rice files: have %v, want %v", s[1].Proxy.Files, want)
	}
}

func TestReadSectorsErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":     ``,
		"no name":   "[[Sector]]\nIPCC = \"5A\"\n",
		"duplicate": "[[Sector]]\nName = \"a\"\n[[Sector]]\nName = \"a\"\n",
		"fallback":  "[[Sector]]\nName = \"a\"\nFallback = \"nearest\"\n",
		"no mask":   "[[Sector]]\nName = \"a\"\nFallback = \"mask\"\n",
		"region":    "[[Sector]]\nName = \"a\"\nRegionTotals = true\n",
		"no proxy":  "[[Sector]]\nName = \"a\"\nFallback = \"proxy\"\n",
		"annual":    "[[Sector]]\nName = \"a\"\nFallback = \"proxy\"\n[Sector.FallbackProxy.Files]\n\"2012\" = \"p.csv\"\n",
		"syntax":    "[[Sector]\n",
	} {
		if _, err := ReadSectors(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: should have failed", name)
		}
	}
}

func TestFallbackProxy(t *testing.T) {
	dir := t.TempDir()
	pop := writeFile(t, dir, "population.csv", "name,lat,lon,people\na,0.5,0.5,3\nb,1.5,1.5,1\n")
	s, err := ReadSectors(strings.NewReader(fmt.Sprintf(`
[[Sector]]
Name = "wastewater"
Fallback = "proxy"
[Sector.FallbackProxy]
File = %q
WeightField = "people"
`, pop)))
	if err != nil {
		t.Fatal(err)
	}
	sr, err := proj.Parse(ch4grid.LongLat)
	if err != nil {
		t.Fatal(err)
	}
	grid := ch4grid.NewGridRegular("test", 2, 2, 1, 1, 0, 0, sr)
	fb, err := s[0].fallback(&proxyio.Loader{Grid: grid})
	if err != nil {
		t.Fatal(err)
	}
	w, err := fb.Weights(grid)
	if err != nil {
		t.Fatal(err)
	}
	if w.Weights.Get(0, 0) != 0.75 || w.Weights.Get(1, 1) != 0.25 {
		t.Errorf("fallback weights: have %v", w.Weights.Elements)
	}
}

func TestToIntSliceE(t *testing.T) {
	for _, test := range []struct {
		in   interface{}
		want []int
	}{
		{in: "[2014,2015]", want: []int{2014, 2015}},
		{in: "[]", want: []int{}},
		{in: "", want: nil},
		{in: nil, want: nil},
		{in: []interface{}{int64(2014), int64(2016)}, want: []int{2014, 2016}},
		{in: []int{2020}, want: []int{2020}},
	} {
		have, err := toIntSliceE(test.in)
		if err != nil {
			t.Errorf("%#v: %v", test.in, err)
			continue
		}
		if len(have) != len(test.want) || (len(have) > 0 && !reflect.DeepEqual(have, test.want)) {
			t.Errorf("%#v: have %v, want %v", test.in, have, test.want)
		}
	}
	if _, err := toIntSliceE("[2014,"); err == nil {
		t.Error("invalid JSON should fail")
	}
}

func TestCheckFiles(t *testing.T) {
	if have := checkLogFile("", "/data/ch4.nc"); have != "/data/ch4.log" {
		t.Errorf("log file: have %s", have)
	}
	if have := checkLogFile("run.log", "/data/ch4.nc"); have != "run.log" {
		t.Errorf("log file: have %s", have)
	}
	if have := checkQCFile("", "/data/ch4.nc"); have != "/data/ch4_qc.csv" {
		t.Errorf("QC file: have %s", have)
	}
	if _, err := checkOutputFile(""); err == nil {
		t.Error("a blank output file should fail")
	}
	if _, err := checkOutputFile(filepath.Join(t.TempDir(), "missing", "ch4.nc")); err == nil {
		t.Error("a missing output directory should fail")
	}
	if err := checkYears(2018, 2012); err == nil {
		t.Error("reversed years should fail")
	}
	if err := checkTolerance(0); err == nil {
		t.Error("zero tolerance should fail")
	}
}

// setupRun writes the inputs of a small gridding run to dir and sets the
// configuration to use them. Wells a and b are in cells (105, 305) and
// (115, 315).
func setupRun(t *testing.T, dir string) *ch4grid.GridDef {
	t.Helper()
	totals := writeFile(t, dir, "totals.csv", `Sector,Region,Year,Total
wells,,2012,3
wells,,2013,6
mines,,2012,2
`)
	wells := writeFile(t, dir, "wells.csv", `name,lat,lon,count
a,30.55,-99.45,2
b,31.55,-98.45,1
`)
	mines := writeFile(t, dir, "mines.csv", `name,lat,lon,w
m,30.55,-99.45,0
`)
	sectors := writeFile(t, dir, "sectors.toml", fmt.Sprintf(`
[[Sector]]
Name = "wells"
IPCC = "1B2b"
Title = "Abandoned wells"
[Sector.Proxy]
Type = "point"
File = %q
WeightField = "count"

[[Sector]]
Name = "mines"
Fallback = "uniform"
[Sector.Proxy]
File = %q
WeightField = "w"
`, wells, mines))

	settings := map[string]interface{}{
		"Totals.File":        totals,
		"Totals.Units":       "kt",
		"SectorsFile":        sectors,
		"Years.First":        2012,
		"Years.Last":         2013,
		"OutputFile":         filepath.Join(dir, "ch4.nc"),
		"PrintReport":        true,
		"Downscale.Enabled":  false,
		"Downscale.BaseFile": "",
	}
	for k, v := range settings {
		Cfg.Set(k, v)
	}
	t.Cleanup(func() { Cfg.Set("Downscale.Enabled", false) })
	grid, err := ch4grid.CONUS()
	if err != nil {
		t.Fatal(err)
	}
	return grid
}

func readProduct(t *testing.T, file string, grid *ch4grid.GridDef, year int) map[string]*ch4grid.FluxGrid {
	t.Helper()
	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	g, err := output.ReadNetCDF(f, grid, year)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func checkCell(t *testing.T, f *ch4grid.FluxGrid, row, col int, want float64) {
	t.Helper()
	if have := f.Flux.Get(row, col); math.Abs(have-want) > 1e-9*math.Max(1, want) {
		t.Errorf("%s %d cell (%d, %d): have %g, want %g", f.Sector, f.Year, row, col, have, want)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	grid := setupRun(t, dir)

	var buf bytes.Buffer
	Root.SetOutput(&buf)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Relative delta") {
		t.Errorf("the QC table should be printed:\n%s", buf.String())
	}

	g := readProduct(t, filepath.Join(dir, "ch4.nc"), grid, 2012)
	checkCell(t, g["wells"], 105, 305, 2)
	checkCell(t, g["wells"], 115, 315, 1)
	if w := g["wells"].Total; math.Abs(w-3) > 1e-9 {
		t.Errorf("wells total: have %g, want 3", w)
	}
	// The mines proxy has no spatial evidence, so the uniform fallback
	// is used.
	want := 2 / float64(grid.Len())
	if have := g["mines"].Flux.Get(0, 0); math.Abs(have/want-1) > 1e-9 {
		t.Errorf("mines cell: have %g, want %g", have, want)
	}
	if math.Abs(g["mines"].Total-2) > 1e-6 {
		t.Errorf("mines total: have %g, want 2", g["mines"].Total)
	}

	g = readProduct(t, filepath.Join(dir, "ch4.nc"), grid, 2013)
	if _, ok := g["mines"]; ok {
		t.Error("mines has no 2013 total")
	}
	checkCell(t, g["wells"], 105, 305, 4)
	checkCell(t, g["wells"], 115, 315, 2)

	qc, err := os.Open(filepath.Join(dir, "ch4_qc.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer qc.Close()
	recs, err := csv.NewReader(qc).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Fatalf("have %d QC rows, want 5", len(recs))
	}
	if r := recs[1]; r[0] != "mines" || r[1] != "2012" || r[2] != "ok" || r[12] != "true" {
		t.Errorf("mines 2012: have %v", r)
	}
	if r := recs[2]; r[0] != "mines" || r[2] != "skipped" {
		t.Errorf("mines 2013: have %v", r)
	}
	if _, err := os.Stat(filepath.Join(dir, "ch4.log")); err != nil {
		t.Errorf("log file: %v", err)
	}
}

func TestRunDownscale(t *testing.T) {
	dir := t.TempDir()
	grid := setupRun(t, dir)
	Cfg.Set("Downscale.Enabled", true)
	Cfg.Set("Downscale.BaseYear", 2012)
	Cfg.Set("Downscale.Totals", writeFile(t, dir, "new.csv", `Sector,Year,Total
wells,2014,9
wells,2015,
`))
	Cfg.Set("PrintReport", false)

	Root.SetOutput(new(bytes.Buffer))
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	g := readProduct(t, filepath.Join(dir, "ch4.nc"), grid, 2014)
	checkCell(t, g["wells"], 105, 305, 6)
	checkCell(t, g["wells"], 115, 315, 3)
}

func TestDownscaleConfigBaseFile(t *testing.T) {
	dir := t.TempDir()
	grid := setupRun(t, dir)
	Root.SetOutput(new(bytes.Buffer))
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.Set("Downscale.Enabled", true)
	v.Set("Downscale.BaseYear", 2013)
	v.Set("Downscale.TargetYears", []int{2016})
	v.Set("Downscale.Totals", writeFile(t, dir, "new.csv", "Sector,Year,Total\nwells,2016,12\n"))
	v.Set("Downscale.BaseFile", filepath.Join(dir, "ch4.nc"))
	v.Set("Totals.Units", "kt")
	ds, err := DownscaleConfig(v, grid, []*Sector{{Name: "wells"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ds.Years, []int{2016}) {
		t.Errorf("years: have %v", ds.Years)
	}
	if b := ds.Base["wells"]; b == nil || math.Abs(b.Total-6) > 1e-9 {
		t.Errorf("base grid: %+v", b)
	}
	if ds.Totals["wells"][2016] != 12 {
		t.Errorf("totals: have %v", ds.Totals)
	}

	v.Set("Downscale.Enabled", false)
	if ds, err = DownscaleConfig(v, grid, nil); err != nil || ds != nil {
		t.Errorf("disabled downscaling: have %v, %v", ds, err)
	}
}

func TestGridCmd(t *testing.T) {
	dir := t.TempDir()
	setupRun(t, dir)
	Cfg.Set("GridShapefile", dir)
	defer Cfg.Set("GridShapefile", "")
	Root.SetOutput(new(bytes.Buffer))
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"grid"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "conus_0.1deg.shp")); err != nil {
		t.Error(err)
	}
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	Root.SetOutput(&buf)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if have, want := buf.String(), "ch4grid v"+ch4grid.Version+"\n"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
}

func TestNewLogger(t *testing.T) {
	f := filepath.Join(t.TempDir(), "run.log")
	if _, _, err := newLogger(new(bytes.Buffer), "loud", f); err == nil {
		t.Error("an invalid level should fail")
	}
	var buf bytes.Buffer
	log, closeLog, err := newLogger(&buf, "warning", f)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.WithField("sector", "wells").Warn("shown")
	closeLog()
	b, err := os.ReadFile(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != buf.String() || strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "sector=wells") {
		t.Errorf("log output:\n%s", buf.String())
	}
}
