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

package inventory

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"
)

// parseValue parses an inventory table cell. ok is false if the cell
// holds no estimate. Totals reported as not occurring ("NO") or included
// elsewhere ("IE") are zero.
func parseValue(s string) (v float64, ok bool, err error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	switch strings.ToUpper(s) {
	case "", "NE", "NA", "-", "...":
		return 0, false, nil
	case "NO", "IE", "0":
		return 0, true, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("inventory: invalid total %q: %w", s, err)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("inventory: negative total %g", v)
	}
	return v, true, nil
}

func columnIndex(header []string) map[string]int {
	o := make(map[string]int)
	for i, h := range header {
		o[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return o
}

func findColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return -1, false
}

// ReadCSV reads totals from a CSV table in long format with columns
// "sector", "year" and "total", and an optional "region" column.
// Rows with a region are regional totals; the national total of a
// sector is not derived from them.
func ReadCSV(r io.Reader, units InputUnits) (*Totals, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	lines, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("inventory: reading csv: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("inventory: empty csv table")
	}
	cols := columnIndex(lines[0])
	sectorCol, ok := findColumn(cols, "sector", "source")
	if !ok {
		return nil, fmt.Errorf("inventory: csv table has no sector column")
	}
	yearCol, ok := findColumn(cols, "year")
	if !ok {
		return nil, fmt.Errorf("inventory: csv table has no year column")
	}
	totalCol, ok := findColumn(cols, "total", "emissions", "value", "ch4")
	if !ok {
		return nil, fmt.Errorf("inventory: csv table has no total column")
	}
	regionCol, hasRegion := findColumn(cols, "region", "state")

	conv := units.Conversion()
	t := New()
	for i, line := range lines[1:] {
		get := func(c int) string {
			if c < len(line) {
				return strings.TrimSpace(line[c])
			}
			return ""
		}
		year, err := strconv.Atoi(get(yearCol))
		if err != nil {
			return nil, fmt.Errorf("inventory: line %d: invalid year: %w", i+2, err)
		}
		v, ok, err := parseValue(get(totalCol))
		if err != nil {
			return nil, fmt.Errorf("inventory: line %d: %w", i+2, err)
		}
		if !ok {
			continue
		}
		k := Key{Sector: get(sectorCol), Year: year}
		if hasRegion {
			k.Region = get(regionCol)
		}
		kt, err := ToKt(conv(v))
		if err != nil {
			return nil, err
		}
		t.Add(k, kt)
	}
	return t, nil
}

// ReadExcel reads totals from the given sheet of a Microsoft
// Excel file in wide format: the first row holds the header, with a
// "sector" column, an optional "region" column, and one column per
// year. Blank cells are treated as missing totals.
func ReadExcel(fileName, sheet string, units InputUnits) (*Totals, error) {
	f, err := xlsx.OpenFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("inventory: opening xlsx file: %w", err)
	}
	s, ok := f.Sheet[sheet]
	if !ok {
		return nil, fmt.Errorf("inventory: reading totals from Excel; no sheet %s", sheet)
	}
	header := make([]string, s.MaxCol)
	for i := range header {
		header[i] = strings.TrimSpace(s.Cell(0, i).Value)
	}
	cols := columnIndex(header)
	sectorCol, ok := findColumn(cols, "sector", "source")
	if !ok {
		return nil, fmt.Errorf("inventory: sheet %s has no sector column", sheet)
	}
	regionCol, hasRegion := findColumn(cols, "region", "state")
	years := make(map[int]int) // column → year
	for i, h := range header {
		if y, err := strconv.Atoi(h); err == nil {
			years[i] = y
		} else if fy, err := strconv.ParseFloat(h, 64); err == nil && fy == float64(int(fy)) {
			years[i] = int(fy)
		}
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("inventory: sheet %s has no year columns", sheet)
	}

	conv := units.Conversion()
	t := New()
	for j := 1; j < s.MaxRow; j++ {
		sector := strings.TrimSpace(s.Cell(j, sectorCol).Value)
		if sector == "" {
			continue
		}
		var region string
		if hasRegion {
			region = strings.TrimSpace(s.Cell(j, regionCol).Value)
		}
		for c, y := range years {
			v, ok, err := parseValue(s.Cell(j, c).Value)
			if err != nil {
				return nil, fmt.Errorf("inventory: sheet %s row %d: %w", sheet, j+1, err)
			}
			if !ok {
				continue
			}
			kt, err := ToKt(conv(v))
			if err != nil {
				return nil, err
			}
			t.Add(Key{Sector: sector, Region: region, Year: y}, kt)
		}
	}
	return t, nil
}

// ReadFile reads totals from a CSV or Excel file, depending on its
// extension. sheet is only used for Excel files.
func ReadFile(fileName, sheet string, units InputUnits) (*Totals, error) {
	if strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		return ReadExcel(fileName, sheet, units)
	}
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, units)
}
