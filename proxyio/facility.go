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

package proxyio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
)

var (
	spaces   = regexp.MustCompile(`\s+`)
	nameJunk = regexp.MustCompile(`[^a-z0-9 -]`)
)

// FormatName normalizes a facility name so that names from different
// datasets can be matched: it is case-folded, characters other than
// letters, digits, spaces and hyphens are removed, and runs of whitespace
// are collapsed to a single space.
func FormatName(name string) string {
	s := strings.ToLower(spaces.ReplaceAllString(name, " "))
	s = nameJunk.ReplaceAllString(s, "")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// table is a CSV table with a header row.
type table struct {
	cols  map[string]int
	lines [][]string
}

func readTable(file string) (*table, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return newTable(f, file)
}

func newTable(r io.Reader, name string) (*table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	lines, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	t := &table{cols: make(map[string]int), lines: lines[1:]}
	for i, h := range lines[0] {
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return t, nil
}

// column returns the index of the first of names that is a column in t,
// or -1.
func (t *table) column(names ...string) int {
	for _, n := range names {
		if n == "" {
			continue
		}
		if i, ok := t.cols[strings.ToLower(n)]; ok {
			return i
		}
	}
	return -1
}

func get(line []string, c int) string {
	if c < 0 || c >= len(line) {
		return ""
	}
	return strings.TrimSpace(line[c])
}

var (
	nameColumns      = []string{"facility_name", "facility", "name", "primary_name"}
	regionColumns    = []string{"state_code", "state", "region"}
	latitudeColumns  = []string{"latitude", "lat", "latitude83"}
	longitudeColumns = []string{"longitude", "lon", "lng", "longitude83"}
)

type locationKey struct{ name, region string }

// readLocations reads a table of facility locations keyed by formatted
// facility name and region. When a facility is listed more than once the
// first location is used.
func readLocations(file string) (map[locationKey]geom.Point, error) {
	t, err := readTable(file)
	if err != nil {
		return nil, err
	}
	nameCol, regionCol := t.column(nameColumns...), t.column(regionColumns...)
	latCol, lonCol := t.column(latitudeColumns...), t.column(longitudeColumns...)
	if nameCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, fmt.Errorf("location table %s needs facility name, latitude and longitude columns", file)
	}
	o := make(map[locationKey]geom.Point)
	for _, line := range t.lines {
		p, ok := parseLocation(get(line, latCol), get(line, lonCol))
		if !ok {
			continue
		}
		k := locationKey{name: FormatName(get(line, nameCol)), region: get(line, regionCol)}
		if _, dup := o[k]; !dup {
			o[k] = p
		}
	}
	return o, nil
}

func parseLocation(lat, lon string) (geom.Point, bool) {
	y, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geom.Point{}, false
	}
	x, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geom.Point{}, false
	}
	return geom.Point{X: x, Y: y}, true
}

// readFacilities reads point features from a CSV facility list. A
// facility's location is taken from its latitude and longitude columns
// or, if they are absent or blank, from the src.Locations table by
// facility name and region. Facilities without a location are kept as
// malformed features.
func (l *Loader) readFacilities(file string, src *Source) ([]record, error) {
	t, err := readTable(file)
	if err != nil {
		return nil, err
	}
	nameCol := t.column(nameColumns...)
	regionCol := t.column(append([]string{src.RegionField}, regionColumns...)...)
	latCol, lonCol := t.column(latitudeColumns...), t.column(longitudeColumns...)
	weightCol, yearCol := -1, -1
	if src.WeightField != "" {
		if weightCol = t.column(src.WeightField); weightCol < 0 {
			return nil, fmt.Errorf("facility list %s has no %s column", file, src.WeightField)
		}
	}
	if src.YearField != "" {
		if yearCol = t.column(src.YearField); yearCol < 0 {
			return nil, fmt.Errorf("facility list %s has no %s column", file, src.YearField)
		}
	}

	var locs map[locationKey]geom.Point
	if src.Locations != "" {
		if nameCol < 0 {
			return nil, fmt.Errorf("facility list %s has no facility name column", file)
		}
		if locs, err = readLocations(os.ExpandEnv(src.Locations)); err != nil {
			return nil, err
		}
	} else if latCol < 0 || lonCol < 0 {
		return nil, fmt.Errorf("facility list %s has no location columns and no location table", file)
	}

	recs := make([]record, 0, len(t.lines))
	unmatched := 0
	for _, line := range t.lines {
		r := record{weight: 1, lonLat: true, region: get(line, regionCol), year: get(line, yearCol)}
		if weightCol >= 0 {
			r.weight = parseWeight(get(line, weightCol))
		}
		if p, ok := parseLocation(get(line, latCol), get(line, lonCol)); ok {
			r.g = p
		} else if p, ok := locs[locationKey{name: FormatName(get(line, nameCol)), region: r.region}]; ok {
			r.g = p
		} else {
			unmatched++
		}
		recs = append(recs, r)
	}
	if unmatched > 0 {
		l.log().WithFields(logrus.Fields{
			"file":      file,
			"unmatched": unmatched,
		}).Warn("facilities without a location")
	}
	return recs, nil
}
