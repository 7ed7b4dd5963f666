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
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
)

// readShapefile reads proxy features from a shapefile. Geometries are
// transformed from the spatial reference in the shapefile's .prj file to
// that of the grid. If there is no .prj file, the geometries are assumed
// to be in longitude-latitude coordinates.
func (l *Loader) readShapefile(file string, src *Source) ([]record, error) {
	d, err := shp.NewDecoder(file)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer d.Close()

	var ct proj.Transformer
	lonLat := false
	sr, err := d.SR()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.log().WithField("file", file).Warn("shapefile has no .prj file; assuming longitude-latitude coordinates")
		lonLat = true
	case err != nil:
		return nil, fmt.Errorf("reading spatial reference of %s: %w", file, err)
	case l.Grid.SR != nil:
		if ct, err = sr.NewTransform(l.Grid.SR); err != nil {
			return nil, fmt.Errorf("shapefile %s: %w", file, err)
		}
	}

	var fields []string
	for _, f := range []string{src.WeightField, src.RegionField, src.YearField} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	var recs []record
	for {
		g, data, more := d.DecodeRowFields(fields...)
		if !more || d.Error() != nil {
			break
		}
		r := record{weight: 1, lonLat: lonLat}
		if src.WeightField != "" {
			r.weight = parseWeight(data[src.WeightField])
		}
		if src.RegionField != "" {
			r.region = strings.TrimSpace(data[src.RegionField])
		}
		if src.YearField != "" {
			r.year = strings.TrimSpace(data[src.YearField])
		}
		if g != nil && ct != nil {
			var tg geom.Geom
			if tg, err = g.Transform(ct); err == nil {
				r.g = tg
			}
		} else {
			r.g = g
		}
		recs = append(recs, r)
	}
	if d.Error() != nil {
		return nil, fmt.Errorf("in file %s, %v", file, d.Error())
	}
	return recs, nil
}
