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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/spatialmodel/ch4grid"
)

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Geometry   json.RawMessage        `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
}

// property returns a feature property as a string.
func property(props map[string]interface{}, name string) string {
	v, ok := props[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// readGeoJSON reads proxy features from a GeoJSON FeatureCollection in
// longitude-latitude coordinates.
func readGeoJSON(file string, src *Source) ([]record, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading GeoJSON file: %w", err)
	}
	var fc featureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("decoding GeoJSON file %s: %w", file, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("GeoJSON file %s holds a %s rather than a FeatureCollection", file, fc.Type)
	}
	recs := make([]record, len(fc.Features))
	for i, f := range fc.Features {
		r := record{weight: 1, lonLat: true}
		if src.WeightField != "" {
			r.weight = parseWeight(property(f.Properties, src.WeightField))
		}
		if src.RegionField != "" {
			r.region = strings.TrimSpace(property(f.Properties, src.RegionField))
		}
		if src.YearField != "" {
			r.year = strings.TrimSpace(property(f.Properties, src.YearField))
		}
		if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
			// Invalid geometries are left nil and counted as malformed.
			r.g, _ = geojson.Decode(f.Geometry)
		}
		recs[i] = r
	}
	return recs, nil
}

// ReadMask reads a mask from a GeoJSON Polygon or MultiPolygon in
// longitude-latitude coordinates. A cell is included in the mask if
// its centroid is inside the polygon.
func ReadMask(file string, grid *ch4grid.GridDef) (*ch4grid.Mask, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("proxyio: reading mask file: %w", err)
	}
	j, err := geojson.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("proxyio: decoding mask file %s: %w", file, err)
	}
	var mask geom.Polygon
	switch msk := j.(type) {
	case geom.Polygon:
		mask = msk
	case geom.MultiPolygon:
		for _, p := range msk {
			mask = append(mask, p...)
		}
	default:
		return nil, fmt.Errorf("proxyio: invalid mask geometry type %T", j)
	}
	ct, err := transform(grid)
	if err != nil {
		return nil, err
	}
	var poly geom.Polygonal = mask
	if ct != nil {
		g, err := mask.Transform(ct)
		if err != nil {
			return nil, fmt.Errorf("proxyio: transforming mask: %w", err)
		}
		poly = g.(geom.Polygonal)
	}
	return ch4grid.NewMaskFromPolygon(grid, poly), nil
}
