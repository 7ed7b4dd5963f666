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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/ch4grid"
	"github.com/spatialmodel/ch4grid/inventory"
	"github.com/spatialmodel/ch4grid/output"
	"github.com/spatialmodel/ch4grid/proxyio"
	"github.com/spf13/cast"
)

// Fallback kinds of a sector.
const (
	FallbackNone    = "none"
	FallbackUniform = "uniform"
	FallbackMask    = "mask"
	FallbackProxy   = "proxy"
)

// Sector holds the configuration of one emissions sector.
type Sector struct {
	// Name must match the sector name in the national totals table.
	Name string

	// IPCC is the IPCC source category code of the sector.
	IPCC        string
	Title       string
	Description string

	Proxy proxyio.Source

	// Mask is a GeoJSON polygon file restricting where the sector emits.
	// If set, it replaces Proxy.Mask.
	Mask string

	// Fallback specifies how emissions are distributed in a year whose
	// proxy holds no spatial evidence: "none" (the default) fails the
	// sector-year, "uniform" spreads them over the whole grid, "mask"
	// spreads them over the cells of Mask and "proxy" distributes them
	// according to FallbackProxy.
	Fallback string

	// FallbackProxy is a time-invariant proxy, for example population,
	// used by the "proxy" fallback.
	FallbackProxy *proxyio.Source

	// RegionTotals specifies that regional totals from the inventory are
	// allocated to the proxy features of each region. Proxy.RegionField
	// must be set.
	RegionTotals bool
}

// sectorFile is the layout of a sector definition file.
type sectorFile struct {
	Sector []*Sector
}

// ReadSectors reads sector definitions from a TOML document.
func ReadSectors(r io.Reader) ([]*Sector, error) {
	var f sectorFile
	if _, err := toml.DecodeReader(r, &f); err != nil {
		return nil, fmt.Errorf("ch4util: reading sector definitions: %w", err)
	}
	if len(f.Sector) == 0 {
		return nil, fmt.Errorf("ch4util: no sectors are defined")
	}
	seen := make(map[string]bool)
	for i, s := range f.Sector {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("ch4util: sector %d has no name", i+1)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("ch4util: sector %s is defined more than once", s.Name)
		}
		seen[s.Name] = true
		if s.Mask != "" {
			s.Proxy.Mask = s.Mask
		}
		s.Fallback = strings.ToLower(strings.TrimSpace(s.Fallback))
		switch s.Fallback {
		case "":
			s.Fallback = FallbackNone
		case FallbackNone, FallbackUniform:
		case FallbackMask:
			if s.Proxy.Mask == "" {
				return nil, fmt.Errorf("ch4util: sector %s: the mask fallback requires a Mask", s.Name)
			}
		case FallbackProxy:
			fp := s.FallbackProxy
			if fp == nil || fp.File == "" || len(fp.Files) > 0 || fp.YearField != "" {
				return nil, fmt.Errorf("ch4util: sector %s: the proxy fallback requires a time-invariant FallbackProxy.File", s.Name)
			}
		default:
			return nil, fmt.Errorf("ch4util: sector %s: invalid fallback %q", s.Name, s.Fallback)
		}
		if s.RegionTotals && s.Proxy.RegionField == "" {
			return nil, fmt.Errorf("ch4util: sector %s: RegionTotals requires Proxy.RegionField", s.Name)
		}
	}
	return f.Sector, nil
}

// readSectorFile reads sector definitions from the named file.
func readSectorFile(file string) ([]*Sector, error) {
	if file == "" {
		return nil, fmt.Errorf("ch4util: the SectorsFile configuration variable must be set")
	}
	f, err := os.Open(os.ExpandEnv(file))
	if err != nil {
		return nil, fmt.Errorf("ch4util: %w", err)
	}
	defer f.Close()
	return ReadSectors(f)
}

// fallback returns the fallback of sector s on the grid of l.
func (s *Sector) fallback(l *proxyio.Loader) (ch4grid.Fallback, error) {
	switch s.Fallback {
	case FallbackUniform:
		return ch4grid.UniformFallback{}, nil
	case FallbackMask:
		m, err := proxyio.ReadMask(os.ExpandEnv(s.Proxy.Mask), l.Grid)
		if err != nil {
			return nil, fmt.Errorf("ch4util: sector %s: %w", s.Name, err)
		}
		return ch4grid.UniformFallback{Mask: m}, nil
	case FallbackProxy:
		src := *s.FallbackProxy
		ps, err := l.Load(s.Name, &src)
		if err != nil {
			return nil, fmt.Errorf("ch4util: sector %s fallback: %w", s.Name, err)
		}
		p, err := ps.Proxy(s.Name, ch4grid.TimeInvariant)
		if err != nil {
			return nil, err
		}
		w, err := ch4grid.NewWeightGrid(p, l.Grid)
		if err != nil {
			return nil, err
		}
		return ch4grid.ProxyFallback{WeightGrid: w}, nil
	default:
		return nil, nil
	}
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`ch4util: you need to specify an output file configuration variable (for example: OutputFile="ch4.nc")`)
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("ch4util: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return os.ExpandEnv(logFile)
}

// checkQCFile fills in a default value for the QC summary path if one
// isn't specified.
func checkQCFile(qcFile, outputFile string) string {
	if qcFile == "" {
		qcFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + "_qc.csv"
	}
	return os.ExpandEnv(qcFile)
}

// checkYears makes sure the inventory year range is valid.
func checkYears(first, last int) error {
	if first <= 0 || last <= 0 {
		return fmt.Errorf("ch4util: Years.First and Years.Last must be set, but are %d and %d", first, last)
	}
	if last < first {
		return fmt.Errorf("ch4util: Years.Last (%d) is before Years.First (%d)", last, first)
	}
	return nil
}

// toIntSliceE converts a configuration value to a slice of integers.
// Values set from the command line are JSON arrays.
func toIntSliceE(s interface{}) ([]int, error) {
	switch v := s.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		o := make([]int, len(v))
		for i, val := range v {
			x, err := cast.ToIntE(val)
			if err != nil {
				return nil, err
			}
			o[i] = x
		}
		return o, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var o []int
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return cast.ToIntSliceE(s)
	}
}

// readTotals reads the national totals table specified by the Totals.*
// configuration variables, or by file if it is not empty.
func readTotals(cfg *viper.Viper, file string) (*inventory.Totals, error) {
	if file == "" {
		file = cfg.GetString("Totals.File")
	}
	if file == "" {
		return nil, fmt.Errorf("ch4util: the Totals.File configuration variable must be set")
	}
	units, err := inventory.ParseInputUnits(cfg.GetString("Totals.Units"))
	if err != nil {
		return nil, err
	}
	return inventory.ReadFile(os.ExpandEnv(file), cfg.GetString("Totals.Sheet"), units)
}

// DownscaleConfig returns the downscaling configuration specified by the
// Downscale.* configuration variables, or nil if downscaling is not
// enabled. Only sectors in sectors are downscaled.
func DownscaleConfig(cfg *viper.Viper, grid *ch4grid.GridDef, sectors []*Sector) (*ch4grid.DownscaleConfig, error) {
	if !cfg.GetBool("Downscale.Enabled") {
		return nil, nil
	}
	baseYear := cfg.GetInt("Downscale.BaseYear")
	if baseYear <= 0 {
		return nil, fmt.Errorf("ch4util: Downscale.BaseYear must be set when downscaling is enabled")
	}
	file := cfg.GetString("Downscale.Totals")
	if file == "" {
		return nil, fmt.Errorf("ch4util: Downscale.Totals must be set when downscaling is enabled")
	}
	totals, err := readTotals(cfg, file)
	if err != nil {
		return nil, err
	}
	years, err := toIntSliceE(cfg.Get("Downscale.TargetYears"))
	if err != nil {
		return nil, fmt.Errorf("ch4util: Downscale.TargetYears: %v", err)
	}

	ds := &ch4grid.DownscaleConfig{
		BaseYear: baseYear,
		Totals:   make(map[string]map[int]float64),
	}
	yearSet := make(map[int]bool)
	for _, s := range sectors {
		national := totals.National(s.Name)
		if len(national) == 0 {
			continue
		}
		ds.Totals[s.Name] = national
		for y := range national {
			if y > baseYear {
				yearSet[y] = true
			}
		}
	}
	if len(years) == 0 {
		for y := range yearSet {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	ds.Years = years

	if base := cfg.GetString("Downscale.BaseFile"); base != "" {
		f, err := os.Open(os.ExpandEnv(base))
		if err != nil {
			return nil, fmt.Errorf("ch4util: opening downscaling base file: %w", err)
		}
		defer f.Close()
		if ds.Base, err = output.ReadNetCDF(f, grid, baseYear); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// metadata returns the grid product metadata of sectors.
func metadata(cfg *viper.Viper, sectors []*Sector) *output.Metadata {
	m := &output.Metadata{
		Title:       cfg.GetString("Title"),
		Description: cfg.GetString("Description"),
		Sectors:     make(map[string]output.SectorInfo),
	}
	for _, s := range sectors {
		m.Sectors[s.Name] = output.SectorInfo{IPCC: s.IPCC, Title: s.Title, Description: s.Description}
	}
	return m
}

// checkTolerance makes sure the conservation tolerance is valid.
func checkTolerance(tol float64) error {
	if !(tol > 0) || math.IsInf(tol, 0) || tol >= 1 {
		return fmt.Errorf("ch4util: Tolerance=%g but should be >0 and <1", tol)
	}
	return nil
}
