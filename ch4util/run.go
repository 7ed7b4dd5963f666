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
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ch4grid"
	"github.com/spatialmodel/ch4grid/inventory"
	"github.com/spatialmodel/ch4grid/output"
	"github.com/spatialmodel/ch4grid/proxyio"
)

// RunConfig holds the settings of a gridding run.
type RunConfig struct {
	Grid    *ch4grid.GridDef
	Sectors []*Sector
	Totals  *inventory.Totals

	// First and Last are the inventory years to grid.
	First, Last int

	OutputFile  string
	OutputUnits output.Units
	Meta        *output.Metadata

	// QCFile is where the quality-control summary is written.
	QCFile string

	// GridShapefileDir, if not empty, is the directory that the grid
	// cell shapefile is written to.
	GridShapefileDir string

	// Downscale, if not nil, enables downscaling.
	Downscale *ch4grid.DownscaleConfig

	Workers   int
	Tolerance float64

	// CacheSize is the number of weight grids of time-invariant proxies
	// kept in memory. If zero, one per sector is kept.
	CacheSize int
}

// newLogger returns a logger at the named level that writes to w and
// to logFile. The returned function closes logFile.
func newLogger(w io.Writer, level, logFile string) (*logrus.Logger, func(), error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("ch4util: LogLevel: %w", err)
	}
	f, err := os.Create(logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("ch4util: problem creating log file: %v", err)
	}
	log := logrus.New()
	log.Out = io.MultiWriter(w, f)
	log.Level = lvl
	log.Formatter = &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	}
	return log, func() { f.Close() }, nil
}

// SectorSeries loads the proxies of the configured sectors and combines
// them with the inventory totals of each sector.
func (c *RunConfig) SectorSeries(log logrus.FieldLogger) ([]*ch4grid.SectorSeries, error) {
	loader := &proxyio.Loader{Grid: c.Grid, Log: log}
	configured := make(map[string]bool)
	var o []*ch4grid.SectorSeries
	for _, s := range c.Sectors {
		configured[s.Name] = true
		sectorLog := log.WithField("sector", s.Name)
		src := s.Proxy
		ps, err := loader.Load(s.Name, &src)
		if err != nil {
			return nil, err
		}
		fb, err := s.fallback(loader)
		if err != nil {
			return nil, err
		}
		series := &ch4grid.SectorSeries{
			Sector:   s.Name,
			First:    c.First,
			Last:     c.Last,
			Totals:   c.Totals.National(s.Name),
			Proxies:  ps,
			Fallback: fb,
		}
		if s.RegionTotals {
			series.RegionTotals = c.Totals.Regional(s.Name)
		}
		if len(series.Totals) == 0 && len(series.RegionTotals) == 0 {
			sectorLog.Warn("sector has no inventory totals")
		}
		o = append(o, series)
		sectorLog.Debug("loaded proxy")
	}
	for _, s := range c.Totals.Sectors() {
		if !configured[s] {
			log.WithField("sector", s).Warn("inventory sector is not configured; skipping")
		}
	}
	return o, nil
}

// Run grids the configured sectors and writes the grid product, the
// quality-control summary and, optionally, the grid shapefile.
func Run(ctx context.Context, c *RunConfig, log logrus.FieldLogger) (*ch4grid.Result, error) {
	startTime := time.Now()

	series, err := c.SectorSeries(log)
	if err != nil {
		return nil, err
	}
	cacheSize := c.CacheSize
	if cacheSize <= 0 {
		cacheSize = len(series) + 1
	}
	p := &ch4grid.Pipeline{
		Grid:      c.Grid,
		Allocator: &ch4grid.Allocator{Tolerance: c.Tolerance, Log: log},
		Workers:   c.Workers,
		Cache:     ch4grid.NewWeightCache(cacheSize),
		Downscale: c.Downscale,
		Log:       log,
	}
	log.WithFields(logrus.Fields{
		"grid":    c.Grid.Name,
		"sectors": len(series),
		"first":   c.First,
		"last":    c.Last,
	}).Info("gridding emissions")
	r, err := p.Run(ctx, series)
	if err != nil {
		return nil, err
	}

	if err := writeProduct(c, r); err != nil {
		return r, err
	}
	log.WithField("file", c.OutputFile).Info("wrote grid product")

	qc, err := os.Create(c.QCFile)
	if err != nil {
		return r, fmt.Errorf("ch4util: creating QC file: %w", err)
	}
	if err := output.WriteQC(qc, r.Report); err != nil {
		qc.Close()
		return r, err
	}
	if err := qc.Close(); err != nil {
		return r, fmt.Errorf("ch4util: writing QC file: %w", err)
	}

	if c.GridShapefileDir != "" {
		if err := c.Grid.WriteToShp(c.GridShapefileDir); err != nil {
			return r, err
		}
	}

	rep := r.Report
	fields := logrus.Fields{
		"ok":         rep.Count(ch4grid.StatusOK),
		"downscaled": rep.Count(ch4grid.StatusDownscaled),
		"skipped":    rep.Count(ch4grid.StatusSkipped),
		"failed":     rep.Count(ch4grid.StatusFailed),
		"duration":   time.Since(startTime).String(),
	}
	if failed := rep.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, t := range failed {
			names[i] = fmt.Sprintf("%s/%d", t.Sector, t.Year)
		}
		log.WithFields(fields).Warnf("finished with failures: %s", strings.Join(names, ", "))
	} else {
		log.WithFields(fields).Info("finished")
	}
	return r, nil
}

func writeProduct(c *RunConfig, r *ch4grid.Result) error {
	f, err := os.Create(c.OutputFile)
	if err != nil {
		return fmt.Errorf("ch4util: creating output file: %w", err)
	}
	if err := output.WriteNetCDF(f, r, c.Grid, c.OutputUnits, c.Meta); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ch4util: writing output file: %w", err)
	}
	return nil
}
