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

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DownscaleConfig specifies years to be created by rescaling the flux
// grids of a base year rather than by allocating to proxies.
type DownscaleConfig struct {
	BaseYear int
	Years    []int

	// Totals holds the new national totals by sector and year.
	Totals map[string]map[int]float64

	// Base optionally holds base-year flux grids by sector, for example
	// read from an earlier grid product. A sector allocated for BaseYear
	// in the same run uses that grid instead.
	Base map[string]*FluxGrid
}

// A Pipeline allocates the national totals of a set of sectors over a
// range of years and combines the results by year.
type Pipeline struct {
	Grid      *GridDef
	Allocator *Allocator

	// Workers is the maximum number of sector-years to allocate at once.
	// If zero, runtime.GOMAXPROCS(0) is used.
	Workers int

	// Cache holds weight grids of time-invariant proxies. It may be nil.
	Cache *WeightCache

	// Downscale, if not nil, enables downscaling.
	Downscale *DownscaleConfig

	Log logrus.FieldLogger
}

// Result holds the output of a Pipeline.
type Result struct {
	// Grids holds flux grids by year and sector.
	Grids map[int]map[string]*FluxGrid

	// Combined holds the sum of all sectors in each year.
	Combined map[int]*CombinedGrid

	Report *Report
}

// Years returns the years in the result in ascending order, including
// years in which every sector failed.
func (r *Result) Years() []int {
	m := make(map[int]struct{})
	for y := range r.Grids {
		m[y] = struct{}{}
	}
	for y := range r.Combined {
		m[y] = struct{}{}
	}
	o := make([]int, 0, len(m))
	for y := range m {
		o = append(o, y)
	}
	sort.Ints(o)
	return o
}

// Sectors returns the names of the sectors in the result in
// alphabetical order, including sectors that are missing from every
// combined grid.
func (r *Result) Sectors() []string {
	m := make(map[string]struct{})
	for _, g := range r.Grids {
		for s := range g {
			m[s] = struct{}{}
		}
	}
	for _, c := range r.Combined {
		for _, s := range c.Missing {
			m[s] = struct{}{}
		}
	}
	o := make([]string, 0, len(m))
	for s := range m {
		o = append(o, s)
	}
	sort.Strings(o)
	return o
}

func (p *Pipeline) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

type pipelineState struct {
	mu     sync.Mutex
	grids  map[int]map[string]*FluxGrid
	failed map[int][]string
	report *Report
}

func (s *pipelineState) add(f *FluxGrid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grids[f.Year] == nil {
		s.grids[f.Year] = make(map[string]*FluxGrid)
	}
	s.grids[f.Year][f.Sector] = f
}

func (s *pipelineState) fail(sector string, year int) {
	s.mu.Lock()
	s.failed[year] = append(s.failed[year], sector)
	s.mu.Unlock()
}

func (s *pipelineState) hasFailed(sector string, year int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failed[year] {
		if f == sector {
			return true
		}
	}
	return false
}

// Run allocates every sector-year in sectors. Failures are recorded in
// the returned report and do not stop other sector-years from being
// allocated, but combined grids for years with failures are marked as
// incomplete. An error is returned only if ctx is cancelled or a
// *GridMismatchError occurs.
func (p *Pipeline) Run(ctx context.Context, sectors []*SectorSeries) (*Result, error) {
	st := &pipelineState{
		grids:  make(map[int]map[string]*FluxGrid),
		failed: make(map[int][]string),
		report: new(Report),
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	seen := make(map[string]bool)
	for _, s := range sectors {
		if seen[s.Sector] {
			return nil, fmt.Errorf("ch4grid: duplicate sector %s", s.Sector)
		}
		seen[s.Sector] = true
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, s := range sectors {
		tasks, err := s.Tasks()
		if err != nil {
			p.failSector(st, s, err)
			continue
		}
		for _, t := range tasks {
			if t.Skip {
				st.report.Add(&TaskReport{Sector: t.Sector, Year: t.Year, Status: StatusSkipped})
				continue
			}
			t := t
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return p.runTask(st, t)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if p.Downscale != nil {
		if err := p.downscale(st); err != nil {
			return nil, err
		}
	}
	return p.combine(st)
}

func (p *Pipeline) failSector(st *pipelineState, s *SectorSeries, err error) {
	p.log().WithFields(logrus.Fields{"sector": s.Sector}).WithError(err).Error("sector failed")
	for y := s.First; y <= s.Last; y++ {
		total, hasTotal := s.Totals[y]
		regional, hasRegional := s.RegionTotals[y]
		if !hasTotal && !hasRegional {
			continue
		}
		if hasRegional {
			total = sumRegions(regional)
		}
		st.report.Add(&TaskReport{Sector: s.Sector, Year: y, Status: StatusFailed,
			NationalTotal: total, Err: err})
		st.fail(s.Sector, y)
	}
}

func (p *Pipeline) runTask(st *pipelineState, t *Task) error {
	log := p.log().WithFields(logrus.Fields{"sector": t.Sector, "year": t.Year})
	f, err := t.Run(p.Grid, p.Allocator, p.Cache)
	if err != nil {
		var gm *GridMismatchError
		if errors.As(err, &gm) {
			return err
		}
		log.WithError(err).Error("allocation failed")
		st.report.Add(&TaskReport{Sector: t.Sector, Year: t.Year, Status: StatusFailed,
			NationalTotal: t.Total, Err: err})
		st.fail(t.Sector, t.Year)
		return nil
	}
	d := f.Diagnostics
	log.WithFields(logrus.Fields{
		"national_total": f.Total,
		"features":       d.Features,
		"dropped":        d.Dropped(),
	}).Info("allocated")
	if d.Dropped() > 0 {
		log.WithFields(logrus.Fields{
			"zero_magnitude": d.ZeroMagnitude,
			"out_of_extent":  d.OutOfExtent,
			"malformed":      d.Malformed,
		}).Warn("dropped proxy features")
	}
	st.add(f)
	st.report.Add(&TaskReport{
		Sector:        t.Sector,
		Year:          t.Year,
		Status:        StatusOK,
		NationalTotal: f.Total,
		GriddedTotal:  f.Sum(),
		Diagnostics:   d,
		FallbackUsed:  f.FallbackUsed,
	})
	return nil
}

// downscale creates flux grids for the downscaling years from the
// grids of the base year. Sector-years that were allocated from proxies,
// or whose allocation failed, are not downscaled. A base grid on an
// incompatible grid results in a *GridMismatchError.
func (p *Pipeline) downscale(st *pipelineState) error {
	ds := p.Downscale
	sectors := make([]string, 0, len(ds.Totals))
	for s := range ds.Totals {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)
	for _, sector := range sectors {
		totals := ds.Totals[sector]
		base := st.grids[ds.BaseYear][sector]
		if base == nil {
			base = ds.Base[sector]
		}
		for _, y := range ds.Years {
			log := p.log().WithFields(logrus.Fields{"sector": sector, "year": y, "base_year": ds.BaseYear})
			newTotal, ok := totals[y]
			if !ok {
				st.report.Add(&TaskReport{Sector: sector, Year: y, Status: StatusSkipped})
				continue
			}
			if _, ok := st.grids[y][sector]; ok {
				log.Warn("year already allocated from proxy data; not downscaling")
				continue
			}
			if st.hasFailed(sector, y) {
				log.Warn("allocation from proxy data failed; not downscaling")
				continue
			}
			var f *FluxGrid
			var err error
			switch {
			case base == nil:
				err = &ZeroBaseError{Sector: sector, BaseYear: ds.BaseYear, Year: y}
			case !p.Grid.Compatible(base.Grid):
				return fmt.Errorf("ch4grid: downscale sector %s: %w", sector, p.Grid.CheckCompatible(base.Grid))
			default:
				f, err = p.Allocator.Downscale(base, base.Total, newTotal, y)
			}
			if err != nil {
				log.WithError(err).Error("downscaling failed")
				st.report.Add(&TaskReport{Sector: sector, Year: y, Status: StatusFailed,
					NationalTotal: newTotal, Err: err})
				st.fail(sector, y)
				continue
			}
			st.add(f)
			st.report.Add(&TaskReport{Sector: sector, Year: y, Status: StatusDownscaled,
				NationalTotal: newTotal, GriddedTotal: f.Sum()})
		}
	}
	return nil
}

// combine aggregates the flux grids of each year.
func (p *Pipeline) combine(st *pipelineState) (*Result, error) {
	r := &Result{
		Grids:    st.grids,
		Combined: make(map[int]*CombinedGrid),
		Report:   st.report,
	}
	var years []int
	for y := range st.grids {
		years = append(years, y)
	}
	for y := range st.failed {
		if _, ok := st.grids[y]; !ok {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	for _, y := range years {
		byYear := st.grids[y]
		names := make([]string, 0, len(byYear))
		for s := range byYear {
			names = append(names, s)
		}
		sort.Strings(names)
		grids := make([]*FluxGrid, len(names))
		for i, s := range names {
			grids[i] = byYear[s]
		}
		var c *CombinedGrid
		if len(grids) == 0 {
			// Every sector failed in this year.
			c = &CombinedGrid{Grid: p.Grid, Year: y, Flux: p.Grid.NewArray()}
		} else {
			var err error
			if c, err = p.Allocator.Aggregate(y, grids...); err != nil {
				return nil, err
			}
		}
		c.MarkIncomplete(st.failed[y]...)
		if c.Incomplete {
			p.log().WithFields(logrus.Fields{"year": y, "missing": c.Missing}).Warn("combined grid is incomplete")
		}
		r.Combined[y] = c
	}
	return r, nil
}
