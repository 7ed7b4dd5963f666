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
	"fmt"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/spatialmodel/ch4grid/internal/hash"
)

// A ProxySource supplies the spatial proxy for a sector.
type ProxySource interface {
	// Proxy returns the proxy for the given year, or a *MissingProxyError
	// if there is none.
	Proxy(sector string, year int) (*Proxy, error)

	// CacheKey returns a key identifying the proxy used for every year,
	// or nil if the proxy varies by year.
	CacheKey() interface{}
}

// StaticProxy is a time-invariant proxy that is used for every year.
type StaticProxy struct {
	P *Proxy

	// Key identifies the source of P and its mask, for example by file
	// name, so that its weight grid can be reused between sectors and
	// years. If Key is nil, the weight grid is not cached.
	Key interface{}
}

// Proxy implements ProxySource.
func (s *StaticProxy) Proxy(sector string, year int) (*Proxy, error) {
	if s.P == nil {
		return nil, &MissingProxyError{Sector: sector, Year: year}
	}
	return s.P, nil
}

// CacheKey implements ProxySource.
func (s *StaticProxy) CacheKey() interface{} { return s.Key }

// AnnualProxies holds a separate proxy for each year.
type AnnualProxies map[int]*Proxy

// Proxy implements ProxySource.
func (a AnnualProxies) Proxy(sector string, year int) (*Proxy, error) {
	p, ok := a[year]
	if !ok || p == nil {
		return nil, &MissingProxyError{Sector: sector, Year: year}
	}
	return p, nil
}

// CacheKey implements ProxySource. Annual proxies are not cached.
func (a AnnualProxies) CacheKey() interface{} { return nil }

// A SectorSeries holds the national totals and spatial proxies of one
// sector over a range of years.
type SectorSeries struct {
	Sector      string
	First, Last int

	// Totals holds the national total for each year.
	Totals map[int]float64

	// RegionTotals, if not nil, holds totals for each region for each
	// year. When a year is present in RegionTotals, they are allocated
	// to the features in each region instead of allocating Totals.
	RegionTotals map[int]map[string]float64

	Proxies ProxySource

	// Fallback is used when the proxy holds no spatial evidence.
	Fallback Fallback
}

// A Task is the allocation of one sector in one year.
type Task struct {
	Sector string
	Year   int
	Total  float64

	// Regional holds regional totals, or nil for a national total.
	Regional map[string]float64

	Proxy    *Proxy
	CacheKey interface{}
	Fallback Fallback

	// Skip is true if there is no total for this year.
	Skip bool
}

// Tasks returns one task for each year in the series. Years with no
// total are marked to be skipped. A year with a total but no proxy
// results in a *MissingProxyError.
func (s *SectorSeries) Tasks() ([]*Task, error) {
	if s.Last < s.First {
		return nil, fmt.Errorf("ch4grid: sector %s: last year %d is before first year %d", s.Sector, s.Last, s.First)
	}
	var key interface{}
	if s.Proxies != nil {
		key = s.Proxies.CacheKey()
	}
	tasks := make([]*Task, 0, s.Last-s.First+1)
	for y := s.First; y <= s.Last; y++ {
		t := &Task{Sector: s.Sector, Year: y, Fallback: s.Fallback, CacheKey: key}
		regional, hasRegional := s.RegionTotals[y]
		total, hasTotal := s.Totals[y]
		switch {
		case hasRegional:
			t.Regional = regional
			t.Total = sumRegions(regional)
		case hasTotal:
			t.Total = total
		default:
			t.Skip = true
			tasks = append(tasks, t)
			continue
		}
		if s.Proxies == nil {
			return nil, &MissingProxyError{Sector: s.Sector, Year: y}
		}
		p, err := s.Proxies.Proxy(s.Sector, y)
		if err != nil {
			return nil, err
		}
		t.Proxy = p
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func sumRegions(m map[string]float64) float64 {
	regions := make([]string, 0, len(m))
	for r := range m {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	var sum float64
	for _, r := range regions {
		sum += m[r]
	}
	return sum
}

// Run allocates the task's total using alloc and the weight cache c,
// which may be nil.
func (t *Task) Run(grid *GridDef, alloc *Allocator, c *WeightCache) (*FluxGrid, error) {
	if t.Skip {
		return nil, fmt.Errorf("ch4grid: sector %s, year %d: no national total", t.Sector, t.Year)
	}
	var a Allocator
	if alloc != nil {
		a = *alloc
	}
	if t.Fallback != nil {
		a.Fallback = t.Fallback
	}
	if t.Regional != nil {
		p := *t.Proxy
		p.Sector, p.Year = t.Sector, t.Year
		return a.AllocateRegional(&p, grid, t.Regional)
	}
	w, err := c.WeightGrid(t.Proxy, t.CacheKey, grid)
	if err != nil {
		return nil, err
	}
	// Cached weight grids are shared between sectors and years.
	wy := *w
	wy.Sector, wy.Year = t.Sector, t.Year
	return a.Allocate(&wy, t.Total)
}

// WeightCache holds normalized weight grids of time-invariant proxies so
// that they are computed only once. It is safe for concurrent use.
type WeightCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

type cacheEntry struct {
	once sync.Once
	w    *WeightGrid
	err  error
}

// NewWeightCache returns a cache that holds up to maxEntries weight grids.
func NewWeightCache(maxEntries int) *WeightCache {
	return &WeightCache{cache: lru.New(maxEntries)}
}

// WeightGrid returns the weight grid of p on grid. If key is not nil,
// the result is cached under key. A nil cache computes the weight grid
// every time.
func (c *WeightCache) WeightGrid(p *Proxy, key interface{}, grid *GridDef) (*WeightGrid, error) {
	if c == nil || key == nil {
		return NewWeightGrid(p, grid)
	}
	k := grid.Name + "_" + hash.Hash(key)
	c.mu.Lock()
	var e *cacheEntry
	if v, ok := c.cache.Get(k); ok {
		e = v.(*cacheEntry)
	} else {
		e = new(cacheEntry)
		c.cache.Add(k, e)
	}
	c.mu.Unlock()
	e.once.Do(func() {
		e.w, e.err = NewWeightGrid(p, grid)
	})
	return e.w, e.err
}

// Len returns the number of cached weight grids.
func (c *WeightCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
