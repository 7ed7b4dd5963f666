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
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
)

// Status is the outcome of allocating one sector in one year.
type Status string

// Task outcomes.
const (
	StatusOK         Status = "ok"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
	StatusDownscaled Status = "downscaled"
)

// TaskReport holds quality-control information about the allocation of
// one sector in one year.
type TaskReport struct {
	Sector        string
	Year          int
	Status        Status
	NationalTotal float64
	GriddedTotal  float64
	Diagnostics   Diagnostics
	FallbackUsed  bool
	Err           error
}

// RelDelta returns the relative difference between the gridded and
// national totals.
func (r *TaskReport) RelDelta() float64 {
	if r.NationalTotal == 0 {
		if r.GriddedTotal == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(r.GriddedTotal-r.NationalTotal) / r.NationalTotal
}

// A Report collects task reports. It is safe for concurrent use.
type Report struct {
	mu    sync.Mutex
	tasks []*TaskReport
}

// Add adds task reports to the report.
func (r *Report) Add(t ...*TaskReport) {
	r.mu.Lock()
	r.tasks = append(r.tasks, t...)
	r.mu.Unlock()
}

// Tasks returns the task reports sorted by sector and year.
func (r *Report) Tasks() []*TaskReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := make([]*TaskReport, len(r.tasks))
	copy(o, r.tasks)
	sort.SliceStable(o, func(i, j int) bool {
		if o[i].Sector != o[j].Sector {
			return o[i].Sector < o[j].Sector
		}
		return o[i].Year < o[j].Year
	})
	return o
}

// Failed returns the reports of tasks that failed.
func (r *Report) Failed() []*TaskReport {
	var o []*TaskReport
	for _, t := range r.Tasks() {
		if t.Status == StatusFailed {
			o = append(o, t)
		}
	}
	return o
}

// Count returns the number of tasks with the given status.
func (r *Report) Count(s Status) int {
	n := 0
	for _, t := range r.Tasks() {
		if t.Status == s {
			n++
		}
	}
	return n
}

// Table returns a table of the report, with one row per task.
func (r *Report) Table() Table {
	t := Table{{"Sector", "Year", "Status", "National total", "Gridded total",
		"Relative delta", "Features", "Used", "Zero magnitude", "Out of extent",
		"Malformed", "No region total", "Fallback", "Error"}}
	for _, tr := range r.Tasks() {
		var msg string
		if tr.Err != nil {
			msg = strings.ReplaceAll(tr.Err.Error(), "\n", "; ")
		}
		d := tr.Diagnostics
		t = append(t, []string{
			tr.Sector,
			strconv.Itoa(tr.Year),
			string(tr.Status),
			fmt.Sprintf("%g", tr.NationalTotal),
			fmt.Sprintf("%g", tr.GriddedTotal),
			fmt.Sprintf("%.3g", tr.RelDelta()),
			strconv.Itoa(d.Features),
			strconv.Itoa(d.Used),
			strconv.Itoa(d.ZeroMagnitude),
			strconv.Itoa(d.OutOfExtent),
			strconv.Itoa(d.Malformed),
			strconv.Itoa(d.NoRegionTotal),
			strconv.FormatBool(tr.FallbackUsed),
			msg,
		})
	}
	return t
}

// A Table holds a text representation of report data.
type Table [][]string

// Tabbed creates a tab-separated table.
func (t Table) Tabbed(w io.Writer) (n int, err error) {
	ww := new(tabwriter.Writer)
	ww.Init(w, 0, 2, 0, '\t', 0)
	var nn int
	for _, l := range t {
		for _, r := range l {
			nn, err = fmt.Fprint(ww, r+"\t")
			if err != nil {
				return
			}
			n += nn
		}
		nn, err = fmt.Fprint(ww, "\n")
		if err != nil {
			return
		}
		n += nn
	}
	err = ww.Flush()
	return
}
