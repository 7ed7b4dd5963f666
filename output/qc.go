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

package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/spatialmodel/ch4grid"
)

// WriteQC writes the quality-control report r to w as a CSV table with
// one row per sector-year.
func WriteQC(w io.Writer, r *ch4grid.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(r.Table()); err != nil {
		return fmt.Errorf("output: writing QC report: %w", err)
	}
	return nil
}
