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

// Command ch4grid is a command-line interface for the gridded methane
// emissions inventory.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/ch4grid/ch4util"
)

func main() {
	if err := ch4util.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
