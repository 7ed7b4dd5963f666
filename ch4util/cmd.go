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

// Package ch4util holds the command-line interface and configuration of
// the methane emissions gridding engine.
package ch4util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/ch4grid"
	"github.com/spatialmodel/ch4grid/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to ch4grid.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages: one of
              debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile
              will be saved in the same location as the OutputFile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SectorsFile",
			usage: `
              SectorsFile is the path to the TOML file that defines the
              emissions sectors and their spatial proxies. It can include
              environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Totals.File",
			usage: `
              Totals.File is the path to the CSV or Excel (.xlsx) table of
              national totals, with columns for sector, year and total and
              an optional region column. It can include environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Totals.Sheet",
			usage: `
              Totals.Sheet is the name of the worksheet holding the totals
              when Totals.File is an Excel file. If it is blank, the first
              sheet is used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Totals.Units",
			usage: `
              Totals.Units are the units of the national totals: Tg, Gg,
              kt, tonnes, tons or kg (per year).`,
			defaultVal: "Tg",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Years.First",
			usage: `
              Years.First is the first inventory year to grid.`,
			defaultVal: 2012,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Years.Last",
			usage: `
              Years.Last is the last inventory year to grid.`,
			defaultVal: 2018,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the desired NetCDF output file location.
              It can include environment variables.`,
			shorthand:  "o",
			defaultVal: "ch4.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputUnits",
			usage: `
              OutputUnits are the units of the grid product: "kt/year" for
              kilotonnes per grid cell per year or "flux" for molecules
              per square centimeter per second.`,
			defaultVal: string(output.KtPerYear),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "QCFile",
			usage: `
              QCFile is the path to the quality-control summary CSV file. If it is
              left blank, it is saved in the same location as the OutputFile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "GridShapefile",
			usage: `
              GridShapefile is the directory to write a shapefile of the grid
              cells to. If it is blank, no shapefile is written by the run command.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Title",
			usage: `
              Title is the title of the grid product.`,
			defaultVal: "Gridded methane emissions",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Description",
			usage: `
              Description describes the grid product.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Downscale.Enabled",
			usage: `
              Downscale.Enabled specifies whether to create grids for years
              without proxy data by rescaling the grids of a base year.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Downscale.BaseYear",
			usage: `
              Downscale.BaseYear is the year whose grids are rescaled.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Downscale.TargetYears",
			usage: `
              Downscale.TargetYears are the years to create by downscaling. If
              none are given, every year after Downscale.BaseYear in
              Downscale.Totals is used.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Downscale.Totals",
			usage: `
              Downscale.Totals is the path to the table of new national totals
              for the downscaling years, in the same format and units as
              Totals.File.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Downscale.BaseFile",
			usage: `
              Downscale.BaseFile is an optional grid product, in kt/year, that holds
              the base year grids. Base year grids allocated in the same run
              take precedence.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the maximum number of sector-years that are allocated
              at once. If it is zero, the number of processors is used.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Tolerance",
			usage: `
              Tolerance is the relative tolerance for the conservation of mass
              between national totals and gridded totals.`,
			defaultVal: ch4grid.DefaultTolerance,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "PrintReport",
			usage: `
              PrintReport specifies whether to print the quality-control
              table when the run finishes.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CH4GRID")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(gridCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("ch4grid: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "ch4grid",
	Short: "A gridded methane emissions inventory.",
	Long: `ch4grid allocates national methane emissions totals for each source sector
and year to a 0.1° × 0.1° grid covering the contiguous United States using
spatial proxies, and writes the gridded emissions to a NetCDF file.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CH4GRID_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'. Many configuration
variables are additionally allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of ch4grid.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("ch4grid v%s\n", ch4grid.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd grids the emissions of the configured sectors.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Grid emissions.",
	Long: `run allocates the national totals in Totals.File for each sector defined in
SectorsFile and each year from Years.First to Years.Last to the grid, and writes
the gridded emissions to OutputFile and a quality-control summary to QCFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := runConfig(Cfg)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cmd.OutOrStdout(), Cfg.GetString("LogLevel"),
			checkLogFile(Cfg.GetString("LogFile"), c.OutputFile))
		if err != nil {
			return err
		}
		defer closeLog()

		r, err := Run(context.Background(), c, log)
		if err != nil {
			return err
		}
		if Cfg.GetBool("PrintReport") {
			if _, err := r.Report.Table().Tabbed(cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// gridCmd is a command that writes a shapefile of the grid cells.
var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Write a shapefile of the grid",
	Long: `grid writes the cells of the 0.1° × 0.1° grid covering the contiguous United
States, with their row, column and area, to a shapefile named after the grid in
the directory GridShapefile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := ch4grid.CONUS()
		if err != nil {
			return err
		}
		dir := os.ExpandEnv(Cfg.GetString("GridShapefile"))
		if dir == "" {
			return fmt.Errorf("ch4util: the GridShapefile configuration variable must be set")
		}
		if err := grid.WriteToShp(dir); err != nil {
			return err
		}
		cmd.Printf("wrote grid %s to %s\n", grid.Name, dir)
		return nil
	},
	DisableAutoGenTag: true,
}

// runConfig assembles the settings of a gridding run from cfg.
func runConfig(cfg *viper.Viper) (*RunConfig, error) {
	grid, err := ch4grid.CONUS()
	if err != nil {
		return nil, err
	}
	outputFile, err := checkOutputFile(cfg.GetString("OutputFile"))
	if err != nil {
		return nil, err
	}
	units, err := output.ParseUnits(os.ExpandEnv(cfg.GetString("OutputUnits")))
	if err != nil {
		return nil, err
	}
	first, last := cfg.GetInt("Years.First"), cfg.GetInt("Years.Last")
	if err := checkYears(first, last); err != nil {
		return nil, err
	}
	tol := cfg.GetFloat64("Tolerance")
	if err := checkTolerance(tol); err != nil {
		return nil, err
	}
	sectors, err := readSectorFile(cfg.GetString("SectorsFile"))
	if err != nil {
		return nil, err
	}
	totals, err := readTotals(cfg, "")
	if err != nil {
		return nil, err
	}
	ds, err := DownscaleConfig(cfg, grid, sectors)
	if err != nil {
		return nil, err
	}
	return &RunConfig{
		Grid:             grid,
		Sectors:          sectors,
		Totals:           totals,
		First:            first,
		Last:             last,
		OutputFile:       outputFile,
		OutputUnits:      units,
		Meta:             metadata(cfg, sectors),
		QCFile:           checkQCFile(cfg.GetString("QCFile"), outputFile),
		GridShapefileDir: os.ExpandEnv(cfg.GetString("GridShapefile")),
		Downscale:        ds,
		Workers:          cfg.GetInt("Workers"),
		Tolerance:        tol,
	}, nil
}
