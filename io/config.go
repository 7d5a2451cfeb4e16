package io

import (
	"fmt"

	"gopkg.in/gcfg.v1"
)

const (
	ExampleExtractFile = `[Extract]

#######################
# Required Parameters #
#######################

# Snapshot prefix. If Input.0 exists, the files Input.0, Input.1, ... are
# read in order. Otherwise Input is read as a single file.
Input = path/to/snapdir/snap_010
# Output prefix. Spectra are written to Output_spectra.dat.
Output = path/to/output/snap_010

# Number of sightlines.
Sightlines = 1000

#######################
# Optional Parameters #
#######################

# Number of pixels along each sightline. Default is 1024.
# Bins = 1024

# Text file containing one sightline per row: axis x y z, with axis 1, 2, or
# 3 for X, Y, or Z. If not set, sightlines are placed randomly.
# Table = path/to/table.txt
# Seed for random sightlines.
# Seed = 23

# Number of goroutines. Defaults to the number of CPUs.
# Workers = 8

# Absorption is only deposited where the line profile is larger than
# TauTail times its peak. Default is 1e-5.
# TauTail = 1e-5

# Summary and Diagnostics write a YAML summary of the run and a CSV file with
# one row per snapshot chunk. Both are written by default.
# Summary = true
# Diagnostics = true

# LogFile = log.out

[Species]

# Name of a known transition: HI or HeII. If any of the other fields are
# set, they override the named transition.
Name = HI

# Lambda = 1215.6701e-8
# Fosc = 0.4164
# Gamma = 6.265e8
# Mass = 1.00794`
)

type ExtractConfig struct {
	// Required
	Input, Output string
	Sightlines    int

	// Optional
	Bins, Workers        int
	Seed                 uint64
	Table, LogFile       string
	TauTail              float64
	Summary, Diagnostics bool
}

type SpeciesConfig struct {
	Name                      string
	Lambda, Fosc, Gamma, Mass float64
}

type ExtractWrapper struct {
	Extract ExtractConfig
	Species SpeciesConfig
}

func DefaultExtractWrapper() *ExtractWrapper {
	con := ExtractConfig{}
	con.Bins = 1024
	con.Seed = 23
	con.TauTail = 1e-5
	con.Summary = true
	con.Diagnostics = true
	return &ExtractWrapper{con, SpeciesConfig{Name: "HI"}}
}

func (con *ExtractConfig) ValidInput() bool {
	return con.Input != ""
}
func (con *ExtractConfig) ValidOutput() bool {
	return con.Output != ""
}
func (con *ExtractConfig) ValidSightlines() bool {
	return con.Sightlines > 0
}
func (con *ExtractConfig) ValidBins() bool {
	return con.Bins > 0
}
func (con *ExtractConfig) ValidWorkers() bool {
	return con.Workers >= 0
}
func (con *ExtractConfig) ValidTable() bool {
	return con.Table != ""
}
func (con *ExtractConfig) ValidLogFile() bool {
	return con.LogFile != ""
}
func (con *ExtractConfig) ValidTauTail() bool {
	return con.TauTail > 0 && con.TauTail < 1
}

// HasOverrides returns true if any line constant was given explicitly.
func (sp *SpeciesConfig) HasOverrides() bool {
	return sp.Lambda != 0 || sp.Fosc != 0 || sp.Gamma != 0 || sp.Mass != 0
}

// CheckInit returns an error describing the first invalid required or
// optional parameter.
func (w *ExtractWrapper) CheckInit() error {
	con := &w.Extract
	switch {
	case !con.ValidInput():
		return fmt.Errorf("Need to specify an Input snapshot.")
	case !con.ValidOutput():
		return fmt.Errorf("Need to specify an Output prefix.")
	case !con.ValidSightlines():
		return fmt.Errorf(
			"Sightlines must be positive, but is %d.", con.Sightlines,
		)
	case !con.ValidBins():
		return fmt.Errorf("Bins must be positive, but is %d.", con.Bins)
	case !con.ValidWorkers():
		return fmt.Errorf("Workers cannot be negative, but is %d.", con.Workers)
	case !con.ValidTauTail():
		return fmt.Errorf("TauTail must be in (0, 1), but is %g.", con.TauTail)
	case w.Species.Name == "" && !w.Species.HasOverrides():
		return fmt.Errorf("Need to specify a Species.")
	}
	return nil
}

// ReadExtractConfig reads a config file on top of the default values.
func ReadExtractConfig(fname string) (*ExtractWrapper, error) {
	w := DefaultExtractWrapper()
	if err := gcfg.ReadFileInto(w, fname); err != nil {
		return nil, err
	}
	return w, nil
}
