package io

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

var end = binary.LittleEndian

const headerPad = 26

/*
SpectraHeader is the header of a spectra file. The binary format is:

	|-- 1 --||-- 2 --||-- 3 --||-- 4 --||-- 5 --||-- ... 6 ... --||-- ... 7 ... --|

	1 - (float64) Redshift of the snapshot.
	2 - (float64) Width of the box in internal length units.
	3 - (int32) Number of pixels per sightline.
	4 - (int32) Number of sightlines.
	5 - ([26]int32) Zeroed padding, so the header is 128 bytes.
	6 - ([]float64) Optical depth, sightline-major.
	7 - ([]float64) Column density, sightline-major.

Everything is little endian.
*/
type SpectraHeader struct {
	Redshift float64
	Box      float64
	Bins     int32
	Lines    int32

	Pad [headerPad]int32
}

// Size returns the number of elements in each of the two arrays.
func (hd *SpectraHeader) Size() int { return int(hd.Bins) * int(hd.Lines) }

// WriteSpectraTo writes a header followed by the optical depth and column
// density arrays to wr.
func WriteSpectraTo(wr io.Writer, hd *SpectraHeader, tau, colden []float64) error {
	if hd.Bins <= 0 || hd.Lines <= 0 {
		return fmt.Errorf(
			"Header has %d bins and %d sightlines. Both must be positive.",
			hd.Bins, hd.Lines,
		)
	} else if len(tau) != hd.Size() {
		return fmt.Errorf(
			"tau has length %d, but header describes %d pixels.",
			len(tau), hd.Size(),
		)
	} else if len(colden) != hd.Size() {
		return fmt.Errorf(
			"colden has length %d, but header describes %d pixels.",
			len(colden), hd.Size(),
		)
	}

	out := *hd
	out.Pad = [headerPad]int32{}
	if err := binary.Write(wr, end, &out); err != nil {
		return err
	}
	if err := binary.Write(wr, end, tau); err != nil {
		return err
	}
	return binary.Write(wr, end, colden)
}

// WriteSpectra writes a spectra file.
func WriteSpectra(file string, hd *SpectraHeader, tau, colden []float64) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}

	wr := bufio.NewWriter(f)
	if err := WriteSpectraTo(wr, hd, tau, colden); err != nil {
		f.Close()
		return err
	}
	if err := wr.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSpectraFrom reads a header and both arrays from rd.
func ReadSpectraFrom(rd io.Reader) (hd *SpectraHeader, tau, colden []float64, err error) {
	hd = &SpectraHeader{}
	if err := binary.Read(rd, end, hd); err != nil {
		return nil, nil, nil, fmt.Errorf("Could not read spectra header: %w", err)
	}
	if hd.Bins <= 0 || hd.Lines <= 0 {
		return nil, nil, nil, fmt.Errorf(
			"Spectra header has %d bins and %d sightlines.", hd.Bins, hd.Lines,
		)
	}

	tau, colden = make([]float64, hd.Size()), make([]float64, hd.Size())
	if err := binary.Read(rd, end, tau); err != nil {
		return nil, nil, nil, fmt.Errorf("Could not read optical depths: %w", err)
	}
	if err := binary.Read(rd, end, colden); err != nil {
		return nil, nil, nil, fmt.Errorf("Could not read column densities: %w", err)
	}
	return hd, tau, colden, nil
}

// ReadSpectra reads a spectra file.
func ReadSpectra(file string) (hd *SpectraHeader, tau, colden []float64, err error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()
	return ReadSpectraFrom(bufio.NewReader(f))
}
