/*package spectra computes synthetic absorption spectra along sightlines
through SPH gas snapshots.

An Extractor owns the sightline table, the index over it, and the optical
depth and column density grids. Snapshot chunks are converted to physical
units and deposited one at a time, and the grids are written once at the
end of the run.
*/
package spectra

import (
	"errors"
	"fmt"
	"log"
	"path"
	"runtime"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/spectra/absorb"
	"github.com/phil-mansfield/spectra/cosmo"
	"github.com/phil-mansfield/spectra/io"
	"github.com/phil-mansfield/spectra/los"
	"github.com/phil-mansfield/spectra/los/index"
)

const DefaultBins = 1024

// LoadError is returned when snapshot data cannot be loaded.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError returns true if err was caused by snapshot data which could
// not be loaded.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Config describes a single extraction run.
type Config struct {
	Sightlines, Bins, Workers int
	Seed                      uint64
	// Table is a sightline table file. Random sightlines are used if it is
	// empty.
	Table   string
	Species absorb.Species
	TauTail float64

	// DiagnosticsFile receives one CSV row per chunk if it is set.
	DiagnosticsFile string
	Log             bool
}

type Extractor struct {
	cfg    Config
	hd     *io.SnapshotHeader
	units  *cosmo.Units
	tab    *los.Table
	interp *absorb.Interp

	tau, colden []float64
	stats       absorb.Stats

	chunks  *io.Chunks
	pending *io.Gas
	files   []string
	diag    *io.DiagnosticsWriter

	// io related things
	log bool
	ms  runtime.MemStats
}

// NewTable creates the sightline table described by cfg for a box of the
// given width.
func NewTable(cfg *Config, box float64) (*los.Table, error) {
	if cfg.Sightlines <= 0 {
		return nil, fmt.Errorf(
			"Need a positive number of sightlines, got %d.", cfg.Sightlines,
		)
	}
	if cfg.Table != "" {
		return los.ReadTable(cfg.Table, cfg.Sightlines, box)
	}
	return los.NewRandomTable(cfg.Sightlines, box, cfg.Seed)
}

// NewExtractor reads the first chunk of the snapshot with the given prefix
// and prepares every buffer needed for the run. Failing to load the first
// chunk is a LoadError.
func NewExtractor(input string, cfg Config) (*Extractor, error) {
	ext := &Extractor{cfg: cfg, log: cfg.Log}
	if ext.cfg.Bins == 0 {
		ext.cfg.Bins = DefaultBins
	}

	ext.chunks = io.NewChunks(input)
	file, ok := ext.chunks.Next()
	if !ok {
		return nil, &LoadError{fmt.Errorf("No snapshot files match %s.", input)}
	}
	hd, gas, err := io.ReadGadgetGas(file)
	if err != nil {
		return nil, &LoadError{err}
	} else if gas.Len() == 0 {
		return nil, &LoadError{fmt.Errorf("Could not read particles from %s.", file)}
	}
	ext.hd, ext.pending = hd, gas
	ext.files = append(ext.files, file)

	ext.units, err = cosmo.NewUnits(
		hd.Cosmo.Z, hd.Cosmo.OmegaM, hd.Cosmo.OmegaL, hd.Cosmo.H100,
	)
	if err != nil {
		return nil, &LoadError{fmt.Errorf("Header of %s: %w", file, err)}
	}

	ext.tab, err = NewTable(&ext.cfg, hd.TotalWidth)
	if err != nil {
		return nil, err
	}

	ext.interp, err = absorb.New(absorb.Config{
		Bins:    ext.cfg.Bins,
		Species: ext.cfg.Species,
		Box:     hd.TotalWidth,
		VelFac:  ext.units.VelFac(),
		A:       ext.units.A,
		TauTail: ext.cfg.TauTail,
		Workers: ext.cfg.Workers,
	}, index.New(ext.tab))
	if err != nil {
		return nil, err
	}

	ext.tau = make([]float64, ext.interp.Size())
	ext.colden = make([]float64, ext.interp.Size())

	ext.diag, err = io.NewDiagnosticsWriter(cfg.DiagnosticsFile)
	if err != nil {
		return nil, err
	}

	if ext.log {
		log.Printf(
			"Box: %g, z: %g, velfac: %g. %d sightlines, %d bins, %d workers.",
			hd.TotalWidth, hd.Cosmo.Z, ext.units.VelFac(), ext.tab.Len(),
			ext.cfg.Bins, ext.interp.Config().Workers,
		)
		ext.logMem()
	}

	return ext, nil
}

// Run deposits every chunk of the snapshot. The first chunk must load, but
// the run ends quietly at the first later chunk which cannot be read, and
// everything deposited so far is kept.
func (ext *Extractor) Run() error {
	defer ext.diag.Close()

	if ext.pending != nil {
		gas := ext.pending
		ext.pending = nil
		if err := ext.addChunk(ext.files[0], gas); err != nil {
			return err
		}
	}

	for {
		file, ok := ext.chunks.Next()
		if !ok {
			break
		}

		hd, gas, err := io.ReadGadgetGas(file)
		if err != nil {
			if ext.log {
				log.Printf("Stopping at %s: %s", path.Base(file), err.Error())
			}
			break
		} else if hd.TotalWidth != ext.hd.TotalWidth {
			return &LoadError{fmt.Errorf(
				"%s has box width %g, but the first chunk has %g.",
				file, hd.TotalWidth, ext.hd.TotalWidth,
			)}
		}

		ext.files = append(ext.files, file)
		if err := ext.addChunk(file, gas); err != nil {
			return err
		}
	}

	if ext.log {
		n := len(ext.tau)
		log.Printf("colden: %g, %g", ext.colden[0], ext.colden[n-1])
		log.Printf("tau: %g, %g", ext.tau[0], ext.tau[n-1])
	}
	return nil
}

// addChunk converts a chunk to physical units and deposits it.
func (ext *Extractor) addChunk(file string, gas *io.Gas) error {
	if ext.log {
		log.Printf("Depositing %d particles from %s", gas.Len(), path.Base(file))
	}
	t0 := time.Now()

	stats, err := ext.AddGas(gas)
	if err != nil {
		return err
	}

	err = ext.diag.Write(io.ChunkRecord{
		File:        path.Base(file),
		Particles:   stats.Particles,
		Rejected:    stats.Rejected,
		TauRejected: stats.TauRejected,
		Unmatched:   stats.Unmatched,
		Deposits:    stats.Deposits,
		Seconds:     time.Since(t0).Seconds(),
	})
	if err != nil {
		return err
	}

	if ext.log {
		log.Printf(
			"%d rejected, %d without tau, %d unmatched, %d deposits.",
			stats.Rejected, stats.TauRejected, stats.Unmatched, stats.Deposits,
		)
		runtime.GC()
		ext.logMem()
	}
	return nil
}

// AddGas converts gas to physical units in place and deposits it onto
// every sightline.
func (ext *Extractor) AddGas(gas *io.Gas) (absorb.Stats, error) {
	err := ext.units.Convert(gas.Rho, gas.NH, gas.U, gas.NE)
	if err != nil {
		return absorb.Stats{}, err
	}

	ps := &absorb.Particles{
		Xs: gas.Xs, Vs: gas.Vs,
		Dens: gas.Rho, Temp: gas.U, H: gas.HSml,
	}
	stats, err := ext.interp.Compute(ext.tau, ext.colden, ps)
	if err != nil {
		return stats, err
	}
	ext.stats.Add(stats)
	return stats, nil
}

func (ext *Extractor) logMem() {
	runtime.ReadMemStats(&ext.ms)
	log.Printf(
		"Alloc: %5d MB, Sys: %5d MB",
		ext.ms.Alloc>>20, ext.ms.Sys>>20,
	)
}

// Tau returns the optical depth grid, indexed as line*Bins + pixel.
func (ext *Extractor) Tau() []float64 { return ext.tau }

// Colden returns the column density grid, indexed as line*Bins + pixel.
func (ext *Extractor) Colden() []float64 { return ext.colden }

// Stats returns the counts accumulated over every chunk so far.
func (ext *Extractor) Stats() absorb.Stats { return ext.stats }

// Table returns the sightline table.
func (ext *Extractor) Table() *los.Table { return ext.tab }

// Files returns the chunks deposited so far.
func (ext *Extractor) Files() []string { return ext.files }

// Header returns the header of the spectra file.
func (ext *Extractor) Header() *io.SpectraHeader {
	return &io.SpectraHeader{
		Redshift: ext.hd.Cosmo.Z,
		Box:      ext.hd.TotalWidth,
		Bins:     int32(ext.cfg.Bins),
		Lines:    int32(ext.tab.Len()),
	}
}

// Summary describes the run so far.
func (ext *Extractor) Summary() *io.Summary {
	n := len(ext.tau)
	return &io.Summary{
		Redshift:   ext.hd.Cosmo.Z,
		Box:        ext.hd.TotalWidth,
		Bins:       ext.cfg.Bins,
		Sightlines: ext.tab.Len(),
		Species:    ext.cfg.Species.Name,

		Chunks:      len(ext.files),
		Particles:   ext.stats.Particles,
		Rejected:    ext.stats.Rejected,
		TauRejected: ext.stats.TauRejected,
		Unmatched:   ext.stats.Unmatched,
		Deposits:    ext.stats.Deposits,

		ColdenFirst: ext.colden[0],
		ColdenLast:  ext.colden[n-1],
		ColdenMax:   floats.Max(ext.colden),
		TauFirst:    ext.tau[0],
		TauLast:     ext.tau[n-1],
		TauMax:      floats.Max(ext.tau),
		TauMean:     floats.Sum(ext.tau) / float64(n),
	}
}

// SpectraFile returns the name of the spectra file for an output prefix.
func SpectraFile(out string) string { return out + "_spectra.dat" }

// SummaryFile returns the name of the summary file for an output prefix.
func SummaryFile(out string) string { return out + "_spectra.yaml" }

// DiagnosticsFile returns the name of the diagnostics file for an output
// prefix.
func DiagnosticsFile(out string) string { return out + "_chunks.csv" }

// Write writes the spectra file for the given output prefix, and the
// summary file if summary is true.
func (ext *Extractor) Write(out string, summary bool) error {
	err := io.WriteSpectra(SpectraFile(out), ext.Header(), ext.tau, ext.colden)
	if err != nil {
		return err
	}
	if summary {
		return io.WriteSummary(SummaryFile(out), ext.Summary())
	}
	return nil
}
