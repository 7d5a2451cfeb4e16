package io

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"
)

// Summary describes a finished extraction run.
type Summary struct {
	Redshift   float64 `yaml:"redshift"`
	Box        float64 `yaml:"box"`
	Bins       int     `yaml:"bins"`
	Sightlines int     `yaml:"sightlines"`
	Species    string  `yaml:"species"`

	Chunks    int `yaml:"chunks"`
	Particles int `yaml:"particles"`
	Rejected    int `yaml:"rejected"`
	TauRejected int `yaml:"tau_rejected"`
	Unmatched   int `yaml:"unmatched"`
	Deposits    int `yaml:"deposits"`

	ColdenFirst float64 `yaml:"colden_first"`
	ColdenLast  float64 `yaml:"colden_last"`
	ColdenMax   float64 `yaml:"colden_max"`
	TauFirst    float64 `yaml:"tau_first"`
	TauLast     float64 `yaml:"tau_last"`
	TauMax      float64 `yaml:"tau_max"`
	TauMean     float64 `yaml:"tau_mean"`
}

// WriteSummary writes a summary as YAML.
func WriteSummary(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing summary file: %w", err)
	}
	return nil
}

// ReadSummary reads a summary written by WriteSummary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Summary{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing summary file %s: %w", path, err)
	}
	return s, nil
}

// ChunkRecord is one row of the per-chunk diagnostics file.
type ChunkRecord struct {
	File        string  `csv:"file"`
	Particles   int     `csv:"particles"`
	Rejected    int     `csv:"rejected"`
	TauRejected int     `csv:"tau_rejected"`
	Unmatched   int     `csv:"unmatched"`
	Deposits    int     `csv:"deposits"`
	Seconds     float64 `csv:"seconds"`
}

// DiagnosticsWriter appends ChunkRecords to a CSV file. A nil
// DiagnosticsWriter discards every record.
type DiagnosticsWriter struct {
	f             *os.File
	headerWritten bool
}

// NewDiagnosticsWriter creates the file at path. If path is empty, nil is
// returned and output is disabled.
func NewDiagnosticsWriter(path string) (*DiagnosticsWriter, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating diagnostics file: %w", err)
	}
	return &DiagnosticsWriter{f: f}, nil
}

// Write appends a single record.
func (dw *DiagnosticsWriter) Write(rec ChunkRecord) error {
	if dw == nil {
		return nil
	}

	records := []ChunkRecord{rec}
	if !dw.headerWritten {
		if err := gocsv.Marshal(records, dw.f); err != nil {
			return fmt.Errorf("writing diagnostics: %w", err)
		}
		dw.headerWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, dw.f); err != nil {
			return fmt.Errorf("writing diagnostics: %w", err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (dw *DiagnosticsWriter) Close() error {
	if dw == nil {
		return nil
	}
	return dw.f.Close()
}

// ReadDiagnostics reads every record in a diagnostics file.
func ReadDiagnostics(path string) ([]ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []ChunkRecord{}
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("parsing diagnostics file %s: %w", path, err)
	}
	return records, nil
}
