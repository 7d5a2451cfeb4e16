package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/phil-mansfield/spectra"
	"github.com/phil-mansfield/spectra/absorb"
	"github.com/phil-mansfield/spectra/io"

	plt "github.com/phil-mansfield/pyplot"
)

// Exit codes.
const (
	exitOK      = 0
	exitIO      = 1
	exitLoad    = 2
	exitMissing = 99
)

const usage = `Usage: %s -n NUMLOS -i snapshot -o output [-t table]

Computes optical depth and column density along NUMLOS sightlines through a
Gadget-2 snapshot. If snapshot.0 exists, snapshot.0, snapshot.1, ... are
read. Results are written to output_spectra.dat.

Alternatively, %s -Config file reads parameters from a config file (see
-ExampleConfig), and %s -Plot output_spectra.dat plots a single sightline.

`

func main() {
	os.Exit(run(os.Args[0], os.Args[1:]))
}

// run parses the command line and returns the process exit code.
func run(name string, args []string) int {
	var (
		out, in, table, config, plot, logFile string
		n, bins, workers, line                int
		seed                                  uint64
		help, exampleConfig, logFlag          bool
	)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&out, "o", "", "Output prefix. '_spectra.dat' is appended.")
	fs.StringVar(&in, "i", "", "Snapshot file, without the '.0'.")
	fs.IntVar(&n, "n", 0, "Number of sightlines.")
	fs.StringVar(&table, "t", "",
		"Sightline table with rows 'axis x y z'. Random if not set.")
	fs.BoolVar(&help, "h", false, "Print this message.")

	fs.StringVar(&config, "Config", "", "[Extract] configuration file.")
	fs.BoolVar(&exampleConfig, "ExampleConfig", false,
		"Prints an example configuration file to stdout.")
	fs.StringVar(&plot, "Plot", "",
		"Plots one sightline of the given spectra file instead of extracting.")
	fs.IntVar(&line, "Line", 0, "Sightline plotted by -Plot.")
	fs.IntVar(&bins, "Bins", spectra.DefaultBins, "Pixels per sightline.")
	fs.Uint64Var(&seed, "Seed", 23, "Seed for random sightlines.")
	fs.IntVar(&workers, "Workers", 0,
		"Number of goroutines. Defaults to the number of CPUs.")
	fs.BoolVar(&logFlag, "Log", false, "Log progress.")
	fs.StringVar(&logFile, "LogFile", "", "Redirects logging to a file.")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usage, name, name, name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); errors.Is(err, flag.ErrHelp) {
		return exitOK
	} else if err != nil {
		return exitIO
	}

	switch {
	case help:
		fs.Usage()
		return exitOK
	case exampleConfig:
		fmt.Println(io.ExampleExtractFile)
		return exitOK
	case plot != "":
		return plotMain(plot, line)
	}

	wrap := io.DefaultExtractWrapper()
	if config != "" {
		var err error
		wrap, err = io.ReadExtractConfig(config)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return exitIO
		}
	}

	// Flags which were given explicitly override the config file.
	con := &wrap.Extract
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			con.Output = out
		case "i":
			con.Input = in
		case "n":
			con.Sightlines = n
		case "t":
			con.Table = table
		case "Bins":
			con.Bins = bins
		case "Seed":
			con.Seed = seed
		case "Workers":
			con.Workers = workers
		case "LogFile":
			con.LogFile = logFile
		}
	})

	if msg := missing(con); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		fs.Usage()
		return exitMissing
	}
	if err := wrap.CheckInit(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitIO
	}

	if con.ValidLogFile() {
		f, err := os.Create(con.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return exitIO
		}
		defer f.Close()
		log.SetOutput(f)
		defer log.SetOutput(os.Stderr)
		logFlag = true
	}

	return extractMain(wrap, logFlag)
}

// missing returns a message naming the first required parameter which was
// not given, or "" if all of them were.
func missing(con *io.ExtractConfig) string {
	switch {
	case !con.ValidSightlines():
		return "Need NUMLOS > 0."
	case !con.ValidInput():
		return "Specify an input snapshot with -i."
	case !con.ValidOutput():
		return "Specify an output prefix with -o."
	}
	return ""
}

// species resolves the [Species] section into a line.
func species(sc *io.SpeciesConfig) (absorb.Species, error) {
	sp := absorb.Species{Name: sc.Name}
	if sc.Name != "" {
		var err error
		sp, err = absorb.LookupSpecies(sc.Name)
		if err != nil && !sc.HasOverrides() {
			return sp, err
		}
		sp.Name = sc.Name
	}

	if sc.Lambda != 0 {
		sp.Lambda = sc.Lambda
	}
	if sc.Fosc != 0 {
		sp.Fosc = sc.Fosc
	}
	if sc.Gamma != 0 {
		sp.Gamma = sc.Gamma
	}
	if sc.Mass != 0 {
		sp.Mass = sc.Mass
	}
	return sp, sp.Check()
}

func extractMain(wrap *io.ExtractWrapper, logFlag bool) int {
	con := &wrap.Extract
	sp, err := species(&wrap.Species)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitIO
	}

	cfg := spectra.Config{
		Sightlines: con.Sightlines,
		Bins:       con.Bins,
		Workers:    con.Workers,
		Seed:       con.Seed,
		Table:      con.Table,
		Species:    sp,
		TauTail:    con.TauTail,
		Log:        logFlag,
	}
	if con.Diagnostics {
		cfg.DiagnosticsFile = spectra.DiagnosticsFile(con.Output)
	}

	// Fail before any work if the output can't be written.
	f, err := os.Create(spectra.SpectraFile(con.Output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %s\n",
			spectra.SpectraFile(con.Output), err.Error())
		return exitIO
	}
	f.Close()

	ext, err := spectra.NewExtractor(con.Input, cfg)
	if err == nil {
		err = ext.Run()
	}
	if err == nil {
		err = ext.Write(con.Output, con.Summary)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		removeOutput(con.Output)
		if spectra.IsLoadError(err) {
			return exitLoad
		}
		return exitIO
	}

	if logFlag {
		st := ext.Stats()
		log.Printf(
			"Wrote %d sightlines from %d chunks. %d particles, %d rejected.",
			ext.Table().Len(), len(ext.Files()), st.Particles, st.Rejected,
		)
	}
	return exitOK
}

// removeOutput deletes every file a failed run may have left behind.
func removeOutput(out string) {
	for _, file := range []string{
		spectra.SpectraFile(out), spectra.SummaryFile(out),
		spectra.DiagnosticsFile(out),
	} {
		os.Remove(file)
	}
}

// plotMain plots the optical depth and column density of one sightline.
func plotMain(file string, line int) int {
	hd, tau, colden, err := io.ReadSpectra(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitIO
	}
	if line < 0 || line >= int(hd.Lines) {
		fmt.Fprintf(os.Stderr, "Line %d is not in [0, %d).\n", line, hd.Lines)
		return exitIO
	}

	bins := int(hd.Bins)
	xs := make([]float64, bins)
	for i := range xs {
		xs[i] = (float64(i) + 0.5) * hd.Box / float64(bins)
	}
	row := func(grid []float64) []float64 {
		return grid[line*bins : (line+1)*bins]
	}
	base := strings.TrimSuffix(file, ".dat")

	plt.Figure()
	plt.Plot(xs, row(tau), "k", plt.LW(2))
	plt.Title(fmt.Sprintf("Sightline %d, $z = %.2f$", line, hd.Redshift))
	plt.XLabel(`$x$ $[{\rm kpc}/h]$`, plt.FontSize(16))
	plt.YLabel(`$\tau$`, plt.FontSize(16))
	plt.YScale("log")
	plt.SaveFig(fmt.Sprintf("%s_tau_%d.png", base, line))

	plt.Figure()
	plt.Plot(xs, row(colden), plt.LW(2), plt.C("DarkSlateBlue"))
	plt.Title(fmt.Sprintf("Sightline %d, $z = %.2f$", line, hd.Redshift))
	plt.XLabel(`$x$ $[{\rm kpc}/h]$`, plt.FontSize(16))
	plt.YLabel(`$N_{\rm HI}$ $[{\rm cm}^{-2}]$`, plt.FontSize(16))
	plt.YScale("log")
	plt.SaveFig(fmt.Sprintf("%s_colden_%d.png", base, line))

	plt.Execute()
	return exitOK
}
