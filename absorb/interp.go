/*package absorb deposits SPH particles onto the pixels of a set of
sightlines, producing column density and optical depth spectra.

Column density is binned in position along the line. Optical depth is
binned in velocity: a particle at comoving position z along the line with
peculiar velocity v sits at velocity VelFac*z + v, and its absorption is
spread over neighboring pixels by its thermal (and, optionally, natural)
line width.
*/
package absorb

import (
	"fmt"
	"math"
	"runtime"

	"github.com/phil-mansfield/spectra/cosmo"
	"github.com/phil-mansfield/spectra/geom"
	"github.com/phil-mansfield/spectra/los/index"
	"github.com/phil-mansfield/spectra/sph"
)

const (
	// DefaultTauTail is the default fraction of a profile's peak below which
	// absorption is not deposited.
	DefaultTauTail = 1e-5
	lightKms       = cosmo.Light / 1e5

	// A deposit window wider than uniformSpan boxes is spread evenly over
	// the whole row.
	uniformSpan = 8
)

// Config contains every physical constant needed by an Interp. It is fixed
// for the lifetime of the Interp.
type Config struct {
	Bins    int
	Species Species
	// Box is the periodic width of the simulation in internal length units.
	Box float64
	// VelFac converts internal comoving lengths to km/s.
	VelFac float64
	// A is the scale factor of the snapshot.
	A float64
	// TauTail is the relative profile amplitude at which deposits are cut.
	TauTail float64
	// Workers is the number of goroutines used. Defaults to runtime.NumCPU.
	Workers int
}

// Particles is one chunk of gas. Dens is the neutral number density times
// the comoving-to-physical length conversion, Temp is in K, velocities are
// peculiar velocities in km/s, and H is the smoothing length. Nothing is
// modified by an Interp.
type Particles struct {
	Xs, Vs        []geom.Vec
	Dens, Temp, H []float32
}

// Len returns the number of particles in the chunk.
func (ps *Particles) Len() int { return len(ps.Xs) }

// Stats summarizes a single pass over a chunk.
type Stats struct {
	// Particles is the number of particles in the chunk.
	Particles int
	// Rejected particles had a non-finite or unphysical position, smoothing
	// length, or density and were skipped entirely.
	Rejected int
	// TauRejected particles had a non-finite or unphysical temperature or
	// velocity. Their column density is still deposited, but their optical
	// depth is not. Only counted when optical depth is computed.
	TauRejected int
	// Unmatched particles were valid but too far from every sightline.
	Unmatched int
	// Deposits is the number of particle-sightline pairs deposited.
	Deposits int
}

// Add accumulates the counts in s2 into s.
func (s *Stats) Add(s2 Stats) {
	s.Particles += s2.Particles
	s.Rejected += s2.Rejected
	s.TauRejected += s2.TauRejected
	s.Unmatched += s2.Unmatched
	s.Deposits += s2.Deposits
}

// Interp is the interpolation engine. It is safe to call its methods from
// one goroutine at a time; each call uses Config.Workers goroutines.
type Interp struct {
	cfg  Config
	idx  *index.Index
	kern *sph.Kernel

	binWidth float64 // pixel width in internal length units
	dv       float64 // pixel width in km/s
	vbox     float64 // box width in km/s

	sigmaA   float64 // cm^2
	bfac     float64 // b = bfac * sqrt(T), km/s
	voigtFac float64 // a = voigtFac / b
}

// New creates an Interp which deposits onto the sightlines of idx.
func New(cfg Config, idx *index.Index) (*Interp, error) {
	if idx == nil {
		return nil, fmt.Errorf("Interp requires a sightline index.")
	} else if cfg.Bins <= 0 {
		return nil, fmt.Errorf("Bins must be positive, is %d.", cfg.Bins)
	} else if !(cfg.Box > 0) {
		return nil, fmt.Errorf("Box must be positive, is %g.", cfg.Box)
	} else if cfg.Box != idx.Table().Box {
		return nil, fmt.Errorf(
			"Box is %g, but the sightline table was built for a box of %g.",
			cfg.Box, idx.Table().Box,
		)
	} else if !(cfg.VelFac > 0) {
		return nil, fmt.Errorf("VelFac must be positive, is %g.", cfg.VelFac)
	} else if !(cfg.A > 0) {
		return nil, fmt.Errorf("Scale factor must be positive, is %g.", cfg.A)
	}
	if err := cfg.Species.Check(); err != nil {
		return nil, err
	}

	if cfg.TauTail == 0 {
		cfg.TauTail = DefaultTauTail
	} else if !(cfg.TauTail > 0 && cfg.TauTail < 1) {
		return nil, fmt.Errorf("TauTail must be in (0, 1), is %g.", cfg.TauTail)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	sp := &cfg.Species
	in := &Interp{
		cfg:      cfg,
		idx:      idx,
		kern:     sph.NewKernel(sph.DefaultPoints),
		binWidth: cfg.Box / float64(cfg.Bins),
		vbox:     cfg.Box * cfg.VelFac,
		sigmaA:   math.Sqrt(3*math.Pi*cosmo.SigmaT/8) * sp.Lambda * sp.Fosc,
		bfac:     math.Sqrt(2*cosmo.Boltzmann/(sp.Mass*cosmo.ProtonMass)) / 1e5,
		voigtFac: sp.Gamma * sp.Lambda / (4 * math.Pi) / 1e5,
	}
	in.dv = in.vbox / float64(cfg.Bins)

	return in, nil
}

// Config returns the Interp's configuration, with defaults filled in.
func (in *Interp) Config() Config { return in.cfg }

// Lines returns the number of sightlines.
func (in *Interp) Lines() int { return in.idx.Table().Len() }

// Bins returns the number of pixels per sightline.
func (in *Interp) Bins() int { return in.cfg.Bins }

// Size returns the length of a pixel buffer: Lines() * Bins().
func (in *Interp) Size() int { return in.Lines() * in.cfg.Bins }

// ComputeTau adds the optical depth of every particle in ps to tau, which
// is indexed as line*Bins + pixel.
func (in *Interp) ComputeTau(tau []float64, ps *Particles) (Stats, error) {
	return in.Compute(tau, nil, ps)
}

// ComputeColden adds the column density of every particle in ps to colden,
// which is indexed as line*Bins + pixel.
func (in *Interp) ComputeColden(colden []float64, ps *Particles) (Stats, error) {
	return in.Compute(nil, colden, ps)
}

// Compute adds the optical depth and column density of every particle to
// tau and colden in a single pass. Either buffer may be nil, but not both.
// Particles with bad positions, densities, or smoothing lengths are skipped
// and counted in Stats.Rejected. Particles with bad temperatures or
// velocities are left out of tau only and counted in Stats.TauRejected, so
// colden is the same whether or not tau is computed alongside it.
func (in *Interp) Compute(tau, colden []float64, ps *Particles) (Stats, error) {
	if err := in.checkBuffers(tau, colden, ps); err != nil {
		return Stats{}, err
	}

	stats := Stats{Particles: ps.Len()}
	if ps.Len() == 0 {
		return stats, nil
	}

	// Rejected particles are hidden from the index by zeroing their radius.
	// Without colden, particles which can't contribute to tau are hidden too.
	hs := make([]float32, ps.Len())
	var tauOK []bool
	if tau != nil && colden != nil {
		tauOK = make([]bool, ps.Len())
	}
	for i := range hs {
		if !in.valid(ps, i) {
			stats.Rejected++
			continue
		}

		if tau != nil {
			ok := in.validTau(ps, i)
			if !ok {
				stats.TauRejected++
			}
			if tauOK != nil {
				tauOK[i] = ok
			} else if !ok {
				continue
			}
		}
		hs[i] = ps.H[i]
	}

	near, err := in.idx.NearParticles(ps.Xs, hs, in.cfg.Workers)
	if err != nil {
		return stats, err
	}

	matched := make([]bool, ps.Len())
	for _, list := range near {
		stats.Deposits += len(list)
		for _, p := range list {
			matched[p.Idx] = true
		}
	}
	for i := range matched {
		if hs[i] > 0 && !matched[i] {
			stats.Unmatched++
		}
	}

	workers := in.cfg.Workers
	out := make(chan int, workers)
	for id := 0; id < workers-1; id++ {
		go in.chanDeposit(id, workers, near, tau, colden, tauOK, ps, out)
	}
	in.chanDeposit(workers-1, workers, near, tau, colden, tauOK, ps, out)
	for i := 0; i < workers; i++ {
		<-out
	}

	return stats, nil
}

func (in *Interp) checkBuffers(tau, colden []float64, ps *Particles) error {
	size := in.Size()
	if tau == nil && colden == nil {
		return fmt.Errorf("No output buffers given.")
	} else if tau != nil && len(tau) != size {
		return fmt.Errorf(
			"tau buffer has length %d, but %d sightlines x %d bins = %d.",
			len(tau), in.Lines(), in.cfg.Bins, size,
		)
	} else if colden != nil && len(colden) != size {
		return fmt.Errorf(
			"colden buffer has length %d, but %d sightlines x %d bins = %d.",
			len(colden), in.Lines(), in.cfg.Bins, size,
		)
	} else if ps == nil {
		return fmt.Errorf("No particles given.")
	}

	n := len(ps.Xs)
	if len(ps.Dens) != n || len(ps.H) != n {
		return fmt.Errorf(
			"Particle buffers have unequal lengths: Xs %d, Dens %d, H %d.",
			n, len(ps.Dens), len(ps.H),
		)
	}
	if tau != nil && (len(ps.Vs) != n || len(ps.Temp) != n) {
		return fmt.Errorf(
			"Particle buffers have unequal lengths: Xs %d, Vs %d, Temp %d.",
			n, len(ps.Vs), len(ps.Temp),
		)
	}
	return nil
}

// valid returns true if particle i can be deposited at all.
func (in *Interp) valid(ps *Particles, i int) bool {
	h, dens := float64(ps.H[i]), float64(ps.Dens[i])
	if !(h > 0) || math.IsInf(h, 0) || !ps.Xs[i].Finite() {
		return false
	}
	return dens >= 0 && !math.IsInf(dens, 0)
}

// validTau returns true if the optical depth of a valid particle i can be
// deposited.
func (in *Interp) validTau(ps *Particles, i int) bool {
	temp := float64(ps.Temp[i])
	if !(temp > 0) || math.IsInf(temp, 0) {
		return false
	}
	return ps.Vs[i].Finite()
}

// chanDeposit handles every sightline congruent to id modulo workers, so no
// two workers ever write to the same pixel row. If tauOK is non-nil,
// particles which are false in it are left out of tau.
func (in *Interp) chanDeposit(
	id, workers int, near [][]index.Near,
	tau, colden []float64, tauOK []bool, ps *Particles, out chan<- int,
) {
	bins := in.cfg.Bins
	for line := id; line < len(near); line += workers {
		ax := in.idx.Axis(line)
		start := line * bins
		for _, p := range near[line] {
			if colden != nil {
				in.depositColden(colden[start:start+bins], ax, p, ps)
			}
			if tau != nil && (tauOK == nil || tauOK[p.Idx]) {
				in.depositTau(tau[start:start+bins], ax, p, ps)
			}
		}
	}
	out <- id
}

// depositColden adds one particle's column density to a single row.
func (in *Interp) depositColden(
	row []float64, ax geom.Axis, p index.Near, ps *Particles,
) {
	h := float64(ps.H[p.Idx])
	zp := geom.Wrap(float64(ps.Xs[p.Idx][ax]), in.cfg.Box)
	amount := float64(ps.Dens[p.Idx]) * h * h * h
	zc := sph.Chord(p.Dr2, h)

	if 2*zc > uniformSpan*in.cfg.Box {
		in.depositUniform(row, amount*in.kern.ProjectedTable(p.Dr2, h))
		return
	}

	lo := int(math.Floor((zp - zc) / in.binWidth))
	hi := int(math.Floor((zp + zc) / in.binWidth))

	if lo == hi {
		row[mod(lo, len(row))] += amount * in.kern.ProjectedTable(p.Dr2, h)
		return
	}

	for z := lo; z <= hi; z++ {
		z0 := float64(z)*in.binWidth - zp
		z1 := float64(z+1)*in.binWidth - zp
		row[mod(z, len(row))] += amount * in.kern.Integrate(p.Dr2, h, z0, z1, nil)
	}
}

// depositTau adds one particle's optical depth to a single row.
func (in *Interp) depositTau(
	row []float64, ax geom.Axis, p index.Near, ps *Particles,
) {
	i := p.Idx
	h := float64(ps.H[i])
	zp := geom.Wrap(float64(ps.Xs[i][ax]), in.cfg.Box)
	amount := float64(ps.Dens[i]) * h * h * h
	if amount == 0 {
		return
	}

	b := in.bfac * math.Sqrt(float64(ps.Temp[i]))
	a := in.voigtFac / b
	vel := geom.Wrap(in.cfg.VelFac*zp+float64(ps.Vs[i][ax]), in.vbox)
	vhalf := in.cfg.VelFac * sph.Chord(p.Dr2, h)
	amp := in.sigmaA * lightKms / in.dv * amount

	if 2*vhalf > uniformSpan*in.vbox {
		in.depositUniform(row, amp*in.kern.ProjectedTable(p.Dr2, h))
		return
	}

	// Window around the particle, in km/s, which receives absorption.
	tail := wingWidth(a, in.cfg.TauTail) * b
	if tail > in.vbox/2 {
		tail = in.vbox / 2
	}
	lo := int(math.Floor((vel - vhalf - tail) / in.dv))
	hi := int(math.Floor((vel + vhalf + tail) / in.dv))

	velFac := in.cfg.VelFac
	var breaks [10]float64

	for z := lo; z <= hi; z++ {
		v0, v1 := float64(z)*in.dv, float64(z+1)*in.dv
		profile := func(s float64) float64 {
			u := vel + velFac*s
			return pixelProfile(v0-u, v1-u, b, a)
		}

		// Offsets along the line where the profile changes quickly.
		bs := breaks[:0]
		for _, dv := range []float64{-2 * b, -b, 0, b, 2 * b} {
			bs = append(bs, (v0+dv-vel)/velFac, (v1+dv-vel)/velFac)
		}

		s0 := (v0 - tail - vel) / velFac
		s1 := (v1 + tail - vel) / velFac
		row[mod(z, len(row))] += amp * in.kern.Integrate(p.Dr2, h, s0, s1, profile, bs...)
	}
}

// depositUniform spreads total evenly over a row. Once a kernel wraps
// around the box many times, its periodic sum is flat.
func (in *Interp) depositUniform(row []float64, total float64) {
	x := total / float64(len(row))
	for j := range row {
		row[j] += x
	}
}

func mod(z, n int) int {
	z %= n
	if z < 0 {
		z += n
	}
	return z
}
