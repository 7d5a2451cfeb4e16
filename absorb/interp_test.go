package absorb

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/spectra/geom"
	"github.com/phil-mansfield/spectra/los"
	"github.com/phil-mansfield/spectra/los/index"
)

func newInterp(
	t testing.TB, lines []los.Sightline, box float64, bins, workers int,
) *Interp {
	tab, err := los.NewTable(lines, box)
	require.NoError(t, err)
	in, err := New(Config{
		Bins: bins, Species: HILya, Box: box,
		VelFac: 10, A: 0.25, Workers: workers,
	}, index.New(tab))
	require.NoError(t, err)
	return in
}

func singleParticle(x geom.Vec, v geom.Vec, h, dens, temp float32) *Particles {
	return &Particles{
		Xs: []geom.Vec{x}, Vs: []geom.Vec{v},
		Dens: []float32{dens}, Temp: []float32{temp}, H: []float32{h},
	}
}

func randomParticles(n int, box float64, seed uint64) *Particles {
	gen := rand.New(rand.NewPCG(seed, seed+1))
	ps := &Particles{
		Xs: make([]geom.Vec, n), Vs: make([]geom.Vec, n),
		Dens: make([]float32, n), Temp: make([]float32, n),
		H: make([]float32, n),
	}
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			ps.Xs[i][k] = float32(gen.Float64() * box)
			ps.Vs[i][k] = float32(gen.NormFloat64() * 50)
		}
		ps.Dens[i] = float32(gen.Float64())
		ps.Temp[i] = float32(1e3 + 1e5*gen.Float64())
		ps.H[i] = float32(0.5 + 4*gen.Float64())
	}
	return ps
}

func randomLines(n int, box float64, seed uint64) []los.Sightline {
	tab, err := los.NewRandomTable(n, box, seed)
	if err != nil {
		panic(err.Error())
	}
	return tab.Lines
}

func TestColdenSingleParticle(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	in := newInterp(t, lines, 100, 4, 1)

	// On the line and entirely inside pixel 1.
	colden := make([]float64, 4)
	ps := singleParticle(geom.Vec{37.5, 50, 50}, geom.Vec{}, 2, 1, 1e4)
	stats, err := in.ComputeColden(colden, ps)
	require.NoError(t, err)

	expected := 8 * 6 / (math.Pi * 4)
	assert.InEpsilon(t, expected, floats.Sum(colden), 1e-6)
	assert.InEpsilon(t, expected, colden[1], 1e-6)
	assert.Equal(t, 0.0, colden[0])
	assert.Equal(t, 0.0, colden[2])
	assert.Equal(t, 0.0, colden[3])
	assert.Equal(t, Stats{Particles: 1, Deposits: 1}, stats)

	// Too far from the line to touch it.
	colden = make([]float64, 4)
	ps = singleParticle(geom.Vec{37.5, 60, 50}, geom.Vec{}, 2, 1, 1e4)
	stats, err = in.ComputeColden(colden, ps)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, colden)
	assert.Equal(t, Stats{Particles: 1, Unmatched: 1}, stats)
}

func TestColdenPeriodic(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	in := newInterp(t, lines, 100, 4, 1)
	expected := 8 * 6 / (math.Pi * 4)

	table := []struct {
		x       float32
		nonzero []int
	}{
		{0.5, []int{0, 3}},
		{99.5, []int{0, 3}},
		{100.5, []int{0, 3}},
		{-0.5, []int{0, 3}},
		{25, []int{0, 1}},
		{137.5, []int{1}},
	}

	for i := range table {
		colden := make([]float64, 4)
		ps := singleParticle(
			geom.Vec{table[i].x, 50, 50}, geom.Vec{}, 2, 1, 1e4,
		)
		_, err := in.ComputeColden(colden, ps)
		require.NoError(t, err)

		assert.InEpsilon(t, expected, floats.Sum(colden), 1e-9, "%d) x = %g", i, table[i].x)
		for _, z := range table[i].nonzero {
			assert.True(t, colden[z] > 0, "%d) pixel %d is empty", i, z)
		}
	}

	// The particle at 0.5 and its image at 100.5 give identical spectra.
	c1, c2 := make([]float64, 4), make([]float64, 4)
	_, err := in.ComputeColden(c1, singleParticle(geom.Vec{0.5, 50, 50}, geom.Vec{}, 2, 1, 1e4))
	require.NoError(t, err)
	_, err = in.ComputeColden(c2, singleParticle(geom.Vec{100.5, 50, 50}, geom.Vec{}, 2, 1, 1e4))
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestTauSingleParticle(t *testing.T) {
	lines := []los.Sightline{
		{Axis: geom.X, Pos: [3]float64{0, 50, 50}},
		{Axis: geom.Y, Pos: [3]float64{10, 0, 10}},
	}
	bins := 200
	in := newInterp(t, lines, 100, bins, 2)

	// vel = VelFac * x + v = 477.5 km/s, the center of pixel 95.
	ps := singleParticle(geom.Vec{37.5, 50, 50}, geom.Vec{102.5, -30, 4}, 2, 1, 1e4)
	tau, colden := make([]float64, 2*bins), make([]float64, 2*bins)
	stats, err := in.Compute(tau, colden, ps)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deposits)

	row := tau[:bins]
	maxZ := 0
	for z := range row {
		assert.True(t, row[z] >= 0)
		if row[z] > row[maxZ] {
			maxZ = z
		}
	}
	assert.Equal(t, 95, maxZ)

	// The second line is never touched.
	assert.Equal(t, 0.0, floats.Sum(tau[bins:]))
	assert.Equal(t, 0.0, floats.Sum(colden[bins:]))

	// Integrated optical depth is proportional to column density.
	dv := in.vbox / float64(bins)
	scale := in.sigmaA * lightKms / dv
	assert.InEpsilon(t, scale*floats.Sum(colden[:bins]), floats.Sum(row), 1e-3)

	// Symmetric about the peak up to the Hubble flow asymmetry.
	assert.InEpsilon(t, row[94], row[96], 1e-2)
}

func TestTauTemperatureWidth(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.Z, Pos: [3]float64{50, 50, 0}}}
	bins := 500

	width := func(temp float32) int {
		in := newInterp(t, lines, 100, bins, 1)
		tau := make([]float64, bins)
		ps := singleParticle(geom.Vec{50, 50, 50}, geom.Vec{}, 0.5, 1, temp)
		_, err := in.ComputeTau(tau, ps)
		require.NoError(t, err)

		peak := 0.0
		for _, x := range tau {
			peak = math.Max(peak, x)
		}
		n := 0
		for _, x := range tau {
			if x > peak/2 {
				n++
			}
		}
		return n
	}

	assert.True(t, width(1e6) > width(1e4))
}

func TestComputeReproducible(t *testing.T) {
	box, bins := 50.0, 64
	lines := randomLines(30, box, 7)
	ps := randomParticles(2000, box, 11)

	run := func(workers int) ([]float64, []float64, Stats) {
		in := newInterp(t, lines, box, bins, workers)
		tau, colden := make([]float64, in.Size()), make([]float64, in.Size())
		stats, err := in.Compute(tau, colden, ps)
		require.NoError(t, err)
		return tau, colden, stats
	}

	tau1, colden1, stats1 := run(1)
	assert.True(t, stats1.Deposits > 0)
	for _, x := range tau1 {
		assert.True(t, x >= 0)
	}
	for _, x := range colden1 {
		assert.True(t, x >= 0)
	}

	for _, workers := range []int{2, 3, 8} {
		tau, colden, stats := run(workers)
		assert.Equal(t, tau1, tau, "workers = %d", workers)
		assert.Equal(t, colden1, colden, "workers = %d", workers)
		assert.Equal(t, stats1, stats, "workers = %d", workers)
	}
}

func TestComputeChunked(t *testing.T) {
	box, bins := 50.0, 32
	lines := randomLines(20, box, 3)
	ps := randomParticles(1000, box, 5)
	in := newInterp(t, lines, box, bins, 4)

	tau, colden := make([]float64, in.Size()), make([]float64, in.Size())
	whole, err := in.Compute(tau, colden, ps)
	require.NoError(t, err)

	split := func(lo, hi int) *Particles {
		return &Particles{
			Xs: ps.Xs[lo:hi], Vs: ps.Vs[lo:hi], Dens: ps.Dens[lo:hi],
			Temp: ps.Temp[lo:hi], H: ps.H[lo:hi],
		}
	}

	tau2, colden2 := make([]float64, in.Size()), make([]float64, in.Size())
	total := Stats{}
	for _, r := range [][2]int{{0, 300}, {300, 301}, {301, 1000}} {
		stats, err := in.Compute(tau2, colden2, split(r[0], r[1]))
		require.NoError(t, err)
		total.Add(stats)
	}

	assert.Equal(t, whole, total)
	assert.Equal(t, tau, tau2)
	assert.Equal(t, colden, colden2)
}

func TestComputeRejected(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	in := newInterp(t, lines, 100, 16, 1)
	nan := float32(math.NaN())

	ps := &Particles{
		Xs: []geom.Vec{
			{10, 50, 50}, {20, 50, 50}, {30, 50, 50}, {nan, 50, 50},
			{50, 50, 50}, {60, 80, 50}, {70, 50, 50},
		},
		Vs: []geom.Vec{
			{}, {}, {}, {}, {nan, 0, 0}, {}, {},
		},
		Dens: []float32{1, 1, -1, 1, 1, 1, 1},
		Temp: []float32{1e4, 0, 1e4, 1e4, 1e4, 1e4, 1e4},
		H:    []float32{1, 1, 1, 1, 1, 1, 0},
	}

	colden := make([]float64, 16)
	stats, err := in.ComputeColden(colden, ps)
	require.NoError(t, err)
	assert.Equal(t, Stats{Particles: 7, Rejected: 3, Unmatched: 1, Deposits: 3}, stats)

	tau := make([]float64, 16)
	stats, err = in.ComputeTau(tau, ps)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Particles: 7, Rejected: 3, TauRejected: 2, Unmatched: 1, Deposits: 1,
	}, stats)

	// A joint pass gives the same grids as the separate ones.
	jointTau, jointColden := make([]float64, 16), make([]float64, 16)
	stats, err = in.Compute(jointTau, jointColden, ps)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Particles: 7, Rejected: 3, TauRejected: 2, Unmatched: 1, Deposits: 3,
	}, stats)
	assert.Equal(t, colden, jointColden)
	assert.Equal(t, tau, jointTau)

	for i := range tau {
		assert.False(t, math.IsNaN(tau[i]))
		assert.False(t, math.IsNaN(colden[i]))
	}
}

func TestComputeColdenIgnoresTemperature(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	nan := float32(math.NaN())

	table := []struct {
		v    geom.Vec
		temp float32
	}{
		{geom.Vec{}, 0},
		{geom.Vec{}, -100},
		{geom.Vec{}, float32(math.Inf(1))},
		{geom.Vec{nan, 0, 0}, 1e4},
	}

	for i := range table {
		in := newInterp(t, lines, 100, 4, 1)
		ps := singleParticle(geom.Vec{37.5, 50, 50}, table[i].v, 2, 1, table[i].temp)

		colden := make([]float64, 4)
		stats, err := in.ComputeColden(colden, ps)
		require.NoError(t, err)
		assert.Equal(t, Stats{Particles: 1, Deposits: 1}, stats, "%d)", i)

		jointTau, jointColden := make([]float64, 4), make([]float64, 4)
		stats, err = in.Compute(jointTau, jointColden, ps)
		require.NoError(t, err)
		assert.Equal(t, Stats{Particles: 1, TauRejected: 1, Deposits: 1}, stats, "%d)", i)

		assert.Equal(t, colden, jointColden, "%d)", i)
		assert.InEpsilon(t, 8*6/(math.Pi*4), floats.Sum(jointColden), 1e-6, "%d)", i)
		assert.Equal(t, 0.0, floats.Sum(jointTau), "%d)", i)
	}
}

func TestComputeWideKernel(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	bins := 16

	table := []struct {
		h       float32
		uniform bool
	}{
		{70, false},
		{250, false},
		{1e4, true},
		{1e7, true},
	}

	for i := range table {
		in := newInterp(t, lines, 100, bins, 1)
		h := float64(table[i].h)
		ps := singleParticle(geom.Vec{37.5, 50, 50}, geom.Vec{}, table[i].h, 1, 1e4)

		tau, colden := make([]float64, bins), make([]float64, bins)
		_, err := in.Compute(tau, colden, ps)
		require.NoError(t, err)

		// The whole projected kernel lands on the row.
		expected := h * 6 / math.Pi
		assert.InEpsilon(t, expected, floats.Sum(colden), 1e-6, "%d) h = %g", i, h)
		scale := in.sigmaA * lightKms / in.dv
		assert.InEpsilon(t, scale*expected, floats.Sum(tau), 1e-3, "%d) h = %g", i, h)

		if table[i].uniform {
			for z := range colden {
				assert.InEpsilon(t, expected/float64(bins), colden[z], 1e-6,
					"%d) h = %g, z = %d", i, h, z)
			}
		}
	}
}

func TestComputeErrors(t *testing.T) {
	lines := []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 50, 50}}}
	in := newInterp(t, lines, 100, 8, 1)
	ps := singleParticle(geom.Vec{1, 50, 50}, geom.Vec{}, 1, 1, 1e4)

	_, err := in.Compute(nil, nil, ps)
	assert.Error(t, err)
	_, err = in.ComputeTau(make([]float64, 7), ps)
	assert.Error(t, err)
	_, err = in.ComputeColden(make([]float64, 9), ps)
	assert.Error(t, err)
	_, err = in.ComputeColden(make([]float64, 8), nil)
	assert.Error(t, err)

	bad := singleParticle(geom.Vec{1, 50, 50}, geom.Vec{}, 1, 1, 1e4)
	bad.H = append(bad.H, 1)
	_, err = in.ComputeColden(make([]float64, 8), bad)
	assert.Error(t, err)

	// Velocities are only needed for optical depth.
	bad = singleParticle(geom.Vec{1, 50, 50}, geom.Vec{}, 1, 1, 1e4)
	bad.Vs = nil
	_, err = in.ComputeColden(make([]float64, 8), bad)
	assert.NoError(t, err)
	_, err = in.ComputeTau(make([]float64, 8), bad)
	assert.Error(t, err)

	empty := &Particles{}
	stats, err := in.ComputeColden(make([]float64, 8), empty)
	assert.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestNewErrors(t *testing.T) {
	tab, err := los.NewTable([]los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 5, 5}}}, 10)
	require.NoError(t, err)
	idx := index.New(tab)
	good := Config{Bins: 8, Species: HILya, Box: 10, VelFac: 1, A: 0.5}

	_, err = New(good, idx)
	require.NoError(t, err)

	table := []struct {
		modify func(c *Config)
	}{
		{func(c *Config) { c.Bins = 0 }},
		{func(c *Config) { c.Box = 20 }},
		{func(c *Config) { c.Box = -10 }},
		{func(c *Config) { c.VelFac = 0 }},
		{func(c *Config) { c.A = 0 }},
		{func(c *Config) { c.TauTail = 2 }},
		{func(c *Config) { c.Species.Lambda = 0 }},
		{func(c *Config) { c.Species.Mass = -1 }},
	}

	for i := range table {
		cfg := good
		table[i].modify(&cfg)
		_, err := New(cfg, idx)
		assert.Error(t, err, "%d) %+v", i, cfg)
	}

	_, err = New(good, nil)
	assert.Error(t, err)

	in, err := New(good, idx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTauTail, in.Config().TauTail)
	assert.True(t, in.Config().Workers > 0)
}

func BenchmarkCompute(b *testing.B) {
	box := 100.0
	lines := randomLines(100, box, 1)
	ps := randomParticles(10000, box, 2)
	in := newInterp(b, lines, box, 256, 0)
	tau, colden := make([]float64, in.Size()), make([]float64, in.Size())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in.Compute(tau, colden, ps)
	}
}
