package index

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/spectra/geom"
	"github.com/phil-mansfield/spectra/los"
)

func mustTable(t testing.TB, lines []los.Sightline, box float64) *los.Table {
	tab, err := los.NewTable(lines, box)
	require.NoError(t, err)
	return tab
}

func randomParticles(n int, box, maxH float64, seed int64) ([]geom.Vec, []float32) {
	gen := rand.New(rand.NewSource(seed))
	xs, hs := make([]geom.Vec, n), make([]float32, n)
	for i := range xs {
		for k := 0; k < 3; k++ {
			xs[i][k] = float32(gen.Float64() * box)
		}
		hs[i] = float32(gen.Float64() * maxH)
	}
	return xs, hs
}

// bruteNear is the O(particles x lines) answer that the Index must match.
func bruteNear(tab *los.Table, x *geom.Vec, h float64) map[int]float64 {
	out := map[int]float64{}
	if !(h > 0) {
		return out
	}
	for id := range tab.Lines {
		s := &tab.Lines[id]
		dr2 := geom.LineDist2(x, s.Axis, &s.Pos, tab.Box)
		if dr2 <= h*h {
			out[id] = dr2
		}
	}
	return out
}

func TestNearLinesPeriodicEdges(t *testing.T) {
	tab := mustTable(t, []los.Sightline{
		{Axis: geom.Y, Pos: [3]float64{0, 0, 50}},
		{Axis: geom.Y, Pos: [3]float64{99.9, 0, 50}},
		{Axis: geom.X, Pos: [3]float64{0, 0, 50}},
		{Axis: geom.X, Pos: [3]float64{0, 99.9, 50}},
	}, 100)
	idx := New(tab)

	near := idx.NearLines(&geom.Vec{0.05, 30, 50}, 1)
	require.Len(t, near, 2)
	assert.InDelta(t, 0.05*0.05, near[0], 1e-6)
	assert.InDelta(t, 0.15*0.15, near[1], 1e-6)

	near = idx.NearLines(&geom.Vec{30, 0.05, 50}, 1)
	require.Len(t, near, 2)
	assert.Contains(t, near, 2)
	assert.Contains(t, near, 3)

	// Same point, approached from the top of the box.
	near = idx.NearLines(&geom.Vec{99.95, 30, 50}, 1)
	require.Len(t, near, 2)
	assert.Contains(t, near, 0)
	assert.Contains(t, near, 1)
}

func TestNearLinesBoundary(t *testing.T) {
	tab := mustTable(t, []los.Sightline{
		{Axis: geom.Z, Pos: [3]float64{10, 10, 0}},
	}, 100)
	idx := New(tab)

	table := []struct {
		x     geom.Vec
		h     float64
		match bool
	}{
		{geom.Vec{10, 10, 77}, 0.5, true},
		{geom.Vec{13, 14, 0}, 5, true},
		{geom.Vec{13, 14, 0}, 4.99, false},
		{geom.Vec{20, 10, 0}, 2, false},
		{geom.Vec{10, 10, 0}, 0, false},
		{geom.Vec{10, 10, 0}, -1, false},
	}

	for i, test := range table {
		near := idx.NearLines(&test.x, test.h)
		_, ok := near[0]
		assert.Equal(t, test.match, ok, "%d) x = %v, h = %g", i+1, test.x, test.h)
	}

	near := idx.NearLines(&geom.Vec{10, 10, 3}, 1)
	assert.Equal(t, 0.0, near[0])
}

func TestNearLinesMatchesBruteForce(t *testing.T) {
	box := 20.0
	tab, err := los.NewRandomTable(300, box, 3)
	require.NoError(t, err)
	idx := New(tab)

	// Radii up to 0.75 box widths exercise the whole-table search.
	xs, hs := randomParticles(2000, box, 0.75*box, 11)
	for i := range xs {
		got := idx.NearLines(&xs[i], float64(hs[i]))
		exp := bruteNear(tab, &xs[i], float64(hs[i]))
		require.Equal(t, exp, got, "particle %d, h = %g", i, hs[i])
	}
}

func TestNearLinesShiftedByBox(t *testing.T) {
	box := 50.0
	tab, err := los.NewRandomTable(100, box, 5)
	require.NoError(t, err)
	idx := New(tab)

	xs, hs := randomParticles(300, box, 5, 9)
	for i := range xs {
		// Snap to a grid that survives the shift without rounding.
		for k := 0; k < 3; k++ {
			xs[i][k] = float32(math.Floor(float64(xs[i][k])*1024) / 1024)
		}
		shifted := geom.Vec{xs[i][0] + 50, xs[i][1] - 100, xs[i][2] + 150}
		a := idx.NearLines(&xs[i], float64(hs[i]))
		b := idx.NearLines(&shifted, float64(hs[i]))
		require.Equal(t, len(a), len(b))
		for id, dr2 := range a {
			assert.InDelta(t, dr2, b[id], 1e-9)
		}
	}
}

func TestNearParticlesConsistent(t *testing.T) {
	box := 30.0
	tab, err := los.NewRandomTable(200, box, 1)
	require.NoError(t, err)
	idx := New(tab)
	xs, hs := randomParticles(3000, box, 6, 4)

	for _, workers := range []int{1, 3, 8} {
		near, err := idx.NearParticles(xs, hs, workers)
		require.NoError(t, err)
		require.Len(t, near, tab.Len())

		count := 0
		for line, ps := range near {
			for j, p := range ps {
				if j > 0 {
					require.True(t, ps[j-1].Idx < p.Idx, "line %d unsorted", line)
				}
				lines := idx.NearLines(&xs[p.Idx], float64(hs[p.Idx]))
				dr2, ok := lines[line]
				require.True(t, ok)
				assert.Equal(t, dr2, p.Dr2)
			}
			count += len(ps)
		}

		total := 0
		for i := range xs {
			total += len(idx.NearLines(&xs[i], float64(hs[i])))
		}
		assert.Equal(t, total, count, "workers = %d", workers)
	}
}

func TestRebuildIdentical(t *testing.T) {
	tab, err := los.NewRandomTable(150, 10, 2)
	require.NoError(t, err)
	xs, hs := randomParticles(500, 10, 2, 6)

	n1, err := New(tab).NearParticles(xs, hs, 4)
	require.NoError(t, err)
	n2, err := New(tab).NearParticles(xs, hs, 4)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestNearParticlesInvalid(t *testing.T) {
	tab := mustTable(t, []los.Sightline{{Axis: geom.X, Pos: [3]float64{0, 5, 5}}}, 10)
	idx := New(tab)

	_, err := idx.NearParticles(make([]geom.Vec, 3), make([]float32, 2), 1)
	assert.Error(t, err)

	near, err := idx.NearParticles(nil, nil, 4)
	require.NoError(t, err)
	assert.Len(t, near, 1)
	assert.Empty(t, near[0])
}

func BenchmarkNearParticles(b *testing.B) {
	box := 100.0
	tab, _ := los.NewRandomTable(1000, box, 1)
	idx := New(tab)
	xs, hs := randomParticles(100000, box, 2, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.NearParticles(xs, hs, 4)
	}
}
