/*package index associates particles with the sightlines they overlap.

Every sightline is an infinite line along a coordinate axis, so finding the
lines within a radius h of a point only requires a 1D range query on one
transverse coordinate followed by an exact minimum-image distance check on
both transverse coordinates. Lines along Y and Z share X as a transverse
coordinate and are keyed by it. Lines along X are keyed by Y.
*/
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/phil-mansfield/spectra/geom"
	"github.com/phil-mansfield/spectra/los"
)

// Near is a single particle-sightline match. Idx is the index of the
// particle and Dr2 is the squared transverse distance between the particle
// and the line.
type Near struct {
	Idx int
	Dr2 float64
}

type entry struct {
	key float64
	id  int
}

// group is a list of sightlines sorted by the transverse coordinate dim.
type group struct {
	dim     geom.Axis
	entries []entry
}

// Index answers proximity queries between particles and the sightlines of a
// los.Table. It is read-only after construction and safe for concurrent use.
type Index struct {
	tab    *los.Table
	groups [2]group
}

// New builds an Index over every line in tab. The table is referenced, not
// copied, and must not be modified while the Index is in use.
func New(tab *los.Table) *Index {
	idx := &Index{tab: tab}
	idx.groups[0].dim = geom.Y
	idx.groups[1].dim = geom.X

	for id := range tab.Lines {
		s := &tab.Lines[id]
		g := &idx.groups[1]
		if s.Axis == geom.X {
			g = &idx.groups[0]
		}
		g.entries = append(g.entries, entry{s.Pos[g.dim], id})
	}

	for gi := range idx.groups {
		es := idx.groups[gi].entries
		sort.SliceStable(es, func(i, j int) bool {
			return es[i].key < es[j].key
		})
	}

	return idx
}

// Table returns the table that the Index was built from.
func (idx *Index) Table() *los.Table { return idx.tab }

// Axis returns the axis of sightline id.
func (idx *Index) Axis(id int) geom.Axis { return idx.tab.Lines[id].Axis }

// NearLines returns every sightline within a transverse distance h of x,
// mapped to its squared transverse distance. Distances equal to h are
// included. Particles with non-positive or non-finite h, or a non-finite
// position, match nothing.
func (idx *Index) NearLines(x *geom.Vec, h float64) map[int]float64 {
	out := make(map[int]float64)
	idx.nearLines(x, h, out)
	return out
}

func (idx *Index) nearLines(x *geom.Vec, h float64, out map[int]float64) {
	if !(h > 0) || math.IsInf(h, 0) || !x.Finite() {
		return
	}
	for gi := range idx.groups {
		idx.nearby(&idx.groups[gi], x, h, out)
	}
}

// nearby adds the lines in g within h of x to out.
func (idx *Index) nearby(g *group, x *geom.Vec, h float64, out map[int]float64) {
	es := g.entries
	if len(es) == 0 {
		return
	}
	L := idx.tab.Box

	if 2*h >= L {
		idx.fromRange(es, x, h, out)
		return
	}

	c := geom.Wrap(float64(x[g.dim]), L)
	lo, hi := c-h, c+h
	idx.fromRange(es[lowerBound(es, lo):upperBound(es, hi)], x, h, out)

	// The window crosses a periodic boundary: search the far side too.
	// Lines found twice land on the same map key.
	if lo < 0 {
		idx.fromRange(es[lowerBound(es, lo+L):], x, h, out)
	}
	if hi >= L {
		idx.fromRange(es[:upperBound(es, hi-L)], x, h, out)
	}
}

func (idx *Index) fromRange(
	es []entry, x *geom.Vec, h float64, out map[int]float64,
) {
	h2 := h * h
	L := idx.tab.Box
	for _, e := range es {
		s := &idx.tab.Lines[e.id]
		dr2 := geom.LineDist2(x, s.Axis, &s.Pos, L)
		if dr2 <= h2 {
			out[e.id] = dr2
		}
	}
}

// lowerBound returns the index of the first entry with key >= v.
func lowerBound(es []entry, v float64) int {
	return sort.Search(len(es), func(i int) bool { return es[i].key >= v })
}

// upperBound returns the index of the first entry with key > v.
func upperBound(es []entry, v float64) int {
	return sort.Search(len(es), func(i int) bool { return es[i].key > v })
}

// NearParticles finds the particles near every sightline. The returned
// slice has one element per sightline, and each element lists the matching
// particles in increasing index order. Work is split across the given
// number of workers. hs holds the smoothing length of each particle.
func (idx *Index) NearParticles(
	xs []geom.Vec, hs []float32, workers int,
) ([][]Near, error) {
	if len(xs) != len(hs) {
		return nil, fmt.Errorf(
			"Position buffer has length %d, but smoothing length buffer "+
				"has length %d.", len(xs), len(hs),
		)
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(xs) {
		workers = len(xs)
	}

	n := idx.tab.Len()
	if workers <= 1 {
		res := make([][]Near, n)
		idx.nearParticles(xs, hs, 0, len(xs), res)
		return res, nil
	}

	partial := make([][][]Near, workers)
	out := make(chan int, workers)
	for id := 0; id < workers; id++ {
		partial[id] = make([][]Near, n)
		low, high := chunkBounds(len(xs), workers, id)
		go func(id, low, high int) {
			idx.nearParticles(xs, hs, low, high, partial[id])
			out <- id
		}(id, low, high)
	}
	for i := 0; i < workers; i++ {
		<-out
	}

	// Worker id covers particles before worker id+1, so concatenating in
	// worker order keeps each list sorted by particle index.
	res := make([][]Near, n)
	for line := range res {
		size := 0
		for id := range partial {
			size += len(partial[id][line])
		}
		if size == 0 {
			continue
		}
		res[line] = make([]Near, 0, size)
		for id := range partial {
			res[line] = append(res[line], partial[id][line]...)
		}
	}
	return res, nil
}

func (idx *Index) nearParticles(
	xs []geom.Vec, hs []float32, low, high int, res [][]Near,
) {
	buf := make(map[int]float64)
	for i := low; i < high; i++ {
		for id := range buf {
			delete(buf, id)
		}
		idx.nearLines(&xs[i], float64(hs[i]), buf)
		for id, dr2 := range buf {
			res[id] = append(res[id], Near{i, dr2})
		}
	}
}

// chunkBounds splits n items into workers contiguous ranges and returns the
// range of worker id.
func chunkBounds(n, workers, id int) (low, high int) {
	low = n * id / workers
	high = n * (id + 1) / workers
	return low, high
}
