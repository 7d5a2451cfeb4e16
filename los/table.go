/*package los manages the table of sightlines that spectra are extracted
along. Each sightline is an infinite ray running parallel to one of the
coordinate axes of the periodic box.
*/
package los

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/phil-mansfield/spectra/geom"
	"github.com/phil-mansfield/table"
)

// Sightline is a single line of sight. Pos is any point on the line: the
// component along Axis is ignored.
type Sightline struct {
	Axis geom.Axis
	Pos  [3]float64
}

// Transverse returns the two coordinates which fix the line's position in
// the plane perpendicular to its axis.
func (s *Sightline) Transverse() (float64, float64) {
	i, j := s.Axis.Transverse()
	return s.Pos[i], s.Pos[j]
}

// Table is an ordered, immutable list of sightlines inside a box of width
// Box.
type Table struct {
	Lines []Sightline
	Box   float64
}

// NewTable creates a Table from an explicit list of sightlines. Transverse
// coordinates are wrapped into [0, box).
func NewTable(lines []Sightline, box float64) (*Table, error) {
	if box <= 0 {
		return nil, fmt.Errorf("Box width must be positive, but is %g.", box)
	} else if len(lines) == 0 {
		return nil, fmt.Errorf("Sightline table is empty.")
	}

	t := &Table{Lines: make([]Sightline, len(lines)), Box: box}
	copy(t.Lines, lines)
	for i := range t.Lines {
		s := &t.Lines[i]
		if !s.Axis.Valid() {
			return nil, fmt.Errorf(
				"Sightline %d has invalid axis %d.", i, int(s.Axis),
			)
		}
		for k := 0; k < 3; k++ {
			s.Pos[k] = geom.Wrap(s.Pos[k], box)
		}
	}
	return t, nil
}

// Len returns the number of sightlines in the table.
func (t *Table) Len() int { return len(t.Lines) }

// NewRandomTable places n sightlines with uniformly random axes and
// positions. The same seed always gives the same table.
func NewRandomTable(n int, box float64, seed uint64) (*Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("Need a positive sightline count, got %d.", n)
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	gen := rand.New(src)
	pos := distuv.Uniform{Min: 0, Max: box, Src: src}

	lines := make([]Sightline, n)
	for i := range lines {
		lines[i].Axis = geom.Axis(gen.IntN(3))
		for k := 0; k < 3; k++ {
			lines[i].Pos[k] = pos.Rand()
		}
	}
	return NewTable(lines, box)
}

// ReadTable reads n sightlines from a whitespace-separated text file with
// the columns
//
//     axis x y z
//
// where axis is 1, 2, or 3 for lines running along X, Y, or Z. Extra rows
// are ignored. Every coordinate must lie in [0, box).
func ReadTable(fname string, n int, box float64) (*Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("Need a positive sightline count, got %d.", n)
	}

	cols, err := table.ReadTable(fname, []int{0, 1, 2, 3}, nil)
	if err != nil {
		return nil, err
	}
	axes, xs, ys, zs := cols[0], cols[1], cols[2], cols[3]

	if len(axes) < n {
		return nil, fmt.Errorf(
			"Sightline table %s has %d rows, but %d sightlines were requested.",
			fname, len(axes), n,
		)
	}

	lines := make([]Sightline, n)
	for i := range lines {
		ax := int(axes[i])
		if float64(ax) != axes[i] || ax < 1 || ax > 3 {
			return nil, fmt.Errorf(
				"Row %d of %s has axis %g, must be one of 1, 2, 3.",
				i+1, fname, axes[i],
			)
		}
		lines[i].Axis = geom.Axis(ax - 1)
		lines[i].Pos = [3]float64{xs[i], ys[i], zs[i]}

		for k := 0; k < 3; k++ {
			if lines[i].Pos[k] < 0 || lines[i].Pos[k] >= box {
				return nil, fmt.Errorf(
					"Row %d of %s has %s coordinate %g outside [0, %g).",
					i+1, fname, geom.Axis(k), lines[i].Pos[k], box,
				)
			}
		}
	}

	return NewTable(lines, box)
}
