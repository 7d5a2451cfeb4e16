/*package geom contains routines for reasoning about positions inside the
periodic cubic volume of a cosmological simulation.
*/
package geom

import (
	"fmt"
	"math"
	"strings"
)

// Vec is a three dimensional vector. Snapshots store positions and
// velocities at single precision.
type Vec [3]float32

// Axis is one of the three coordinate axes of the box.
type Axis int

const (
	X Axis = iota
	Y
	Z
	EndAxis
)

// String returns "X", "Y", or "Z".
func (ax Axis) String() string {
	switch ax {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	}
	return fmt.Sprintf("Axis(%d)", int(ax))
}

// Valid returns true if ax is one of X, Y, or Z.
func (ax Axis) Valid() bool { return ax >= X && ax < EndAxis }

// Transverse returns the two axes perpendicular to ax, in increasing order.
func (ax Axis) Transverse() (Axis, Axis) {
	switch ax {
	case X:
		return Y, Z
	case Y:
		return X, Z
	default:
		return X, Y
	}
}

// ParseAxis converts a case-insensitive axis name to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return X, nil
	case "Y":
		return Y, nil
	case "Z":
		return Z, nil
	}
	return -1, fmt.Errorf("Unrecognized axis '%s'. Must be one of X, Y, Z.", s)
}

// Wrap maps x into the interval [0, L).
func Wrap(x, L float64) float64 {
	if x >= 0 && x < L {
		return x
	}
	x = math.Mod(x, L)
	if x < 0 {
		x += L
	}
	// math.Mod(-tiny, L) + L can round up to exactly L.
	if x >= L {
		x -= L
	}
	return x
}

// MinImage returns the separation dx reduced to the shortest equivalent
// displacement in a periodic domain of width L. The result lies in
// [-L/2, L/2].
func MinImage(dx, L float64) float64 {
	dx = math.Mod(dx, L)
	if dx > L/2 {
		dx -= L
	} else if dx < -L/2 {
		dx += L
	}
	return dx
}

// LineDist2 returns the squared minimum-image distance between the point x
// and an infinite line running along axis ax through the point c. The
// coordinate of x along ax is ignored.
func LineDist2(x *Vec, ax Axis, c *[3]float64, L float64) float64 {
	i, j := ax.Transverse()
	di := MinImage(float64(x[i])-c[i], L)
	dj := MinImage(float64(x[j])-c[j], L)
	return di*di + dj*dj
}

// Finite returns true if every component of v is finite.
func (v *Vec) Finite() bool {
	for k := 0; k < 3; k++ {
		f := float64(v[k])
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
