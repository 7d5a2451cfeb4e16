/*package sph evaluates the cubic spline smoothing kernel used by SPH codes,
along with integrals of the kernel along straight lines through a particle.

Kernels use the Gadget convention: the smoothing length h is the full
support radius, so W(r, h) = 0 for r >= h.
*/
package sph

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

const (
	// DefaultPoints is the number of Gauss-Legendre nodes used per segment.
	DefaultPoints = 16
	// tableSize is the number of knots in the projected kernel table.
	tableSize = 1025
)

// W returns the value of the normalized 3D cubic spline kernel at radius r.
func W(r, h float64) float64 {
	return 8 / (math.Pi * h * h * h) * w(r/h)
}

// w is the dimensionless kernel shape.
func w(q float64) float64 {
	switch {
	case q < 0:
		return w(-q)
	case q <= 0.5:
		return 1 - 6*q*q + 6*q*q*q
	case q < 1:
		d := 1 - q
		return 2 * d * d * d
	}
	return 0
}

// Chord returns half the length of the segment that a line at squared
// distance dr2 from a particle cuts through its smoothing sphere. It is zero
// when the line misses the sphere.
func Chord(dr2, h float64) float64 {
	c2 := h*h - dr2
	if c2 <= 0 {
		return 0
	}
	return math.Sqrt(c2)
}

// Kernel integrates W along lines. It holds precomputed quadrature nodes and
// is safe for concurrent use.
type Kernel struct {
	nodes, weights []float64
	proj           *spline
}

// NewKernel creates a Kernel which uses the given number of Gauss-Legendre
// nodes on every smooth segment of an integrand.
func NewKernel(points int) *Kernel {
	if points <= 0 {
		points = DefaultPoints
	}
	k := &Kernel{
		nodes:   make([]float64, points),
		weights: make([]float64, points),
	}
	quad.Legendre{}.FixedLocations(k.nodes, k.weights, -1, 1)
	k.proj = k.projectedTable()
	return k
}

// Integrate returns the integral of W(sqrt(dr2 + z^2), h) * f(z) over z in
// [z0, z1], where z is the offset from the particle along the line. f may be
// nil, in which case it is taken to be 1. breaks lists additional points
// where f changes quickly; the integrand is split at each of them.
func (k *Kernel) Integrate(
	dr2, h, z0, z1 float64, f func(z float64) float64, breaks ...float64,
) float64 {
	zc := Chord(dr2, h)
	if z0 < -zc {
		z0 = -zc
	}
	if z1 > zc {
		z1 = zc
	}
	if !(z1 > z0) {
		return 0
	}

	// W has a discontinuous second derivative at q = 1/2 and a kink at
	// z = 0 when the line passes through the particle.
	var buf [8]float64
	cuts := buf[:0]
	cuts = append(cuts, 0)
	if hh := h * h / 4; dr2 < hh {
		zi := math.Sqrt(hh - dr2)
		cuts = append(cuts, -zi, zi)
	}

	pts := make([]float64, 0, 2+len(cuts)+len(breaks))
	pts = append(pts, z0)
	for _, c := range cuts {
		if c > z0 && c < z1 {
			pts = append(pts, c)
		}
	}
	for _, c := range breaks {
		if c > z0 && c < z1 {
			pts = append(pts, c)
		}
	}
	pts = append(pts, z1)
	sortSmall(pts)

	norm := 8 / (math.Pi * h * h * h)
	sum := 0.0
	for i := 0; i < len(pts)-1; i++ {
		lo, hi := pts[i], pts[i+1]
		if hi <= lo {
			continue
		}
		mid, half := (hi+lo)/2, (hi-lo)/2
		seg := 0.0
		for j, x := range k.nodes {
			z := mid + half*x
			val := w(math.Sqrt(dr2+z*z) / h)
			if val == 0 {
				continue
			}
			if f != nil {
				val *= f(z)
			}
			seg += k.weights[j] * val
		}
		sum += seg * half
	}

	return sum * norm
}

// Projected returns the kernel integrated along the whole line at squared
// distance dr2 from the particle: the 2D column kernel. It is evaluated
// directly by quadrature.
func (k *Kernel) Projected(dr2, h float64) float64 {
	zc := Chord(dr2, h)
	return k.Integrate(dr2, h, -zc, zc, nil)
}

// ProjectedTable returns the same value as Projected, interpolated from a
// table built when the Kernel was created.
func (k *Kernel) ProjectedTable(dr2, h float64) float64 {
	x := dr2 / (h * h)
	if x >= 1 {
		return 0
	} else if x < 0 {
		x = 0
	}
	return k.proj.Interpolate(x) / (h * h)
}

// projectedTable tabulates h^2 * Projected(x * h^2, h) for x in [0, 1].
func (k *Kernel) projectedTable() *spline {
	xs, ys := make([]float64, tableSize), make([]float64, tableSize)
	for i := range xs {
		xs[i] = float64(i) / float64(tableSize-1)
		ys[i] = k.Projected(xs[i], 1)
	}
	sp, err := newSpline(xs, ys)
	if err != nil {
		panic(err.Error())
	}
	return sp
}

// sortSmall is an insertion sort. The slices it sees are a handful of
// elements long.
func sortSmall(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
