package sph

import (
	"fmt"
)

// spline is a 1D natural cubic spline through a table of increasing x
// values.
type spline struct {
	xs, ys, y2s, sqrs []float64

	// Tables are usually uniform. This is our estimate of the point
	// spacing.
	dx float64
}

// newSpline creates a spline based off a table of x and y values. The x
// values must be strictly increasing. xs and ys must not be modified
// throughout the lifetime of the spline.
func newSpline(xs, ys []float64) (*spline, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf(
			"Spline table has len(xs) = %d but len(ys) = %d.",
			len(xs), len(ys),
		)
	} else if len(xs) <= 2 {
		return nil, fmt.Errorf("Spline table has length of %d.", len(xs))
	}
	for i := 0; i < len(xs)-1; i++ {
		if xs[i+1] <= xs[i] {
			return nil, fmt.Errorf("Spline table not sorted at index %d.", i)
		}
	}

	sp := &spline{xs: xs, ys: ys}
	sp.y2s = make([]float64, len(xs))
	sp.sqrs = make([]float64, len(xs)-1)
	sp.dx = (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1)

	if err := sp.secondDerivative(); err != nil {
		return nil, err
	}
	for i := range sp.sqrs {
		sp.sqrs[i] = (xs[i+1] - xs[i]) * (xs[i+1] - xs[i])
	}

	return sp, nil
}

// Interpolate evaluates the spline at x. Points outside the table are
// clamped to its ends.
func (sp *spline) Interpolate(x float64) float64 {
	n := len(sp.xs)
	if x <= sp.xs[0] {
		return sp.ys[0]
	} else if x >= sp.xs[n-1] {
		return sp.ys[n-1]
	}

	lo := sp.bsearch(x)
	hi := lo + 1

	A := (sp.xs[hi] - x) / (sp.xs[hi] - sp.xs[lo])
	B := 1 - A
	C := (A*A*A - A) * sp.sqrs[lo] / 6
	D := (B*B*B - B) * sp.sqrs[lo] / 6
	return A*sp.ys[lo] + B*sp.ys[hi] + C*sp.y2s[lo] + D*sp.y2s[hi]
}

// bsearch returns the the index of the largest element in xs which is
// not larger than x.
func (sp *spline) bsearch(x float64) int {
	// Guess under the assumption of uniform spacing.
	guess := int((x - sp.xs[0]) / sp.dx)
	if guess >= 0 && guess < len(sp.xs)-1 &&
		sp.xs[guess] <= x && sp.xs[guess+1] > x {
		return guess
	}

	lo, hi := 0, len(sp.xs)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if x >= sp.xs[mid] {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// secondDerivative computes the second derivative at every knot. The ends
// are fixed at zero.
func (sp *spline) secondDerivative() error {
	n := len(sp.xs)
	as, bs := make([]float64, n-2), make([]float64, n-2)
	cs, rs := make([]float64, n-2), make([]float64, n-2)

	sp.y2s[0], sp.y2s[n-1] = 0, 0

	xs, ys := sp.xs, sp.ys
	for i := range rs {
		j := i + 1

		as[i] = (xs[j] - xs[j-1]) / 6
		bs[i] = (xs[j+1] - xs[j-1]) / 3
		cs[i] = (xs[j+1] - xs[j]) / 6
		rs[i] = ((ys[j+1] - ys[j]) / (xs[j+1] - xs[j])) -
			((ys[j] - ys[j-1]) / (xs[j] - xs[j-1]))
	}

	return triDiagAt(as, bs, cs, rs, sp.y2s[1:n-1])
}

// triDiagAt solves the system of equations
//
// | b0 c0 ..    |   | out0 |   | r0 |
// | a1 b1 c1 .. |   | out1 |   | r1 |
// | ..          | * | ..   | = | .. |
// | ..    an bn |   | outn |   | rn |
//
// for out0 .. outn in place in the given slice.
func triDiagAt(as, bs, cs, rs, out []float64) error {
	if len(as) != len(bs) || len(as) != len(cs) ||
		len(as) != len(out) || len(as) != len(rs) {
		return fmt.Errorf("Length of arguments to triDiagAt are unequal.")
	}

	tmp := make([]float64, len(as))

	beta := bs[0]
	if beta == 0 {
		return fmt.Errorf("triDiagAt cannot solve given system.")
	}
	out[0] = rs[0] / beta

	for i := 1; i < len(out); i++ {
		tmp[i] = cs[i-1] / beta
		beta = bs[i] - as[i]*tmp[i]
		if beta == 0 {
			return fmt.Errorf("triDiagAt cannot solve given system.")
		}
		out[i] = (rs[i] - as[i]*out[i-1]) / beta
	}

	for i := len(out) - 2; i >= 0; i-- {
		out[i] -= tmp[i+1] * out[i+1]
	}
	return nil
}
