package absorb

import (
	"math"
)

// pixelProfile returns the fraction of a line profile centered on zero which
// falls between the velocities v0 and v1 (v0 < v1). b is the thermal width
// and a is the Voigt damping parameter. With a = 0 this is the integral of a
// normalized Gaussian.
func pixelProfile(v0, v1, b, a float64) float64 {
	x0, x1 := v0/b, v1/b

	var p float64
	if x0 >= 0 {
		p = 0.5 * (math.Erfc(x0) - math.Erfc(x1))
	} else if x1 <= 0 {
		p = 0.5 * (math.Erfc(-x1) - math.Erfc(-x0))
	} else {
		p = 0.5 * (math.Erf(x1) - math.Erf(x0))
	}

	if a > 0 {
		// Simpson's rule on the damping correction.
		xm := (x0 + x1) / 2
		c := dampingWing(a, x0) + 4*dampingWing(a, xm) + dampingWing(a, x1)
		p += (x1 - x0) / 6 * c / math.SqrtPi
	}

	if p < 0 {
		return 0
	}
	return p
}

// dampingWing returns H(a, x) - exp(-x^2), where H is the Voigt function,
// using the approximation of Tepper-Garcia (2006).
func dampingWing(a, x float64) float64 {
	x2 := x * x
	if x2 < 1e-2 {
		// The closed form cancels catastrophically near the line center.
		return -2 * a / math.SqrtPi * (1 - 2*x2)
	}
	h0 := math.Exp(-x2)
	q := 1.5 / x2
	return -a / math.SqrtPi / x2 * (h0*h0*(4*x2*x2+7*x2+4+q) - q - 1)
}

// wingWidth returns the distance from line center, in units of b, beyond
// which the profile falls below tail relative to its peak.
func wingWidth(a, tail float64) float64 {
	x := math.Sqrt(-math.Log(tail))
	if a > 0 {
		if xd := math.Sqrt(a / (math.SqrtPi * tail)); xd > x {
			x = xd
		}
	}
	return x
}
