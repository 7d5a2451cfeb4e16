/*package cosmo contains physical constants and the routines which convert
Gadget's internal units into the physical quantities used when computing
spectra.
*/
package cosmo

import (
	"fmt"
	"math"
)

const (
	// GadgetMass is the Gadget mass unit, 1e10 M_sun/h, in g/h.
	GadgetMass = 1.98892e43
	// GadgetLength is the Gadget length unit, 1 kpc/h, in cm/h.
	GadgetLength = 3.085678e21

	// Atomic masses in amu.
	HMass  = 1.00794
	HeMass = 4.002602

	// XH is the hydrogen fraction by mass.
	XH = 0.76
	// PhysDensThresh is the star formation threshold in amu/cm^3. Denser gas
	// is assumed to be fully neutral.
	PhysDensThresh = 0.12948869200298072

	ProtonMass = 1.66053886e-24 // g
	Boltzmann  = 1.3806504e-16  // erg/K
	Gamma      = 5.0 / 3
	Light      = 2.99792458e10 // cm/s
	SigmaT     = 6.652458558e-25 // cm^2
)

// Units describes the cosmological context of one snapshot.
type Units struct {
	A    float64 // Scale factor
	H100 float64 // Hubble parameter, h
	Hz   float64 // Hubble rate at A in km/s/Mpc
}

// Hubble returns H(z) in km/s/Mpc for a flat matter + lambda cosmology.
func Hubble(z, omegaM, omegaL, h100 float64) float64 {
	zp1 := 1 + z
	return 100 * h100 * math.Sqrt(omegaM*zp1*zp1*zp1+omegaL)
}

// NewUnits creates the Units for a snapshot at redshift z.
func NewUnits(z, omegaM, omegaL, h100 float64) (*Units, error) {
	if h100 <= 0 {
		return nil, fmt.Errorf("Hubble parameter must be positive, is %g.", h100)
	} else if z <= -1 {
		return nil, fmt.Errorf("Redshift must be larger than -1, is %g.", z)
	}
	return &Units{
		A:    1 / (1 + z),
		H100: h100,
		Hz:   Hubble(z, omegaM, omegaL, h100),
	}, nil
}

// VelFac converts a comoving distance in internal length units to a Hubble
// flow velocity in km/s.
func (u *Units) VelFac() float64 { return u.A / u.H100 * u.Hz / 1e3 }

// RScale converts comoving internal length units to physical cm.
func (u *Units) RScale() float64 { return GadgetLength * u.A / u.H100 }

// DScale converts comoving internal density units to physical amu/cm^3.
func (u *Units) DScale() float64 {
	return GadgetMass / math.Pow(GadgetLength, 3) * u.H100 * u.H100 /
		(HMass * ProtonMass) / (u.A * u.A * u.A)
}

// NeutralDensity converts a raw gas density and a neutral hydrogen fraction
// into the neutral hydrogen number density (amu/cm^3) multiplied by RScale.
func (u *Units) NeutralDensity(rho, nHI float64) float64 {
	n := rho * u.DScale() * XH
	if n <= PhysDensThresh {
		n *= nHI
	}
	return n * u.RScale()
}

// Temperature returns the gas temperature in K given the internal energy per
// unit mass, in (km/s)^2, and the electron abundance relative to hydrogen.
func Temperature(ie, ne float64) float64 {
	mu := 1 / (XH*(0.75+ne) + 0.25)
	return ie * ((Gamma - 1) * mu * ProtonMass / Boltzmann) * 1e10
}

// Convert rescales a chunk of gas in place: rho is overwritten with the
// value of NeutralDensity and ie is overwritten with the temperature.
func (u *Units) Convert(rho, nHI, ie, ne []float32) error {
	n := len(rho)
	if len(nHI) != n || len(ie) != n || len(ne) != n {
		return fmt.Errorf(
			"Gas buffers have unequal lengths: rho %d, NH %d, U %d, NE %d.",
			len(rho), len(nHI), len(ie), len(ne),
		)
	}

	for i := 0; i < n; i++ {
		rho[i] = float32(u.NeutralDensity(float64(rho[i]), float64(nHI[i])))
		ie[i] = float32(Temperature(float64(ie[i]), float64(ne[i])))
	}
	return nil
}
