package absorb

import (
	"fmt"
	"strings"

	"github.com/phil-mansfield/spectra/cosmo"
)

// Species describes a single absorption transition.
type Species struct {
	Name   string
	Lambda float64 // Rest wavelength in cm
	Fosc   float64 // Oscillator strength
	Gamma  float64 // Natural line width in 1/s
	Mass   float64 // Ion mass in amu
}

// Atomic data from VPFIT.
var (
	HILya = Species{
		Name: "HI", Lambda: 1215.6701e-8, Fosc: 0.416400,
		Gamma: 6.265e8, Mass: cosmo.HMass,
	}
	HeIILya = Species{
		Name: "HeII", Lambda: 303.7822e-8, Fosc: 0.416400,
		Gamma: 6.27e8, Mass: cosmo.HeMass,
	}

	knownSpecies = []Species{HILya, HeIILya}
)

// LookupSpecies returns the preset Species with the given case-insensitive
// name.
func LookupSpecies(name string) (Species, error) {
	names := []string{}
	for _, sp := range knownSpecies {
		if strings.EqualFold(sp.Name, name) {
			return sp, nil
		}
		names = append(names, sp.Name)
	}
	return Species{}, fmt.Errorf(
		"Unrecognized species '%s'. Known species are: %s.",
		name, strings.Join(names, ", "),
	)
}

// Check returns an error if any of the line's constants are unphysical.
func (sp *Species) Check() error {
	switch {
	case !(sp.Lambda > 0):
		return fmt.Errorf("Species '%s' has non-positive Lambda %g.", sp.Name, sp.Lambda)
	case !(sp.Fosc > 0):
		return fmt.Errorf("Species '%s' has non-positive Fosc %g.", sp.Name, sp.Fosc)
	case !(sp.Gamma >= 0):
		return fmt.Errorf("Species '%s' has negative Gamma %g.", sp.Name, sp.Gamma)
	case !(sp.Mass > 0):
		return fmt.Errorf("Species '%s' has non-positive Mass %g.", sp.Name, sp.Mass)
	}
	return nil
}
