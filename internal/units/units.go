// Package units provides shared constants and validation for wavelength units
package units

// Unit constants
const (
	NM       = "nm"
	Angstrom = "angstrom"
	UM       = "um"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{NM, Angstrom, UM}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "nm, angstrom, um"
}

// ConvertWavelength converts a wavelength from nanometres to the target units.
// Calibration anchors and stored traces carry wavelengths in nm.
func ConvertWavelength(wavelengthNM float64, targetUnits string) float64 {
	switch targetUnits {
	case Angstrom:
		return wavelengthNM * 10 // nm to Å
	case UM:
		return wavelengthNM / 1000 // nm to µm
	case NM:
		return wavelengthNM // no conversion needed
	default:
		return wavelengthNM // default to nm if unknown unit
	}
}
