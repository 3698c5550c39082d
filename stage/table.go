package stage

import (
	"math"
	"strings"
)

const (
	// UnknownSerial is returned by SerialNumber for an axis with no controller
	UnknownSerial = -1

	// fallbackUnitsPerMM is the scale of a Z8 series actuator, used for any
	// serial number not in the table
	fallbackUnitsPerMM = 34555.

	// VelocityUnitsPerMMPerS converts mm/s to device velocity units
	VelocityUnitsPerMMPerS = 772981.3692

	// AccelUnitsPerMMPerS2 converts mm/s^2 to device acceleration units
	AccelUnitsPerMMPerS2 = 263.8443072

	// DefaultVelocity is the velocity used for every move, mm/s
	DefaultVelocity = 1.

	// DefaultAcceleration is the acceleration used for every move, mm/s^2
	DefaultAcceleration = 1.
)

type axisEntry struct {
	serial     int
	unitsPerMM float64
}

var axes = map[string]axisEntry{
	"x": {serial: 27504851, unitsPerMM: 34304},
	"y": {serial: 27504856, unitsPerMM: 34304},
	"z": {serial: 27004989, unitsPerMM: 34555},
}

// SerialNumber returns the serial number of the controller driving axis,
// which is one of x, y, z (any case).  Other axes return UnknownSerial.
func SerialNumber(axis string) int {
	if e, ok := axes[strings.ToLower(axis)]; ok {
		return e.serial
	}
	return UnknownSerial
}

// LookupAxis returns the serial number for axis and true if it is known
func LookupAxis(axis string) (int, bool) {
	s := SerialNumber(axis)
	return s, s != UnknownSerial
}

// UnitsPerMM returns the number of device units in one mm for the
// controller with the given serial number
func UnitsPerMM(serial int) float64 {
	for _, e := range axes {
		if e.serial == serial {
			return e.unitsPerMM
		}
	}
	return fallbackUnitsPerMM
}

// ToDeviceUnits converts mm to device units, rounding to the nearest unit.
// Device units are integers because the controller only accepts whole
// encoder counts as a move target, so mm which fall between counts come back
// from ToMM within half a count; whole counts come back exactly.
func ToDeviceUnits(serial int, mm float64) int {
	return int(math.Round(mm * UnitsPerMM(serial)))
}

// ToMM converts device units to mm
func ToMM(serial int, units int) float64 {
	return float64(units) / UnitsPerMM(serial)
}

func velocityUnits(mmps float64) int {
	return int(math.Round(mmps * VelocityUnitsPerMMPerS))
}

func accelUnits(mmps2 float64) int {
	return int(math.Round(mmps2 * AccelUnitsPerMMPerS2))
}
