package oct

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDevice is generated when the OCT base unit is not in the profile table
var ErrUnknownDevice = errors.New("unknown OCT device type")

// DeviceProfile holds the properties of an OCT base unit
type DeviceProfile struct {
	// Name is the device type, used in frame file names
	Name string `json:"name" yaml:"name"`

	// ScanRate is the A-scan rate in A-scans per second
	ScanRate float64 `json:"scanRate" yaml:"scanRate"`
}

var profiles = []DeviceProfile{
	{Name: "Ganymede", ScanRate: 28000},
	{Name: "Telesto", ScanRate: 28000},
}

// ResolveProfile returns the profile of the base unit named deviceType
func ResolveProfile(deviceType string) (DeviceProfile, error) {
	name := strings.TrimSpace(strings.TrimRight(deviceType, "\x00"))
	for _, p := range profiles {
		if name == p.Name {
			return p, nil
		}
	}
	return DeviceProfile{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceType)
}

// AScansPerPass is the number of A-scans in one pass of a line scanned
// repetition times over duration seconds at scanRate A-scans per second
func AScansPerPass(scanRate, duration, repetition float64) int {
	if repetition <= 0 {
		return 0
	}
	return int(scanRate * duration / repetition)
}
