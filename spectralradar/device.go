/*Package spectralradar exposes the parts of the Thorlabs SpectralRadar OCT SDK
used to acquire volumes, draw photobleach lines and operate the video camera
in the OCT head.

The SDK itself is only available on Windows.  Building with the spectralradar
tag links against SpectralRadar.lib; otherwise only the Mock device is
available, which is what the tests and the mock server use.
*/
package spectralradar

import (
	"errors"
	"image"
	"time"
)

// AcquisitionMode is the type of measurement to start
type AcquisitionMode int

const (
	// AsyncContinuous repeats the scan pattern until the measurement is stopped
	AsyncContinuous AcquisitionMode = iota

	// AsyncFinite runs the scan pattern once, returning it slice by slice
	AsyncFinite
)

var (
	// ErrReleased is generated when a handle is used after it was closed
	ErrReleased = errors.New("spectralradar: handle already released")

	// ErrNotMeasuring is generated when raw data is requested with no
	// measurement running
	ErrNotMeasuring = errors.New("spectralradar: no measurement running")
)

// Error is an error reported by the SDK
type Error struct {
	Message string
}

// Error satisfies the error interface
func (e Error) Error() string {
	return "spectralradar: " + e.Message
}

// Pattern is a scan pattern
type Pattern interface {
	// Rotate rotates the pattern by deg degrees about the origin
	Rotate(deg float64) error

	// Shift translates the pattern by x, y mm
	Shift(x, y float64) error

	Close() error
}

// RawData holds one buffer of raw spectra
type RawData interface {
	// ExportSRR writes the spectra to path in the SpectralRadar .srr format
	ExportSRR(path string) error

	Close() error
}

// Processing turns raw spectra into B-scans
type Processing interface {
	// LoadChirp loads the chirp calibration file
	LoadChirp(path string) error

	// SetDispersion computes the dispersion correction from the loaded chirp
	// and the quadratic coefficient a, and enables compensation
	SetDispersion(a float64) error

	// Export processes raw and writes the B-scan to path as raw floats
	Export(raw RawData, path string) error

	Close() error
}

// OCTFile is a ThorImageOCT data file being assembled.  Raw data added to it
// is copied, so the buffer may be reused for the next frame.
type OCTFile interface {
	// AddRawData copies the spectra in raw into the file under title
	AddRawData(raw RawData, title string) error

	// SaveMetadata stores the calibration of proc and the settings of the
	// device, probe and pattern, marking the file as a 3D acquisition of raw
	// spectra taken at t
	SaveMetadata(proc Processing, p Pattern, t time.Time) error

	// Save writes the file to path
	Save(path string) error

	Close() error
}

// Device is an OCT base unit with a probe attached
type Device interface {
	// DeviceType returns the name of the base unit, e.g. Ganymede
	DeviceType() (string, error)

	// OpenProbe initializes the probe from its .ini configuration
	OpenProbe(ini string) error

	// SetProbeOversamplingSlowAxis sets how many times each B-scan is repeated
	SetProbeOversamplingSlowAxis(n int) error

	// NewVolumePattern creates a volume scan pattern centered on the origin
	NewVolumePattern(rangeX float64, sizeX int, rangeY float64, sizeY int) (Pattern, error)

	// NewBScanPattern creates a line between two points in mm
	NewBScanPattern(x0, y0, x1, y1 float64, ascans int) (Pattern, error)

	NewProcessing() (Processing, error)

	NewRawData() (RawData, error)

	// NewOCTFile creates an empty file in the OCITY format read by ThorImageOCT
	NewOCTFile() (OCTFile, error)

	StartMeasurement(p Pattern, mode AcquisitionMode) error

	// GetRawData blocks until the next buffer is ready and copies it into raw
	GetRawData(raw RawData) error

	StopMeasurement() error

	// CameraImage grabs one frame from the video camera
	CameraImage() (image.Image, error)

	// SetOutputDeviceValue sets an analog output, e.g. "ring light", by name
	SetOutputDeviceValue(name string, value float64) error

	// SetLaserDiode turns the superluminescent diode on or off
	SetLaserDiode(on bool) error

	// Close closes the probe and the device
	Close() error
}
