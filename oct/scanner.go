/*Package oct drives an OCT scanner: volume acquisition, photobleaching a line,
and the video camera and ring light in the scan head.

A Scanner is a session with one device.  Operations on a Scanner are
exclusive; a call made while another is in flight returns ErrBusy.
*/
package oct

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/yolab/thorimager/spectralradar"
	"github.com/yolab/thorimager/thorlabs"
)

// DefaultChirpPath is where the SpectralRadar software installs the chirp calibration
const DefaultChirpPath = `C:\Program Files\Thorlabs\SpectralRadar\Config\Chirp.dat`

var (
	// ErrBusy is generated when the scanner is already running an operation
	ErrBusy = errors.New("scanner is busy")

	// ErrClosed is generated when a closed scanner is used
	ErrClosed = errors.New("scanner is closed")

	// ErrInvalid is generated when the parameters of an operation are out of range
	ErrInvalid = errors.New("invalid parameters")

	// ErrOutputExists is generated when the output directory of a scan already exists
	ErrOutputExists = errors.New("output directory already exists, will not scan")
)

// Option configures a Scanner
type Option func(*Scanner)

// WithChirpPath sets the path to the chirp calibration file
func WithChirpPath(path string) Option {
	return func(s *Scanner) {
		s.chirpPath = path
	}
}

// WithLaser attaches a laser driver which is switched on before and off after
// each photobleach
func WithLaser(sw thorlabs.Switcher) Option {
	return func(s *Scanner) {
		s.laser = sw
	}
}

// Scanner is a session with an OCT device
type Scanner struct {
	op sync.Mutex // held for the duration of an operation

	dev       spectralradar.Device
	probeIni  string
	profile   DeviceProfile
	chirpPath string
	laser     thorlabs.Switcher

	mu     sync.Mutex
	closed bool
}

// Init opens the probe described by probeIni on dev and identifies the device.
// If the device is not a known base unit, it is closed and ErrUnknownDevice
// is returned.
func Init(dev spectralradar.Device, probeIni string, opts ...Option) (*Scanner, error) {
	s := &Scanner{dev: dev, probeIni: probeIni, chirpPath: DefaultChirpPath}
	for _, opt := range opts {
		opt(s)
	}
	if err := dev.OpenProbe(probeIni); err != nil {
		return nil, errors.Join(fmt.Errorf("opening probe %s: %w", probeIni, err), dev.Close())
	}
	typ, err := dev.DeviceType()
	if err != nil {
		return nil, errors.Join(err, dev.Close())
	}
	s.profile, err = ResolveProfile(typ)
	if err != nil {
		return nil, errors.Join(err, dev.Close())
	}
	log.Printf("OCT scanner %s initialized, %.0f A-scans/s\n", s.profile.Name, s.profile.ScanRate)
	return s, nil
}

// acquire claims the scanner for an operation.  The returned func releases it.
func (s *Scanner) acquire() (func(), error) {
	if !s.op.TryLock() {
		return nil, ErrBusy
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.op.Unlock()
		return nil, ErrClosed
	}
	return s.op.Unlock, nil
}

// Profile returns the profile of the device
func (s *Scanner) Profile() DeviceProfile {
	return s.profile
}

// ProbeIni returns the path of the probe configuration
func (s *Scanner) ProbeIni() string {
	return s.probeIni
}

// Close closes the probe and the device.  It waits for a running operation to
// finish.  Closing twice is not an error.
func (s *Scanner) Close() error {
	s.op.Lock()
	defer s.op.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dev.Close()
}
