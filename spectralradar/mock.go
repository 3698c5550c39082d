package spectralradar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	// mockSpectrumLength is the number of spectrometer pixels per A-scan
	mockSpectrumLength = 512

	mockCameraWidth  = 64
	mockCameraHeight = 48
)

// Mock is an in-memory OCT device.  It synthesizes spectra and camera frames,
// writes real files on export, and records every call made to it.
type Mock struct {
	sync.Mutex

	// FailFrames holds the (zero based) indices of GetRawData calls that fail
	FailFrames map[int]bool

	devType      string
	calls        []string
	probe        string
	oversampling int
	measuring    bool
	mode         AcquisitionMode
	pattern      *mockPattern
	frames       int
	cameraFrames int
	outputs      map[string]float64
	laser        bool
	closed       bool
}

// NewMock returns a mock device reporting devType from DeviceType
func NewMock(devType string) *Mock {
	return &Mock{
		devType:    devType,
		outputs:    map[string]float64{},
		FailFrames: map[int]bool{},
	}
}

func (m *Mock) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Calls returns the calls made to the device, in order
func (m *Mock) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Output returns the last value written to a named output
func (m *Mock) Output(name string) (float64, bool) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.outputs[name]
	return v, ok
}

// LaserDiode returns true if the diode is on
func (m *Mock) LaserDiode() bool {
	m.Lock()
	defer m.Unlock()
	return m.laser
}

// Oversampling returns the slow axis oversampling of the probe
func (m *Mock) Oversampling() int {
	m.Lock()
	defer m.Unlock()
	return m.oversampling
}

// Measuring returns true if a measurement is running
func (m *Mock) Measuring() bool {
	m.Lock()
	defer m.Unlock()
	return m.measuring
}

// DeviceType returns the device type given to NewMock
func (m *Mock) DeviceType() (string, error) {
	m.Lock()
	defer m.Unlock()
	m.record("DeviceType")
	return m.devType, nil
}

// OpenProbe opens the probe.  The file must exist.
func (m *Mock) OpenProbe(ini string) error {
	m.Lock()
	defer m.Unlock()
	m.record("OpenProbe %s", ini)
	if _, err := os.Stat(ini); err != nil {
		return Error{Message: fmt.Sprintf("could not open probe configuration %s", ini)}
	}
	m.probe = ini
	m.oversampling = 1
	return nil
}

// SetProbeOversamplingSlowAxis sets the number of repeats of each B-scan
func (m *Mock) SetProbeOversamplingSlowAxis(n int) error {
	m.Lock()
	defer m.Unlock()
	m.record("SetProbeOversamplingSlowAxis %d", n)
	if m.probe == "" {
		return Error{Message: "probe not initialized"}
	}
	m.oversampling = n
	return nil
}

// NewVolumePattern creates a volume pattern
func (m *Mock) NewVolumePattern(rangeX float64, sizeX int, rangeY float64, sizeY int) (Pattern, error) {
	m.Lock()
	defer m.Unlock()
	m.record("NewVolumePattern %g %d %g %d", rangeX, sizeX, rangeY, sizeY)
	if sizeX < 1 || sizeY < 1 {
		return nil, Error{Message: "invalid pattern size"}
	}
	return &mockPattern{m: m, ascans: sizeX, bscans: sizeY}, nil
}

// NewBScanPattern creates a line pattern
func (m *Mock) NewBScanPattern(x0, y0, x1, y1 float64, ascans int) (Pattern, error) {
	m.Lock()
	defer m.Unlock()
	m.record("NewBScanPattern %g %g %g %g %d", x0, y0, x1, y1, ascans)
	if ascans < 2 {
		return nil, Error{Message: "a B-scan needs at least 2 A-scans"}
	}
	return &mockPattern{m: m, ascans: ascans, bscans: 1}, nil
}

// NewProcessing creates a processing pipeline
func (m *Mock) NewProcessing() (Processing, error) {
	m.Lock()
	defer m.Unlock()
	m.record("NewProcessing")
	return &mockProcessing{m: m}, nil
}

// NewRawData creates an empty raw data buffer
func (m *Mock) NewRawData() (RawData, error) {
	m.Lock()
	defer m.Unlock()
	m.record("NewRawData")
	return &mockRaw{}, nil
}

// NewOCTFile creates an empty OCT file.  Mock writes it as YAML describing
// its contents, see OCTFileContents.
func (m *Mock) NewOCTFile() (OCTFile, error) {
	m.Lock()
	defer m.Unlock()
	m.record("NewOCTFile")
	return &mockOCTFile{m: m, c: OCTFileContents{Format: "OCITY"}}, nil
}

// StartMeasurement begins acquiring with pattern p
func (m *Mock) StartMeasurement(p Pattern, mode AcquisitionMode) error {
	m.Lock()
	defer m.Unlock()
	m.record("StartMeasurement %d", mode)
	mp, ok := p.(*mockPattern)
	if !ok || mp.closed {
		return ErrReleased
	}
	if m.measuring {
		return Error{Message: "measurement already running"}
	}
	m.measuring = true
	m.mode = mode
	m.pattern = mp
	return nil
}

// GetRawData synthesizes the next buffer of spectra
func (m *Mock) GetRawData(raw RawData) error {
	m.Lock()
	defer m.Unlock()
	m.record("GetRawData")
	if !m.measuring {
		return ErrNotMeasuring
	}
	idx := m.frames
	m.frames++
	if m.FailFrames[idx] {
		return Error{Message: fmt.Sprintf("lost frame %d", idx)}
	}
	r, ok := raw.(*mockRaw)
	if !ok || r.closed {
		return ErrReleased
	}
	r.ascans = m.pattern.ascans
	r.pixels = mockSpectrumLength
	r.data = make([]uint16, r.ascans*r.pixels)
	for a := 0; a < r.ascans; a++ {
		depth := 20 + float64((a+idx)%100)
		for p := 0; p < r.pixels; p++ {
			fringe := math.Cos(2 * math.Pi * depth * float64(p) / mockSpectrumLength)
			r.data[a*r.pixels+p] = uint16(2048 + 1000*fringe)
		}
	}
	return nil
}

// StopMeasurement stops the running measurement
func (m *Mock) StopMeasurement() error {
	m.Lock()
	defer m.Unlock()
	m.record("StopMeasurement")
	m.measuring = false
	m.pattern = nil
	return nil
}

// CameraImage returns a frame from the video camera.  As on the real
// hardware, the first frame after opening is blank.
func (m *Mock) CameraImage() (image.Image, error) {
	m.Lock()
	defer m.Unlock()
	m.record("CameraImage")
	img := image.NewRGBA(image.Rect(0, 0, mockCameraWidth, mockCameraHeight))
	m.cameraFrames++
	if m.cameraFrames == 1 {
		return img, nil
	}
	ring := uint8(255 * m.outputs["ring light"] / 100)
	for y := 0; y < mockCameraHeight; y++ {
		for x := 0; x < mockCameraWidth; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(5 * y), B: ring, A: 255})
		}
	}
	return img, nil
}

// SetOutputDeviceValue sets a named output
func (m *Mock) SetOutputDeviceValue(name string, value float64) error {
	m.Lock()
	defer m.Unlock()
	m.record("SetOutputDeviceValue %s %g", name, value)
	m.outputs[name] = value
	return nil
}

// SetLaserDiode turns the diode on or off
func (m *Mock) SetLaserDiode(on bool) error {
	m.Lock()
	defer m.Unlock()
	m.record("SetLaserDiode %t", on)
	m.laser = on
	return nil
}

// Close closes the device
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	m.record("Close")
	m.closed = true
	m.probe = ""
	return nil
}

type mockPattern struct {
	m        *Mock
	ascans   int
	bscans   int
	rotation float64
	x, y     float64
	closed   bool
}

func (p *mockPattern) Rotate(deg float64) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("Rotate %g", deg)
	if p.closed {
		return ErrReleased
	}
	p.rotation += deg
	return nil
}

func (p *mockPattern) Shift(x, y float64) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("Shift %g %g", x, y)
	if p.closed {
		return ErrReleased
	}
	p.x += x
	p.y += y
	return nil
}

func (p *mockPattern) Close() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("ClosePattern")
	p.closed = true
	return nil
}

// mockRaw is a buffer of spectra, ascans x pixels
type mockRaw struct {
	ascans int
	pixels int
	data   []uint16
	closed bool
}

// ExportSRR writes a little endian header of two int32 sizes followed by the
// uint16 spectra
func (r *mockRaw) ExportSRR(path string) error {
	if r.closed {
		return ErrReleased
	}
	if r.data == nil {
		return Error{Message: "no raw data to export"}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = binary.Write(f, binary.LittleEndian, [2]int32{int32(r.pixels), int32(r.ascans)})
	if err == nil {
		err = binary.Write(f, binary.LittleEndian, r.data)
	}
	return errors.Join(err, f.Close())
}

func (r *mockRaw) Close() error {
	r.closed = true
	r.data = nil
	return nil
}

type mockProcessing struct {
	m          *Mock
	chirp      []byte
	dispersion float64
	compensate bool
	closed     bool
}

func (p *mockProcessing) LoadChirp(path string) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("LoadChirp %s", path)
	b, err := os.ReadFile(path)
	if err != nil {
		return Error{Message: fmt.Sprintf("could not load chirp calibration %s", path)}
	}
	p.chirp = b
	return nil
}

func (p *mockProcessing) SetDispersion(a float64) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("SetDispersion %g", a)
	if p.chirp == nil {
		return Error{Message: "dispersion requires a chirp calibration"}
	}
	p.dispersion = a
	p.compensate = true
	return nil
}

// Export writes the mean-subtracted spectra as little endian float32
func (p *mockProcessing) Export(raw RawData, path string) error {
	if p.closed {
		return ErrReleased
	}
	r, ok := raw.(*mockRaw)
	if !ok || r.data == nil {
		return Error{Message: "no raw data to process"}
	}
	var mean float64
	for _, v := range r.data {
		mean += float64(v)
	}
	mean /= float64(len(r.data))
	out := make([]float32, len(r.data))
	for i, v := range r.data {
		out[i] = float32(float64(v) - mean)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = binary.Write(f, binary.LittleEndian, out)
	return errors.Join(err, f.Close())
}

func (p *mockProcessing) Close() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.m.record("CloseProcessing")
	p.closed = true
	return nil
}

// OCTFileContents is what Mock writes in place of an OCT file
type OCTFileContents struct {
	Format          string         `yaml:"format"`
	AcquisitionMode string         `yaml:"acquisitionMode,omitempty"`
	ProcessState    string         `yaml:"processState,omitempty"`
	Timestamp       int64          `yaml:"timestamp,omitempty"`
	Calibration     []string       `yaml:"calibration,omitempty"`
	Data            []OCTFileEntry `yaml:"data"`
}

// OCTFileEntry is one raw data buffer in an OCT file
type OCTFileEntry struct {
	Title  string `yaml:"title"`
	AScans int    `yaml:"ascans"`
	Pixels int    `yaml:"pixels"`
}

type mockOCTFile struct {
	m      *Mock
	c      OCTFileContents
	closed bool
}

func (f *mockOCTFile) AddRawData(raw RawData, title string) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.m.record("AddFileRawData %s", title)
	if f.closed {
		return ErrReleased
	}
	r, ok := raw.(*mockRaw)
	if !ok || r.closed {
		return ErrReleased
	}
	if r.data == nil {
		return Error{Message: "no raw data to add"}
	}
	f.c.Data = append(f.c.Data, OCTFileEntry{Title: title, AScans: r.ascans, Pixels: r.pixels})
	return nil
}

func (f *mockOCTFile) SaveMetadata(proc Processing, p Pattern, t time.Time) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.m.record("SaveFileMetadata")
	if f.closed {
		return ErrReleased
	}
	if mp, ok := p.(*mockPattern); !ok || mp.closed {
		return ErrReleased
	}
	f.c.Calibration = nil
	if mp, ok := proc.(*mockProcessing); ok {
		if mp.closed {
			return ErrReleased
		}
		if mp.chirp != nil {
			f.c.Calibration = append(f.c.Calibration, "chirp")
		}
		if mp.compensate {
			f.c.Calibration = append(f.c.Calibration, "dispersion")
		}
	}
	f.c.AcquisitionMode = "3D"
	f.c.ProcessState = "RawSpectra"
	f.c.Timestamp = t.Unix()
	return nil
}

func (f *mockOCTFile) Save(path string) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.m.record("SaveFile %s", path)
	if f.closed {
		return ErrReleased
	}
	b, err := yaml.Marshal(f.c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (f *mockOCTFile) Close() error {
	f.m.Lock()
	defer f.m.Unlock()
	f.m.record("CloseOCTFile")
	f.closed = true
	return nil
}
