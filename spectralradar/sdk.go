//go:build spectralradar

package spectralradar

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo LDFLAGS: -L${SRCDIR}/lib -lSpectralRadar
#include <stdlib.h>
#include <time.h>
#include <SpectralRadar.h>

static void markVolumeOfRawSpectra(OCTFileHandle f) {
	setFileMetadataString(f, FileMetadata_AcquisitionMode, AcquisitionMode_3D);
	setFileMetadataInt(f, FileMetadata_ProcessState, RawSpectra);
}
*/
import "C"
import (
	"image"
	"image/color"
	"sync"
	"time"
	"unsafe"
)

const (
	// errBufferSize is the size of the buffer getError writes into
	errBufferSize = 1024

	// devTypeBufferSize is the size of the buffer getDeviceType writes into
	devTypeBufferSize = 1024
)

// lastError returns the pending SDK error, if any.  The SDK keeps a single
// error slot per process, so calls must be serialized by the caller.
func lastError() error {
	buf := (*C.char)(C.malloc(errBufferSize))
	defer C.free(unsafe.Pointer(buf))
	code := C.getError(buf, C.int(errBufferSize))
	if code == C.NoError {
		return nil
	}
	return Error{Message: C.GoString(buf)}
}

func cbool(b bool) C.BOOL {
	if b {
		return C.BOOL(1)
	}
	return C.BOOL(0)
}

// SDK is an OCT device opened through the SpectralRadar SDK
type SDK struct {
	sync.Mutex

	dev   C.OCTDeviceHandle
	probe C.ProbeHandle
}

// Open initializes the first OCT device attached to the computer
func Open() (*SDK, error) {
	dev := C.initDevice()
	if err := lastError(); err != nil {
		return nil, err
	}
	return &SDK{dev: dev}, nil
}

// DeviceType returns the name of the base unit
func (s *SDK) DeviceType() (string, error) {
	s.Lock()
	defer s.Unlock()
	buf := (*C.char)(C.malloc(devTypeBufferSize))
	defer C.free(unsafe.Pointer(buf))
	C.getDeviceType(s.dev, buf, C.int(devTypeBufferSize))
	if err := lastError(); err != nil {
		return "", err
	}
	return C.GoString(buf), nil
}

// OpenProbe initializes the probe from its .ini file
func (s *SDK) OpenProbe(ini string) error {
	s.Lock()
	defer s.Unlock()
	cstr := C.CString(ini)
	defer C.free(unsafe.Pointer(cstr))
	s.probe = C.initProbe(s.dev, cstr)
	return lastError()
}

// SetProbeOversamplingSlowAxis sets the number of repeats of each B-scan
func (s *SDK) SetProbeOversamplingSlowAxis(n int) error {
	s.Lock()
	defer s.Unlock()
	C.setProbeParameterInt(s.probe, C.Probe_Oversampling_SlowAxis, C.int(n))
	return lastError()
}

// NewVolumePattern creates a volume scan pattern
func (s *SDK) NewVolumePattern(rangeX float64, sizeX int, rangeY float64, sizeY int) (Pattern, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createVolumePattern(s.probe, C.double(rangeX), C.int(sizeX), C.double(rangeY), C.int(sizeY))
	if err := lastError(); err != nil {
		return nil, err
	}
	return &sdkPattern{s: s, h: h}, nil
}

// NewBScanPattern creates a B-scan between two points, with apodization
func (s *SDK) NewBScanPattern(x0, y0, x1, y1 float64, ascans int) (Pattern, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createBScanPatternManual(s.probe, C.double(x0), C.double(y0), C.double(x1), C.double(y1), C.int(ascans), cbool(true))
	if err := lastError(); err != nil {
		return nil, err
	}
	return &sdkPattern{s: s, h: h}, nil
}

// NewProcessing creates a processing pipeline for the device
func (s *SDK) NewProcessing() (Processing, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createProcessingForDevice(s.dev)
	if err := lastError(); err != nil {
		return nil, err
	}
	return &sdkProcessing{s: s, h: h}, nil
}

// NewRawData creates an empty raw data buffer
func (s *SDK) NewRawData() (RawData, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createRawData()
	if err := lastError(); err != nil {
		return nil, err
	}
	return &sdkRaw{s: s, h: h}, nil
}

// NewOCTFile creates an empty OCITY file
func (s *SDK) NewOCTFile() (OCTFile, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createOCTFile(C.FileFormat_OCITY)
	if err := lastError(); err != nil {
		return nil, err
	}
	return &sdkOCTFile{s: s, h: h}, nil
}

// StartMeasurement begins acquiring with pattern p
func (s *SDK) StartMeasurement(p Pattern, mode AcquisitionMode) error {
	sp, ok := p.(*sdkPattern)
	if !ok || sp.h == nil {
		return ErrReleased
	}
	s.Lock()
	defer s.Unlock()
	typ := C.Acquisition_AsyncContinuous
	if mode == AsyncFinite {
		typ = C.Acquisition_AsyncFinite
	}
	C.startMeasurement(s.dev, sp.h, C.AcquisitionType(typ))
	return lastError()
}

// GetRawData copies the next buffer into raw
func (s *SDK) GetRawData(raw RawData) error {
	r, ok := raw.(*sdkRaw)
	if !ok || r.h == nil {
		return ErrReleased
	}
	s.Lock()
	defer s.Unlock()
	C.getRawData(s.dev, r.h)
	return lastError()
}

// StopMeasurement stops the running measurement
func (s *SDK) StopMeasurement() error {
	s.Lock()
	defer s.Unlock()
	C.stopMeasurement(s.dev)
	return lastError()
}

// CameraImage grabs a frame from the video camera.  Pixels are 0xAARRGGBB.
func (s *SDK) CameraImage() (image.Image, error) {
	s.Lock()
	defer s.Unlock()
	h := C.createColoredData()
	defer C.clearColoredData(h)
	C.getCameraImage(s.dev, h)
	if err := lastError(); err != nil {
		return nil, err
	}
	w := int(C.getColoredDataPropertyInt(h, C.Data_Size1))
	ht := int(C.getColoredDataPropertyInt(h, C.Data_Size2))
	ptr := C.getColoredDataPtr(h)
	if ptr == nil || w <= 0 || ht <= 0 {
		return nil, Error{Message: "camera returned an empty image"}
	}
	pix := unsafe.Slice((*C.ulong)(unsafe.Pointer(ptr)), w*ht)
	img := image.NewRGBA(image.Rect(0, 0, w, ht))
	for y := 0; y < ht; y++ {
		for x := 0; x < w; x++ {
			v := uint32(pix[y*w+x])
			img.SetRGBA(x, y, color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255})
		}
	}
	return img, nil
}

// SetOutputDeviceValue sets a named analog output
func (s *SDK) SetOutputDeviceValue(name string, value float64) error {
	s.Lock()
	defer s.Unlock()
	cstr := C.CString(name)
	defer C.free(unsafe.Pointer(cstr))
	C.setOutputDeviceValueByName(s.dev, cstr, C.double(value))
	return lastError()
}

// SetLaserDiode turns the superluminescent diode on or off
func (s *SDK) SetLaserDiode(on bool) error {
	s.Lock()
	defer s.Unlock()
	C.setLaserDiode(s.dev, cbool(on))
	return lastError()
}

// Close closes the probe and the device
func (s *SDK) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.probe != nil {
		C.closeProbe(s.probe)
		s.probe = nil
	}
	if s.dev != nil {
		C.closeDevice(s.dev)
		s.dev = nil
	}
	return lastError()
}

type sdkPattern struct {
	s *SDK
	h C.ScanPatternHandle
}

func (p *sdkPattern) Rotate(deg float64) error {
	p.s.Lock()
	defer p.s.Unlock()
	C.rotateScanPattern(p.h, C.double(deg))
	return lastError()
}

func (p *sdkPattern) Shift(x, y float64) error {
	p.s.Lock()
	defer p.s.Unlock()
	C.shiftScanPattern(p.h, C.double(x), C.double(y))
	return lastError()
}

func (p *sdkPattern) Close() error {
	p.s.Lock()
	defer p.s.Unlock()
	if p.h != nil {
		C.clearScanPattern(p.h)
		p.h = nil
	}
	return lastError()
}

type sdkRaw struct {
	s *SDK
	h C.RawDataHandle
}

func (r *sdkRaw) ExportSRR(path string) error {
	r.s.Lock()
	defer r.s.Unlock()
	cstr := C.CString(path)
	defer C.free(unsafe.Pointer(cstr))
	C.exportRawData(r.h, C.RawDataExport_SRR, cstr)
	return lastError()
}

func (r *sdkRaw) Close() error {
	r.s.Lock()
	defer r.s.Unlock()
	if r.h != nil {
		C.clearRawData(r.h)
		r.h = nil
	}
	return lastError()
}

type sdkProcessing struct {
	s *SDK
	h C.ProcessingHandle
}

func (p *sdkProcessing) LoadChirp(path string) error {
	p.s.Lock()
	defer p.s.Unlock()
	cstr := C.CString(path)
	defer C.free(unsafe.Pointer(cstr))
	C.loadCalibration(p.h, C.Calibration_Chirp, cstr)
	return lastError()
}

func (p *sdkProcessing) SetDispersion(a float64) error {
	p.s.Lock()
	defer p.s.Unlock()
	chirp := C.createData()
	disp := C.createData()
	defer C.clearData(chirp)
	defer C.clearData(disp)
	C.getCalibration(p.h, C.Calibration_Chirp, chirp)
	C.computeDispersionByCoeff(C.double(a), chirp, disp)
	C.setCalibration(p.h, C.Calibration_Dispersion, disp)
	C.setProcessingFlag(p.h, C.Processing_UseDispersionCompensation, cbool(true))
	return lastError()
}

func (p *sdkProcessing) Export(raw RawData, path string) error {
	r, ok := raw.(*sdkRaw)
	if !ok || r.h == nil {
		return ErrReleased
	}
	p.s.Lock()
	defer p.s.Unlock()
	bscan := C.createData()
	defer C.clearData(bscan)
	C.setProcessedDataOutput(p.h, bscan)
	C.executeProcessing(p.h, r.h)
	if err := lastError(); err != nil {
		return err
	}
	cstr := C.CString(path)
	defer C.free(unsafe.Pointer(cstr))
	C.exportData2D(bscan, C.Data2DExport_RAW, cstr)
	return lastError()
}

func (p *sdkProcessing) Close() error {
	p.s.Lock()
	defer p.s.Unlock()
	if p.h != nil {
		C.closeProcessing(p.h)
		p.h = nil
	}
	return lastError()
}

// sdkOCTFile holds a copy of every buffer added until it is closed, the SDK
// only reads them on save
type sdkOCTFile struct {
	s    *SDK
	h    C.OCTFileHandle
	bufs []C.RawDataHandle
}

func (f *sdkOCTFile) AddRawData(raw RawData, title string) error {
	r, ok := raw.(*sdkRaw)
	if !ok || r.h == nil || f.h == nil {
		return ErrReleased
	}
	f.s.Lock()
	defer f.s.Unlock()
	cp := C.createRawData()
	f.bufs = append(f.bufs, cp)
	C.copyRawData(r.h, cp)
	if err := lastError(); err != nil {
		return err
	}
	cstr := C.CString(title)
	defer C.free(unsafe.Pointer(cstr))
	C.addFileRawData(f.h, cp, cstr)
	return lastError()
}

func (f *sdkOCTFile) SaveMetadata(proc Processing, p Pattern, t time.Time) error {
	sp, ok := p.(*sdkPattern)
	if !ok || sp.h == nil || f.h == nil {
		return ErrReleased
	}
	pp, ok := proc.(*sdkProcessing)
	if !ok || pp.h == nil {
		return ErrReleased
	}
	f.s.Lock()
	defer f.s.Unlock()
	C.saveCalibrationToFile(f.h, pp.h)
	if err := lastError(); err != nil {
		return err
	}
	C.markVolumeOfRawSpectra(f.h)
	C.saveFileMetadata(f.h, f.s.dev, pp.h, f.s.probe, sp.h)
	C.setFileMetadataTimestamp(f.h, C.time_t(t.Unix()))
	return lastError()
}

func (f *sdkOCTFile) Save(path string) error {
	if f.h == nil {
		return ErrReleased
	}
	f.s.Lock()
	defer f.s.Unlock()
	cstr := C.CString(path)
	defer C.free(unsafe.Pointer(cstr))
	C.saveFile(f.h, cstr)
	return lastError()
}

func (f *sdkOCTFile) Close() error {
	f.s.Lock()
	defer f.s.Unlock()
	if f.h != nil {
		C.clearOCTFile(f.h)
		f.h = nil
	}
	for _, b := range f.bufs {
		C.clearRawData(b)
	}
	f.bufs = nil
	return lastError()
}
