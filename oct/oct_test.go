package oct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	yaml "gopkg.in/yaml.v2"

	"github.com/yolab/thorimager/spectralradar"
)

func ExampleFrameFilename() {
	fmt.Println(FrameFilename(0, 10, 2, 5, "Ganymede", "raw"))
	// Output: Data_Y0001_YTotal10_B0003_BTotal5_Ganymede.raw
}

func ExampleAScansPerPass() {
	fmt.Println(AScansPerPass(28000, 2, 4))
	// Output: 14000
}

type fixture struct {
	dir   string
	chirp string
	mock  *spectralradar.Mock
	s     *Scanner
}

func newFixture(t *testing.T, devType string, opts ...Option) fixture {
	t.Helper()
	dir := t.TempDir()
	ini := filepath.Join(dir, "Probe.ini")
	chirp := filepath.Join(dir, "Chirp.dat")
	if err := os.WriteFile(ini, []byte("[Probe]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(chirp, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644); err != nil {
		t.Fatal(err)
	}
	m := spectralradar.NewMock(devType)
	opts = append([]Option{WithChirpPath(chirp)}, opts...)
	s, err := Init(m, ini, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return fixture{dir: dir, chirp: chirp, mock: m, s: s}
}

func (f fixture) volume(name string) VolumeScan {
	return VolumeScan{
		XCenter:     0.5,
		YCenter:     -0.25,
		RangeX:      2,
		RangeY:      3,
		RotationDeg: 30,
		SizeX:       16,
		SizeY:       3,
		BScanAvg:    2,
		OutputDir:   filepath.Join(f.dir, name),
	}
}

func TestResolveProfile(t *testing.T) {
	for _, name := range []string{"Ganymede", "Telesto"} {
		p, err := ResolveProfile(name)
		if err != nil {
			t.Fatal(err)
		}
		if p.Name != name || p.ScanRate != 28000 {
			t.Errorf("unexpected profile %+v", p)
		}
	}
	if _, err := ResolveProfile("Hyperion"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestAScansPerPassNoRepetition(t *testing.T) {
	if n := AScansPerPass(28000, 1, 0); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestInitUnknownDeviceClosesDevice(t *testing.T) {
	ini := filepath.Join(t.TempDir(), "Probe.ini")
	os.WriteFile(ini, nil, 0o644)
	m := spectralradar.NewMock("Hyperion")
	_, err := Init(m, ini)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	calls := m.Calls()
	if calls[len(calls)-1] != "Close" {
		t.Errorf("device should be closed, calls were %v", calls)
	}
}

func TestScanVolumeRaw(t *testing.T) {
	f := newFixture(t, "Ganymede")
	v := f.volume("raw")
	res, err := f.s.ScanVolume(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"Data_Y0003_YTotal3_B0001_BTotal2_Ganymede.srr",
		"Data_Y0003_YTotal3_B0002_BTotal2_Ganymede.srr",
		"Data_Y0002_YTotal3_B0001_BTotal2_Ganymede.srr",
		"Data_Y0002_YTotal3_B0002_BTotal2_Ganymede.srr",
		"Data_Y0001_YTotal3_B0001_BTotal2_Ganymede.srr",
		"Data_Y0001_YTotal3_B0002_BTotal2_Ganymede.srr",
	}
	if diff := cmp.Diff(expected, res.Files); diff != "" {
		t.Errorf("frame order mismatch (-want +got):\n%s", diff)
	}
	for _, name := range expected {
		if _, err := os.Stat(filepath.Join(v.OutputDir, name)); err != nil {
			t.Error(err)
		}
	}
	orig, _ := os.ReadFile(f.chirp)
	copied, err := os.ReadFile(filepath.Join(v.OutputDir, ChirpFilename))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(orig, copied) {
		t.Error("chirp copy differs from the original")
	}
	if f.mock.Oversampling() != 2 {
		t.Errorf("expected slow axis oversampling of 2, got %d", f.mock.Oversampling())
	}
	if f.mock.Measuring() || f.mock.LaserDiode() {
		t.Error("measurement should be stopped and the diode off")
	}
}

func TestScanVolumeManifest(t *testing.T) {
	f := newFixture(t, "Telesto")
	v := f.volume("manifest")
	if _, err := f.s.ScanVolume(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	m, err := ReadManifest(v.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Frames) != 6 || m.Device.Name != "Telesto" {
		t.Errorf("unexpected manifest %+v", m)
	}
	if m.Frames[0].Y != 2 || m.Frames[0].B != 0 {
		t.Errorf("first frame should be Y=2 B=0, got %+v", m.Frames[0])
	}
	bad, err := m.Verify(v.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Errorf("checksum mismatch for %v", bad)
	}
}

func TestScanVolumeProcessed(t *testing.T) {
	f := newFixture(t, "Ganymede")
	v := f.volume("processed")
	v.Processed = true
	v.DispersionA = -12.5
	res, err := f.s.ScanVolume(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files[0] != "Data_Y0003_YTotal3_B0001_BTotal2_Ganymede.raw" {
		t.Errorf("unexpected first frame %s", res.Files[0])
	}
	if _, err := os.Stat(filepath.Join(v.OutputDir, ChirpFilename)); !os.IsNotExist(err) {
		t.Error("chirp should only be copied for raw export")
	}
	calls := f.mock.Calls()
	want := []string{"LoadChirp " + f.chirp, "SetDispersion -12.5", "NewVolumePattern 2 16 3 3"}
	if !inOrder(calls, want) {
		t.Errorf("expected %v in order, calls were %v", want, calls)
	}
}

// inOrder returns true if want appears in calls as a subsequence
func inOrder(calls, want []string) bool {
	idx := 0
	for _, c := range calls {
		if idx < len(want) && c == want[idx] {
			idx++
		}
	}
	return idx == len(want)
}

func TestScanVolumePatternGeometry(t *testing.T) {
	f := newFixture(t, "Ganymede")
	if _, err := f.s.ScanVolume(context.Background(), f.volume("geometry")); err != nil {
		t.Fatal(err)
	}
	calls := f.mock.Calls()
	var pattern []string
	for i, c := range calls {
		if c == "NewVolumePattern 2 16 3 3" {
			pattern = calls[i : i+3]
			break
		}
	}
	expected := []string{"NewVolumePattern 2 16 3 3", "Rotate 30", "Shift 0.5 -0.25"}
	if diff := cmp.Diff(expected, pattern); diff != "" {
		t.Errorf("pattern setup mismatch (-want +got):\n%s", diff)
	}
}

func TestScanVolumeOCTFile(t *testing.T) {
	f := newFixture(t, "Ganymede")
	f.mock.FailFrames[2] = true
	v := f.volume("octfile")
	res, _ := f.s.ScanVolume(context.Background(), v)
	if res.OCTFile != "VolumeGanymedeOCTFile.oct" {
		t.Fatalf("unexpected OCT file name %q", res.OCTFile)
	}
	b, err := os.ReadFile(filepath.Join(v.OutputDir, res.OCTFile))
	if err != nil {
		t.Fatal(err)
	}
	var c spectralradar.OCTFileContents
	if err := yaml.Unmarshal(b, &c); err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, e := range c.Data {
		titles = append(titles, e.Title)
	}
	// the third frame acquired, entry 3, was lost
	expected := []string{
		OCTEntryTitle(5), OCTEntryTitle(4), OCTEntryTitle(2), OCTEntryTitle(1), OCTEntryTitle(0),
	}
	if diff := cmp.Diff(expected, titles); diff != "" {
		t.Errorf("OCT file entries mismatch (-want +got):\n%s", diff)
	}
	if len(c.Data) != len(res.Files) {
		t.Errorf("%d entries for %d frames", len(c.Data), len(res.Files))
	}
	if c.AcquisitionMode != "3D" || c.ProcessState != "RawSpectra" || c.Timestamp == 0 {
		t.Errorf("metadata not saved: %+v", c)
	}
	m, err := ReadManifest(v.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if m.OCTFile != res.OCTFile {
		t.Errorf("manifest should name the OCT file, got %q", m.OCTFile)
	}
	calls := f.mock.Calls()
	if !inOrder(calls, []string{"StopMeasurement", "SaveFileMetadata", "SaveFile " + filepath.Join(v.OutputDir, res.OCTFile)}) {
		t.Errorf("OCT file should be saved after the measurement stops, calls were %v", calls)
	}
}

func TestScanVolumeChecksumError(t *testing.T) {
	f := newFixture(t, "Ganymede")
	v := f.volume("checksum")
	bad := FrameFilename(1, v.SizeY, 0, v.BScanAvg, "Ganymede", "srr")
	frameChecksum = func(path string) (uint32, error) {
		if filepath.Base(path) == bad {
			return 0, errors.New("read failed")
		}
		return fileCRC32(path)
	}
	defer func() { frameChecksum = fileCRC32 }()
	res, err := f.s.ScanVolume(context.Background(), v)
	if err == nil {
		t.Fatal("expected an error for the frame")
	}
	if len(res.Files) != 5 || len(res.FrameErrors) != 1 {
		t.Errorf("expected 5 files and 1 error, got %d and %d", len(res.Files), len(res.FrameErrors))
	}
	if _, err := os.Stat(filepath.Join(v.OutputDir, ChirpFilename)); err != nil {
		t.Error("chirp should still be copied:", err)
	}
	m, err := ReadManifest(v.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Frames) != 5 || m.Has(bad) {
		t.Errorf("manifest should list the 5 good frames, got %+v", m.Frames)
	}
}

func TestScanVolumeChirpCopyError(t *testing.T) {
	f := newFixture(t, "Ganymede")
	f.mock.FailFrames[0] = true
	if err := os.Remove(f.chirp); err != nil {
		t.Fatal(err)
	}
	v := f.volume("nochirp")
	res, err := f.s.ScanVolume(context.Background(), v)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the chirp error, got %v", err)
	}
	var sdkErr spectralradar.Error
	if !errors.As(err, &sdkErr) {
		t.Errorf("frame errors should be kept alongside the chirp error, got %v", err)
	}
	m, merr := ReadManifest(v.OutputDir)
	if merr != nil {
		t.Fatal("manifest should be written:", merr)
	}
	if len(m.Frames) != len(res.Files) || len(res.Files) != 5 {
		t.Errorf("expected 5 frames in the manifest and result, got %d and %d", len(m.Frames), len(res.Files))
	}
}

func TestScanVolumeOutputExists(t *testing.T) {
	f := newFixture(t, "Ganymede")
	v := f.volume("exists")
	if err := os.Mkdir(v.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	before := len(f.mock.Calls())
	_, err := f.s.ScanVolume(context.Background(), v)
	if !errors.Is(err, ErrOutputExists) {
		t.Errorf("expected ErrOutputExists, got %v", err)
	}
	if after := len(f.mock.Calls()); after != before {
		t.Errorf("device should not be touched, %d calls were made", after-before)
	}
	entries, _ := os.ReadDir(v.OutputDir)
	if len(entries) != 0 {
		t.Errorf("no files should be written, found %d", len(entries))
	}
}

func TestScanVolumeValidation(t *testing.T) {
	f := newFixture(t, "Ganymede")
	v := f.volume("invalid")
	v.BScanAvg = 0
	if _, err := f.s.ScanVolume(context.Background(), v); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := os.Stat(v.OutputDir); !os.IsNotExist(err) {
		t.Error("output directory should not be created for an invalid scan")
	}
}

func TestScanVolumeFrameErrors(t *testing.T) {
	f := newFixture(t, "Ganymede")
	f.mock.FailFrames[1] = true
	v := f.volume("errors")
	res, err := f.s.ScanVolume(context.Background(), v)
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	if len(res.Files) != 5 || len(res.FrameErrors) != 1 {
		t.Errorf("expected 5 files and 1 error, got %d and %d", len(res.Files), len(res.FrameErrors))
	}
	var sdkErr spectralradar.Error
	if !errors.As(err, &sdkErr) {
		t.Errorf("expected the SDK error to be wrapped, got %v", err)
	}
}

func TestScannerBusy(t *testing.T) {
	f := newFixture(t, "Ganymede")
	f.s.op.Lock()
	err := f.s.SetRingLightIntensity(10)
	f.s.op.Unlock()
	if !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestScannerClosed(t *testing.T) {
	f := newFixture(t, "Ganymede")
	if err := f.s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := f.s.SetRingLightIntensity(10); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := f.s.ScanVolume(context.Background(), f.volume("closed")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

type recordingLaser struct {
	steps []string

	// failCurrent makes SetCurrent fail
	failCurrent bool
}

func (r *recordingLaser) SetTECOutput(b bool) error {
	r.steps = append(r.steps, fmt.Sprintf("tec %t", b))
	return nil
}

func (r *recordingLaser) SetLDOutput(b bool) error {
	r.steps = append(r.steps, fmt.Sprintf("ld %t", b))
	return nil
}

func (r *recordingLaser) SetCurrent(mA float64) error {
	r.steps = append(r.steps, fmt.Sprintf("current %g", mA))
	if r.failCurrent {
		return errors.New("setpoint rejected")
	}
	return nil
}

func TestPhotobleachLine(t *testing.T) {
	laser := &recordingLaser{}
	f := newFixture(t, "Ganymede", WithLaser(laser))
	l := Line{XEnd: 1, YEnd: 1, Duration: 0.02, Repetition: 2}
	if err := f.s.PhotobleachLine(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	calls := f.mock.Calls()
	tail := calls[len(calls)-4:]
	expected := []string{
		"NewBScanPattern 0 0 1 1 280",
		fmt.Sprintf("StartMeasurement %d", spectralradar.AsyncContinuous),
		"StopMeasurement",
		"ClosePattern",
	}
	if diff := cmp.Diff(expected, tail); diff != "" {
		t.Errorf("device calls mismatch (-want +got):\n%s", diff)
	}
	steps := []string{"tec true", "ld true", "current 64", "tec false", "ld false", "current 64"}
	if diff := cmp.Diff(steps, laser.steps); diff != "" {
		t.Errorf("laser sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestPhotobleachLaserOffAfterFailedSwitchOn(t *testing.T) {
	laser := &recordingLaser{failCurrent: true}
	f := newFixture(t, "Ganymede", WithLaser(laser))
	before := len(f.mock.Calls())
	err := f.s.PhotobleachLine(context.Background(), Line{XEnd: 1, Duration: 0.02, Repetition: 1})
	if err == nil {
		t.Fatal("expected the switch on error")
	}
	steps := []string{"tec true", "ld true", "current 64", "tec false", "ld false", "current 64"}
	if diff := cmp.Diff(steps, laser.steps); diff != "" {
		t.Errorf("laser sequence mismatch (-want +got):\n%s", diff)
	}
	if after := len(f.mock.Calls()); after != before {
		t.Errorf("nothing should be scanned, %d calls were made", after-before)
	}
}

func TestPhotobleachInvalid(t *testing.T) {
	f := newFixture(t, "Ganymede")
	before := len(f.mock.Calls())
	lines := []Line{
		{Duration: 1, Repetition: 0},
		{Duration: 0, Repetition: 1},
		{Duration: 1e-5, Repetition: 1},
		{Duration: 1e12, Repetition: 1e12},
	}
	for _, l := range lines {
		if err := f.s.PhotobleachLine(context.Background(), l); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid for %+v, got %v", l, err)
		}
	}
	if after := len(f.mock.Calls()); after != before {
		t.Errorf("device should not be touched, %d calls were made", after-before)
	}
}

func TestPhotobleachCancelled(t *testing.T) {
	f := newFixture(t, "Ganymede")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := f.s.PhotobleachLine(ctx, Line{XEnd: 1, Duration: 10, Repetition: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the context error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not cut the bleach short")
	}
	if f.mock.Measuring() {
		t.Error("measurement should be stopped")
	}
}

func TestCaptureCameraImage(t *testing.T) {
	f := newFixture(t, "Ganymede")
	path := filepath.Join(f.dir, "snap.jpg")
	if err := f.s.CaptureCameraImage(path); err != nil {
		t.Fatal(err)
	}
	fh, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	img, err := jpeg.Decode(fh)
	if err != nil {
		t.Fatal(err)
	}
	r, g, _, _ := img.At(40, 40).RGBA()
	if r == 0 && g == 0 {
		t.Error("captured image is blank, the second frame should be kept")
	}
	n := 0
	for _, c := range f.mock.Calls() {
		if c == "CameraImage" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("expected two frames grabbed, got %d", n)
	}
}

func TestSetRingLightIntensity(t *testing.T) {
	f := newFixture(t, "Ganymede")
	for _, bad := range []int{-1, 101} {
		if err := f.s.SetRingLightIntensity(bad); err == nil {
			t.Errorf("expected an error for %d", bad)
		}
	}
	if err := f.s.SetRingLightIntensity(40); err != nil {
		t.Fatal(err)
	}
	if v, ok := f.mock.Output(RingLight); !ok || v != 40 {
		t.Errorf("expected ring light at 40, got %v %v", v, ok)
	}
}
