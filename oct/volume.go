package oct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/yolab/thorimager/spectralradar"
)

const (
	// ChirpFilename is the name of the chirp calibration copied next to raw frames
	ChirpFilename = "Chirp.dat"

	extRaw       = "srr"
	extProcessed = "raw"
)

// VolumeScan describes a volume acquisition.  Lengths are in mm and angles
// in degrees.
type VolumeScan struct {
	XCenter     float64 `json:"xCenter" yaml:"xCenter"`
	YCenter     float64 `json:"yCenter" yaml:"yCenter"`
	RangeX      float64 `json:"rangeX" yaml:"rangeX"`
	RangeY      float64 `json:"rangeY" yaml:"rangeY"`
	RotationDeg float64 `json:"rotationDeg" yaml:"rotationDeg"`

	// SizeX is the number of A-scans per B-scan
	SizeX int `json:"sizeX" yaml:"sizeX"`

	// SizeY is the number of B-scans
	SizeY int `json:"sizeY" yaml:"sizeY"`

	// BScanAvg is the number of times each B-scan is repeated
	BScanAvg int `json:"bScanAvg" yaml:"bScanAvg"`

	// OutputDir is created by the scan, and must not exist
	OutputDir string `json:"outputDir" yaml:"outputDir"`

	// Processed selects processed B-scans (.raw) instead of raw spectra (.srr)
	Processed bool `json:"processed" yaml:"processed"`

	// DispersionA is the quadratic dispersion coefficient, used if Processed
	DispersionA float64 `json:"dispersionA" yaml:"dispersionA"`
}

// Validate checks the sizes and the output directory are usable
func (v VolumeScan) Validate() error {
	if v.SizeX < 1 || v.SizeY < 1 || v.BScanAvg < 1 {
		return fmt.Errorf("%w: sizeX, sizeY and bScanAvg must be at least 1, got %d, %d, %d", ErrInvalid, v.SizeX, v.SizeY, v.BScanAvg)
	}
	if v.OutputDir == "" {
		return fmt.Errorf("%w: output directory must not be empty", ErrInvalid)
	}
	return nil
}

func (v VolumeScan) ext() string {
	if v.Processed {
		return extProcessed
	}
	return extRaw
}

// VolumeResult is the outcome of a volume scan
type VolumeResult struct {
	OutputDir string `json:"outputDir"`

	// Files are the names of the frames written, in acquisition order
	Files []string `json:"files"`

	// OCTFile is the name of the ThorImageOCT file holding the raw spectra of
	// every frame, empty if it could not be written
	OCTFile string `json:"octFile"`

	// FrameErrors holds an error for each frame which could not be acquired or written
	FrameErrors []error `json:"-"`
}

// frameChecksum is replaced in tests
var frameChecksum = fileCRC32

// ScanVolume acquires a volume, writing each B-scan to its own file in
// v.OutputDir along with an OCT file of the raw spectra.  The directory is
// created first, and if it already exists nothing else is done.  Frames are
// acquired from the last Y index to the first.
//
// An error acquiring one frame does not stop the scan; it is recorded in
// FrameErrors and the returned error joins them all.  Once the directory
// exists a manifest of the frames written is always left in it.
func (s *Scanner) ScanVolume(ctx context.Context, v VolumeScan) (VolumeResult, error) {
	res := VolumeResult{OutputDir: v.OutputDir}
	if err := v.Validate(); err != nil {
		return res, err
	}
	release, err := s.acquire()
	if err != nil {
		return res, err
	}
	defer release()

	if err := os.Mkdir(v.OutputDir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return res, fmt.Errorf("%w: %s", ErrOutputExists, v.OutputDir)
		}
		return res, fmt.Errorf("creating output directory: %w", err)
	}
	start := time.Now()
	man := newManifest(s, v, start)

	var errs []error
	frames, err := s.acquireVolume(ctx, v, &res)
	if err != nil {
		errs = append(errs, err)
	}
	if !v.Processed {
		if err := copyFile(s.chirpPath, filepath.Join(v.OutputDir, ChirpFilename)); err != nil {
			errs = append(errs, fmt.Errorf("copying chirp calibration: %w", err))
		}
	}
	man.Frames = frames
	man.OCTFile = res.OCTFile
	man.Elapsed = time.Since(start).Seconds()
	if err := man.write(v.OutputDir); err != nil {
		errs = append(errs, err)
	}
	if len(res.FrameErrors) > 0 {
		errs = append(errs, fmt.Errorf("%d of %d frames failed: %w",
			len(res.FrameErrors), v.SizeY*v.BScanAvg, errors.Join(res.FrameErrors...)))
	}
	return res, errors.Join(errs...)
}

// acquireVolume runs the measurement and writes the frames and the OCT file.
// Every handle created is released before it returns.
func (s *Scanner) acquireVolume(ctx context.Context, v VolumeScan, res *VolumeResult) (frames []FrameRecord, err error) {
	var cleanup []func() error
	defer func() {
		var errs []error
		for i := len(cleanup) - 1; i >= 0; i-- {
			errs = append(errs, cleanup[i]())
		}
		if cerr := errors.Join(errs...); cerr != nil {
			log.Println("releasing scan resources:", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	if err := s.dev.SetProbeOversamplingSlowAxis(v.BScanAvg); err != nil {
		return nil, err
	}
	proc, err := s.dev.NewProcessing()
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, proc.Close)
	if v.Processed {
		if err := proc.LoadChirp(s.chirpPath); err != nil {
			return nil, err
		}
		if err := proc.SetDispersion(v.DispersionA); err != nil {
			return nil, err
		}
	}
	pattern, err := s.dev.NewVolumePattern(v.RangeX, v.SizeX, v.RangeY, v.SizeY)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, pattern.Close)
	if err := pattern.Rotate(v.RotationDeg); err != nil {
		return nil, err
	}
	if err := pattern.Shift(v.XCenter, v.YCenter); err != nil {
		return nil, err
	}
	raw, err := s.dev.NewRawData()
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, raw.Close)
	octFile, err := s.dev.NewOCTFile()
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, octFile.Close)

	if err := s.dev.StartMeasurement(pattern, spectralradar.AsyncFinite); err != nil {
		return nil, err
	}
	started := time.Now()
	measuring := true
	stop := func() error {
		if !measuring {
			return nil
		}
		measuring = false
		return s.dev.StopMeasurement()
	}
	cleanup = append(cleanup, func() error { return s.dev.SetLaserDiode(false) }, stop)

	ext := v.ext()
	// entries in the OCT file are numbered down from the last, in acquisition order
	entry := v.SizeY*v.BScanAvg - 1
outer:
	for i := v.SizeY - 1; i >= 0; i-- {
		for j := 0; j < v.BScanAvg; j, entry = j+1, entry-1 {
			if ctx.Err() != nil {
				log.Println("volume scan cancelled:", ctx.Err())
				res.FrameErrors = append(res.FrameErrors, ctx.Err())
				break outer
			}
			name := FrameFilename(i, v.SizeY, j, v.BScanAvg, s.profile.Name, ext)
			path := filepath.Join(v.OutputDir, name)
			err := s.dev.GetRawData(raw)
			if err == nil {
				err = octFile.AddRawData(raw, OCTEntryTitle(entry))
			}
			if err == nil {
				if v.Processed {
					err = proc.Export(raw, path)
				} else {
					err = raw.ExportSRR(path)
				}
			}
			var sum uint32
			if err == nil {
				sum, err = frameChecksum(path)
			}
			if err != nil {
				log.Printf("frame %s: %v\n", name, err)
				res.FrameErrors = append(res.FrameErrors, fmt.Errorf("frame %s: %w", name, err))
				continue
			}
			res.Files = append(res.Files, name)
			frames = append(frames, FrameRecord{Name: name, Y: i, B: j, CRC32: sum})
		}
	}
	if err := stop(); err != nil {
		return frames, err
	}

	octName := OCTFilename(s.profile.Name)
	err = octFile.SaveMetadata(proc, pattern, started)
	if err == nil {
		err = octFile.Save(filepath.Join(v.OutputDir, octName))
	}
	if err != nil {
		return frames, fmt.Errorf("writing %s: %w", octName, err)
	}
	res.OCTFile = octName
	return frames, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return errors.Join(err, out.Close())
}
