package oct

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
)

// RingLight is the name of the ring light output on the scan head
const RingLight = "ring light"

// JPEGQuality is the quality of images written by CaptureCameraImage
const JPEGQuality = 95

// CameraImage returns a frame from the video camera in the scan head.
// The first frame grabbed is always blank, so two are taken.
func (s *Scanner) CameraImage() (image.Image, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if _, err := s.dev.CameraImage(); err != nil {
		return nil, err
	}
	return s.dev.CameraImage()
}

// CaptureCameraImage writes a frame from the video camera to path as a JPEG
func (s *Scanner) CaptureCameraImage(path string) error {
	img, err := s.CameraImage()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality})
	return errors.Join(err, f.Close())
}

// SetRingLightIntensity sets the ring light around the objective, 0..100 percent
func (s *Scanner) SetRingLightIntensity(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: ring light intensity must be in [0,100], got %d", ErrInvalid, percent)
	}
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.dev.SetOutputDeviceValue(RingLight, float64(percent))
}
