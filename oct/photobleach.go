package oct

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/yolab/thorimager/spectralradar"
	"github.com/yolab/thorimager/thorlabs"
	"github.com/yolab/thorimager/util"
)

// Line is a photobleach line.  Positions are in mm and Duration in seconds.
type Line struct {
	XStart float64 `json:"xStart"`
	YStart float64 `json:"yStart"`
	XEnd   float64 `json:"xEnd"`
	YEnd   float64 `json:"yEnd"`

	// Duration is the total time spent bleaching
	Duration float64 `json:"duration"`

	// Repetition is how many passes the beam makes over the line in Duration
	Repetition float64 `json:"repetition"`
}

// maxDuration is the longest bleach, in seconds, a time.Duration can hold
const maxDuration = math.MaxInt64 / float64(time.Second)

// PhotobleachLine scans the beam along l continuously for l.Duration seconds.
// Each pass is made of AScansPerPass A-scans.
//
// If a laser is attached it is switched off afterwards, even if switching it
// on failed part way.
func (s *Scanner) PhotobleachLine(ctx context.Context, l Line) (err error) {
	if l.Duration <= 0 || l.Repetition <= 0 {
		return fmt.Errorf("%w: duration and repetition must be positive, got %f, %f", ErrInvalid, l.Duration, l.Repetition)
	}
	if l.Duration >= maxDuration {
		return fmt.Errorf("%w: duration %g s is too long", ErrInvalid, l.Duration)
	}
	ascans := AScansPerPass(s.profile.ScanRate, l.Duration, l.Repetition)
	if ascans < 2 {
		return fmt.Errorf("%w: a pass of %f s at %.0f A-scans/s is %d A-scans, need at least 2",
			ErrInvalid, l.Duration/l.Repetition, s.profile.ScanRate, ascans)
	}
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if s.laser != nil {
		defer func() {
			if lerr := thorlabs.Switch(s.laser, false); lerr != nil {
				err = errors.Join(err, fmt.Errorf("turning laser off: %w", lerr))
			}
		}()
		if err := thorlabs.Switch(s.laser, true); err != nil {
			return fmt.Errorf("turning laser on: %w", err)
		}
	}

	pattern, err := s.dev.NewBScanPattern(l.XStart, l.YStart, l.XEnd, l.YEnd, ascans)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, pattern.Close()) }()
	if err := s.dev.StartMeasurement(pattern, spectralradar.AsyncContinuous); err != nil {
		return err
	}
	log.Printf("photobleaching (%g, %g) to (%g, %g) for %g s, %d A-scans per pass\n",
		l.XStart, l.YStart, l.XEnd, l.YEnd, l.Duration, ascans)
	t := time.NewTimer(util.SecsToDuration(l.Duration))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return errors.Join(err, s.dev.StopMeasurement())
}
