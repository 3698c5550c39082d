package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"
	"github.com/theckman/yacspin"

	"github.com/yolab/thorimager/oct"
	"github.com/yolab/thorimager/stage"
	"github.com/yolab/thorimager/thorlabs"
)

// commandFlags returns a flag set with the flags that override the configuration
func commandFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Bool("mock", false, "use simulated devices")
	fs.String("oct.probeini", "", "probe configuration file")
	fs.String("oct.chirppath", "", "chirp calibration file")
	return fs
}

// parse parses args into fs, overlays the configuration flags onto the
// configuration and decodes the remaining flags into params by their json names
func parse(fs *pflag.FlagSet, args []string, params interface{}) (Config, error) {
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return Config{}, err
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return c, err
	}
	if params == nil {
		return c, nil
	}
	kp := koanf.New(".")
	if err := kp.Load(posflag.Provider(fs, ".", kp), nil); err != nil {
		return c, err
	}
	return c, kp.UnmarshalWithConf("", params, koanf.UnmarshalConf{Tag: "json"})
}

// spin starts a spinner on the terminal.  If the terminal cannot show one
// a nil spinner is returned, which is safe to pass to done.
func spin(msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil
	}
	if err := s.Start(); err != nil {
		return nil
	}
	return s
}

// done stops the spinner with msg, or err if it is not nil
func done(s *yacspin.Spinner, msg string, err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		return
	}
	s.StopMessage(msg)
	s.Stop()
}

func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func withScanner(c Config, fcn func(*oct.Scanner) error) (err error) {
	s, err := openOCT(c, nil)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Close()) }()
	return fcn(s)
}

func scan(args []string) error {
	fs := commandFlags("scan")
	fs.Float64("xCenter", 0, "center of the scan along x, mm")
	fs.Float64("yCenter", 0, "center of the scan along y, mm")
	fs.Float64("rangeX", 1, "extent of the scan along x, mm")
	fs.Float64("rangeY", 1, "extent of the scan along y, mm")
	fs.Float64("rotationDeg", 0, "rotation of the scan, degrees")
	fs.Int("sizeX", 512, "A-scans per B-scan")
	fs.Int("sizeY", 256, "number of B-scans")
	fs.Int("bScanAvg", 1, "repetitions of each B-scan")
	fs.String("outputDir", "", "directory to create and write frames into")
	fs.Bool("processed", false, "write processed B-scans instead of raw spectra")
	fs.Float64("dispersionA", 0, "quadratic dispersion coefficient, processed scans only")
	v := oct.VolumeScan{}
	c, err := parse(fs, args, &v)
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	return withScanner(c, func(s *oct.Scanner) error {
		sp := spin(fmt.Sprintf("scanning %d x %d x %d into %s", v.SizeX, v.SizeY, v.BScanAvg, v.OutputDir))
		res, err := s.ScanVolume(ctx, v)
		msg := fmt.Sprintf("wrote %d frames and %s", len(res.Files), filepath.Join(res.OutputDir, oct.ManifestFilename))
		if res.OCTFile != "" {
			msg += ", " + res.OCTFile
		}
		done(sp, msg, err)
		return err
	})
}

func bleach(args []string) error {
	fs := commandFlags("bleach")
	fs.Float64("xStart", 0, "start of the line along x, mm")
	fs.Float64("yStart", 0, "start of the line along y, mm")
	fs.Float64("xEnd", 0, "end of the line along x, mm")
	fs.Float64("yEnd", 0, "end of the line along y, mm")
	fs.Float64("duration", 1, "total bleaching time, seconds")
	fs.Float64("repetition", 1, "passes over the line in duration")
	fs.Bool("oct.laserduringbleach", false, "switch the laser driver on while bleaching")
	l := oct.Line{}
	c, err := parse(fs, args, &l)
	if err != nil {
		return err
	}
	var sw thorlabs.Switcher
	if c.OCT.LaserDuringBleach {
		tl, err := openLaser(c, promptChooser(os.Stdin, os.Stdout))
		if err != nil {
			return err
		}
		defer tl.Close()
		sw = tl
	}
	s, err := openOCT(c, sw)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := interruptible()
	defer cancel()
	sp := spin(fmt.Sprintf("photobleaching for %g s", l.Duration))
	err = s.PhotobleachLine(ctx, l)
	done(sp, "photobleach complete", err)
	return err
}

func snap(args []string) error {
	fs := commandFlags("snap")
	out := fs.String("out", "camera.jpg", "JPEG file to write")
	c, err := parse(fs, args, nil)
	if err != nil {
		return err
	}
	return withScanner(c, func(s *oct.Scanner) error {
		return s.CaptureCameraImage(*out)
	})
}

func ring(args []string) error {
	fs := commandFlags("ring")
	percent := fs.Int("percent", 0, "ring light intensity, 0..100")
	c, err := parse(fs, args, nil)
	if err != nil {
		return err
	}
	return withScanner(c, func(s *oct.Scanner) error {
		return s.SetRingLightIntensity(*percent)
	})
}

func moveStage(args []string) (err error) {
	fs := commandFlags("stage")
	axis := fs.String("axis", "x", "axis to move")
	pos := fs.Float64("pos", 0, "position to move to, mm")
	relative := fs.Bool("relative", false, "treat pos as relative to the current position")
	home := fs.Bool("home", false, "home the axis before any move")
	c, err := parse(fs, args, nil)
	if err != nil {
		return err
	}
	c.Stage.Axes = []string{*axis}
	ctx, cancel := interruptible()
	defer cancel()
	ctl, err := openStages(ctx, c)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, ctl.Close()) }()
	if *home {
		sp := spin("homing " + *axis)
		err := ctl.Home(*axis)
		done(sp, "homed", err)
		if err != nil {
			return err
		}
	}
	if fs.Changed("pos") {
		if lim, ok := c.Stage.Limits[*axis]; ok {
			target := *pos
			if *relative {
				cur, err := ctl.GetPos(*axis)
				if err != nil {
					return err
				}
				target += cur
			}
			if !lim.Check(target) {
				return fmt.Errorf("%g mm is outside the limits [%g, %g] of axis %s", target, lim.Min, lim.Max, *axis)
			}
		}
		sp := spin("moving " + *axis)
		if *relative {
			err = ctl.MoveRel(*axis, *pos)
		} else {
			err = ctl.MoveAbs(*axis, *pos)
		}
		done(sp, "moved", err)
		if err != nil {
			return err
		}
	}
	p, err := ctl.GetPos(*axis)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %.4f mm (S/N %d)\n", *axis, p, stage.SerialNumber(*axis))
	return nil
}

func switchLaser(args []string) error {
	fs := commandFlags("laser")
	on := fs.Bool("on", false, "switch the laser on")
	off := fs.Bool("off", false, "switch the laser off")
	fs.String("laser.serial", "", "serial number of the driver to use")
	c, err := parse(fs, args, nil)
	if err != nil {
		return err
	}
	if *on == *off {
		return errors.New("exactly one of --on and --off is required")
	}
	if c.Mock {
		tl := thorlabs.NewMock()
		defer tl.Close()
		return thorlabs.Switch(tl, *on)
	}
	choose := promptChooser(os.Stdin, os.Stdout)
	if c.Laser.Serial != "" {
		choose = chooseSerial(c.Laser.Serial)
	}
	return thorlabs.Control(*on, choose)
}
