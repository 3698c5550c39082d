package thorlabs

import (
	"errors"
	"fmt"
	"log"
)

// DefaultCurrentSetpoint is the laser diode current in mA used by Switch
const DefaultCurrentSetpoint = 64.

// Switcher is the part of a laser driver used to turn the laser on and off
type Switcher interface {
	SetTECOutput(bool) error
	SetLDOutput(bool) error
	SetCurrent(float64) error
}

// Switch turns the TEC output, then the laser diode output on or off and
// applies the default current setpoint.  Every step is attempted even if an
// earlier one fails, and all errors are returned.
func Switch(ctl Switcher, on bool) error {
	var errs []error
	if err := ctl.SetTECOutput(on); err != nil {
		errs = append(errs, fmt.Errorf("TEC output: %w", err))
	}
	if err := ctl.SetLDOutput(on); err != nil {
		errs = append(errs, fmt.Errorf("LD output: %w", err))
	}
	if err := ctl.SetCurrent(DefaultCurrentSetpoint); err != nil {
		errs = append(errs, fmt.Errorf("current setpoint: %w", err))
	}
	return errors.Join(errs...)
}

// Control finds the laser driver, asks choose to pick one if there are several,
// logs its identity and calibration, switches it and closes the session.
func Control(on bool, choose Chooser) error {
	rs, err := Find()
	if err != nil {
		return err
	}
	r, err := Select(rs, choose)
	if err != nil {
		return err
	}
	tl := Open(r)
	defer tl.Close()
	id, err := tl.Identify()
	if err != nil {
		return err
	}
	log.Printf("instrument %s %s S/N %s firmware %s\n", id.Manufacturer, id.Model, id.Serial, id.Firmware)
	cal, err := tl.CalibrationMessage()
	if err != nil {
		return err
	}
	log.Println("calibration:", cal)
	return Switch(tl, on)
}
