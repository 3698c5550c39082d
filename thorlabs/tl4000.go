// Package thorlabs contains drivers for Thorlabs laser diode and TEC controllers
// of the TL4000 family (ITC4000, LDC4000, TED4000, CLD1000).
package thorlabs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yolab/thorimager/comm"
	"github.com/yolab/thorimager/scpi"
	"github.com/yolab/thorimager/usbtmc"
)

const (
	// TLVID is the Thorlabs vendor ID
	TLVID = 0x1313

	// BufferSize is the longest reply the TL4000 family sends
	BufferSize = 256

	// openRetry bounds how long a connection is retried when the pool
	// needs to (re)open the device
	openRetry = 3 * time.Second

	// idleClose is how long an idle connection is held before it is closed
	idleClose = 30 * time.Second
)

var (
	// ErrNotFound is generated when no TL4000 series device is attached
	ErrNotFound = errors.New("no matching TL4000 series instrument found")

	// ErrInvalidSelection is generated when a chooser picks a device that does not exist
	ErrInvalidSelection = errors.New("invalid instrument selection")
)

// Model describes one product of the TL4000 family.  Each product has a PID
// for its normal firmware and one for its DFU (bootloader) mode.
type Model struct {
	Name   string
	PID    uint16
	DFUPID uint16
}

// Models is the table of supported products
var Models = []Model{
	{Name: "TED4000", PID: 0x8040, DFUPID: 0x8048},
	{Name: "LDC4000", PID: 0x8041, DFUPID: 0x8049},
	{Name: "ITC4000", PID: 0x8042, DFUPID: 0x804A},
	{Name: "G&H EM595", PID: 0x8046, DFUPID: 0x804E},
	{Name: "CLD1000", PID: 0x8047, DFUPID: 0x804F},
}

// ModelName returns the product name for a PID, and false if the PID is not
// part of the TL4000 family
func ModelName(pid uint16) (string, bool) {
	for _, m := range Models {
		if m.PID == pid || m.DFUPID == pid {
			return m.Name, true
		}
	}
	return "", false
}

// Resource is an instrument found on the bus
type Resource struct {
	VID    uint16
	PID    uint16
	Model  string
	Serial string
}

// String satisfies fmt.Stringer
func (r Resource) String() string {
	return fmt.Sprintf("%s \tS/N:%s", r.Model, r.Serial)
}

// Find enumerates the USB bus for instruments of the TL4000 family
func Find() ([]Resource, error) {
	pids := make([]uint16, 0, 2*len(Models))
	for _, m := range Models {
		pids = append(pids, m.PID, m.DFUPID)
	}
	infos, err := usbtmc.Find(TLVID, pids)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Resource, len(infos))
	for i, info := range infos {
		name, _ := ModelName(info.PID)
		if info.Product != "" {
			name = info.Product
		}
		out[i] = Resource{VID: info.VID, PID: info.PID, Model: name, Serial: info.Serial}
	}
	return out, nil
}

// Chooser picks one of several resources by index.  It is only consulted
// when there is more than one candidate.
type Chooser func([]Resource) (int, error)

// Select returns the resource to use.  A single resource is returned directly,
// otherwise choose is asked to pick one.
func Select(rs []Resource, choose Chooser) (Resource, error) {
	switch len(rs) {
	case 0:
		return Resource{}, ErrNotFound
	case 1:
		return rs[0], nil
	}
	if choose == nil {
		return Resource{}, fmt.Errorf("%d instruments found and no chooser given: %w", len(rs), ErrInvalidSelection)
	}
	idx, err := choose(rs)
	if err != nil {
		return Resource{}, err
	}
	if idx < 0 || idx >= len(rs) {
		return Resource{}, fmt.Errorf("%w: %d of %d", ErrInvalidSelection, idx, len(rs))
	}
	return rs[idx], nil
}

// Identity is the reply to an identification query
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

// TL4000 represents a TL4000 series laser diode and TEC controller
type TL4000 struct {
	sync.Mutex

	scpi *scpi.SCPI
}

// Open opens a session to the instrument described by r
func Open(r Resource) *TL4000 {
	maker := func() (io.ReadWriteCloser, error) {
		return usbtmc.Open(r.VID, r.PID, r.Serial)
	}
	return New(comm.RetryMaker(maker, openRetry))
}

// New creates a new TL4000 which communicates over connections made by maker
func New(maker comm.CreationFunc) *TL4000 {
	pool := comm.NewPool(1, idleClose, maker)
	return &TL4000{scpi: &scpi.SCPI{
		Pool:        pool,
		Handshaking: true,
		ErrorParser: parseError,
	}}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Identify queries the instrument identity
func (t *TL4000) Identify() (Identity, error) {
	t.Lock()
	defer t.Unlock()
	resp, err := t.scpi.ReadString("*IDN?")
	if err != nil {
		return Identity{}, err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 4 {
		return Identity{}, fmt.Errorf("malformed identification %q", resp)
	}
	for i := range pieces {
		pieces[i] = strings.TrimSpace(pieces[i])
	}
	return Identity{
		Manufacturer: pieces[0],
		Model:        pieces[1],
		Serial:       pieces[2],
		Firmware:     pieces[3],
	}, nil
}

// CalibrationMessage returns the calibration string stored on the instrument
func (t *TL4000) CalibrationMessage() (string, error) {
	t.Lock()
	defer t.Unlock()
	resp, err := t.scpi.ReadString("CALibration:STRing?")
	return strings.Trim(resp, `"`), err
}

// SetTECOutput turns the TEC output on or off
func (t *TL4000) SetTECOutput(on bool) error {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Write("OUTPut2:STATe " + onOff(on))
}

// GetTECOutput returns true if the TEC output is on
func (t *TL4000) GetTECOutput() (bool, error) {
	t.Lock()
	defer t.Unlock()
	return t.scpi.ReadBool("OUTPut2:STATe?")
}

// SetLDOutput turns the laser diode output on or off
func (t *TL4000) SetLDOutput(on bool) error {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Write("OUTPut1:STATe " + onOff(on))
}

// SetCurrent sets the laser diode current setpoint in mA
func (t *TL4000) SetCurrent(mA float64) error {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Write(fmt.Sprintf("SOURce1:CURRent:LEVel:AMPLitude %.9f", mA/1e3))
}

// GetCurrent gets the laser diode current setpoint in mA
func (t *TL4000) GetCurrent() (float64, error) {
	t.Lock()
	defer t.Unlock()
	f, err := t.scpi.ReadFloat("SOURce1:CURRent:LEVel:AMPLitude?")
	return f * 1e3, err
}

// GetTemperature returns the measured TEC temperature in Celsius
func (t *TL4000) GetTemperature() (float64, error) {
	t.Lock()
	defer t.Unlock()
	return t.scpi.ReadFloat("MEASure:SCALar:TEMPerature?")
}

// GetTemperatureSetpoint returns the TEC temperature setpoint in Celsius
func (t *TL4000) GetTemperatureSetpoint() (float64, error) {
	t.Lock()
	defer t.Unlock()
	return t.scpi.ReadFloat("SOURce2:TEMPerature:SPOint?")
}

// SetTemperatureSetpoint sets the TEC temperature setpoint in Celsius
func (t *TL4000) SetTemperatureSetpoint(c float64) error {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Write(fmt.Sprintf("SOURce2:TEMPerature:SPOint %.3f", c))
}

// SetEmission turns the laser diode on or off
func (t *TL4000) SetEmission(on bool) error {
	return t.SetLDOutput(on)
}

// GetEmission returns true if the laser diode is on
func (t *TL4000) GetEmission() (bool, error) {
	t.Lock()
	defer t.Unlock()
	return t.scpi.ReadBool("OUTPut1:STATe?")
}

// Raw sends a command and retrieves the reply if there is a question mark in the command, else returns "", err
func (t *TL4000) Raw(cmd string) (string, error) {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Raw(cmd)
}

// Close releases the connection to the instrument
func (t *TL4000) Close() error {
	t.Lock()
	defer t.Unlock()
	return t.scpi.Pool.Close()
}
