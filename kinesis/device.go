/*Package kinesis exposes the Thorlabs Kinesis SDK for KCube DC servo motor
controllers.

Building with the kinesis tag links against
Thorlabs.MotionControl.KCube.DCServo.dll; otherwise only the Mock
controller is available.
*/
package kinesis

import "fmt"

// Message types and IDs from the device message queue
const (
	// GenericMotor is the message type of motor events
	GenericMotor uint16 = 2

	// Homed is sent when a homing move completes
	Homed uint16 = 0

	// Moved is sent when a move completes
	Moved uint16 = 1

	// Stopped is sent when a move is stopped before completion
	Stopped uint16 = 2
)

// Message is an entry in the device message queue
type Message struct {
	Type uint16
	ID   uint16
	Data uint32
}

// Is returns true if the message has the given type and ID
func (m Message) Is(typ, id uint16) bool {
	return m.Type == typ && m.ID == id
}

// Error is an error code returned by the SDK
type Error struct {
	Code int
}

// Errors maps SDK error codes to strings
var Errors = map[int]string{
	1:  "FT_InvalidHandle",
	2:  "FT_DeviceNotFound",
	3:  "FT_DeviceNotOpened",
	4:  "FT_IOError",
	5:  "FT_InsufficientResources",
	6:  "FT_InvalidParameter",
	7:  "FT_DeviceNotPresent",
	8:  "FT_IncorrectDevice",
	16: "FT_NoDLLLoaded",
	17: "FT_NoFunctionsAvailable",
	18: "FT_FunctionNotAvailable",
	19: "FT_BadFunctionPointer",
	20: "FT_GenericFunctionFail",
	21: "FT_SpecificFunctionFail",
	32: "TL_ALREADY_OPEN",
	33: "TL_NO_RESPONSE",
	34: "TL_NOT_IMPLEMENTED",
	35: "TL_FAULT_REPORTED",
	36: "TL_INVALID_OPERATION",
	37: "TL_UNHOMED",
	38: "TL_INVALID_POSITION",
	39: "TL_INVALID_VELOCITY_PARAMETER",
	40: "TL_DISCONNECTING",
	41: "TL_FIRMWARE_BUG",
	42: "TL_INITIALIZATION_FAILURE",
	43: "TL_INVALID_CHANNEL",
	44: "TL_CANNOT_HOME_DEVICE",
	45: "TL_JOG_CONTINOUS_MODE",
}

// Error satisfies the error interface
func (e Error) Error() string {
	if s, ok := Errors[e.Code]; ok {
		return fmt.Sprintf("kinesis: %d - %s", e.Code, s)
	}
	return fmt.Sprintf("kinesis: %d - UNKNOWN ERROR CODE", e.Code)
}

// Device is one KCube DC servo controller.  Positions are in device units.
type Device interface {
	// BuildDeviceList scans the USB bus for controllers
	BuildDeviceList() error

	// DeviceListSize returns the number of controllers found by BuildDeviceList
	DeviceListSize() int

	// Open connects to the controller with the given serial number
	Open(serial int) error

	Close() error

	// StartPolling begins updating the position and status every ms milliseconds
	StartPolling(ms int) error

	StopPolling()

	ClearMessageQueue()

	// RequestPosition asks the controller to update the position returned by Position
	RequestPosition() error

	Position() (int, error)

	SetVelParams(accel, maxVel int) error

	MoveToPosition(units int) error

	Home() error

	// NextMessage pops the oldest message from the queue.  ok is false if the
	// queue is empty.
	NextMessage() (msg Message, ok bool, err error)
}
