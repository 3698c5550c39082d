//go:build kinesis

package kinesis

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo LDFLAGS: -L${SRCDIR}/lib -lThorlabs.MotionControl.KCube.DCServo
#include <stdlib.h>
#include <Thorlabs.MotionControl.KCube.DCServo.h>
*/
import "C"
import (
	"strconv"
	"sync"
	"unsafe"
)

func check(code C.short) error {
	if code == 0 {
		return nil
	}
	return Error{Code: int(code)}
}

// KCube is a KCube DC servo controller reached through the Kinesis SDK
type KCube struct {
	sync.Mutex

	serial *C.char
}

// NewKCube returns an unopened controller
func NewKCube() *KCube {
	return &KCube{}
}

func (k *KCube) BuildDeviceList() error {
	return check(C.TLI_BuildDeviceList())
}

func (k *KCube) DeviceListSize() int {
	return int(C.TLI_GetDeviceListSize())
}

func (k *KCube) Open(serial int) error {
	k.Lock()
	defer k.Unlock()
	if k.serial != nil {
		return Error{Code: 32}
	}
	cstr := C.CString(strconv.Itoa(serial))
	if err := check(C.CC_Open(cstr)); err != nil {
		C.free(unsafe.Pointer(cstr))
		return err
	}
	k.serial = cstr
	return nil
}

func (k *KCube) Close() error {
	k.Lock()
	defer k.Unlock()
	if k.serial == nil {
		return Error{Code: 3}
	}
	C.CC_Close(k.serial)
	C.free(unsafe.Pointer(k.serial))
	k.serial = nil
	return nil
}

func (k *KCube) StartPolling(ms int) error {
	k.Lock()
	defer k.Unlock()
	if !bool(C.CC_StartPolling(k.serial, C.int(ms))) {
		return Error{Code: 36}
	}
	return nil
}

func (k *KCube) StopPolling() {
	k.Lock()
	defer k.Unlock()
	C.CC_StopPolling(k.serial)
}

func (k *KCube) ClearMessageQueue() {
	k.Lock()
	defer k.Unlock()
	C.CC_ClearMessageQueue(k.serial)
}

func (k *KCube) RequestPosition() error {
	k.Lock()
	defer k.Unlock()
	return check(C.CC_RequestPosition(k.serial))
}

func (k *KCube) Position() (int, error) {
	k.Lock()
	defer k.Unlock()
	return int(C.CC_GetPosition(k.serial)), nil
}

func (k *KCube) SetVelParams(accel, maxVel int) error {
	k.Lock()
	defer k.Unlock()
	return check(C.CC_SetVelParams(k.serial, C.int(accel), C.int(maxVel)))
}

func (k *KCube) MoveToPosition(units int) error {
	k.Lock()
	defer k.Unlock()
	return check(C.CC_MoveToPosition(k.serial, C.int(units)))
}

func (k *KCube) Home() error {
	k.Lock()
	defer k.Unlock()
	return check(C.CC_Home(k.serial))
}

func (k *KCube) NextMessage() (Message, bool, error) {
	k.Lock()
	defer k.Unlock()
	if C.CC_MessageQueueSize(k.serial) <= 0 {
		return Message{}, false, nil
	}
	var typ, id C.WORD
	var data C.DWORD
	if !bool(C.CC_GetNextMessage(k.serial, &typ, &id, &data)) {
		return Message{}, false, Error{Code: 36}
	}
	return Message{Type: uint16(typ), ID: uint16(id), Data: uint32(data)}, true, nil
}
