/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  This is a 'minimum viable product' for the bulk
transfer mode on the Thorlabs TL4000 family of laser diode and TEC controllers.

It does not, for example, include features to support multi-packet
messaging, and thus assumes your data fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These macros are implemented as Write() and Read() on the Device type defined in this package,
which satisfies io.ReadWriteCloser.
*/
package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	// headerSize is the size of a bulk header in bytes
	headerSize = 12

	// bufSize is the size of the receive buffer
	bufSize = 1500

	// msgDevDepOut is the MsgID of a device dependent message, host to device
	msgDevDepOut = 0x01

	// msgReqDevDepIn is the MsgID of a request for a device dependent message
	msgReqDevDepIn = 0x02
)

var (
	// ErrNotFound is generated when no device matches the requested IDs
	ErrNotFound = errors.New("usbtmc: no matching device found")
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{}
}

// nextbTag returns 1..255, wrapping.  0 is not a legal bTag.
func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerSize]byte {
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // hardcode end of message
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	tag := btag.nextbTag()
	out[0] = msgReqDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	return out
}

// decBulkInPayload pops the header from a DEV_DEP_MSG_IN transfer and returns
// the payload, trimmed to the transfer size in the header
func decBulkInPayload(buf []byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("only received %d bytes, need at least %d to form header", len(buf), headerSize)
	}
	if buf[0] != msgReqDevDepIn {
		return nil, fmt.Errorf("unexpected MsgID %d in bulk in header", buf[0])
	}
	if buf[2] != invbTag(buf[1]) {
		return nil, errors.New("bulk in header bTag inverse mismatch")
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:]
	if size < len(data) {
		data = data[:size]
	}
	return data, nil
}

// DeviceInfo describes a USBTMC device found on the bus
type DeviceInfo struct {
	VID     uint16
	PID     uint16
	Product string
	Serial  string
}

// Find enumerates the bus for devices with the vendor ID and any of the product IDs
func Find(vid uint16, pids []uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(vid) {
			return false
		}
		for _, pid := range pids {
			if desc.Product == gousb.ID(pid) {
				return true
			}
		}
		return false
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := DeviceInfo{VID: uint16(d.Desc.Vendor), PID: uint16(d.Desc.Product)}
		info.Product, _ = d.Product()
		info.Serial, _ = d.SerialNumber()
		out = append(out, info)
	}
	return out, nil
}

// Device is a struct hiding the details of USB and exposing an io.ReadWriteCloser interface
type Device struct {
	tagger  BTagger
	ctx     *gousb.Context
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	device  *gousb.Device
	closer  func()
	pending []byte
}

// Open opens a USBTMC device from its vendor and product ID.
// If serial is not empty, only a device with that serial number is accepted.
func Open(vid, pid uint16, serial string) (*Device, error) {
	d := &Device{tagger: newBTagGen(), ctx: gousb.NewContext()}
	devs, err := d.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	if err != nil && len(devs) == 0 {
		d.ctx.Close()
		return nil, err
	}
	for _, dev := range devs {
		if d.device != nil {
			dev.Close()
			continue
		}
		if serial != "" {
			sn, err := dev.SerialNumber()
			if err != nil || sn != serial {
				dev.Close()
				continue
			}
		}
		d.device = dev
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, ErrNotFound
	}
	err = d.device.SetAutoDetach(true)
	if err != nil {
		d.Close()
		return nil, err
	}
	iface, done, err := d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = done
	d.in, err = iface.InEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.out, err = iface.OutEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Read requests a message from the device and copies the payload into b.
// Payload that does not fit in b is returned by the next call to Read.
func (d *Device) Read(b []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(b, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	term := byte('\n')
	hdr := encBulkInHeader(d.tagger, bufSize-headerSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	if n < headerSize {
		return 0, fmt.Errorf("wrote %d bytes, not full %d required to transmit read request", n, headerSize)
	}
	buf := make([]byte, bufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	data, err := decBulkInPayload(buf[:n])
	if err != nil {
		return 0, err
	}
	n = copy(b, data)
	d.pending = data[n:]
	return n, nil
}

// Write sends b to the device as a single DEV_DEP_MSG_OUT transfer
func (d *Device) Write(b []byte) (int, error) {
	const (
		alignment = 4
	)
	hdr := encBulkOutHeader(d.tagger, len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	_, err := d.out.Write(msg)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the device
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
