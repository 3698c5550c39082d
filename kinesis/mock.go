package kinesis

import (
	"sync"
	"time"
)

// Mock is a simulated controller.  Moves take MoveDuration to complete,
// after which a Moved message is queued.
type Mock struct {
	sync.Mutex

	// Attached holds the serial numbers of the simulated controllers on the bus
	Attached []int

	// MoveDuration is how long each move or home takes
	MoveDuration time.Duration

	// Stuck prevents moves from ever completing
	Stuck bool

	serial   int
	open     bool
	listed   int
	polling  int
	pos      int
	from     int
	target   int
	moveTo   time.Time
	moving   bool
	homing   bool
	accel    int
	maxVel   int
	queue    []Message
	reported int
}

// NewMock returns a mock bus with the given controllers attached
func NewMock(serials ...int) *Mock {
	return &Mock{Attached: serials, MoveDuration: 20 * time.Millisecond}
}

// SetPositionUnits places the stage at units without a move
func (m *Mock) SetPositionUnits(units int) {
	m.Lock()
	defer m.Unlock()
	m.pos = units
	m.reported = units
}

// VelParams returns the last velocity parameters set
func (m *Mock) VelParams() (accel, maxVel int) {
	m.Lock()
	defer m.Unlock()
	return m.accel, m.maxVel
}

// Polling returns the polling interval in ms, or zero if not polling
func (m *Mock) Polling() int {
	m.Lock()
	defer m.Unlock()
	return m.polling
}

// IsOpen returns true if the controller is open
func (m *Mock) IsOpen() bool {
	m.Lock()
	defer m.Unlock()
	return m.open
}

// advance completes a move whose time has come.  m must be locked.
func (m *Mock) advance() {
	if !m.moving || m.Stuck || time.Now().Before(m.moveTo) {
		return
	}
	m.pos = m.target
	m.moving = false
	id := Moved
	if m.homing {
		id = Homed
		m.homing = false
	}
	m.queue = append(m.queue, Message{Type: GenericMotor, ID: id, Data: uint32(m.pos)})
}

// current is the interpolated position.  m must be locked.
func (m *Mock) current() int {
	if !m.moving {
		return m.pos
	}
	total := m.MoveDuration
	left := time.Until(m.moveTo)
	if total <= 0 || left <= 0 {
		if m.Stuck {
			return m.from
		}
		return m.target
	}
	frac := 1 - float64(left)/float64(total)
	return m.from + int(frac*float64(m.target-m.from))
}

func (m *Mock) BuildDeviceList() error {
	m.Lock()
	defer m.Unlock()
	m.listed = len(m.Attached)
	return nil
}

func (m *Mock) DeviceListSize() int {
	m.Lock()
	defer m.Unlock()
	return m.listed
}

func (m *Mock) Open(serial int) error {
	m.Lock()
	defer m.Unlock()
	if m.open {
		return Error{Code: 32}
	}
	for _, s := range m.Attached {
		if s == serial {
			m.serial = serial
			m.open = true
			return nil
		}
	}
	return Error{Code: 2}
}

func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	m.open = false
	m.polling = 0
	return nil
}

func (m *Mock) StartPolling(ms int) error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	m.polling = ms
	return nil
}

func (m *Mock) StopPolling() {
	m.Lock()
	defer m.Unlock()
	m.polling = 0
}

func (m *Mock) ClearMessageQueue() {
	m.Lock()
	defer m.Unlock()
	m.queue = nil
}

func (m *Mock) RequestPosition() error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	m.advance()
	m.reported = m.current()
	return nil
}

func (m *Mock) Position() (int, error) {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return 0, Error{Code: 3}
	}
	if m.polling > 0 {
		m.advance()
		m.reported = m.current()
	}
	return m.reported, nil
}

func (m *Mock) SetVelParams(accel, maxVel int) error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	if accel <= 0 || maxVel <= 0 {
		return Error{Code: 39}
	}
	m.accel, m.maxVel = accel, maxVel
	return nil
}

func (m *Mock) startMove(target int) {
	m.from = m.current()
	m.target = target
	m.moving = true
	m.moveTo = time.Now().Add(m.MoveDuration)
}

func (m *Mock) MoveToPosition(units int) error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	m.startMove(units)
	return nil
}

func (m *Mock) Home() error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Error{Code: 3}
	}
	m.startMove(0)
	m.homing = true
	return nil
}

func (m *Mock) NextMessage() (Message, bool, error) {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return Message{}, false, Error{Code: 3}
	}
	m.advance()
	if len(m.queue) == 0 {
		return Message{}, false, nil
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true, nil
}
