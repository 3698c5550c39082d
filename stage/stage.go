/*Package stage moves the sample stages of the imager.  Each axis is a linear
actuator driven by a KCube DC servo controller, and positions are in mm.

Axes are named x, y, z.  The serial number and scale of each controller are
fixed in a table, see SerialNumber and UnitsPerMM.
*/
package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/yolab/thorimager/kinesis"
)

const (
	// DefaultPollInterval is how often the controller updates its status
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultOpenRetry is how long opening a controller is retried
	DefaultOpenRetry = 5 * time.Second

	// settleCycles is the number of polling cycles waited after
	// polling starts for the first position to arrive
	settleCycles = 2
)

var (
	// ErrUnknownAxis is generated when an axis has no controller in the table
	ErrUnknownAxis = errors.New("unknown stage axis")

	// ErrMoveTimeout is generated when a move does not complete in time
	ErrMoveTimeout = errors.New("stage move did not complete before the deadline")

	// ErrMoveStopped is generated when the controller stops before the target
	ErrMoveStopped = errors.New("stage stopped before reaching the target")

	// ErrClosed is generated when a closed stage is used
	ErrClosed = errors.New("stage is closed")
)

// Option configures a Stage
type Option func(*Stage)

// WithPollInterval sets the controller polling interval
func WithPollInterval(d time.Duration) Option {
	return func(s *Stage) {
		s.poll = d
	}
}

// WithOpenRetry sets how long opening the controller is retried
func WithOpenRetry(d time.Duration) Option {
	return func(s *Stage) {
		s.openRetry = d
	}
}

// Stage is one axis
type Stage struct {
	sync.Mutex

	dev       kinesis.Device
	axis      string
	serial    int
	poll      time.Duration
	openRetry time.Duration
	limiter   *rate.Limiter
	velocity  float64
	accel     float64
	closed    bool
}

// Init opens the controller of axis and returns the stage with its current
// position in mm.  On error the position is -1.
func Init(ctx context.Context, dev kinesis.Device, axis string, opts ...Option) (*Stage, float64, error) {
	serial, ok := LookupAxis(axis)
	if !ok {
		return nil, -1, fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	s := &Stage{
		dev:       dev,
		axis:      axis,
		serial:    serial,
		poll:      DefaultPollInterval,
		openRetry: DefaultOpenRetry,
		velocity:  DefaultVelocity,
		accel:     DefaultAcceleration,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.poll), 1)

	if err := s.open(ctx); err != nil {
		return nil, -1, err
	}
	pos, err := s.prepare(ctx)
	if err != nil {
		s.dev.StopPolling()
		s.dev.Close()
		return nil, -1, err
	}
	log.Printf("stage %s (S/N %d) initialized at %.4f mm\n", axis, serial, pos)
	return s, pos, nil
}

func (s *Stage) open(ctx context.Context) error {
	op := func() error {
		if err := s.dev.BuildDeviceList(); err != nil {
			return err
		}
		if s.dev.DeviceListSize() == 0 {
			return kinesis.Error{Code: 2}
		}
		return s.dev.Open(s.serial)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      s.openRetry,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("opening stage %s (S/N %d): %w", s.axis, s.serial, err)
	}
	return nil
}

func (s *Stage) prepare(ctx context.Context) (float64, error) {
	if err := s.dev.StartPolling(int(s.poll / time.Millisecond)); err != nil {
		return -1, err
	}
	s.dev.ClearMessageQueue()
	if err := s.dev.RequestPosition(); err != nil {
		return -1, err
	}
	select {
	case <-time.After(settleCycles * s.poll):
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	units, err := s.dev.Position()
	if err != nil {
		return -1, err
	}
	if err := s.dev.SetVelParams(accelUnits(s.accel), velocityUnits(s.velocity)); err != nil {
		return -1, err
	}
	return ToMM(s.serial, units), nil
}

// Axis returns the name of the axis
func (s *Stage) Axis() string {
	return s.axis
}

// SerialNumber returns the serial number of the controller
func (s *Stage) SerialNumber() int {
	return s.serial
}

// waitFor polls the message queue until the motor message id arrives
func (s *Stage) waitFor(ctx context.Context, id uint16) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("axis %s: %w", s.axis, ErrMoveTimeout)
		}
		for {
			msg, ok, err := s.dev.NextMessage()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			switch {
			case msg.Is(kinesis.GenericMotor, id):
				return nil
			case msg.Is(kinesis.GenericMotor, kinesis.Stopped):
				return fmt.Errorf("axis %s: %w", s.axis, ErrMoveStopped)
			}
		}
	}
}

// SetPosition moves to mm and blocks until the move completes, or ctx expires
func (s *Stage) SetPosition(ctx context.Context, mm float64) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dev.ClearMessageQueue()
	if err := s.dev.MoveToPosition(ToDeviceUnits(s.serial, mm)); err != nil {
		return err
	}
	return s.waitFor(ctx, kinesis.Moved)
}

// Position returns the current position in mm
func (s *Stage) Position() (float64, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return -1, ErrClosed
	}
	if err := s.dev.RequestPosition(); err != nil {
		return -1, err
	}
	units, err := s.dev.Position()
	if err != nil {
		return -1, err
	}
	return ToMM(s.serial, units), nil
}

// Home homes the axis and blocks until homing completes, or ctx expires
func (s *Stage) Home(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dev.ClearMessageQueue()
	if err := s.dev.Home(); err != nil {
		return err
	}
	return s.waitFor(ctx, kinesis.Homed)
}

// SetVelocity sets the velocity used for moves, in mm/s
func (s *Stage) SetVelocity(mmps float64) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if mmps <= 0 {
		return fmt.Errorf("velocity must be positive, got %f", mmps)
	}
	if err := s.dev.SetVelParams(accelUnits(s.accel), velocityUnits(mmps)); err != nil {
		return err
	}
	s.velocity = mmps
	return nil
}

// Velocity returns the velocity used for moves, in mm/s
func (s *Stage) Velocity() float64 {
	s.Lock()
	defer s.Unlock()
	return s.velocity
}

// Close stops polling and closes the controller.  Closing twice is not an error.
func (s *Stage) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.StopPolling()
	return s.dev.Close()
}
