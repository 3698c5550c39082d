package stage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yolab/thorimager/kinesis"
)

// DefaultMoveTimeout bounds a move made through a Controller
const DefaultMoveTimeout = 60 * time.Second

// Controller groups several stages by axis name
type Controller struct {
	mu     sync.Mutex
	stages map[string]*Stage

	// MoveTimeout bounds every move and home
	MoveTimeout time.Duration
}

// NewController returns an empty controller
func NewController(moveTimeout time.Duration) *Controller {
	if moveTimeout <= 0 {
		moveTimeout = DefaultMoveTimeout
	}
	return &Controller{stages: map[string]*Stage{}, MoveTimeout: moveTimeout}
}

// Open initializes each axis with a device from newDev and adds it to a new
// controller.  If any axis fails, the ones already opened are closed.
func Open(ctx context.Context, newDev func(axis string) kinesis.Device, axes []string, moveTimeout time.Duration, opts ...Option) (*Controller, error) {
	c := NewController(moveTimeout)
	for _, axis := range axes {
		s, _, err := Init(ctx, newDev(axis), axis, opts...)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
		c.Add(s)
	}
	return c, nil
}

// Add adds a stage to the controller, replacing any with the same axis
func (c *Controller) Add(s *Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[strings.ToLower(s.Axis())] = s
}

// Axes returns the axis names, sorted
func (c *Controller) Axes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.stages))
	for k := range c.stages {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) stage(axis string) (*Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[strings.ToLower(axis)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	return s, nil
}

func (c *Controller) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.MoveTimeout)
}

// GetPos returns the position of axis in mm
func (c *Controller) GetPos(axis string) (float64, error) {
	s, err := c.stage(axis)
	if err != nil {
		return 0, err
	}
	return s.Position()
}

// MoveAbs moves axis to pos mm
func (c *Controller) MoveAbs(axis string, pos float64) error {
	s, err := c.stage(axis)
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return s.SetPosition(ctx, pos)
}

// MoveRel moves axis by delta mm
func (c *Controller) MoveRel(axis string, delta float64) error {
	s, err := c.stage(axis)
	if err != nil {
		return err
	}
	pos, err := s.Position()
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return s.SetPosition(ctx, pos+delta)
}

// Home homes axis
func (c *Controller) Home(axis string) error {
	s, err := c.stage(axis)
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return s.Home(ctx)
}

// SetVelocity sets the velocity of axis in mm/s
func (c *Controller) SetVelocity(axis string, mmps float64) error {
	s, err := c.stage(axis)
	if err != nil {
		return err
	}
	return s.SetVelocity(mmps)
}

// GetVelocity returns the velocity of axis in mm/s
func (c *Controller) GetVelocity(axis string) (float64, error) {
	s, err := c.stage(axis)
	if err != nil {
		return 0, err
	}
	return s.Velocity(), nil
}

// Close closes every stage
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, s := range c.stages {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
