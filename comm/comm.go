/*Package comm provides embeddable types and wrappers for communication with lab hardware.

Most usages of this package will boil down to:
	1.  create a Pool with a CreationFunc that opens a connection to your hardware.
	2.  wrap connections taken from the pool in a Terminator and a Timeout, so
		that messages are framed and a stuck instrument does not hang the caller.
	3.  return the connection with ReturnWithError, which destroys it if the
		exchange failed and recycles it otherwise.

A minimal example for a sensor that responds to "RD?" with its temperature:

	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(conn, '\n', '\n')
	_, err = io.WriteString(rw, "RD?")
	...
*/
package comm

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrTimeout is generated when a read or write does not complete in time
	ErrTimeout = errors.New("communication timeout")
)

// Terminator wraps an io.ReadWriter, appending a terminator to each write and
// reading until the terminator is seen.  The terminator is stripped from reads.
type Terminator struct {
	rw io.ReadWriter
	rx byte
	tx byte
}

// NewTerminator returns a new Terminator wrapping rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write writes b followed by the tx terminator
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads into b until the rx terminator is found or b is full
func (t *Terminator) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := t.rw.Read(b[n:])
		n += m
		if idx := bytes.IndexByte(b[:n], t.rx); idx != -1 {
			return idx, nil
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
	}
	return n, ErrTerminatorNotFound
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout wraps an io.ReadWriter and bounds each Read and Write by a timeout.
// If the underlying type has a SetDeadline method, it is used.  Otherwise,
// the call is run in a goroutine and abandoned after the timeout.
type Timeout struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout returns a new Timeout wrapping rw
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (*Timeout, error) {
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	return &Timeout{rw: rw, timeout: timeout}, nil
}

func (t *Timeout) do(f func() (int, error)) (int, error) {
	if d, ok := t.rw.(deadliner); ok {
		if err := d.SetDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
		return f()
	}
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := f()
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(t.timeout):
		return 0, ErrTimeout
	}
}

// Read implements io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	return t.do(func() (int, error) { return t.rw.Read(b) })
}

// Write implements io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	return t.do(func() (int, error) { return t.rw.Write(b) })
}

// RetryMaker wraps a CreationFunc with an exponential backoff.  Instruments
// on USB often refuse a connection for a short time after the previous one
// was closed, so opening is retried for up to maxElapsed.  Errors that contain
// "not found" are not retried.
func RetryMaker(maker CreationFunc, maxElapsed time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			var err error
			conn, err = maker()
			if err != nil && strings.Contains(strings.ToLower(err.Error()), "not found") {
				return backoff.Permanent(err)
			}
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      maxElapsed,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
