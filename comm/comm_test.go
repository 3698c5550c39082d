package comm_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/yolab/thorimager/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func echoPool(t *testing.T, size int, timeout time.Duration) *comm.Pool {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	return comm.NewPool(size, timeout, maker)
}

func TestPoolFillsToCapacity(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 active connections, got %d", pool.Active())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	pool := echoPool(t, 3, time.Second)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if pool.Size() != 1 {
		t.Errorf("expected serial Get/Put to reuse one connection, pool holds %d", pool.Size())
	}
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	pool := echoPool(t, 3, 10*time.Millisecond)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connections to be reclaimed, pool holds %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	pool := echoPool(t, 2, time.Second)
	held := []io.ReadWriter{}
	for i := 0; i < 2; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken when a connection was returned")
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	pool := echoPool(t, 1, time.Second)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Put(conn)
	rw := comm.NewTerminator(conn, '\n', '\n')
	wrap, err := comm.NewTimeout(rw, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = io.WriteString(wrap, "*IDN?"); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte("*IDN?")) {
		t.Errorf("expected echo of *IDN?, got %q", buf[:n])
	}
}

type stuck struct{}

func (stuck) Read(b []byte) (int, error) {
	select {}
}

func (stuck) Write(b []byte) (int, error) {
	return len(b), nil
}

func TestTimeoutAbandonsStuckRead(t *testing.T) {
	wrap, err := comm.NewTimeout(stuck{}, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	_, err = wrap.Read(make([]byte, 8))
	if err != comm.ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
