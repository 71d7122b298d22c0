package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateIdle
	StateInUse
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn owns one bidirectional byte-stream socket. It has exactly one owner
// at a time: the server loop while serving, the Pool while idle, or a
// Client exchange while in flight.
//
// Read returns io.EOF when the peer ends the stream cleanly. Other
// failures are classified as ErrConnectionReset, ErrConnectionClosed or
// ErrTimeout; every operation after Close fails with ErrUseAfterClose.
type Conn struct {
	nc    net.Conn
	id    string
	state atomic.Int32

	closeOnce sync.Once
	closeErr  error

	dec     *Decoder
	bw      *bufio.Writer
	nread   int64     // bytes read so far, touched only by the owner
	lastUse time.Time // guarded by the owning Pool's lock while idle
}

// NewConn wraps nc. The Conn takes ownership of nc.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{nc: nc, id: uuid.NewString()}
	c.dec = NewDecoder(bufio.NewReader(c))
	c.bw = bufio.NewWriter(c)
	return c
}

// ID returns a unique identifier used in logs.
func (c *Conn) ID() string { return c.id }

func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) {
	if c.State() != StateClosed {
		c.state.Store(int32(s))
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	if c.State() == StateClosed {
		return 0, ErrUseAfterClose
	}
	n, err := c.nc.Read(p)
	c.nread += int64(n)
	if err != nil {
		err = c.classify("read", err)
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.State() == StateClosed {
		return 0, ErrUseAfterClose
	}
	n, err := c.nc.Write(p)
	if err != nil {
		err = c.classify("write", err)
	}
	return n, err
}

// Close closes the socket. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// Shutdown half-closes the connection: no further bytes are sent, reads
// keep working until the peer closes. Sockets without half-close support
// are closed fully.
func (c *Conn) Shutdown() error {
	if c.State() == StateClosed {
		return ErrUseAfterClose
	}
	if hc, ok := c.nc.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			return c.classify("shutdown", err)
		}
		return nil
	}
	return c.Close()
}

func (c *Conn) SetDeadline(t time.Time) error      { return c.nc.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.nc.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }

// readDeadline sets the read deadline to now+d, or clears it when d is 0.
func (c *Conn) readDeadline(d time.Duration) {
	if d > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
}

func (c *Conn) writeDeadline(d time.Duration) {
	if d > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}
}

// deadline returns the earlier of now+d and ctx's deadline, or the zero
// time when neither applies.
func deadline(ctx context.Context, d time.Duration) time.Time {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	if dl, ok := ctx.Deadline(); ok && (t.IsZero() || dl.Before(t)) {
		t = dl
	}
	return t
}

// classify maps a socket error onto the transport error kinds while
// keeping the original error in the chain.
func (c *Conn) classify(op string, err error) error {
	var kind error
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case c.State() == StateClosed:
		kind = ErrUseAfterClose
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED):
		kind = ErrConnectionReset
	case errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		kind = ErrConnectionClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		kind = ErrTimeout
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			kind = ErrTimeout
		} else {
			return fmt.Errorf("httpx: %s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}
