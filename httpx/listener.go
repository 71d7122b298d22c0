package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

// Network is the socket boundary used by Client and Server. Tests and
// embedders may substitute their own implementation.
type Network interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
	Listen(ctx context.Context, address string) (net.Listener, error)
}

// TCPNetwork dials and listens on TCP sockets.
type TCPNetwork struct {
	// DialTimeout bounds connection establishment; zero means no limit
	// beyond the context.
	DialTimeout time.Duration
	// KeepAlive is the TCP keep-alive period; zero uses the system default.
	KeepAlive time.Duration
}

func (n TCPNetwork) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: n.DialTimeout, KeepAlive: n.KeepAlive}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, addr, err)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTimeout, addr, err)
		}
		return nil, fmt.Errorf("httpx: dial %s: %w", addr, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return nc, nil
}

func (n TCPNetwork) Listen(ctx context.Context, address string) (net.Listener, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	lc := net.ListenConfig{KeepAlive: n.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, classifyListen(address, err)
	}
	return ln, nil
}

func classifyListen(address string, err error) error {
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Errorf("%w: %s: %w", ErrAddressInUse, address, err)
	case errors.Is(err, syscall.EADDRNOTAVAIL), errors.As(err, &dnsErr), errors.As(err, &addrErr):
		return fmt.Errorf("%w: %s: %w", ErrInvalidAddress, address, err)
	}
	return fmt.Errorf("httpx: listen %s: %w", address, err)
}

// Listener accepts inbound connections and wraps them as Conns.
type Listener struct {
	ln     net.Listener
	closed atomic.Bool
}

// Listen binds address ("host:port") on network. A nil network means TCP.
func Listen(ctx context.Context, network Network, address string) (*Listener, error) {
	if network == nil {
		network = TCPNetwork{}
	}
	ln, err := network.Listen(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewListener(ln), nil
}

// NewListener wraps an already bound net.Listener.
func NewListener(ln net.Listener) *Listener {
	return &Listener{ln: ln}
}

// Accept blocks until a peer connects. After Close it returns
// ErrListenerClosed.
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		if l.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConn(nc), nil
}

// Close stops accepting; a blocked Accept returns ErrListenerClosed.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
