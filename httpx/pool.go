package httpx

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"dqx0.com/go/httpwire/internal/obs"
)

// PoolKey identifies a class of interchangeable outbound connections.
type PoolKey struct {
	Scheme string
	Host   string
	Port   int
}

func (k PoolKey) String() string {
	return k.Scheme + "://" + k.Host + ":" + strconv.Itoa(k.Port)
}

// KeyFor returns the pool key of u, filling in the scheme's default port.
func KeyFor(u *URI) PoolKey {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return PoolKey{Scheme: scheme, Host: u.Host, Port: u.EffectivePort()}
}

// Pool caches idle outbound connections by PoolKey. It is safe for
// concurrent use; Get removes the connection it returns, so a Conn is
// never handed to two callers.
type Pool struct {
	// MaxIdlePerKey bounds idle connections per key. The default of 1
	// keeps a single connection per destination: Put replaces and closes
	// the one already idle. Larger values keep a LIFO free list.
	MaxIdlePerKey int
	// IdleTimeout closes connections idle for longer; zero keeps them
	// until Clear.
	IdleTimeout time.Duration

	Logger *slog.Logger
	Meter  obs.Meter

	mu     sync.Mutex
	idle   map[PoolKey][]*Conn
	once   sync.Once
	stop   chan struct{}
	closed bool
}

// NewPool returns a Pool holding one idle connection per key.
func NewPool() *Pool {
	return &Pool{MaxIdlePerKey: 1, IdleTimeout: 90 * time.Second}
}

// Get takes the most recently returned usable connection for key.
func (p *Pool) Get(key PoolKey) (*Conn, bool) {
	p.once.Do(p.startCleanup)
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[key]
	for len(list) > 0 {
		c := list[len(list)-1]
		list = list[:len(list)-1]
		if c.State() == StateClosed || p.expired(c, now) {
			_ = c.Close()
			continue
		}
		p.setIdle(key, list)
		c.setState(StateInUse)
		p.counter("httpx_pool_hits_total", key)
		return c, true
	}
	p.setIdle(key, nil)
	p.counter("httpx_pool_misses_total", key)
	return nil, false
}

// Put returns c to the pool under key. Closed connections are dropped.
func (p *Pool) Put(key PoolKey, c *Conn) {
	if c == nil {
		return
	}
	p.once.Do(p.startCleanup)
	if c.State() == StateClosed {
		return
	}
	c.setState(StateIdle)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	c.lastUse = time.Now()
	if p.idle == nil {
		p.idle = make(map[PoolKey][]*Conn)
	}
	list := append(p.idle[key], c)
	var evicted []*Conn
	if max := p.maxIdle(); len(list) > max {
		evicted = append(evicted, list[:len(list)-max]...)
		list = append([]*Conn(nil), list[len(list)-max:]...)
	}
	p.idle[key] = list
	p.mu.Unlock()
	for _, old := range evicted {
		_ = old.Close()
		p.counter("httpx_pool_evictions_total", key)
	}
}

// Len returns the number of idle connections held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.idle {
		n += len(list)
	}
	return n
}

// Clear closes every idle connection.
func (p *Pool) Clear() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, list := range idle {
		for _, c := range list {
			_ = c.Close()
		}
	}
}

// Close stops the idle janitor and clears the pool. Connections returned
// afterwards are closed immediately.
func (p *Pool) Close() {
	p.once.Do(func() {})
	p.mu.Lock()
	p.closed = true
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
	p.Clear()
}

func (p *Pool) maxIdle() int {
	if p.MaxIdlePerKey <= 0 {
		return 1
	}
	return p.MaxIdlePerKey
}

func (p *Pool) expired(c *Conn, now time.Time) bool {
	return p.IdleTimeout > 0 && now.Sub(c.lastUse) > p.IdleTimeout
}

func (p *Pool) setIdle(key PoolKey, list []*Conn) {
	if len(list) == 0 {
		delete(p.idle, key)
		return
	}
	p.idle[key] = list
}

// startCleanup launches a goroutine that closes expired idle connections.
func (p *Pool) startCleanup() {
	if p.IdleTimeout <= 0 {
		return
	}
	stop := make(chan struct{})
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stop = stop
	p.mu.Unlock()

	interval := p.IdleTimeout / 2
	if interval > time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.pruneIdle()
			case <-stop:
				return
			}
		}
	}()
}

func (p *Pool) pruneIdle() {
	now := time.Now()
	var expired []*Conn
	p.mu.Lock()
	for key, list := range p.idle {
		kept := list[:0]
		for _, c := range list {
			if c.State() == StateClosed || p.expired(c, now) {
				expired = append(expired, c)
				continue
			}
			kept = append(kept, c)
		}
		p.setIdle(key, kept)
	}
	p.mu.Unlock()
	for _, c := range expired {
		_ = c.Close()
		p.logger().Debug("pool: closed idle connection", "conn", c.ID())
		p.meter().Counter("httpx_pool_idle_closed_total", 1)
	}
}

func (p *Pool) counter(name string, key PoolKey) {
	p.meter().Counter(name, 1, obs.Label{Key: "key", Value: key.String()})
}

func (p *Pool) meter() obs.Meter {
	if p.Meter != nil {
		return p.Meter
	}
	return obs.NopMeter{}
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return obs.Discard()
}
