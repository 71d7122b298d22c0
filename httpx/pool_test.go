package httpx

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqx0.com/go/httpwire/internal/obs"
)

func pipeConn(t *testing.T) *Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewConn(a)
}

var testKey = PoolKey{Scheme: "http", Host: "example.com", Port: 80}

func TestPoolGetReturnsSameConn(t *testing.T) {
	p := NewPool()
	defer p.Close()

	_, ok := p.Get(testKey)
	assert.False(t, ok)

	c := pipeConn(t)
	p.Put(testKey, c)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, p.Len())

	got, ok := p.Get(testKey)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, StateInUse, got.State())
	assert.Equal(t, 0, p.Len())

	_, ok = p.Get(testKey)
	assert.False(t, ok)
}

func TestPoolPutReplacesIdleConn(t *testing.T) {
	p := NewPool()
	defer p.Close()
	first, second := pipeConn(t), pipeConn(t)

	p.Put(testKey, first)
	p.Put(testKey, second)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, StateClosed, first.State())

	got, ok := p.Get(testKey)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestPoolKeysAreDistinct(t *testing.T) {
	p := NewPool()
	defer p.Close()
	a, b := pipeConn(t), pipeConn(t)
	other := PoolKey{Scheme: "https", Host: "example.com", Port: 443}

	p.Put(testKey, a)
	p.Put(other, b)
	assert.Equal(t, 2, p.Len())

	got, ok := p.Get(other)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestPoolLIFOFreeList(t *testing.T) {
	p := NewPool()
	p.MaxIdlePerKey = 2
	defer p.Close()
	c1, c2, c3 := pipeConn(t), pipeConn(t), pipeConn(t)

	p.Put(testKey, c1)
	p.Put(testKey, c2)
	p.Put(testKey, c3)
	assert.Equal(t, StateClosed, c1.State(), "oldest evicted")

	got, _ := p.Get(testKey)
	assert.Same(t, c3, got)
	got, _ = p.Get(testKey)
	assert.Same(t, c2, got)
}

func TestPoolSkipsClosedAndExpired(t *testing.T) {
	p := NewPool()
	p.IdleTimeout = time.Hour
	defer p.Close()

	c := pipeConn(t)
	p.Put(testKey, c)
	_ = c.Close()
	_, ok := p.Get(testKey)
	assert.False(t, ok)

	stale := pipeConn(t)
	p.Put(testKey, stale)
	p.mu.Lock()
	stale.lastUse = time.Now().Add(-2 * time.Hour)
	p.mu.Unlock()
	_, ok = p.Get(testKey)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, stale.State())
}

func TestPoolPutClosedConnIsDropped(t *testing.T) {
	p := NewPool()
	defer p.Close()
	c := pipeConn(t)
	_ = c.Close()
	p.Put(testKey, c)
	assert.Equal(t, 0, p.Len())
}

func TestPoolJanitorClosesIdle(t *testing.T) {
	p := NewPool()
	p.IdleTimeout = 20 * time.Millisecond
	defer p.Close()
	c := pipeConn(t)
	p.Put(testKey, c)

	assert.Eventually(t, func() bool { return c.State() == StateClosed }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Len())
}

func TestPoolConcurrentGetHandsOutOnce(t *testing.T) {
	p := NewPool()
	defer p.Close()
	meter := obs.NewMemoryMeter()
	p.Meter = meter
	p.Put(testKey, pipeConn(t))

	var hits atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := p.Get(testKey); ok {
				hits.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, float64(1), meter.Count("httpx_pool_hits_total"))
	assert.Equal(t, float64(63), meter.Count("httpx_pool_misses_total"))
}

func TestPoolClearAndClose(t *testing.T) {
	p := NewPool()
	a, b := pipeConn(t), pipeConn(t)
	p.Put(testKey, a)
	p.Clear()
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, StateClosed, a.State())

	p.Close()
	p.Put(testKey, b)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, StateClosed, b.State())
}

func TestPoolKeyString(t *testing.T) {
	assert.Equal(t, "http://example.com:80", testKey.String())
}
