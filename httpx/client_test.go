package httpx

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"dqx0.com/go/httpwire/config"
	"dqx0.com/go/httpwire/internal/obs"
)

// countingNetwork counts dials made through TCPNetwork.
type countingNetwork struct {
	TCPNetwork
	dials atomic.Int32
}

func (n *countingNetwork) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	n.dials.Add(1)
	return n.TCPNetwork.Dial(ctx, host, port)
}

func newTestClient(n Network) *Client {
	return &Client{Network: n, AllowRedirects: true, Logger: obs.Discard()}
}

func connIDHandler(closeAfter bool) Handler {
	return HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		id, _ := ConnIDFrom(ctx)
		res := NewResponse(200, []byte(id))
		if closeAfter {
			res.Header.Set("Connection", "close")
		}
		return res, nil
	})
}

func TestClientReusesPooledConnection(t *testing.T) {
	_, addr := startServer(t, connIDHandler(false), nil)
	network := &countingNetwork{}
	c := newTestClient(network)
	ctx := context.Background()

	first, err := c.Get(ctx, "http://"+addr+"/a")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pool.Len())
	second, err := c.Get(ctx, "http://"+addr+"/b")
	require.NoError(t, err)

	assert.Equal(t, string(first.Body), string(second.Body), "same server connection")
	assert.Equal(t, int32(1), network.dials.Load())

	c.CloseIdleConnections()
	assert.Equal(t, 0, c.Pool.Len())
}

func TestClientClosesOnConnectionClose(t *testing.T) {
	_, addr := startServer(t, connIDHandler(true), nil)
	network := &countingNetwork{}
	c := newTestClient(network)

	first, err := c.Get(context.Background(), "http://"+addr+"/")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Pool.Len())
	second, err := c.Get(context.Background(), "http://"+addr+"/")
	require.NoError(t, err)

	assert.NotEqual(t, string(first.Body), string(second.Body))
	assert.Equal(t, int32(2), network.dials.Load())
}

func redirectHandler(hits *sync.Map) Handler {
	return HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		switch r.URL.Path {
		case "/old":
			res := NewResponse(301, nil)
			res.Header.Set("Location", "/new")
			return res, nil
		case "/loop":
			res := NewResponse(302, nil)
			res.Header.Set("Location", "/loop")
			return res, nil
		case "/form":
			res := NewResponse(303, nil)
			res.Header.Set("Location", "/result")
			return res, nil
		case "/elsewhere":
			res := NewResponse(307, nil)
			res.Header.Set("Location", "ftp://files.example/")
			return res, nil
		}
		return NewResponse(200, []byte(r.Method+" "+r.URL.Path+" "+strconv.Itoa(len(r.Body)))), nil
	})
}

func hitCount(hits *sync.Map, path string) int32 {
	n, ok := hits.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func TestClientFollowsRedirect(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	c := newTestClient(nil)

	res, err := c.Get(context.Background(), "http://"+addr+"/old")
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "GET /new 0", string(res.Body))
	assert.Equal(t, int32(1), hitCount(&hits, "/old"))
	assert.Equal(t, int32(1), hitCount(&hits, "/new"))
}

func TestClientRedirectCap(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	c := newTestClient(nil)
	c.MaxRedirects = 3

	_, err := c.Get(context.Background(), "http://"+addr+"/loop")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Equal(t, int32(4), hitCount(&hits, "/loop"))
}

func TestClientRedirectsDisabled(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	c := newTestClient(nil)
	c.AllowRedirects = false

	res, err := c.Get(context.Background(), "http://"+addr+"/old")
	require.NoError(t, err)
	assert.Equal(t, 301, res.StatusCode)
	assert.Equal(t, "/new", res.Header.Get("Location"))
	assert.Equal(t, int32(0), hitCount(&hits, "/new"))
}

func TestClientSeeOtherBecomesGet(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	c := newTestClient(nil)

	req, err := NewRequest("POST", "http://"+addr+"/form", []byte("field=1"))
	require.NoError(t, err)
	res, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "GET /result 0", string(res.Body))
	assert.Equal(t, "POST", req.Method, "original request untouched")
	assert.Equal(t, "/form", req.URL.Path)
}

func TestClientRedirectToUnsupportedScheme(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	_, err := newTestClient(nil).Get(context.Background(), "http://"+addr+"/elsewhere")
	assert.ErrorIs(t, err, ErrMalformedURI)
}

// oneShotServer answers one request per connection and then closes it
// without announcing Connection: close, like a server whose keep-alive
// timer fired.
func oneShotServer(t *testing.T, respond bool) (string, *atomic.Int32) {
	t.Helper()
	l, err := Listen(context.Background(), nil, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	var accepts atomic.Int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func() {
				defer conn.Close()
				if !respond {
					return
				}
				if _, err := conn.dec.ReadRequest(); err != nil {
					return
				}
				_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
			}()
		}
	}()
	return "http://" + l.Addr().String() + "/", &accepts
}

func TestClientRetriesStalePooledConnectionOnce(t *testing.T) {
	url, accepts := oneShotServer(t, true)
	meter := obs.NewMemoryMeter()
	c := newTestClient(nil)
	c.Meter = meter

	_, err := c.Get(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, 1, c.Pool.Len())
	time.Sleep(20 * time.Millisecond)

	res, err := c.Get(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	assert.Equal(t, int32(2), accepts.Load())
	assert.Equal(t, float64(1), meter.Count("httpx_client_retries_total"))
}

func TestClientFreshConnectionIsNotRetried(t *testing.T) {
	url, accepts := oneShotServer(t, false)
	c := newTestClient(nil)

	_, err := c.Get(context.Background(), url)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrConnectionReset), "err = %v", err)
	assert.Equal(t, int32(1), accepts.Load())
}

func TestClientDefaultHeaders(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		body := r.Header.Get("Host") + "|" + r.Header.Get("User-Agent") + "|" + r.Header.Get(RequestIDHeader)
		return NewResponse(200, []byte(body)), nil
	})
	_, addr := startServer(t, h, nil)
	c := newTestClient(nil)
	c.Name = "httpx-test/1.0"

	ctx := WithRequestID(context.Background(), "req-42")
	res, err := c.Get(ctx, "http://"+addr+"/")
	require.NoError(t, err)
	assert.Equal(t, addr+"|httpx-test/1.0|req-42", string(res.Body))
	assert.Equal(t, "req-42", res.Header.Get(RequestIDHeader))
}

func TestClientPropagatesTraceContextAndBaggage(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		sc := trace.SpanContextFromContext(ctx)
		tenant := baggage.FromContext(ctx).Member("tenant").Value()
		return NewResponse(200, []byte(sc.TraceID().String()+"|"+tenant)), nil
	})
	_, addr := startServer(t, h, nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	member, err := baggage.NewMember("tenant", "acme")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	ctx := baggage.ContextWithBaggage(trace.ContextWithRemoteSpanContext(context.Background(), sc), bag)

	res, err := newTestClient(nil).Get(ctx, "http://"+addr+"/")
	require.NoError(t, err)
	assert.Equal(t, traceID.String()+"|acme", string(res.Body))
}

func TestClientRateLimited(t *testing.T) {
	_, addr := startServer(t, connIDHandler(false), nil)
	c := newTestClient(nil)
	c.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	_, err := c.Get(context.Background(), "http://"+addr+"/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, "http://"+addr+"/")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestClientRejectsBadTargets(t *testing.T) {
	c := newTestClient(nil)
	_, err := c.Get(context.Background(), "ftp://files.example/")
	assert.ErrorIs(t, err, ErrMalformedURI)
	_, err = c.Do(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedURI)
	_, err = c.Get(context.Background(), "not a url")
	assert.ErrorIs(t, err, ErrMalformedURI)
}

func TestClientPostSetsContentType(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		return NewResponse(200, []byte(r.Header.Get("Content-Type")+"|"+string(r.Body))), nil
	})
	_, addr := startServer(t, h, nil)
	res, err := newTestClient(nil).Post(context.Background(), "http://"+addr+"/", "text/plain", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain|hi", string(res.Body))
}

func TestClientResponseBodyLimit(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, r *Request) (*Response, error) {
		return NewResponse(200, make([]byte, 1024)), nil
	})
	_, addr := startServer(t, h, nil)
	c := newTestClient(nil)
	c.MaxBodyBytes = 100
	_, err := c.Get(context.Background(), "http://"+addr+"/")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := config.Default().Client
	cfg.RateLimit = 5
	cfg.MaxIdlePerKey = 4
	c := NewClient(cfg)
	require.NotNil(t, c.Limiter)
	assert.Equal(t, rate.Limit(5), c.Limiter.Limit())
	assert.Equal(t, 1, c.Limiter.Burst())
	assert.Equal(t, 4, c.Pool.MaxIdlePerKey)
	assert.Equal(t, cfg.MaxRedirects, c.MaxRedirects)
	assert.True(t, c.AllowRedirects)
}

func TestNewClientHonorsConfiguredRedirectCap(t *testing.T) {
	var hits sync.Map
	_, addr := startServer(t, redirectHandler(&hits), nil)
	cfg := config.Default().Client
	cfg.MaxRedirects = 2
	c := NewClient(cfg)
	c.Logger = obs.Discard()
	defer c.Pool.Close()

	_, err := c.Get(context.Background(), "http://"+addr+"/loop")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Equal(t, int32(3), hitCount(&hits, "/loop"))
}

// readCountingConn counts reads on the wrapped connection.
type readCountingConn struct {
	net.Conn
	reads atomic.Int32
}

func (c *readCountingConn) Read(p []byte) (int, error) {
	c.reads.Add(1)
	return c.Conn.Read(p)
}

func TestClientRetriesWhenPooledWriteFails(t *testing.T) {
	_, addr := startServer(t, connIDHandler(false), nil)
	network := &countingNetwork{}
	meter := obs.NewMemoryMeter()
	c := newTestClient(network)
	c.Meter = meter

	req, err := NewRequest("GET", "http://"+addr+"/", nil)
	require.NoError(t, err)
	local, peer := net.Pipe()
	require.NoError(t, peer.Close())
	gone := &readCountingConn{Conn: local}
	c.pool().Put(KeyFor(req.URL), NewConn(gone))

	res, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Zero(t, gone.reads.Load(), "the request write failed before any read")
	assert.Equal(t, int32(1), network.dials.Load())
	assert.Equal(t, float64(1), meter.Count("httpx_client_retries_total"))
}
