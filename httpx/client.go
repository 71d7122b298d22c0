package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"dqx0.com/go/httpwire/config"
	"dqx0.com/go/httpwire/internal/obs"
)

// DefaultMaxRedirects is used when Client.MaxRedirects is zero.
const DefaultMaxRedirects = 10

// Client sends requests over pooled HTTP/1.1 connections. A Client is
// safe for concurrent use; the Pool is the only state shared between
// calls.
type Client struct {
	// Pool holds idle connections between calls. Nil uses a private
	// pool created on first use.
	Pool *Pool
	// Network dials new connections; nil means TCP.
	Network Network

	AllowRedirects bool
	// MaxRedirects caps followed redirects per Do; zero means
	// DefaultMaxRedirects.
	MaxRedirects int
	// Name is sent as User-Agent unless the request sets one.
	Name string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxBodyBytes bounds response bodies; zero means no limit.
	MaxBodyBytes int64

	// Limiter, when set, is waited on before every exchange.
	Limiter *rate.Limiter

	Logger     *slog.Logger
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	Meter      obs.Meter

	poolOnce sync.Once
}

// NewClient returns a Client configured from cfg, which is expected to have
// passed config.Validate. A zero MaxRedirects, which validation refuses,
// falls back to DefaultMaxRedirects like a zero Client field does.
func NewClient(cfg config.Client) *Client {
	pool := NewPool()
	pool.MaxIdlePerKey = cfg.MaxIdlePerKey
	pool.IdleTimeout = cfg.IdleTimeout
	c := &Client{
		Pool:           pool,
		AllowRedirects: cfg.AllowRedirects,
		MaxRedirects:   cfg.MaxRedirects,
		Name:           cfg.Name,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxBodyBytes:   cfg.MaxResponseBodySize,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Get issues a GET for rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := NewRequest("GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Post issues a POST of body for rawURL.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	req, err := NewRequest("POST", rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(ctx, req)
}

// CloseIdleConnections closes every pooled connection.
func (c *Client) CloseIdleConnections() {
	c.pool().Clear()
}

// Do sends req and returns the final response, following redirects when
// AllowRedirects is set. req is never modified; each redirect hop sends a
// new Request.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("%w: nil request or URL", ErrMalformedURI)
	}
	for hops := 0; ; hops++ {
		res, err := c.exchange(ctx, req)
		if err != nil {
			return nil, err
		}
		if !c.AllowRedirects || !res.IsRedirect() {
			return res, nil
		}
		if hops >= c.maxRedirects() {
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, hops)
		}
		next, err := redirectRequest(req, res)
		if err != nil {
			return nil, err
		}
		c.logger().Info("client: following redirect",
			"status", res.StatusCode, "from", req.URL.String(), "to", next.URL.String())
		c.meter().Counter("httpx_client_redirects_total", 1)
		req = next
	}
}

// exchange performs one request/response round trip.
func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}
	key := KeyFor(req.URL)
	if key.Host == "" || (key.Scheme != "http" && key.Scheme != "https") {
		return nil, fmt.Errorf("%w: cannot send to %q", ErrMalformedURI, req.URL.String())
	}

	start := time.Now()
	method := req.method()
	ctx, span := tracerOrNoop(c.Tracer).Start(ctx, "httpx.client "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", req.URL.String()),
		))
	defer span.End()

	out := c.outgoing(ctx, req)
	propagatorOrDefault(c.Propagator).Inject(ctx, HeaderCarrier{H: out.Header})

	conn, pooled, err := c.conn(ctx, key)
	if err != nil {
		spanError(span, err)
		c.meter().Counter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: "dial"})
		return nil, err
	}
	res, reusable, retry, err := c.roundTrip(ctx, conn, out)
	if err != nil && pooled && retry {
		c.logger().Warn("client: stale pooled connection, redialing",
			"conn", conn.ID(), "key", key.String(), "error", err)
		c.meter().Counter("httpx_client_retries_total", 1)
		_ = conn.Close()
		if conn, err = c.dial(ctx, key); err != nil {
			spanError(span, err)
			return nil, err
		}
		res, reusable, _, err = c.roundTrip(ctx, conn, out)
	}
	if err != nil {
		_ = conn.Close()
		spanError(span, err)
		c.meter().Counter("httpx_client_requests_error", 1, obs.Label{Key: "stage", Value: "exchange"})
		return nil, err
	}

	if reusable {
		c.pool().Put(key, conn)
	} else {
		_ = conn.Close()
	}

	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	status := strconv.Itoa(res.StatusCode)
	c.meter().Counter("httpx_client_responses_total", 1, obs.Label{Key: "status", Value: status})
	c.meter().Histogram("httpx_client_roundtrip_duration_ms", float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: method}, obs.Label{Key: "status", Value: status})
	return res, nil
}

// outgoing returns a copy of req carrying the default headers.
func (c *Client) outgoing(ctx context.Context, req *Request) *Request {
	out := *req
	out.Header = req.Header.Clone()
	if !out.Header.Has("Host") {
		out.Header.Set("Host", req.URL.Authority())
	}
	if c.Name != "" && !out.Header.Has("User-Agent") {
		out.Header.Set("User-Agent", c.Name)
	}
	out.Header.Set(RequestIDHeader, requestID(ctx, req.Header))
	if out.Target == "" {
		out.Target = req.URL.RequestURI()
	}
	return &out
}

// conn takes a pooled connection for key or dials a new one.
func (c *Client) conn(ctx context.Context, key PoolKey) (*Conn, bool, error) {
	if conn, ok := c.pool().Get(key); ok {
		c.meter().Counter("httpx_client_conn_reuse_total", 1)
		return conn, true, nil
	}
	conn, err := c.dial(ctx, key)
	return conn, false, err
}

func (c *Client) dial(ctx context.Context, key PoolKey) (*Conn, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}
	nc, err := c.network().Dial(ctx, key.Host, key.Port)
	if err != nil {
		c.logger().Warn("client: dial failed", "key", key.String(), "error", err)
		return nil, err
	}
	conn := NewConn(nc)
	conn.setState(StateInUse)
	c.logger().Debug("client: dialed", "conn", conn.ID(), "key", key.String())
	c.meter().Counter("httpx_client_conn_dial_total", 1)
	return conn, nil
}

// roundTrip writes req on conn and reads the response. retry reports a
// failure that a stale kept-alive connection would produce: a write
// error, or the peer going away before any response byte arrived.
func (c *Client) roundTrip(ctx context.Context, conn *Conn, req *Request) (res *Response, reusable, retry bool, err error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}()

	_ = conn.SetWriteDeadline(deadline(ctx, c.WriteTimeout))
	if err := WriteRequest(conn.bw, req); err != nil {
		return nil, false, isConnErr(err), err
	}

	before := conn.nread
	_ = conn.SetReadDeadline(deadline(ctx, c.ReadTimeout))
	conn.dec.MaxBodyBytes = c.MaxBodyBytes
	res, f, err := conn.dec.readResponse(req.method())
	if err != nil {
		silent := conn.nread == before && (err == io.EOF || errors.Is(err, ErrConnectionReset))
		if err == io.EOF {
			err = fmt.Errorf("%w: peer closed before responding: %w", ErrConnectionClosed, err)
		}
		return nil, false, silent, err
	}
	_ = conn.SetDeadline(time.Time{})

	reusable = !f.UntilClose && !req.Close && !res.Closes() &&
		res.StatusCode != 101 && conn.dec.Buffered() == 0
	return res, reusable, false, nil
}

func isConnErr(err error) bool {
	return errors.Is(err, ErrConnectionReset) || errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrUseAfterClose) || errors.Is(err, io.EOF)
}

func (c *Client) pool() *Pool {
	c.poolOnce.Do(func() {
		if c.Pool == nil {
			c.Pool = NewPool()
		}
	})
	return c.Pool
}

func (c *Client) network() Network {
	if c.Network != nil {
		return c.Network
	}
	return TCPNetwork{DialTimeout: c.DialTimeout}
}

func (c *Client) maxRedirects() int {
	if c.MaxRedirects <= 0 {
		return DefaultMaxRedirects
	}
	return c.MaxRedirects
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) meter() obs.Meter {
	if c.Meter != nil {
		return c.Meter
	}
	return obs.NopMeter{}
}
