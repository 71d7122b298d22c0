package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"dqx0.com/go/httpwire/config"
	"dqx0.com/go/httpwire/httpx/internal/http1"
	"dqx0.com/go/httpwire/internal/obs"
)

// TimeFormat is the layout of the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Handler answers one decoded request. A returned error, or a panic,
// becomes a 500 response and the connection is closed; a nil Response
// becomes 204 No Content.
type Handler interface {
	ServeWire(ctx context.Context, r *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *Request) (*Response, error)

func (f HandlerFunc) ServeWire(ctx context.Context, r *Request) (*Response, error) {
	return f(ctx, r)
}

// Server runs the accept loop and one request/response loop per
// connection.
type Server struct {
	Addr    string
	Handler Handler
	// KeepAlive lets a connection carry more than one exchange. When
	// false every response is sent with Connection: close.
	KeepAlive bool
	// MaxBodyBytes bounds request bodies (413 beyond it); zero means no
	// limit.
	MaxBodyBytes int64
	// MaxHeaderBytes bounds the request head (431 beyond it); zero means
	// 64 KiB.
	MaxHeaderBytes int
	// Name is sent in the Server header when set.
	Name string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IdleTimeout bounds the wait for the next request on a kept-alive
	// connection; zero falls back to ReadTimeout.
	IdleTimeout time.Duration

	Network    Network
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	Meter      obs.Meter

	mu         sync.Mutex
	listeners  map[*Listener]struct{}
	conns      map[*Conn]struct{}
	inShutdown atomic.Bool
}

// NewServer returns a Server configured from cfg.
func NewServer(cfg config.Server, h Handler) *Server {
	return &Server{
		Addr:           cfg.Addr,
		Handler:        h,
		KeepAlive:      cfg.KeepAlive,
		MaxBodyBytes:   cfg.MaxRequestBodySize,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		Name:           cfg.Name,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
}

// ListenAndServe listens on Addr and serves until ctx is done or the
// server is shut down, then returns ErrServerClosed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	l, err := Listen(ctx, s.Network, addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.stopAccepting)
	defer stop()
	return s.Serve(l)
}

// Serve accepts connections on l until l is closed or the server shuts
// down. Each connection is served on its own goroutine; a failing
// connection never stops the loop.
func (s *Server) Serve(l *Listener) error {
	if !s.trackListener(l, true) {
		_ = l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	s.logger().Info("server: serving", "addr", l.Addr().String())

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, ErrListenerClosed) {
				return err
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.logger().Warn("server: accept failed", "error", err, "retry_in", delay)
			s.meter().Counter("httpx_server_accept_errors_total", 1)
			time.Sleep(delay)
			continue
		}
		delay = 0
		if !s.trackConn(conn, true) {
			_ = conn.Close()
			return ErrServerClosed
		}
		s.meter().Counter("httpx_server_conns_total", 1)
		go s.serveConn(conn)
	}
}

// Shutdown stops accepting, closes idle connections and waits for
// in-flight exchanges to finish, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopAccepting()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.closeIdleConns() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting and closes every connection immediately.
func (s *Server) Close() error {
	s.stopAccepting()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
	return nil
}

func (s *Server) stopAccepting() {
	s.inShutdown.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners {
		_ = l.Close()
	}
}

func (s *Server) shuttingDown() bool { return s.inShutdown.Load() }

func (s *Server) trackListener(l *Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.listeners, l)
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.listeners == nil {
		s.listeners = make(map[*Listener]struct{})
	}
	s.listeners[l] = struct{}{}
	return true
}

func (s *Server) trackConn(c *Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, c)
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[*Conn]struct{})
	}
	s.conns[c] = struct{}{}
	return true
}

// closeIdleConns closes connections waiting for a request and reports
// whether none remain.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.State() == StateIdle {
			_ = c.Close()
			delete(s.conns, c)
		}
	}
	return len(s.conns) == 0
}

// serveConn runs the request/response loop of one connection:
// await request, read head, (100 Continue), read body, dispatch, write
// response, then close or await the next request.
func (s *Server) serveConn(conn *Conn) {
	log := s.logger().With("conn", conn.ID(), "remote", conn.RemoteAddr().String())
	defer func() {
		_ = conn.Close()
		s.trackConn(conn, false)
	}()
	ctx := withConnID(context.Background(), conn.ID())
	dec := conn.dec
	dec.MaxHeaderBytes = s.MaxHeaderBytes
	dec.MaxBodyBytes = s.MaxBodyBytes

	for {
		conn.setState(StateIdle)
		conn.readDeadline(s.idleTimeout())
		if _, err := dec.br.Peek(1); err != nil {
			log.Debug("server: connection ended", "error", err)
			return
		}
		conn.setState(StateInUse)
		conn.readDeadline(s.ReadTimeout)
		start := time.Now()

		req, err := dec.ReadRequestHead()
		if err != nil {
			s.reject(conn, log, err)
			return
		}
		req.RemoteAddr = conn.RemoteAddr().String()
		if req.Proto == "HTTP/1.1" && req.Header.HasToken("Expect", "100-continue") {
			if err := dec.CheckRequestBody(req); err != nil {
				s.reject(conn, log, err)
				return
			}
			conn.writeDeadline(s.WriteTimeout)
			err := http1.WriteContinue(conn.bw, req.Proto)
			if err == nil {
				err = conn.bw.Flush()
			}
			if err != nil {
				log.Debug("server: write 100 Continue failed", "error", err)
				return
			}
		}
		if err := dec.ReadRequestBody(req); err != nil {
			s.reject(conn, log, err)
			return
		}

		res := s.dispatch(ctx, req, log)
		closing := !s.KeepAlive || req.Close || res.Closes() || s.shuttingDown()
		if closing {
			res.Header.Set("Connection", "close")
		}
		wire, err := encodeResponse(res, req.Method == "HEAD")
		if err != nil {
			log.Error("server: handler response cannot be encoded", "status", res.StatusCode, "error", err)
			s.meter().Counter("httpx_server_encode_errors_total", 1)
			res = s.fallbackResponse(res)
			closing = true
			if wire, err = encodeResponse(res, req.Method == "HEAD"); err != nil {
				log.Error("server: encode fallback response", "error", err)
				return
			}
		}
		conn.writeDeadline(s.WriteTimeout)
		_, err = conn.bw.Write(wire)
		if err == nil {
			err = conn.bw.Flush()
		}
		if err != nil {
			log.Debug("server: write response failed", "error", err)
			return
		}

		status := strconv.Itoa(res.StatusCode)
		s.meter().Counter("httpx_server_responses_total", 1, obs.Label{Key: "status", Value: status})
		s.meter().Histogram("httpx_server_request_duration_ms", float64(time.Since(start).Milliseconds()),
			obs.Label{Key: "method", Value: req.Method}, obs.Label{Key: "status", Value: status})
		if closing {
			_ = conn.Shutdown()
			return
		}
	}
}

// dispatch runs the handler for req and returns the response to send.
func (s *Server) dispatch(ctx context.Context, req *Request, log *slog.Logger) *Response {
	id := requestID(ctx, req.Header)
	ctx = WithRequestID(ctx, id)
	ctx = propagatorOrDefault(s.Propagator).Extract(ctx, HeaderCarrier{H: req.Header})
	ctx, span := tracerOrNoop(s.Tracer).Start(ctx, "httpx.server "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()
	s.meter().Counter("httpx_server_requests_total", 1, obs.Label{Key: "method", Value: req.Method})

	res, err := s.invoke(ctx, WithContext(req, ctx))
	if err != nil {
		spanError(span, err)
		log.Error("server: handler failed", "request_id", id, "method", req.Method, "target", req.Target, "error", err)
		res = errorResponse(500)
		res.Header.Set("Connection", "close")
	}
	if res == nil {
		res = NewResponse(204, nil)
	}
	if res.Header == nil {
		res.Header = NewHeader()
	}
	s.setDefaults(res)
	res.Header.Set(RequestIDHeader, id)
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	return res
}

func (s *Server) invoke(ctx context.Context, req *Request) (res *Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.meter().Counter("httpx_server_panics_total", 1)
			err = fmt.Errorf("PANIC [%v] TRACE[%s]", rec, string(debug.Stack()))
		}
	}()
	h := s.Handler
	if h == nil {
		return errorResponse(404), nil
	}
	return h.ServeWire(ctx, req)
}

// reject answers a request that could not be decoded, when the
// connection can still carry a response.
func (s *Server) reject(conn *Conn, log *slog.Logger, err error) {
	code := 0
	switch {
	case errors.Is(err, ErrHeaderTooLarge):
		code = 431
	case errors.Is(err, ErrBodyTooLarge):
		code = 413
	case errors.Is(err, ErrUnsupportedVersion):
		code = 505
	case errors.Is(err, ErrUnsupportedEncoding):
		code = 501
	case errors.Is(err, ErrMalformedStartLine), errors.Is(err, ErrMalformedHeader),
		errors.Is(err, ErrMalformedChunk), errors.Is(err, ErrMalformedURI):
		code = 400
	}
	if code == 0 {
		log.Debug("server: connection ended", "error", err)
		return
	}
	log.Info("server: rejected request", "status", code, "error", err)
	res := errorResponse(code)
	res.Header.Set("Connection", "close")
	s.setDefaults(res)
	conn.writeDeadline(s.WriteTimeout)
	if err := writeResponse(conn.bw, res, false); err != nil {
		log.Debug("server: write error response failed", "error", err)
	}
	s.meter().Counter("httpx_server_responses_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(code)})
}

// fallbackResponse replaces a response that failed to encode with a 500
// that closes the connection, keeping its request ID.
func (s *Server) fallbackResponse(bad *Response) *Response {
	res := errorResponse(500)
	res.Header.Set("Connection", "close")
	s.setDefaults(res)
	if id := bad.Header.Get(RequestIDHeader); id != "" {
		res.Header.Set(RequestIDHeader, id)
	}
	return res
}

func (s *Server) setDefaults(res *Response) {
	if s.Name != "" && !res.Header.Has("Server") {
		res.Header.Set("Server", s.Name)
	}
	if !res.Header.Has("Date") {
		res.Header.Set("Date", time.Now().UTC().Format(TimeFormat))
	}
}

func errorResponse(code int) *Response {
	res := NewResponse(code, []byte(StatusText(code)+"\n"))
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return res
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return s.ReadTimeout
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) meter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}
