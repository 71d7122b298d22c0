// Package httpx is a small HTTP/1.1 engine: a URI parser, an ordered
// header store, a message codec, connection and listener wrappers, an
// outbound connection pool, a server loop and a redirect-following
// client.
//
// Messages are plain values. Bodies are read completely (Content-Length,
// chunked or close-delimited) before a Request reaches a Handler or a
// Response is returned from Client.Do, so neither side holds a reference
// to the connection that carried it.
//
// Highlights
//   - Server: keep-alive, Expect: 100-continue, CL/TE conflict rejection,
//     header and body size limits, panic recovery, graceful Shutdown.
//   - Client: per-destination connection reuse with a single stale
//     connection retry, redirects (301/302/303/307/308), rate limiting.
//   - Observability: slog logging, OpenTelemetry spans and W3C trace
//     context propagation, X-Request-Id, a pluggable Meter.
//
// Quick start (server):
//
//	s := &httpx.Server{Addr: "127.0.0.1:8080", KeepAlive: true}
//	s.Handler = httpx.HandlerFunc(func(ctx context.Context, r *httpx.Request) (*httpx.Response, error) {
//	    res := httpx.NewResponse(200, []byte("hello"))
//	    res.Header.Set("Content-Type", "text/plain; charset=utf-8")
//	    return res, nil
//	})
//	if err := s.ListenAndServe(ctx); !errors.Is(err, httpx.ErrServerClosed) { log.Fatal(err) }
//
// Quick start (client):
//
//	c := &httpx.Client{AllowRedirects: true}
//	res, err := c.Get(ctx, "http://127.0.0.1:8080/")
//	if err != nil { log.Fatal(err) }
//	fmt.Println(res.StatusCode, string(res.Body))
package httpx
