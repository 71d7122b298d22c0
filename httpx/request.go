package httpx

import (
	"context"
	"fmt"
)

// Request is an HTTP/1.1 request message.
//
// A Request is not mutated once handed to Client.Do; redirects build a
// fresh Request. Body is the complete body; an empty body is nil.
type Request struct {
	Method string
	URL    *URI
	// Target is the request-target as it appears on the start line. When
	// empty, the encoder derives it from URL.
	Target string
	Proto  string
	Header *Header
	Body   []byte
	// Close is set when the connection should be closed after this
	// exchange. The decoder derives it from the Connection header and the
	// protocol version; the encoder writes Connection: close for it.
	Close bool
	// RemoteAddr is the peer address on the server side.
	RemoteAddr string
	ctx        context.Context
}

// NewRequest builds a request for rawURL. An empty method means GET.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := ParseURI(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = "GET"
	}
	return &Request{
		Method: method,
		URL:    u,
		Proto:  "HTTP/1.1",
		Header: NewHeader(),
		Body:   body,
	}, nil
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

func (r *Request) method() string {
	if r.Method == "" {
		return "GET"
	}
	return r.Method
}

func (r *Request) proto() string {
	if r.Proto == "" {
		return "HTTP/1.1"
	}
	return r.Proto
}

func (r *Request) target() string {
	switch {
	case r.Target != "":
		return r.Target
	case r.URL != nil:
		return r.URL.RequestURI()
	default:
		return "/"
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s %s", r.method(), r.target(), r.proto())
}
