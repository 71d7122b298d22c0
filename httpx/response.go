package httpx

import "dqx0.com/go/httpwire/httpx/internal/http1"

// Response is an HTTP/1.1 response message. Once decoded it is a plain
// value with no tie to the connection that carried it.
type Response struct {
	StatusCode int
	// Status is the reason phrase, e.g. "Not Found".
	Status string
	Proto  string
	Header *Header
	Body   []byte
}

// NewResponse returns an HTTP/1.1 response with the standard reason phrase.
func NewResponse(code int, body []byte) *Response {
	return &Response{
		StatusCode: code,
		Status:     StatusText(code),
		Proto:      "HTTP/1.1",
		Header:     NewHeader(),
		Body:       body,
	}
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return http1.StatusText(code)
}

// Closes reports whether the sender asked for the connection to be closed
// after this response.
func (r *Response) Closes() bool {
	return wantsClose(r.Proto, r.Header)
}

// IsRedirect reports whether the response is a redirect the client can
// follow.
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case 301, 302, 303, 307, 308:
		return r.Header.Has("Location")
	}
	return false
}

func wantsClose(proto string, h *Header) bool {
	if h.HasToken("Connection", "close") {
		return true
	}
	return proto == "HTTP/1.0" && !h.HasToken("Connection", "keep-alive")
}
