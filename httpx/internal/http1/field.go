package http1

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Field is one header line as it appears on the wire.
type Field struct {
	Name  string
	Value string
}

// Framing describes how the body following a header block is delimited.
type Framing struct {
	Chunked    bool
	Length     int64
	UntilClose bool
}

// NoBody reports whether the framing carries zero body bytes.
func (f Framing) NoBody() bool {
	return !f.Chunked && !f.UntilClose && f.Length == 0
}

// RequestFraming determines the body length of a request. A request with
// neither Content-Length nor Transfer-Encoding has no body.
func RequestFraming(fields []Field) (Framing, error) {
	te := values(fields, "Transfer-Encoding")
	cl := values(fields, "Content-Length")
	if len(te) > 0 {
		// Both framings on one request is the classic smuggling vector.
		if len(cl) > 0 {
			return Framing{}, fmt.Errorf("%w: both Content-Length and Transfer-Encoding", ErrMalformedHeader)
		}
		if !lastCodingChunked(te) {
			return Framing{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, strings.Join(te, ", "))
		}
		return Framing{Chunked: true, Length: -1}, nil
	}
	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		return Framing{Length: n}, nil
	}
	return Framing{}, nil
}

// ResponseFraming determines the body length of a response to a request
// made with method.
func ResponseFraming(fields []Field, status int, method string) (Framing, error) {
	if method == "HEAD" || BodylessStatus(status) {
		return Framing{}, nil
	}
	if te := values(fields, "Transfer-Encoding"); len(te) > 0 {
		if lastCodingChunked(te) {
			return Framing{Chunked: true, Length: -1}, nil
		}
		return Framing{Length: -1, UntilClose: true}, nil
	}
	if cl := values(fields, "Content-Length"); len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		return Framing{Length: n}, nil
	}
	return Framing{Length: -1, UntilClose: true}, nil
}

// BodylessStatus reports whether a response with this status code never
// carries a body.
func BodylessStatus(code int) bool {
	return (code >= 100 && code < 200) || code == 204 || code == 304
}

func lastCodingChunked(te []string) bool {
	last := ""
	for _, v := range te {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				last = c
			}
		}
	}
	return strings.EqualFold(last, "chunked")
}

func parseContentLength(vv []string) (int64, error) {
	n := int64(-1)
	for _, v := range vv {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			m, err := strconv.ParseInt(part, 10, 64)
			if err != nil || m < 0 || part[0] == '+' {
				return 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedHeader, v)
			}
			if n >= 0 && m != n {
				return 0, fmt.Errorf("%w: conflicting Content-Length values", ErrMalformedHeader)
			}
			n = m
		}
	}
	return n, nil
}

func values(fields []Field, name string) []string {
	var vv []string
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

// ValidField reports whether f may be written to the wire.
func ValidField(f Field) bool {
	return httpguts.ValidHeaderFieldName(f.Name) && httpguts.ValidHeaderFieldValue(f.Value)
}
