package httpx

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"dqx0.com/go/httpwire/httpx/internal/http1"
)

// Decoder reads consecutive HTTP/1.x messages from one byte stream.
//
// Partial reads from the source are absorbed by an internal buffer, so a
// decode call returns only once a whole message is available, the stream
// ends, or the source fails.
type Decoder struct {
	// MaxHeaderBytes bounds the start-line plus header block; zero means
	// 64 KiB.
	MaxHeaderBytes int
	// MaxBodyBytes bounds a decoded body; zero means no limit.
	MaxBodyBytes int64

	br *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{br: br}
}

func (d *Decoder) wire() *http1.Reader {
	return &http1.Reader{BR: d.br, MaxHeaderBytes: d.MaxHeaderBytes, MaxBodyBytes: d.MaxBodyBytes}
}

// Buffered returns the number of bytes read from the source but not yet
// consumed by a message.
func (d *Decoder) Buffered() int {
	return d.br.Buffered()
}

// ReadRequest decodes one complete request. io.EOF means the stream ended
// cleanly before a new message began.
func (d *Decoder) ReadRequest() (*Request, error) {
	req, err := d.ReadRequestHead()
	if err != nil {
		return nil, err
	}
	if err := d.ReadRequestBody(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadRequestHead decodes the start-line and header block of a request,
// leaving the body unread.
func (d *Decoder) ReadRequestHead() (*Request, error) {
	wr := d.wire()
	method, target, proto, err := wr.ReadRequestLine()
	if err != nil {
		return nil, err
	}
	fields, err := wr.ReadFields()
	if err != nil {
		return nil, err
	}
	u, err := ParseURI(target)
	if err != nil {
		return nil, err
	}
	h := headerFromWire(fields)
	return &Request{
		Method: method,
		URL:    u,
		Target: target,
		Proto:  proto,
		Header: h,
		Close:  wantsClose(proto, h),
	}, nil
}

// CheckRequestBody validates the body framing announced by req's header
// block against MaxBodyBytes without reading any body bytes.
func (d *Decoder) CheckRequestBody(req *Request) error {
	f, err := http1.RequestFraming(req.Header.wire())
	if err != nil {
		return err
	}
	if d.MaxBodyBytes > 0 && f.Length > d.MaxBodyBytes {
		return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, f.Length, d.MaxBodyBytes)
	}
	return nil
}

// ReadRequestBody reads the body announced by req's header block.
func (d *Decoder) ReadRequestBody(req *Request) error {
	f, err := http1.RequestFraming(req.Header.wire())
	if err != nil {
		return err
	}
	body, err := d.wire().ReadBody(f)
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// ReadResponse decodes one complete response to a request made with
// method. Interim 1xx responses other than 101 are skipped.
func (d *Decoder) ReadResponse(method string) (*Response, error) {
	res, _, err := d.readResponse(method)
	return res, err
}

func (d *Decoder) readResponse(method string) (*Response, http1.Framing, error) {
	wr := d.wire()
	for {
		proto, code, reason, err := wr.ReadStatusLine()
		if err != nil {
			return nil, http1.Framing{}, err
		}
		fields, err := wr.ReadFields()
		if err != nil {
			return nil, http1.Framing{}, err
		}
		if code >= 100 && code < 200 && code != 101 {
			continue
		}
		f, err := http1.ResponseFraming(fields, code, method)
		if err != nil {
			return nil, http1.Framing{}, err
		}
		body, err := wr.ReadBody(f)
		if err != nil {
			return nil, http1.Framing{}, err
		}
		return &Response{
			StatusCode: code,
			Status:     reason,
			Proto:      proto,
			Header:     headerFromWire(fields),
			Body:       body,
		}, f, nil
	}
}

// EncodeRequest returns the wire form of r.
func EncodeRequest(r *Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRequest writes the wire form of r to w: start-line, header fields
// in store order, a blank line and the body. Content-Length is added from
// len(Body) when the header carries no framing of its own.
func WriteRequest(w io.Writer, r *Request) error {
	bw := newWriter(w)
	method := r.method()
	fields := r.Header.wire()
	if r.Close && !r.Header.HasToken("Connection", "close") {
		fields = append(fields, http1.Field{Name: "Connection", Value: "close"})
	}
	needLength := len(r.Body) > 0 || method == "POST" || method == "PUT" || method == "PATCH"
	fields, chunked, err := frame(fields, r.Header, len(r.Body), needLength)
	if err != nil {
		return err
	}
	if err := http1.WriteRequestLine(bw, method, r.target(), r.proto()); err != nil {
		return err
	}
	if err := http1.WriteFields(bw, fields); err != nil {
		return err
	}
	if err := writeBody(bw, r.Body, chunked); err != nil {
		return err
	}
	return bw.Flush()
}

// EncodeResponse returns the wire form of r.
func EncodeResponse(r *Response) ([]byte, error) {
	return encodeResponse(r, false)
}

// encodeResponse renders r in full so that nothing reaches the wire when
// r cannot be encoded.
func encodeResponse(r *Response, headOnly bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeResponse(bufio.NewWriter(&buf), r, headOnly); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteResponse writes the wire form of r to w.
func WriteResponse(w io.Writer, r *Response) error {
	return writeResponse(newWriter(w), r, false)
}

// writeResponse writes r. With headOnly set the body is omitted while the
// header, including Content-Length, still describes it (HEAD requests).
func writeResponse(bw *bufio.Writer, r *Response, headOnly bool) error {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fields := r.Header.wire()
	chunked := false
	if !http1.BodylessStatus(r.StatusCode) {
		var err error
		fields, chunked, err = frame(fields, r.Header, len(r.Body), true)
		if err != nil {
			return err
		}
	}
	if err := http1.WriteStatusLine(bw, proto, r.StatusCode, r.Status); err != nil {
		return err
	}
	if err := http1.WriteFields(bw, fields); err != nil {
		return err
	}
	if !headOnly && !http1.BodylessStatus(r.StatusCode) {
		if err := writeBody(bw, r.Body, chunked); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// frame checks or supplies the body framing fields for a body of n bytes.
func frame(fields []http1.Field, h *Header, n int, needLength bool) ([]http1.Field, bool, error) {
	if h.HasToken("Transfer-Encoding", "chunked") {
		return fields, true, nil
	}
	if cl, ok := h.Lookup("Content-Length"); ok {
		if cl != strconv.Itoa(n) {
			return nil, false, fmt.Errorf("%w: Content-Length %q does not match %d body bytes", ErrMalformedHeader, cl, n)
		}
		return fields, false, nil
	}
	if needLength || n > 0 {
		fields = append(fields, http1.Field{Name: "Content-Length", Value: strconv.Itoa(n)})
	}
	return fields, false, nil
}

func writeBody(bw *bufio.Writer, body []byte, chunked bool) error {
	if chunked {
		if _, err := http1.WriteChunked(bw, body); err != nil {
			return err
		}
		return http1.EndChunked(bw)
	}
	_, err := bw.Write(body)
	return err
}

func newWriter(w io.Writer) *bufio.Writer {
	if bw, ok := w.(*bufio.Writer); ok {
		return bw
	}
	return bufio.NewWriter(w)
}
