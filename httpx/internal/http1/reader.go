package http1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaderBytes bounds the start-line plus header block when
// Reader.MaxHeaderBytes is zero.
const DefaultMaxHeaderBytes = 64 << 10

// Reader decodes HTTP/1.x messages from a buffered stream. Because all
// state lives in BR, a Reader can be reused for consecutive messages on
// the same connection, and a read that returns fewer bytes than needed is
// simply retried by the buffered reader until the stream ends.
type Reader struct {
	BR             *bufio.Reader
	MaxHeaderBytes int
	// MaxBodyBytes limits decoded body size; zero means no limit.
	MaxBodyBytes int64

	n int // head bytes consumed by the current message
}

// ReadRequestLine reads "METHOD SP target SP version". Empty lines before
// the request line are skipped. io.EOF is returned only when the stream
// ends before any byte of a new message.
func (r *Reader) ReadRequestLine() (method, target, proto string, err error) {
	line, err := r.firstLine()
	if err != nil {
		return "", "", "", err
	}
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrMalformedStartLine, line)
	}
	method, target, proto = parts[0], parts[1], parts[2]
	if !httpguts.ValidHeaderFieldName(method) {
		return "", "", "", fmt.Errorf("%w: bad method %q", ErrMalformedStartLine, method)
	}
	if err := checkVersion(proto); err != nil {
		return "", "", "", err
	}
	return method, target, proto, nil
}

// ReadStatusLine reads "version SP status SP reason".
func (r *Reader) ReadStatusLine() (proto string, code int, reason string, err error) {
	line, err := r.firstLine()
	if err != nil {
		return "", 0, "", err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("%w: %q", ErrMalformedStartLine, line)
	}
	proto = parts[0]
	if err := checkVersion(proto); err != nil {
		return "", 0, "", err
	}
	if len(parts[1]) != 3 {
		return "", 0, "", fmt.Errorf("%w: bad status %q", ErrMalformedStartLine, parts[1])
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil || code < 100 {
		return "", 0, "", fmt.Errorf("%w: bad status %q", ErrMalformedStartLine, parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return proto, code, reason, nil
}

// ReadFields reads header lines up to and including the blank line that
// ends the header block.
func (r *Reader) ReadFields() ([]Field, error) {
	var fields []Field
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, truncated(err)
		}
		if line == "" {
			return fields, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, fmt.Errorf("%w: obsolete line folding", ErrMalformedHeader)
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		name := line[:i]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: bad field name %q", ErrMalformedHeader, name)
		}
		value := strings.Trim(line[i+1:], " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: bad value for %q", ErrMalformedHeader, name)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
}

// ReadBody reads a complete body delimited per f.
func (r *Reader) ReadBody(f Framing) ([]byte, error) {
	switch {
	case f.Chunked:
		return r.readChunked()
	case f.UntilClose:
		return r.readUntilClose()
	case f.Length > 0:
		if r.MaxBodyBytes > 0 && f.Length > r.MaxBodyBytes {
			return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, f.Length, r.MaxBodyBytes)
		}
		var buf bytes.Buffer
		if f.Length <= 1<<20 {
			buf.Grow(int(f.Length))
		}
		if _, err := io.CopyN(&buf, r.BR, f.Length); err != nil {
			return nil, truncated(err)
		}
		return buf.Bytes(), nil
	default:
		return nil, nil
	}
}

func (r *Reader) readUntilClose() ([]byte, error) {
	src := io.Reader(r.BR)
	if r.MaxBodyBytes > 0 {
		src = io.LimitReader(r.BR, r.MaxBodyBytes+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if r.MaxBodyBytes > 0 && int64(len(b)) > r.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, r.MaxBodyBytes)
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

func (r *Reader) firstLine() (string, error) {
	r.n = 0
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && line == "" && r.n == 0 {
				return "", io.EOF
			}
			return "", truncated(err)
		}
		if line != "" {
			return line, nil
		}
		// Tolerate stray CRLF between messages.
		r.n = 0
	}
}

// readLine returns one line without its CRLF. On error, the partial line
// read so far is returned with it.
func (r *Reader) readLine() (string, error) {
	limit := r.MaxHeaderBytes
	if limit <= 0 {
		limit = DefaultMaxHeaderBytes
	}
	var sb strings.Builder
	for {
		b, err := r.BR.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		r.n++
		if r.n > limit {
			return "", ErrHeaderTooLarge
		}
		if b == '\n' {
			break
		}
		sb.WriteByte(b)
	}
	return strings.TrimSuffix(sb.String(), "\r"), nil
}

func checkVersion(proto string) error {
	if !strings.HasPrefix(proto, "HTTP/") || len(proto) != len("HTTP/1.1") || proto[6] != '.' {
		return fmt.Errorf("%w: bad version %q", ErrMalformedStartLine, proto)
	}
	major, minor := proto[5], proto[7]
	if major < '0' || major > '9' || minor < '0' || minor > '9' {
		return fmt.Errorf("%w: bad version %q", ErrMalformedStartLine, proto)
	}
	if major != '1' {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, proto)
	}
	return nil
}

// truncated maps an end-of-stream inside a message to ErrTruncatedMessage
// and leaves every other error alone.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncatedMessage, err)
	}
	return err
}
