package http1

import (
	"bufio"
	"fmt"
	"strings"
)

// WriteRequestLine writes "METHOD SP target SP version CRLF".
func WriteRequestLine(bw *bufio.Writer, method, target, proto string) error {
	if method == "" || strings.ContainsAny(method+target+proto, " \r\n") {
		return fmt.Errorf("%w: %q %q %q", ErrMalformedStartLine, method, target, proto)
	}
	_, err := fmt.Fprintf(bw, "%s %s %s\r\n", method, target, proto)
	return err
}

// WriteStatusLine writes "version SP status SP reason CRLF". An empty
// reason is replaced by the standard text for code.
func WriteStatusLine(bw *bufio.Writer, proto string, code int, reason string) error {
	if code < 100 || code > 999 {
		return fmt.Errorf("%w: status %d", ErrMalformedStartLine, code)
	}
	if reason == "" {
		reason = StatusText(code)
	}
	_, err := fmt.Fprintf(bw, "%s %03d %s\r\n", proto, code, sanitizeReason(reason))
	return err
}

// WriteFields writes every field in order followed by the blank line that
// ends the header block. Fields that would corrupt the framing are refused.
func WriteFields(bw *bufio.Writer, fields []Field) error {
	for _, f := range fields {
		if !ValidField(f) {
			return fmt.Errorf("%w: refusing to write %q", ErrMalformedHeader, f.Name)
		}
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
func WriteChunked(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk.
func EndChunked(bw *bufio.Writer) error {
	_, err := bw.WriteString("0\r\n\r\n")
	return err
}

// sanitizeReason removes CR/LF and control chars except HTAB.
func sanitizeReason(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
