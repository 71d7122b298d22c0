package http1

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxChunkLine bounds a chunk-size line or a trailer line.
const maxChunkLine = 4096

// readChunked decodes a chunked body: size-prefixed segments up to the
// zero-size chunk. Payloads are concatenated; extensions and trailers are
// discarded.
func (r *Reader) readChunked() ([]byte, error) {
	var buf bytes.Buffer
	for {
		size, err := readChunkSize(r.BR)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			if err := readTrailers(r.BR); err != nil {
				return nil, err
			}
			if buf.Len() == 0 {
				return nil, nil
			}
			return buf.Bytes(), nil
		}
		if r.MaxBodyBytes > 0 && int64(buf.Len())+size > r.MaxBodyBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, r.MaxBodyBytes)
		}
		if _, err := io.CopyN(&buf, r.BR, size); err != nil {
			return nil, truncated(err)
		}
		if err := expectCRLF(r.BR); err != nil {
			return nil, err
		}
	}
}

func readChunkSize(br *bufio.Reader) (int64, error) {
	line, err := readLineLimit(br, maxChunkLine)
	if err != nil {
		return 0, truncated(err)
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("%w: empty chunk size", ErrMalformedChunk)
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformedChunk, line)
	}
	return n, nil
}

func expectCRLF(br *bufio.Reader) error {
	b1, err := br.ReadByte()
	if err != nil {
		return truncated(err)
	}
	b2, err := br.ReadByte()
	if err != nil {
		return truncated(err)
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("%w: expected CRLF after chunk, got %q%q", ErrMalformedChunk, b1, b2)
	}
	return nil
}

func readTrailers(br *bufio.Reader) error {
	for {
		line, err := readLineLimit(br, maxChunkLine)
		if err != nil {
			return truncated(err)
		}
		if line == "" {
			return nil
		}
	}
}

func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", fmt.Errorf("%w: chunk line longer than %d", ErrMalformedChunk, limit)
		}
	}
	return sb.String(), nil
}
