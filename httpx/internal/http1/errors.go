package http1

import "errors"

var (
	ErrMalformedStartLine  = errors.New("httpx: malformed start line")
	ErrMalformedHeader     = errors.New("httpx: malformed header")
	ErrMalformedChunk      = errors.New("httpx: malformed chunk")
	ErrTruncatedMessage    = errors.New("httpx: truncated message")
	ErrHeaderTooLarge      = errors.New("httpx: header too large")
	ErrBodyTooLarge        = errors.New("httpx: body too large")
	ErrUnsupportedVersion  = errors.New("httpx: unsupported protocol version")
	ErrUnsupportedEncoding = errors.New("httpx: unsupported transfer encoding")
)
