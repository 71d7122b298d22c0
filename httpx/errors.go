package httpx

import (
	"errors"

	"dqx0.com/go/httpwire/httpx/internal/http1"
)

// Decode-time errors.
var (
	ErrMalformedURI        = errors.New("httpx: malformed URI")
	ErrMalformedStartLine  = http1.ErrMalformedStartLine
	ErrMalformedHeader     = http1.ErrMalformedHeader
	ErrMalformedChunk      = http1.ErrMalformedChunk
	ErrTruncatedMessage    = http1.ErrTruncatedMessage
	ErrHeaderTooLarge      = http1.ErrHeaderTooLarge
	ErrUnsupportedVersion  = http1.ErrUnsupportedVersion
	ErrUnsupportedEncoding = http1.ErrUnsupportedEncoding
)

// Transport-time errors.
var (
	ErrAddressInUse     = errors.New("httpx: address in use")
	ErrInvalidAddress   = errors.New("httpx: invalid address")
	ErrConnectionReset  = errors.New("httpx: connection reset by peer")
	ErrConnectionClosed = errors.New("httpx: connection closed")
	ErrUseAfterClose    = errors.New("httpx: use of closed connection")
	ErrTimeout          = errors.New("httpx: timeout")
	ErrListenerClosed   = errors.New("httpx: listener closed")
	ErrServerClosed     = errors.New("httpx: server closed")
)

// Policy-time errors.
var (
	ErrTooManyRedirects = errors.New("httpx: too many redirects")
	ErrBodyTooLarge     = http1.ErrBodyTooLarge
	ErrRateLimited      = errors.New("httpx: rate limiter wait failed")
)
