package transport

import "errors"

var (
	// ErrUnavailable: no device found, open failed, or still inside the reconnect backoff window.
	ErrUnavailable = errors.New("device unavailable")
	// ErrTimeout: no valid reply before the exchange deadline; device state unknown.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrLinkFailure: I/O error mid-exchange; the link was dropped and the next exchange reconnects.
	ErrLinkFailure = errors.New("serial link failure")
	// ErrMalformedReply: a {...} line that is not valid JSON, or a reply lacking required fields.
	ErrMalformedReply = errors.New("malformed reply")
)
