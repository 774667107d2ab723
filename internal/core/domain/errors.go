package domain

import "errors"

var (
	// Usage errors: surfaced synchronously at the call site.
	ErrNotConnected    = errors.New("peer not connected")
	ErrInvalidState    = errors.New("invalid connection state for operation")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSendQueueFull   = errors.New("send queue full")

	// Protocol errors: the offending frame is dropped, the connection lives on.
	ErrTruncatedMessage  = errors.New("truncated performance event")
	ErrProtocolViolation = errors.New("protocol violation")

	// Session errors.
	ErrPeerNotFound       = errors.New("peer not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionFull        = errors.New("session peer capacity reached")
	ErrVersionUnsupported = errors.New("unsupported protocol version")
)
