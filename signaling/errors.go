package signaling

import "errors"

// Sentinel errors for signaling transport operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrNotConnected indicates a send was attempted while the transport is
	// not connected. The message has been queued for replay, not lost.
	ErrNotConnected = errors.New("not connected to signaling server")

	// ErrConnectionTimeout indicates the connect handshake did not complete
	// within the configured timeout.
	ErrConnectionTimeout = errors.New("connection attempt timed out")

	// ErrMaxRetriesExceeded indicates reconnection was abandoned after the
	// configured number of consecutive failures.
	ErrMaxRetriesExceeded = errors.New("maximum reconnection attempts exceeded")

	// ErrAlreadyConnected indicates Connect was called on a transport that
	// already has a live connection.
	ErrAlreadyConnected = errors.New("transport is already connected")

	// ErrTransportClosed indicates the transport was explicitly disconnected
	// and cannot be reused for the attempted operation.
	ErrTransportClosed = errors.New("transport has been closed")
)
