package framecrypt

import "errors"

var (
	// ErrFrameTooShort indicates an inbound frame is shorter than the nonce
	// prefix and cannot be opened.
	ErrFrameTooShort = errors.New("frame too short to contain nonce")

	// ErrEmptyFrame indicates an attempt to seal an empty payload.
	ErrEmptyFrame = errors.New("empty frame payload")

	// ErrPipelineClosed indicates the pipeline's key has been discarded.
	ErrPipelineClosed = errors.New("encryption pipeline is closed")

	// ErrHandshakeState indicates a handshake method was called out of order
	// or after completion.
	ErrHandshakeState = errors.New("invalid handshake state")
)
