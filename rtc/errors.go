package rtc

import "errors"

// Common errors returned by the WebRTC transport.
var (
	// ErrPeerClosed is returned by operations on a closed peer.
	ErrPeerClosed = errors.New("peer connection is closed")

	// ErrUnsupportedMedia is returned when attached media does not expose
	// RTP tracks this transport can send.
	ErrUnsupportedMedia = errors.New("media does not provide RTP tracks")

	// ErrNoRemoteDescription is returned when an operation requires the
	// remote description before it has been applied.
	ErrNoRemoteDescription = errors.New("remote description not set")

	// ErrKeyExchangeNotReady is returned when the key exchange is started
	// before the control channel exists.
	ErrKeyExchangeNotReady = errors.New("control channel not available")
)
