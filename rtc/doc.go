// Package rtc provides the WebRTC-backed media transport for call sessions.
//
// Peer wraps a pion PeerConnection and implements the transport contract the
// call manager negotiates through: offer/answer exchange, trickled ICE
// candidates with buffering of candidates that arrive before the remote
// description, connection state callbacks, and connection statistics for the
// adaptive bitrate monitor.
//
// Each peer also opens a "control" data channel over the encrypted peer
// connection. The session key handshake runs on that channel, so key
// material only ever crosses the direct peer link, never the signaling
// relay.
package rtc
