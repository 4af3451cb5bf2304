// Package call implements call session lifecycle management for one-to-one
// encrypted voice and video calls.
//
// A Manager owns the active sessions, at most one per remote party, and
// drives each through the outgoing/incoming, connected, and ended states. It
// translates local
// operations (initiate, answer, reject, end, mute) and inbound signaling
// messages (call-request, offer, answer, ice-candidate, hangup) into state
// transitions, acquires local media through a MediaDevices provider, runs
// transport negotiation through a MediaTransport created per call, and on
// connection attaches the frame encryption pipeline and the adaptive bitrate
// monitor.
//
// Session teardown is idempotent: whichever of local hangup, remote hangup,
// or transport failure happens first releases media, wipes the session key,
// and closes the transport exactly once.
package call
