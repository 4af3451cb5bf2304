// Package framecrypt implements the per-frame media encryption pipeline for
// call sessions.
//
// Every outgoing encoded media frame is sealed with ChaCha20-Poly1305 under
// a 256-bit session key and a fresh random 96-bit nonce; the wire form is
// nonce || ciphertext. Incoming frames are split and opened the same way.
// Frame metadata outside the payload is never touched.
//
// The session key is generated locally when the session is created and is
// never carried over the signaling channel. Once the direct peer connection
// is up, a Noise NN handshake over the control channel delivers the caller's
// key to the callee, so both directions run under a key only the two parties
// hold. Keys are wiped when the session ends.
//
// A deliberate legacy behavior is preserved by default: when sealing or
// opening an individual frame fails (for example a corrupt auth tag), the
// frame is passed through unmodified and the error is logged, rather than
// dropped. Callers that need a stricter posture can select PolicyFailClosed,
// which drops undecryptable frames instead.
package framecrypt
