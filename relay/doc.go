// Package relay implements a reference signaling relay server.
//
// The relay accepts WebSocket connections at /ws?userId=...&token=...,
// validates the bearer token, and forwards call signaling messages between
// connected users by their toUserId field. Payloads are never inspected;
// the relay is a dumb forwarder and holds no call state. Messages addressed
// to a user who is not connected are dropped, the sender's transport queues
// and replays on its own.
//
// Tokens are HMAC-signed JWTs. IssueToken exists for tests and examples; a
// production deployment issues tokens from its own auth service with the
// shared secret.
package relay
