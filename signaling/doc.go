// Package signaling implements the client side of the callcore signaling
// protocol: a persistent WebSocket connection to a relay server that forwards
// JSON messages between two authenticated parties.
//
// The Transport owns one logical relay connection and keeps it alive across
// network interruptions with exponential-backoff reconnection. Messages sent
// while disconnected are queued and replayed, in order, on the next
// successful connect. Inbound messages are dispatched to typed subscribers;
// a panicking subscriber never disturbs the transport's own control flow.
//
// # Wire Format
//
// One JSON object per WebSocket text frame:
//
//	{ "type": "offer", "fromUserId": "alice", "toUserId": "bob",
//	  "payload": {...}, "timestamp": 1712345678901 }
//
// The relay forwards messages between the named parties without inspecting
// payloads. Heartbeats use application-level "ping"/"pong" messages so they
// traverse the relay like any other message.
//
// # Usage
//
//	transport := signaling.NewTransport(signaling.DefaultConfig("wss://relay.example.com/ws"))
//	unsub := transport.OnMessage(signaling.MessageOffer, func(msg signaling.Message) {
//	    // handle offer
//	})
//	defer unsub()
//
//	err := transport.Connect(ctx, signaling.Credentials{UserID: "alice", Token: token})
package signaling
