package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of signaling message on the wire.
type MessageType string

// Wire message types understood by the relay protocol.
const (
	MessageCallRequest  MessageType = "call-request"
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessageHangup       MessageType = "hangup"
	MessagePing         MessageType = "ping"
	MessagePong         MessageType = "pong"
)

// Message is one signaling message exchanged through the relay.
//
// Messages are immutable once created and serialized as a single JSON object
// per WebSocket frame. The relay forwards them between FromUserID and
// ToUserID without inspecting Payload. ID is a per-message UUID that lets
// receivers deduplicate replays caused by reconnection.
type Message struct {
	ID         string          `json:"messageId,omitempty"`
	Type       MessageType     `json:"type"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// NewMessage creates a signaling message with a fresh message ID, the given
// payload marshaled to JSON, and the current time in epoch milliseconds.
func NewMessage(msgType MessageType, from, to string, payload interface{}) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		raw = data
	}

	return Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		FromUserID: from,
		ToUserID:   to,
		Payload:    raw,
		Timestamp:  time.Now().UnixMilli(),
	}, nil
}

// UnmarshalPayload decodes a message's payload into the given value.
func UnmarshalPayload(msg Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Type, err)
	}
	return nil
}

// CallRequestPayload is the payload of a "call-request" message.
type CallRequestPayload struct {
	CallID    string `json:"callId"`
	MediaKind string `json:"mediaKind"`
}

// HangupPayload is the payload of a "hangup" message.
type HangupPayload struct {
	CallID string `json:"callId"`
}

// DescriptionPayload is the payload of an "offer" or "answer" message: the
// transport-layer session description produced by the negotiation engine.
type DescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload is the payload of an "ice-candidate" message.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}
