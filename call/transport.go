package call

import (
	"context"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/signaling"
)

// TransportState is the coarse connectivity state of a media transport.
type TransportState int

const (
	// TransportNew is the state before negotiation starts.
	TransportNew TransportState = iota
	// TransportConnecting indicates negotiation or connectivity checks are
	// in progress.
	TransportConnecting
	// TransportConnected indicates a live peer connection.
	TransportConnected
	// TransportFailed indicates the connection was lost and cannot recover.
	TransportFailed
	// TransportClosed indicates the transport was shut down locally.
	TransportClosed
)

// String returns the string representation of TransportState.
func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is one inbound media track delivered by the transport.
// Concrete implementations expose frame reading and the incoming decryption
// hook; applications type-assert to get at them.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// MediaTransport is the per-call peer connection. One is created for every
// session and closed when the session ends.
//
// Candidates added before the remote description is set are buffered by the
// implementation and applied once it arrives. The transport also carries the
// direct control channel used for the session key handshake: the initiator
// calls StartKeyExchange once connected, and both sides receive the agreed
// key through the OnSessionKey callback.
//
// The embedded bitrate interfaces expose connection statistics and bitrate
// caps to the adaptive bitrate monitor.
type MediaTransport interface {
	bitrate.StatsReader
	bitrate.Limiter

	AttachMedia(media LocalMedia) error

	CreateOffer(ctx context.Context) (signaling.DescriptionPayload, error)
	CreateAnswer(ctx context.Context) (signaling.DescriptionPayload, error)
	SetRemoteDescription(desc signaling.DescriptionPayload) error
	AddRemoteCandidate(cand signaling.CandidatePayload) error

	OnLocalCandidate(fn func(cand signaling.CandidatePayload))
	OnConnectionState(fn func(state TransportState))
	OnRemoteTrack(fn func(track RemoteTrack))

	StartKeyExchange(key framecrypt.Key) error
	OnSessionKey(fn func(key framecrypt.Key))

	Close() error
}

// TransportFactory creates the media transport for one call. The initiator
// flag selects which side drives negotiation and the key handshake.
type TransportFactory func(initiator bool) (MediaTransport, error)
