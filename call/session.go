package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/signaling"
)

// Direction indicates which party initiated the session.
type Direction int

const (
	// DirectionOutgoing means the local user placed the call.
	DirectionOutgoing Direction = iota
	// DirectionIncoming means the remote user placed the call.
	DirectionIncoming
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// State is the lifecycle state of a call session.
type State int

const (
	// StateOutgoing means a call request was sent and the session awaits the
	// remote answer.
	StateOutgoing State = iota
	// StateIncoming means a call request was received and the session awaits
	// the local answer.
	StateIncoming
	// StateConnected means media is flowing.
	StateConnected
	// StateEnded is the terminal state.
	StateEnded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason records why a session reached its terminal state.
type EndReason int

const (
	// ReasonNone means the session has not ended.
	ReasonNone EndReason = iota
	// ReasonLocalHangup means the local user ended the call.
	ReasonLocalHangup
	// ReasonRemoteHangup means the remote user ended or rejected the call.
	ReasonRemoteHangup
	// ReasonRejected means the local user declined an incoming call.
	ReasonRejected
	// ReasonBusy means the remote party was already in a call.
	ReasonBusy
	// ReasonTransportFailure means the peer connection was lost and could
	// not recover.
	ReasonTransportFailure
	// ReasonError means setup failed before the call connected.
	ReasonError
)

// String returns the string representation of EndReason.
func (r EndReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLocalHangup:
		return "local-hangup"
	case ReasonRemoteHangup:
		return "remote-hangup"
	case ReasonRejected:
		return "rejected"
	case ReasonBusy:
		return "busy"
	case ReasonTransportFailure:
		return "transport-failure"
	case ReasonError:
		return "error"
	}
	return "unknown"
}

// Session is one call between the local user and a single remote user.
//
// A session is created by Manager.InitiateCall or by an inbound call request
// and owns its media, transport, encryption pipeline, key material, and
// bitrate monitor. All of those are released exactly once when the session
// ends, no matter how many teardown paths fire.
type Session struct {
	id           string
	remoteUserID string
	kind         MediaKind
	direction    Direction
	createdAt    time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time
	endReason EndReason

	media     LocalMedia
	transport MediaTransport
	key       framecrypt.Key
	pipeline  *framecrypt.Pipeline
	monitor   *bitrate.Monitor

	// Inbound negotiation data held until the local user answers.
	pendingOffer      *signaling.DescriptionPayload
	pendingCandidates []signaling.CandidatePayload

	endOnce sync.Once
}

// Info is an immutable snapshot of a session's observable state.
type Info struct {
	ID           string
	RemoteUserID string
	Kind         MediaKind
	Direction    Direction
	State        State
	EndReason    EndReason
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
}

// ID returns the session's call identifier, shared by both parties.
func (s *Session) ID() string { return s.id }

// RemoteUserID returns the other party's user id.
func (s *Session) RemoteUserID() string { return s.remoteUserID }

// Kind returns the session's media composition.
func (s *Session) Kind() MediaKind { return s.kind }

// Direction returns which party initiated the session.
func (s *Session) Direction() Direction { return s.direction }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		RemoteUserID: s.remoteUserID,
		Kind:         s.kind,
		Direction:    s.direction,
		State:        s.state,
		EndReason:    s.endReason,
		CreatedAt:    s.createdAt,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
	}
}

// Duration returns how long the session has been (or was) connected. Zero if
// it never connected.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.startedAt)
	}
	return time.Since(s.startedAt)
}

// Pipeline returns the session's frame encryption pipeline, nil before the
// session connects.
func (s *Session) Pipeline() *framecrypt.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// transportHandle returns the session's media transport, nil before setup
// or after teardown.
func (s *Session) transportHandle() MediaTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// bufferCandidate holds an early remote candidate until a transport exists
// to apply it to. Returns false when the buffer is full and the candidate
// was discarded.
func (s *Session) bufferCandidate(cand signaling.CandidatePayload, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingCandidates) >= limit {
		return false
	}
	s.pendingCandidates = append(s.pendingCandidates, cand)
	return true
}

// takePendingNegotiation removes and returns the buffered remote offer and
// candidates.
func (s *Session) takePendingNegotiation() (*signaling.DescriptionPayload, []signaling.CandidatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, cands := s.pendingOffer, s.pendingCandidates
	s.pendingOffer = nil
	s.pendingCandidates = nil
	return offer, cands
}

// end performs the session's one-shot teardown: stop the bitrate monitor,
// close the encryption pipeline, wipe the session key, close the transport,
// and release local media. Safe to call from any number of paths; only the
// first caller's reason is recorded.
func (s *Session) end(reason EndReason, now time.Time) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		s.endReason = reason
		s.endedAt = now
		monitor := s.monitor
		pipeline := s.pipeline
		transport := s.transport
		media := s.media
		s.monitor = nil
		s.transport = nil
		s.media = nil
		s.key.Wipe()
		s.mu.Unlock()

		if monitor != nil {
			monitor.Stop()
		}
		if pipeline != nil {
			pipeline.Close()
		}
		if transport != nil {
			if err := transport.Close(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "end",
					"call_id":  s.id,
					"error":    err.Error(),
				}).Warn("Media transport close failed")
			}
		}
		if media != nil {
			media.Close()
		}

		logrus.WithFields(logrus.Fields{
			"function":    "end",
			"call_id":     s.id,
			"remote_user": s.remoteUserID,
			"reason":      reason.String(),
		}).Info("Call session ended")
	})
}

// AudioTrack returns the session's local audio track, nil before media is
// acquired.
func (s *Session) AudioTrack() Track { return s.track("audio") }

// VideoTrack returns the session's local video track, nil for audio-only
// sessions.
func (s *Session) VideoTrack() Track { return s.track("video") }

// track returns the session's track of the given kind, or nil.
func (s *Session) track(kind string) Track {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return nil
	}
	switch kind {
	case "audio":
		return media.AudioTrack()
	case "video":
		return media.VideoTrack()
	}
	return nil
}

// attachMonitor installs the bitrate monitor created when the session
// connects.
func (s *Session) attachMonitor(m *bitrate.Monitor) {
	s.mu.Lock()
	s.monitor = m
	s.mu.Unlock()
}
