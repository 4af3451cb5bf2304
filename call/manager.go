package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/signaling"
)

// Config defines call manager dependencies and tuning parameters.
type Config struct {
	// Signaling is the relay transport used to exchange call control
	// messages with remote peers. Required.
	Signaling *signaling.Transport

	// Media acquires local capture devices. Required.
	Media MediaDevices

	// NewTransport creates the per-call media transport. Required.
	NewTransport TransportFactory

	// FramePolicy selects how the frame encryption pipeline handles
	// per-frame failures (default: fail-open).
	FramePolicy framecrypt.Policy

	// SampleInterval overrides the bitrate monitor's sampling interval
	// (default: 2s).
	SampleInterval time.Duration

	// MaxBufferedCandidates bounds how many early remote candidates are held
	// per session before a transport exists to apply them to (default: 32).
	MaxBufferedCandidates int
}

// DefaultConfig returns a manager configuration with standard tuning over
// the given dependencies.
func DefaultConfig(sig *signaling.Transport, media MediaDevices, factory TransportFactory) *Config {
	return &Config{
		Signaling:             sig,
		Media:                 media,
		NewTransport:          factory,
		FramePolicy:           framecrypt.PolicyFailOpen,
		MaxBufferedCandidates: 32,
	}
}

// Manager drives call sessions through their lifecycle.
//
// Sessions are keyed by remote party: at most one non-ended session exists
// per remote user, and a duplicate call between the same two users is
// refused while one is in progress. Calls with distinct parties proceed
// independently. The manager subscribes to the signaling transport's
// call-control message types on creation and routes each inbound message to
// the sender's session. All methods are safe for concurrent use.
type Manager struct {
	config    *Config
	signaling *signaling.Transport
	events    *events

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	unsubs []func()
}

// NewManager creates a call manager and subscribes it to the signaling
// transport's call-control messages.
func NewManager(config *Config) (*Manager, error) {
	if config == nil || config.Signaling == nil {
		return nil, errors.New("signaling transport is required")
	}
	if config.Media == nil {
		return nil, errors.New("media devices provider is required")
	}
	if config.NewTransport == nil {
		return nil, errors.New("media transport factory is required")
	}
	if config.MaxBufferedCandidates <= 0 {
		config.MaxBufferedCandidates = 32
	}

	m := &Manager{
		config:    config,
		signaling: config.Signaling,
		events:    newEvents(),
		sessions:  make(map[string]*Session),
	}

	m.unsubs = append(m.unsubs,
		m.signaling.OnMessage(signaling.MessageCallRequest, m.handleCallRequest),
		m.signaling.OnMessage(signaling.MessageOffer, m.handleOffer),
		m.signaling.OnMessage(signaling.MessageAnswer, m.handleAnswer),
		m.signaling.OnMessage(signaling.MessageICECandidate, m.handleCandidate),
		m.signaling.OnMessage(signaling.MessageHangup, m.handleHangup),
	)

	logrus.WithFields(logrus.Fields{
		"function":     "NewManager",
		"frame_policy": config.FramePolicy.String(),
	}).Debug("Call manager created")
	return m, nil
}

// InitiateCall places an outgoing call to the given user.
//
// It acquires local media, generates a fresh session key, creates the media
// transport, and sends the call request and offer through the relay. The
// returned session is in the outgoing state; it transitions to connected
// when the remote answers and the transport comes up.
func (m *Manager) InitiateCall(ctx context.Context, remoteUserID string, kind MediaKind) (*Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind %q", kind)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, busy := m.sessions[remoteUserID]; busy {
		m.mu.Unlock()
		return nil, ErrCallAlreadyInProgress
	}
	// Reserve the party's slot before any slow work so concurrent initiators
	// to the same party cannot both pass the duplicate check.
	session := &Session{
		id:           uuid.NewString(),
		remoteUserID: remoteUserID,
		kind:         kind,
		direction:    DirectionOutgoing,
		createdAt:    time.Now(),
		state:        StateOutgoing,
	}
	m.sessions[remoteUserID] = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "InitiateCall",
		"call_id":     session.id,
		"remote_user": remoteUserID,
		"media_kind":  kind,
	}).Info("Initiating outgoing call")

	if !m.signaling.IsConnected() {
		m.releaseFailed(session)
		return nil, signaling.ErrNotConnected
	}

	if err := m.setupSession(ctx, session, true); err != nil {
		m.releaseFailed(session)
		return nil, err
	}

	req := signaling.CallRequestPayload{CallID: session.id, MediaKind: string(kind)}
	if err := m.send(signaling.MessageCallRequest, remoteUserID, req); err != nil {
		m.releaseFailed(session)
		return nil, fmt.Errorf("failed to send call request: %w", err)
	}

	offer, err := session.transportHandle().CreateOffer(ctx)
	if err != nil {
		m.bestEffortHangup(session)
		m.releaseFailed(session)
		return nil, fmt.Errorf("%w: %v", ErrNegotiationFailure, err)
	}
	if err := m.send(signaling.MessageOffer, remoteUserID, offer); err != nil {
		m.bestEffortHangup(session)
		m.releaseFailed(session)
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	m.events.emitState(session, StateOutgoing)
	return session, nil
}

// AnswerCall accepts the ringing incoming call with the given id.
//
// It acquires local media, creates the media transport, applies the buffered
// remote offer and any early candidates, and sends the answer back through
// the relay. The session transitions to connected when the transport comes
// up.
func (m *Manager) AnswerCall(ctx context.Context, callID string) error {
	session, err := m.lookup(callID)
	if err != nil {
		return err
	}
	if session.Direction() != DirectionIncoming || session.State() != StateIncoming {
		return ErrNotAnswerable
	}

	logrus.WithFields(logrus.Fields{
		"function":    "AnswerCall",
		"call_id":     session.id,
		"remote_user": session.remoteUserID,
	}).Info("Answering incoming call")

	if err := m.setupSession(ctx, session, false); err != nil {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
		return err
	}

	offer, cands := session.takePendingNegotiation()
	if offer == nil {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
		return fmt.Errorf("%w: remote offer not yet received", ErrNegotiationFailure)
	}

	transport := session.transportHandle()
	if err := transport.SetRemoteDescription(*offer); err != nil {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
		return fmt.Errorf("%w: %v", ErrNegotiationFailure, err)
	}
	for _, cand := range cands {
		if err := transport.AddRemoteCandidate(cand); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "AnswerCall",
				"call_id":  session.id,
				"error":    err.Error(),
			}).Warn("Discarding unusable buffered candidate")
		}
	}

	answer, err := transport.CreateAnswer(ctx)
	if err != nil {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
		return fmt.Errorf("%w: %v", ErrNegotiationFailure, err)
	}
	if err := m.send(signaling.MessageAnswer, session.remoteUserID, answer); err != nil {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

// RejectCall declines the ringing incoming call with the given id, notifying
// the caller.
func (m *Manager) RejectCall(callID string) error {
	session, err := m.lookup(callID)
	if err != nil {
		return err
	}
	if session.Direction() != DirectionIncoming || session.State() != StateIncoming {
		return ErrNotAnswerable
	}

	m.bestEffortHangup(session)
	m.endSession(session, ReasonRejected)
	return nil
}

// EndCall hangs up the call with the given remote party. Ending when no such
// call exists is a no-op, so repeated hangups are harmless. The remote party
// is notified on a best-effort basis; local teardown proceeds regardless.
func (m *Manager) EndCall(remoteUserID string) error {
	m.mu.Lock()
	session := m.sessions[remoteUserID]
	m.mu.Unlock()
	if session == nil {
		return nil
	}

	m.bestEffortHangup(session)
	m.endSession(session, ReasonLocalHangup)
	return nil
}

// ToggleAudio flips the audio track of the call with the given remote party
// between enabled and muted and returns the new enabled state.
func (m *Manager) ToggleAudio(remoteUserID string) (bool, error) {
	return m.toggleTrack(remoteUserID, "audio")
}

// ToggleVideo flips the video track of the call with the given remote party
// between enabled and paused and returns the new enabled state. Audio-only
// calls have no video track.
func (m *Manager) ToggleVideo(remoteUserID string) (bool, error) {
	return m.toggleTrack(remoteUserID, "video")
}

func (m *Manager) toggleTrack(remoteUserID, kind string) (bool, error) {
	m.mu.Lock()
	session := m.sessions[remoteUserID]
	m.mu.Unlock()
	if session == nil {
		return false, ErrNoActiveCall
	}

	track := session.track(kind)
	if track == nil {
		return false, ErrTrackUnavailable
	}

	enabled := !track.Enabled()
	track.SetEnabled(enabled)

	logrus.WithFields(logrus.Fields{
		"function": "toggleTrack",
		"call_id":  session.id,
		"kind":     kind,
		"enabled":  enabled,
	}).Debug("Toggled media track")
	return enabled, nil
}

// GetCallStatus returns a snapshot of the call with the given remote party,
// or ErrNoActiveCall.
func (m *Manager) GetCallStatus(remoteUserID string) (Info, error) {
	m.mu.Lock()
	session := m.sessions[remoteUserID]
	m.mu.Unlock()
	if session == nil {
		return Info{}, ErrNoActiveCall
	}
	return session.Snapshot(), nil
}

// SessionWith returns the session with the given remote party, or nil.
func (m *Manager) SessionWith(remoteUserID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[remoteUserID]
}

// ActiveSessions returns the non-ended sessions in no particular order.
func (m *Manager) ActiveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// OnIncomingCall subscribes a handler to ringing inbound calls and returns
// an unsubscribe function.
func (m *Manager) OnIncomingCall(h IncomingCallHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.incoming[id] = h },
		func(id uint64) { delete(m.events.incoming, id) },
	)
}

// OnStateChange subscribes a handler to session state transitions and
// returns an unsubscribe function.
func (m *Manager) OnStateChange(h StateChangeHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.state[id] = h },
		func(id uint64) { delete(m.events.state, id) },
	)
}

// OnCallEnded subscribes a handler to terminal session notifications and
// returns an unsubscribe function.
func (m *Manager) OnCallEnded(h EndedHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.ended[id] = h },
		func(id uint64) { delete(m.events.ended, id) },
	)
}

// OnError subscribes a handler to asynchronous call errors and returns an
// unsubscribe function.
func (m *Manager) OnError(h ErrorHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.errs[id] = h },
		func(id uint64) { delete(m.events.errs, id) },
	)
}

// OnQualitySample subscribes a handler to adaptive bitrate samples and
// returns an unsubscribe function.
func (m *Manager) OnQualitySample(h QualityHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.quality[id] = h },
		func(id uint64) { delete(m.events.quality, id) },
	)
}

// OnRemoteTrack subscribes a handler to inbound media tracks and returns an
// unsubscribe function.
func (m *Manager) OnRemoteTrack(h RemoteTrackHandler) func() {
	return m.events.subscribe(
		func(id uint64) { m.events.remote[id] = h },
		func(id uint64) { delete(m.events.remote, id) },
	)
}

// Close ends any active call and detaches the manager from the signaling
// transport. The manager cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, session := range sessions {
		m.bestEffortHangup(session)
		m.endSession(session, ReasonLocalHangup)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Debug("Call manager closed")
}

// setupSession acquires media, generates key material for the initiator, and
// creates and wires the media transport. On failure the session holds no
// resources beyond what end() releases.
func (m *Manager) setupSession(ctx context.Context, session *Session, initiator bool) error {
	media, err := m.config.Media.GetUserMedia(session.kind)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "setupSession",
			"call_id":    session.id,
			"media_kind": session.kind,
			"error":      err.Error(),
		}).Error("Local media acquisition failed")
		return err
	}

	var key framecrypt.Key
	if initiator {
		key, err = framecrypt.GenerateKey()
		if err != nil {
			media.Close()
			return err
		}
	}

	transport, err := m.config.NewTransport(initiator)
	if err != nil {
		media.Close()
		return fmt.Errorf("%w: %v", ErrNegotiationFailure, err)
	}

	session.mu.Lock()
	session.media = media
	session.transport = transport
	session.key = key
	session.mu.Unlock()

	m.wireTransport(session, transport, initiator)

	if err := transport.AttachMedia(media); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailure, err)
	}
	return nil
}

// wireTransport connects a session's transport callbacks to signaling,
// encryption, and bitrate control.
func (m *Manager) wireTransport(session *Session, transport MediaTransport, initiator bool) {
	transport.OnLocalCandidate(func(cand signaling.CandidatePayload) {
		if err := m.send(signaling.MessageICECandidate, session.remoteUserID, cand); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "wireTransport",
				"call_id":  session.id,
				"error":    err.Error(),
			}).Debug("Candidate send deferred or failed")
		}
	})

	transport.OnSessionKey(func(key framecrypt.Key) {
		m.installKey(session, key)
	})

	transport.OnRemoteTrack(func(track RemoteTrack) {
		m.events.emitRemoteTrack(session, track)
	})

	transport.OnConnectionState(func(state TransportState) {
		switch state {
		case TransportConnected:
			m.handleTransportConnected(session, transport, initiator)
		case TransportFailed:
			logrus.WithFields(logrus.Fields{
				"function": "wireTransport",
				"call_id":  session.id,
			}).Error("Media transport failed")
			m.events.emitError(session, ErrConnectionLost)
			m.endSession(session, ReasonTransportFailure)
		}
	})
}

// handleTransportConnected moves the session to the connected state, runs
// the key handshake on the initiator side, and starts the bitrate monitor.
func (m *Manager) handleTransportConnected(session *Session, transport MediaTransport, initiator bool) {
	session.mu.Lock()
	if session.state == StateEnded || session.state == StateConnected {
		session.mu.Unlock()
		return
	}
	session.state = StateConnected
	session.startedAt = time.Now()
	key := session.key
	session.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "handleTransportConnected",
		"call_id":     session.id,
		"remote_user": session.remoteUserID,
		"initiator":   initiator,
	}).Info("Call connected")

	if initiator {
		m.installKey(session, key)
		if err := transport.StartKeyExchange(key); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleTransportConnected",
				"call_id":  session.id,
				"error":    err.Error(),
			}).Error("Session key exchange failed")
			m.events.emitError(session, err)
		}
	}

	monitorCfg := bitrate.DefaultConfig(session.kind.HasVideo())
	if m.config.SampleInterval > 0 {
		monitorCfg.Interval = m.config.SampleInterval
	}
	monitor := bitrate.NewMonitor(transport, transport, monitorCfg)
	monitor.OnSample(func(sample bitrate.Sample) {
		m.events.emitQuality(session, sample)
	})
	session.attachMonitor(monitor)
	monitor.Start()

	m.events.emitState(session, StateConnected)
}

// installKey creates the session's frame encryption pipeline for the agreed
// key, or rekeys the existing pipeline.
func (m *Manager) installKey(session *Session, key framecrypt.Key) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.state == StateEnded {
		return
	}
	session.key = key

	if session.pipeline != nil {
		if err := session.pipeline.Rekey(key); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "installKey",
				"call_id":  session.id,
				"error":    err.Error(),
			}).Error("Pipeline rekey failed")
		}
		return
	}

	pipeline, err := framecrypt.NewPipeline(key, m.config.FramePolicy)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "installKey",
			"call_id":  session.id,
			"error":    err.Error(),
		}).Error("Pipeline creation failed")
		return
	}
	session.pipeline = pipeline
}

// handleCallRequest processes an inbound call-request message. A second
// request from a party we already have a call with is refused with a hangup;
// a redelivery of the request for that same call is ignored.
func (m *Manager) handleCallRequest(msg signaling.Message) {
	var payload signaling.CallRequestPayload
	if err := unmarshalPayload(msg, &payload); err != nil {
		return
	}
	kind := MediaKind(payload.MediaKind)
	if payload.CallID == "" || !kind.Valid() {
		logrus.WithFields(logrus.Fields{
			"function":     "handleCallRequest",
			"from_user_id": msg.FromUserID,
		}).Warn("Discarding malformed call request")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if existing := m.sessions[msg.FromUserID]; existing != nil {
		duplicate := existing.id == payload.CallID
		m.mu.Unlock()
		if duplicate {
			return
		}

		logrus.WithFields(logrus.Fields{
			"function":     "handleCallRequest",
			"call_id":      payload.CallID,
			"from_user_id": msg.FromUserID,
		}).Info("Refusing call request while busy with this party")

		hangup := signaling.HangupPayload{CallID: payload.CallID}
		if err := m.send(signaling.MessageHangup, msg.FromUserID, hangup); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleCallRequest",
				"error":    err.Error(),
			}).Debug("Busy refusal send failed")
		}
		return
	}

	session := &Session{
		id:           payload.CallID,
		remoteUserID: msg.FromUserID,
		kind:         kind,
		direction:    DirectionIncoming,
		createdAt:    time.Now(),
		state:        StateIncoming,
	}
	m.sessions[msg.FromUserID] = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "handleCallRequest",
		"call_id":     session.id,
		"remote_user": session.remoteUserID,
		"media_kind":  kind,
	}).Info("Incoming call ringing")

	m.events.emitIncoming(session)
	m.events.emitState(session, StateIncoming)
}

// handleOffer buffers or applies the remote session description for the
// ringing incoming call.
func (m *Manager) handleOffer(msg signaling.Message) {
	session := m.sessionFrom(msg.FromUserID)
	if session == nil || session.Direction() != DirectionIncoming {
		return
	}

	var desc signaling.DescriptionPayload
	if err := unmarshalPayload(msg, &desc); err != nil {
		return
	}

	session.mu.Lock()
	transport := session.transport
	if transport == nil {
		session.pendingOffer = &desc
		session.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"call_id":  session.id,
		}).Debug("Buffered remote offer until answer")
		return
	}
	session.mu.Unlock()

	if err := transport.SetRemoteDescription(desc); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"call_id":  session.id,
			"error":    err.Error(),
		}).Error("Failed to apply remote offer")
		m.events.emitError(session, fmt.Errorf("%w: %v", ErrNegotiationFailure, err))
	}
}

// handleAnswer applies the remote answer to the outgoing call's transport.
func (m *Manager) handleAnswer(msg signaling.Message) {
	session := m.sessionFrom(msg.FromUserID)
	if session == nil || session.Direction() != DirectionOutgoing {
		return
	}

	var desc signaling.DescriptionPayload
	if err := unmarshalPayload(msg, &desc); err != nil {
		return
	}

	transport := session.transportHandle()
	if transport == nil {
		return
	}
	if err := transport.SetRemoteDescription(desc); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnswer",
			"call_id":  session.id,
			"error":    err.Error(),
		}).Error("Failed to apply remote answer")
		m.events.emitError(session, fmt.Errorf("%w: %v", ErrNegotiationFailure, err))
		m.bestEffortHangup(session)
		m.endSession(session, ReasonError)
	}
}

// handleCandidate routes a remote ICE candidate to the session's transport,
// buffering it when the transport does not exist yet.
func (m *Manager) handleCandidate(msg signaling.Message) {
	session := m.sessionFrom(msg.FromUserID)
	if session == nil {
		return
	}

	var cand signaling.CandidatePayload
	if err := unmarshalPayload(msg, &cand); err != nil {
		return
	}

	transport := session.transportHandle()
	if transport == nil {
		if !session.bufferCandidate(cand, m.config.MaxBufferedCandidates) {
			logrus.WithFields(logrus.Fields{
				"function": "handleCandidate",
				"call_id":  session.id,
				"limit":    m.config.MaxBufferedCandidates,
			}).Warn("Candidate buffer full, discarding")
		}
		return
	}

	if err := transport.AddRemoteCandidate(cand); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCandidate",
			"call_id":  session.id,
			"error":    err.Error(),
		}).Warn("Discarding unusable candidate")
	}
}

// handleHangup ends the session named by an inbound hangup. Covers remote
// hangup of a connected call, caller cancellation while ringing, callee
// rejection, and the busy refusal.
func (m *Manager) handleHangup(msg signaling.Message) {
	var payload signaling.HangupPayload
	if err := unmarshalPayload(msg, &payload); err != nil {
		return
	}

	session := m.sessionFrom(msg.FromUserID)
	if session == nil || (payload.CallID != "" && payload.CallID != session.id) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleHangup",
		"call_id":     session.id,
		"remote_user": msg.FromUserID,
	}).Info("Remote hangup received")

	m.endSession(session, ReasonRemoteHangup)
}

// endSession tears the session down, clears the party's slot if it still
// holds this session, and notifies subscribers.
func (m *Manager) endSession(session *Session, reason EndReason) {
	alreadyEnded := session.State() == StateEnded
	session.end(reason, time.Now())

	m.mu.Lock()
	if m.sessions[session.remoteUserID] == session {
		delete(m.sessions, session.remoteUserID)
	}
	m.mu.Unlock()

	if !alreadyEnded {
		m.events.emitState(session, StateEnded)
		m.events.emitEnded(session, session.Snapshot().EndReason)
	}
}

// releaseFailed tears down a session whose setup never completed, without
// emitting ended events for a call the subscriber never saw succeed.
func (m *Manager) releaseFailed(session *Session) {
	session.end(ReasonError, time.Now())
	m.mu.Lock()
	if m.sessions[session.remoteUserID] == session {
		delete(m.sessions, session.remoteUserID)
	}
	m.mu.Unlock()
}

// bestEffortHangup notifies the remote party the session is over. Failures
// are logged; teardown never depends on the notification arriving.
func (m *Manager) bestEffortHangup(session *Session) {
	payload := signaling.HangupPayload{CallID: session.id}
	if err := m.send(signaling.MessageHangup, session.remoteUserID, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "bestEffortHangup",
			"call_id":  session.id,
			"error":    err.Error(),
		}).Debug("Hangup notification not delivered immediately")
	}
}

// sessionFrom returns the session with the given user, or nil.
func (m *Manager) sessionFrom(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// lookup returns the session with the given call id.
func (m *Manager) lookup(callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	for _, session := range m.sessions {
		if session.id == callID {
			return session, nil
		}
	}
	return nil, ErrCallNotFound
}

// send builds and transmits one signaling message from the local user.
func (m *Manager) send(msgType signaling.MessageType, to string, payload interface{}) error {
	msg, err := signaling.NewMessage(msgType, m.signaling.UserID(), to, payload)
	if err != nil {
		return err
	}
	return m.signaling.Send(msg)
}

func unmarshalPayload(msg signaling.Message, v interface{}) error {
	if err := signaling.UnmarshalPayload(msg, v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "unmarshalPayload",
			"message_type": msg.Type,
			"from_user_id": msg.FromUserID,
			"error":        err.Error(),
		}).Warn("Discarding message with malformed payload")
		return err
	}
	return nil
}
