package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/signaling"
)

// controlChannelLabel is the data channel carrying the session key
// handshake.
const controlChannelLabel = "control"

// Config defines peer connection parameters.
type Config struct {
	// ICEServers lists STUN/TURN servers for connectivity establishment.
	ICEServers []webrtc.ICEServer
}

// DefaultConfig returns a peer configuration using public STUN servers.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
		},
	}
}

// Peer is one WebRTC peer connection serving a single call session. It
// implements the call manager's media transport contract.
type Peer struct {
	pc        *webrtc.PeerConnection
	initiator bool

	mu                sync.Mutex
	closed            bool
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	control           *webrtc.DataChannel
	controlOpen       bool
	handshake         *framecrypt.Handshake
	exchangeKey       *framecrypt.Key
	caps              map[bitrate.StreamKind]int

	onLocalCandidate  func(cand signaling.CandidatePayload)
	onConnectionState func(state call.TransportState)
	onRemoteTrack     func(track call.RemoteTrack)
	onSessionKey      func(key framecrypt.Key)
	onBitrateCap      func(stream bitrate.StreamKind, kbps int)

	stats statsTracker
}

// NewPeer creates a WebRTC transport for one call. The initiator opens the
// control channel and later drives the key exchange; the responder accepts
// both.
func NewPeer(initiator bool, config *Config) (*Peer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		pc:        pc,
		initiator: initiator,
		caps:      make(map[bitrate.StreamKind]int),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()

		p.mu.Lock()
		fn := p.onLocalCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(signaling.CandidatePayload{
				Candidate:     init.Candidate,
				SDPMLineIndex: init.SDPMLineIndex,
				SDPMid:        init.SDPMid,
			})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function":  "OnConnectionStateChange",
			"state":     state.String(),
			"initiator": initiator,
		}).Debug("Peer connection state changed")

		p.mu.Lock()
		fn := p.onConnectionState
		p.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logrus.WithFields(logrus.Fields{
			"function": "OnTrack",
			"kind":     track.Kind().String(),
			"codec":    track.Codec().MimeType,
		}).Info("Remote media track received")

		p.mu.Lock()
		fn := p.onRemoteTrack
		p.mu.Unlock()
		if fn != nil {
			fn(newRemoteTrack(track))
		}
	})

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create control channel: %w", err)
		}
		p.wireControl(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != controlChannelLabel {
				return
			}
			p.wireControl(dc)
		})
	}

	return p, nil
}

func mapConnectionState(state webrtc.PeerConnectionState) call.TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return call.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return call.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.TransportConnected
	case webrtc.PeerConnectionStateFailed:
		return call.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return call.TransportClosed
	default:
		return call.TransportConnecting
	}
}

// AttachMedia adds the local capture tracks to the peer connection. The
// media must come from this package's Devices provider (or anything else
// exposing pion RTP tracks).
func (p *Peer) AttachMedia(media call.LocalMedia) error {
	provider, ok := media.(RTPTrackProvider)
	if !ok {
		return ErrUnsupportedMedia
	}

	for _, track := range provider.RTPTracks() {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind().String(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP consumes RTCP packets so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer produces and installs the local offer. Candidates trickle
// separately, so the offer is usable immediately.
func (p *Peer) CreateOffer(ctx context.Context) (signaling.DescriptionPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return signaling.DescriptionPayload{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return signaling.DescriptionPayload{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.DescriptionPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer produces and installs the local answer to a previously
// applied remote offer.
func (p *Peer) CreateAnswer(ctx context.Context) (signaling.DescriptionPayload, error) {
	p.mu.Lock()
	remoteSet := p.remoteSet
	p.mu.Unlock()
	if !remoteSet {
		return signaling.DescriptionPayload{}, ErrNoRemoteDescription
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.DescriptionPayload{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return signaling.DescriptionPayload{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return signaling.DescriptionPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote offer or answer and drains any
// candidates that arrived early.
func (p *Peer) SetRemoteDescription(desc signaling.DescriptionPayload) error {
	sdpType := webrtc.NewSDPType(desc.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown session description type %q", desc.Type)
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()

	for _, cand := range pending {
		if err := p.pc.AddICECandidate(cand); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SetRemoteDescription",
				"error":    err.Error(),
			}).Warn("Discarding unusable buffered candidate")
		}
	}
	return nil
}

// AddRemoteCandidate applies one trickled remote candidate, buffering it
// when the remote description has not been set yet.
func (p *Peer) AddRemoteCandidate(cand signaling.CandidatePayload) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMLineIndex: cand.SDPMLineIndex,
		SDPMid:        cand.SDPMid,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

// OnLocalCandidate registers the callback for locally gathered candidates.
func (p *Peer) OnLocalCandidate(fn func(cand signaling.CandidatePayload)) {
	p.mu.Lock()
	p.onLocalCandidate = fn
	p.mu.Unlock()
}

// OnConnectionState registers the callback for connectivity transitions.
func (p *Peer) OnConnectionState(fn func(state call.TransportState)) {
	p.mu.Lock()
	p.onConnectionState = fn
	p.mu.Unlock()
}

// OnRemoteTrack registers the callback for inbound media tracks.
func (p *Peer) OnRemoteTrack(fn func(track call.RemoteTrack)) {
	p.mu.Lock()
	p.onRemoteTrack = fn
	p.mu.Unlock()
}

// OnSessionKey registers the callback invoked when the key exchange on the
// control channel delivers the session media key.
func (p *Peer) OnSessionKey(fn func(key framecrypt.Key)) {
	p.mu.Lock()
	p.onSessionKey = fn
	p.mu.Unlock()
}

// OnBitrateCap registers the callback invoked when the adaptive bitrate
// monitor applies a new cap. Encoder layers subscribe to this to adjust
// their target bitrate.
func (p *Peer) OnBitrateCap(fn func(stream bitrate.StreamKind, kbps int)) {
	p.mu.Lock()
	p.onBitrateCap = fn
	p.mu.Unlock()
}

// SetBitrateLimit records the cap for a stream and notifies the encoder
// layer.
func (p *Peer) SetBitrateLimit(stream bitrate.StreamKind, kbps int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.caps[stream] = kbps
	fn := p.onBitrateCap
	p.mu.Unlock()

	if fn != nil {
		fn(stream, kbps)
	}
	return nil
}

// BitrateCap returns the last applied cap for a stream in kbps, zero if no
// cap has been applied.
func (p *Peer) BitrateCap(stream bitrate.StreamKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps[stream]
}

// Close shuts the peer connection down. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	control := p.control
	p.mu.Unlock()

	if control != nil {
		control.Close()
	}
	return p.pc.Close()
}
