// Package callcore provides encrypted one-to-one voice and video calling.
//
// A Client ties the pieces together: the signaling transport that reaches
// peers through a relay, the call manager that drives session lifecycle,
// WebRTC media transports created per call, per-frame payload encryption,
// and adaptive bitrate control. Applications supply an AuthProvider for
// relay credentials and push encoded media samples into the session's local
// tracks.
//
// Basic usage:
//
//	client, err := callcore.New(&callcore.Options{
//		RelayURL: "wss://relay.example.com/ws",
//		Auth:     myAuthProvider,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnIncomingCall(func(s *call.Session) {
//		client.AnswerCall(ctx, s.ID())
//	})
//
//	session, err := client.InitiateCall(ctx, "bob", call.MediaAudio)
package callcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/rtc"
	"github.com/opd-ai/callcore/signaling"
)

// AuthProvider supplies relay credentials. The library never issues or
// validates tokens itself.
type AuthProvider interface {
	// GetCurrentUserID returns the local user's identity.
	GetCurrentUserID() (string, error)

	// GetToken returns a fresh bearer token for the relay.
	GetToken(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	// RelayURL is the signaling relay WebSocket endpoint. Required unless
	// Signaling is supplied.
	RelayURL string

	// Auth supplies relay credentials. Required.
	Auth AuthProvider

	// Signaling overrides the signaling transport configuration. Optional;
	// defaults derive from RelayURL.
	Signaling *signaling.Config

	// RTC overrides the WebRTC peer configuration. Optional.
	RTC *rtc.Config

	// FramePolicy selects how frame encryption failures are handled
	// (default: fail-open).
	FramePolicy framecrypt.Policy
}

// Client is the top-level calling client.
type Client struct {
	auth      AuthProvider
	transport *signaling.Transport
	manager   *call.Manager
	devices   *rtc.Devices
}

// New creates a client from the given options. The client is offline until
// Connect is called.
func New(opts *Options) (*Client, error) {
	if opts == nil || opts.Auth == nil {
		return nil, errors.New("auth provider is required")
	}

	sigConfig := opts.Signaling
	if sigConfig == nil {
		if opts.RelayURL == "" {
			return nil, errors.New("relay URL is required")
		}
		sigConfig = signaling.DefaultConfig(opts.RelayURL)
	}
	transport := signaling.NewTransport(sigConfig)

	rtcConfig := opts.RTC
	if rtcConfig == nil {
		rtcConfig = rtc.DefaultConfig()
	}

	devices := rtc.NewDevices()
	factory := func(initiator bool) (call.MediaTransport, error) {
		return rtc.NewPeer(initiator, rtcConfig)
	}

	managerConfig := call.DefaultConfig(transport, devices, factory)
	managerConfig.FramePolicy = opts.FramePolicy
	manager, err := call.NewManager(managerConfig)
	if err != nil {
		return nil, err
	}

	c := &Client{
		auth:      opts.Auth,
		transport: transport,
		manager:   manager,
		devices:   devices,
	}

	// Route sealed frames through the session pipeline once a call reaches
	// the connected state, and route inbound tracks through it as they
	// arrive.
	manager.OnStateChange(func(session *call.Session, state call.State) {
		if state == call.StateConnected {
			c.wireFrameEncryption(session)
		}
	})
	manager.OnRemoteTrack(func(session *call.Session, track call.RemoteTrack) {
		c.wireFrameDecryption(session, track)
	})

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"relay_url": sigConfig.URL,
	}).Debug("Call client created")
	return c, nil
}

// wireFrameEncryption installs the session pipeline's outgoing transform on
// the session's local tracks. The pipeline is resolved per frame so rekeys
// from the key handshake take effect immediately.
func (c *Client) wireFrameEncryption(session *call.Session) {
	transform := func(payload []byte) []byte {
		if pipeline := session.Pipeline(); pipeline != nil {
			return pipeline.TransformOutgoing(payload)
		}
		return payload
	}

	for _, track := range []call.Track{session.AudioTrack(), session.VideoTrack()} {
		if local, ok := track.(*rtc.LocalTrack); ok {
			local.SetFrameTransform(transform)
		}
	}
}

// wireFrameDecryption installs the session pipeline's incoming transform on
// an inbound track, so frames read from it arrive decrypted. As with the
// outgoing side, the pipeline is resolved per frame.
func (c *Client) wireFrameDecryption(session *call.Session, track call.RemoteTrack) {
	remote, ok := track.(*rtc.RemoteTrack)
	if !ok {
		return
	}
	remote.SetFrameTransform(func(frame []byte) []byte {
		if pipeline := session.Pipeline(); pipeline != nil {
			return pipeline.TransformIncoming(frame)
		}
		return frame
	})
}

// Connect fetches credentials from the auth provider and opens the relay
// connection.
func (c *Client) Connect(ctx context.Context) error {
	userID, err := c.auth.GetCurrentUserID()
	if err != nil {
		return fmt.Errorf("failed to resolve local user: %w", err)
	}
	token, err := c.auth.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain relay token: %w", err)
	}

	return c.transport.Connect(ctx, signaling.Credentials{UserID: userID, Token: token})
}

// Close ends any active call and disconnects from the relay. The client
// cannot be reused.
func (c *Client) Close() {
	c.manager.Close()
	c.transport.Disconnect()
}

// InitiateCall places an outgoing call to the given user.
func (c *Client) InitiateCall(ctx context.Context, remoteUserID string, kind call.MediaKind) (*call.Session, error) {
	return c.manager.InitiateCall(ctx, remoteUserID, kind)
}

// AnswerCall accepts the ringing incoming call with the given id.
func (c *Client) AnswerCall(ctx context.Context, callID string) error {
	return c.manager.AnswerCall(ctx, callID)
}

// RejectCall declines the ringing incoming call with the given id.
func (c *Client) RejectCall(callID string) error {
	return c.manager.RejectCall(callID)
}

// EndCall hangs up the call with the given party. A no-op when no such call
// exists.
func (c *Client) EndCall(remoteUserID string) error {
	return c.manager.EndCall(remoteUserID)
}

// ToggleAudio flips the microphone mute state on the call with the given
// party and returns the new enabled state.
func (c *Client) ToggleAudio(remoteUserID string) (bool, error) {
	return c.manager.ToggleAudio(remoteUserID)
}

// ToggleVideo flips the camera state on the call with the given party and
// returns the new enabled state.
func (c *Client) ToggleVideo(remoteUserID string) (bool, error) {
	return c.manager.ToggleVideo(remoteUserID)
}

// CallStatus returns a snapshot of the call with the given party.
func (c *Client) CallStatus(remoteUserID string) (call.Info, error) {
	return c.manager.GetCallStatus(remoteUserID)
}

// OnIncomingCall subscribes to ringing inbound calls.
func (c *Client) OnIncomingCall(h call.IncomingCallHandler) func() {
	return c.manager.OnIncomingCall(h)
}

// OnCallStateChange subscribes to session state transitions.
func (c *Client) OnCallStateChange(h call.StateChangeHandler) func() {
	return c.manager.OnStateChange(h)
}

// OnCallEnded subscribes to terminal session notifications.
func (c *Client) OnCallEnded(h call.EndedHandler) func() {
	return c.manager.OnCallEnded(h)
}

// OnCallError subscribes to asynchronous call errors.
func (c *Client) OnCallError(h call.ErrorHandler) func() {
	return c.manager.OnError(h)
}

// OnQualitySample subscribes to adaptive bitrate samples for the active
// call.
func (c *Client) OnQualitySample(h call.QualityHandler) func() {
	return c.manager.OnQualitySample(h)
}

// OnRemoteTrack subscribes to inbound media tracks. By the time a handler
// runs, the track already decrypts frames through the session pipeline;
// type-assert to *rtc.RemoteTrack and read frames with ReadFrame.
func (c *Client) OnRemoteTrack(h call.RemoteTrackHandler) func() {
	return c.manager.OnRemoteTrack(h)
}

// OnConnectionChange subscribes to relay connection transitions.
func (c *Client) OnConnectionChange(h signaling.ConnectionHandler) func() {
	return c.transport.OnConnectionChange(h)
}

// OnSignalingError subscribes to terminal relay errors, such as giving up
// after exhausting reconnection attempts.
func (c *Client) OnSignalingError(h signaling.ErrorHandler) func() {
	return c.transport.OnError(h)
}

// Signaling returns the underlying relay transport.
func (c *Client) Signaling() *signaling.Transport {
	return c.transport
}

// Manager returns the underlying call manager.
func (c *Client) Manager() *call.Manager {
	return c.manager
}

// QualityTier re-exports the bitrate tier type for convenience.
type QualityTier = bitrate.Tier
