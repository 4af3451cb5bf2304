package rtc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/call"
)

// RTPTrackProvider is implemented by local media bundles whose tracks can be
// sent over a pion peer connection.
type RTPTrackProvider interface {
	RTPTracks() []webrtc.TrackLocal
}

// FrameTransform rewrites an outgoing frame payload before it is written to
// the track. Returning nil drops the frame. The frame encryption pipeline's
// outgoing transform plugs in here.
type FrameTransform func(payload []byte) []byte

// LocalTrack is one sendable capture track. The application pushes encoded
// samples into it; disabling the track silences output without renegotiating.
type LocalTrack struct {
	rtp  *webrtc.TrackLocalStaticSample
	kind string

	enabled atomic.Bool
	stopped atomic.Bool

	mu        sync.Mutex
	transform FrameTransform
}

func newLocalTrack(capability webrtc.RTPCodecCapability, kind, streamID string) (*LocalTrack, error) {
	rtp, err := webrtc.NewTrackLocalStaticSample(capability, uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}

	t := &LocalTrack{rtp: rtp, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

// ID returns the track identifier.
func (t *LocalTrack) ID() string { return t.rtp.ID() }

// Kind returns "audio" or "video".
func (t *LocalTrack) Kind() string { return t.kind }

// Enabled reports whether the track is currently producing output.
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes or unmutes the track. A disabled track stays negotiated;
// samples written to it are dropped.
func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop permanently stops the track.
func (t *LocalTrack) Stop() { t.stopped.Store(true) }

// SetFrameTransform installs the per-frame payload transform. The call
// client wires the session's frame encryption pipeline through this.
func (t *LocalTrack) SetFrameTransform(fn FrameTransform) {
	t.mu.Lock()
	t.transform = fn
	t.mu.Unlock()
}

// WriteSample pushes one encoded media sample into the track. Muted and
// stopped tracks drop the sample; a transform returning nil drops it too.
func (t *LocalTrack) WriteSample(payload []byte, duration time.Duration) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}

	t.mu.Lock()
	transform := t.transform
	t.mu.Unlock()
	if transform != nil {
		payload = transform(payload)
		if payload == nil {
			return nil
		}
	}

	return t.rtp.WriteSample(media.Sample{Data: payload, Duration: duration})
}

// RemoteTrack is one inbound media track from the remote party. The
// application reads decoded-payload frames from it; the call client wires the
// session's frame decryption pipeline through SetFrameTransform.
type RemoteTrack struct {
	id   string
	kind string

	// read pulls the next raw frame payload off the wire.
	read func() ([]byte, error)

	mu        sync.Mutex
	transform FrameTransform
}

func newRemoteTrack(track *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{
		id:   track.ID(),
		kind: track.Kind().String(),
		read: func() ([]byte, error) {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return nil, err
			}
			return pkt.Payload, nil
		},
	}
}

// ID returns the track identifier.
func (t *RemoteTrack) ID() string { return t.id }

// Kind returns "audio" or "video".
func (t *RemoteTrack) Kind() string { return t.kind }

// SetFrameTransform installs the per-frame payload transform applied to every
// received frame before ReadFrame returns it.
func (t *RemoteTrack) SetFrameTransform(fn FrameTransform) {
	t.mu.Lock()
	t.transform = fn
	t.mu.Unlock()
}

// ReadFrame blocks until the next frame payload arrives. Frames the transform
// drops are skipped; the read error is returned once the track ends.
func (t *RemoteTrack) ReadFrame() ([]byte, error) {
	for {
		payload, err := t.read()
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		transform := t.transform
		t.mu.Unlock()
		if transform != nil {
			payload = transform(payload)
			if payload == nil {
				continue
			}
		}
		return payload, nil
	}
}

// LocalMedia bundles the capture tracks for one call and satisfies both the
// call manager's media contract and the peer's RTP track provider.
type LocalMedia struct {
	audio *LocalTrack
	video *LocalTrack

	closeOnce sync.Once
}

// AudioTrack returns the audio track.
func (m *LocalMedia) AudioTrack() call.Track {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

// VideoTrack returns the video track, nil for audio-only media.
func (m *LocalMedia) VideoTrack() call.Track {
	if m.video == nil {
		return nil
	}
	return m.video
}

// Audio returns the concrete audio track for sample writing.
func (m *LocalMedia) Audio() *LocalTrack { return m.audio }

// Video returns the concrete video track for sample writing, nil for
// audio-only media.
func (m *LocalMedia) Video() *LocalTrack { return m.video }

// RTPTracks returns the pion tracks to add to the peer connection.
func (m *LocalMedia) RTPTracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{m.audio.rtp}
	if m.video != nil {
		tracks = append(tracks, m.video.rtp)
	}
	return tracks
}

// Close stops every track.
func (m *LocalMedia) Close() {
	m.closeOnce.Do(func() {
		m.audio.Stop()
		if m.video != nil {
			m.video.Stop()
		}
		logrus.WithFields(logrus.Fields{
			"function": "Close",
		}).Debug("Local media released")
	})
}

// Devices creates sendable local media tracks. The application feeds them
// encoded Opus and VP8 samples from its capture and encode path.
type Devices struct{}

// NewDevices returns a track-backed media devices provider.
func NewDevices() *Devices {
	return &Devices{}
}

// GetUserMedia creates the capture tracks for a call of the given kind.
func (d *Devices) GetUserMedia(kind call.MediaKind) (call.LocalMedia, error) {
	streamID := uuid.NewString()

	audio, err := newLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", streamID)
	if err != nil {
		return nil, err
	}

	m := &LocalMedia{audio: audio}

	if kind.HasVideo() {
		video, err := newLocalTrack(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", streamID)
		if err != nil {
			return nil, err
		}
		m.video = video
	}

	logrus.WithFields(logrus.Fields{
		"function":   "GetUserMedia",
		"media_kind": kind,
		"stream_id":  streamID,
	}).Debug("Local media tracks created")
	return m, nil
}
