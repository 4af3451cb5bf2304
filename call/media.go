package call

// MediaKind selects the media composition of a call.
type MediaKind string

const (
	// MediaAudio is a voice-only call.
	MediaAudio MediaKind = "audio"
	// MediaVideo is a call carrying both audio and video.
	MediaVideo MediaKind = "video"
)

// Valid reports whether the media kind is one of the supported values.
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// HasVideo reports whether the kind includes a video stream.
func (k MediaKind) HasVideo() bool {
	return k == MediaVideo
}

// Track is one local capture track attached to a session. Disabling a track
// keeps it negotiated but silences its output, matching mute semantics.
type Track interface {
	ID() string
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// LocalMedia bundles the capture tracks acquired for one call. VideoTrack
// returns nil for audio-only captures. Close stops every track and releases
// the underlying devices.
type LocalMedia interface {
	AudioTrack() Track
	VideoTrack() Track
	Close()
}

// MediaDevices acquires local capture media. Implementations classify
// acquisition failures into ErrMediaAccessDenied, ErrMediaDeviceNotFound, or
// ErrMediaDeviceBusy so the manager can surface them distinctly.
type MediaDevices interface {
	GetUserMedia(kind MediaKind) (LocalMedia, error)
}
