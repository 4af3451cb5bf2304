package rtc

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/framecrypt"
)

// stubRemoteTrack builds a RemoteTrack fed from a fixed frame sequence,
// ending with io.EOF.
func stubRemoteTrack(frames ...[]byte) *RemoteTrack {
	i := 0
	return &RemoteTrack{
		id:   "remote-1",
		kind: "audio",
		read: func() ([]byte, error) {
			if i >= len(frames) {
				return nil, io.EOF
			}
			frame := frames[i]
			i++
			return frame, nil
		},
	}
}

func TestGetUserMediaAudioOnly(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaAudio)
	require.NoError(t, err)
	defer media.Close()

	require.NotNil(t, media.AudioTrack())
	assert.Equal(t, "audio", media.AudioTrack().Kind())
	assert.Nil(t, media.VideoTrack())

	local, ok := media.(*LocalMedia)
	require.True(t, ok)
	assert.Len(t, local.RTPTracks(), 1)
}

func TestGetUserMediaVideo(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaVideo)
	require.NoError(t, err)
	defer media.Close()

	require.NotNil(t, media.AudioTrack())
	require.NotNil(t, media.VideoTrack())
	assert.Equal(t, "video", media.VideoTrack().Kind())

	local, ok := media.(*LocalMedia)
	require.True(t, ok)
	assert.Len(t, local.RTPTracks(), 2)
}

func TestTrackMuteSemantics(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaAudio)
	require.NoError(t, err)
	defer media.Close()

	track := media.AudioTrack()
	assert.True(t, track.Enabled(), "tracks start enabled")

	track.SetEnabled(false)
	assert.False(t, track.Enabled())
	track.SetEnabled(true)
	assert.True(t, track.Enabled())
}

func TestWriteSampleDropsWhenMutedOrStopped(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaAudio)
	require.NoError(t, err)

	local := media.(*LocalMedia)
	track := local.Audio()

	track.SetEnabled(false)
	assert.NoError(t, track.WriteSample([]byte("sample"), 20*time.Millisecond))

	track.SetEnabled(true)
	track.Stop()
	assert.NoError(t, track.WriteSample([]byte("sample"), 20*time.Millisecond))
}

func TestFrameTransformAppliesAndDrops(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaAudio)
	require.NoError(t, err)
	defer media.Close()

	track := media.(*LocalMedia).Audio()

	var seen []byte
	track.SetFrameTransform(func(payload []byte) []byte {
		seen = payload
		return nil // drop everything
	})

	require.NoError(t, track.WriteSample([]byte("frame"), 20*time.Millisecond))
	assert.Equal(t, []byte("frame"), seen, "transform sees the raw payload")
}

func TestLocalMediaCloseStopsTracks(t *testing.T) {
	media, err := NewDevices().GetUserMedia(call.MediaVideo)
	require.NoError(t, err)

	local := media.(*LocalMedia)
	media.Close()
	media.Close() // idempotent

	assert.NoError(t, local.Audio().WriteSample([]byte("late"), 20*time.Millisecond),
		"writes after close are dropped, not errors")
}

func TestRemoteTrackReadWithoutTransform(t *testing.T) {
	track := stubRemoteTrack([]byte("one"), []byte("two"))

	assert.Equal(t, "remote-1", track.ID())
	assert.Equal(t, "audio", track.Kind())

	frame, err := track.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), frame)

	frame, err = track.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), frame)

	_, err = track.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRemoteTrackTransformSkipsDroppedFrames(t *testing.T) {
	track := stubRemoteTrack([]byte("bad"), []byte("good"))
	track.SetFrameTransform(func(payload []byte) []byte {
		if string(payload) == "bad" {
			return nil
		}
		return payload
	})

	frame, err := track.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), frame, "dropped frames are skipped, not returned")
}

func TestRemoteTrackReadErrorPropagates(t *testing.T) {
	readErr := errors.New("track ended")
	track := &RemoteTrack{
		id:   "remote-1",
		kind: "audio",
		read: func() ([]byte, error) { return nil, readErr },
	}

	_, err := track.ReadFrame()
	assert.ErrorIs(t, err, readErr)
}

func TestRemoteTrackDecryptsSealedFrames(t *testing.T) {
	key, err := framecrypt.GenerateKey()
	require.NoError(t, err)
	sender, err := framecrypt.NewPipeline(key, framecrypt.PolicyFailClosed)
	require.NoError(t, err)
	receiver, err := framecrypt.NewPipeline(key, framecrypt.PolicyFailClosed)
	require.NoError(t, err)

	plaintext := []byte("encoded opus frame")
	sealed, err := sender.SealFrame(plaintext)
	require.NoError(t, err)

	// A tampered frame fails to open; fail-closed drops it and ReadFrame
	// moves on to the intact one.
	garbled := append([]byte(nil), sealed...)
	garbled[len(garbled)-1] ^= 0xff

	track := stubRemoteTrack(garbled, sealed)
	track.SetFrameTransform(receiver.TransformIncoming)

	frame, err := track.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, plaintext, frame)
}
