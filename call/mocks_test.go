package call

import (
	"context"
	"sync"

	"github.com/opd-ai/callcore/bitrate"
	"github.com/opd-ai/callcore/framecrypt"
	"github.com/opd-ai/callcore/signaling"
)

// mockTrack implements Track with counted stops.
type mockTrack struct {
	id   string
	kind string

	mu      sync.Mutex
	enabled bool
	stops   int
}

func newMockTrack(id, kind string) *mockTrack {
	return &mockTrack{id: id, kind: kind, enabled: true}
}

func (t *mockTrack) ID() string   { return t.id }
func (t *mockTrack) Kind() string { return t.kind }

func (t *mockTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *mockTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *mockTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *mockTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// mockMedia implements LocalMedia over mock tracks.
type mockMedia struct {
	audio *mockTrack
	video *mockTrack

	mu     sync.Mutex
	closes int
}

func (m *mockMedia) AudioTrack() Track {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

func (m *mockMedia) VideoTrack() Track {
	if m.video == nil {
		return nil
	}
	return m.video
}

func (m *mockMedia) Close() {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	m.audio.Stop()
	if m.video != nil {
		m.video.Stop()
	}
}

func (m *mockMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// mockDevices implements MediaDevices with an optional injected failure.
type mockDevices struct {
	mu       sync.Mutex
	err      error
	acquired []*mockMedia
}

func (d *mockDevices) GetUserMedia(kind MediaKind) (LocalMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	media := &mockMedia{audio: newMockTrack("a1", "audio")}
	if kind.HasVideo() {
		media.video = newMockTrack("v1", "video")
	}
	d.acquired = append(d.acquired, media)
	return media, nil
}

func (d *mockDevices) setError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *mockDevices) lastMedia() *mockMedia {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.acquired) == 0 {
		return nil
	}
	return d.acquired[len(d.acquired)-1]
}

// mockTransport implements MediaTransport with recorded interactions and
// manually fireable callbacks.
type mockTransport struct {
	initiator bool

	mu          sync.Mutex
	attached    LocalMedia
	remoteDesc  *signaling.DescriptionPayload
	candidates  []signaling.CandidatePayload
	startedKey  *framecrypt.Key
	closeCalls  int
	limits      map[bitrate.StreamKind]int
	offerErr    error
	answerErr   error
	remoteErr   error
	statsResult bitrate.Stats
	statsErr    error

	onLocalCandidate  func(signaling.CandidatePayload)
	onConnectionState func(TransportState)
	onRemoteTrack     func(RemoteTrack)
	onSessionKey      func(framecrypt.Key)
}

func newMockTransport(initiator bool) *mockTransport {
	return &mockTransport{
		initiator: initiator,
		limits:    make(map[bitrate.StreamKind]int),
	}
}

func (m *mockTransport) AttachMedia(media LocalMedia) error {
	m.mu.Lock()
	m.attached = media
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) CreateOffer(ctx context.Context) (signaling.DescriptionPayload, error) {
	if m.offerErr != nil {
		return signaling.DescriptionPayload{}, m.offerErr
	}
	return signaling.DescriptionPayload{Type: "offer", SDP: "v=0 mock offer"}, nil
}

func (m *mockTransport) CreateAnswer(ctx context.Context) (signaling.DescriptionPayload, error) {
	if m.answerErr != nil {
		return signaling.DescriptionPayload{}, m.answerErr
	}
	return signaling.DescriptionPayload{Type: "answer", SDP: "v=0 mock answer"}, nil
}

func (m *mockTransport) SetRemoteDescription(desc signaling.DescriptionPayload) error {
	if m.remoteErr != nil {
		return m.remoteErr
	}
	m.mu.Lock()
	m.remoteDesc = &desc
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) AddRemoteCandidate(cand signaling.CandidatePayload) error {
	m.mu.Lock()
	m.candidates = append(m.candidates, cand)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) OnLocalCandidate(fn func(signaling.CandidatePayload)) {
	m.mu.Lock()
	m.onLocalCandidate = fn
	m.mu.Unlock()
}

func (m *mockTransport) OnConnectionState(fn func(TransportState)) {
	m.mu.Lock()
	m.onConnectionState = fn
	m.mu.Unlock()
}

func (m *mockTransport) OnRemoteTrack(fn func(RemoteTrack)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

func (m *mockTransport) StartKeyExchange(key framecrypt.Key) error {
	m.mu.Lock()
	k := key
	m.startedKey = &k
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) OnSessionKey(fn func(framecrypt.Key)) {
	m.mu.Lock()
	m.onSessionKey = fn
	m.mu.Unlock()
}

func (m *mockTransport) ReadStats() (bitrate.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsResult, m.statsErr
}

func (m *mockTransport) SetBitrateLimit(stream bitrate.StreamKind, kbps int) error {
	m.mu.Lock()
	m.limits[stream] = kbps
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) fireConnected() {
	m.mu.Lock()
	fn := m.onConnectionState
	m.mu.Unlock()
	if fn != nil {
		fn(TransportConnected)
	}
}

func (m *mockTransport) fireFailed() {
	m.mu.Lock()
	fn := m.onConnectionState
	m.mu.Unlock()
	if fn != nil {
		fn(TransportFailed)
	}
}

func (m *mockTransport) fireRemoteTrack(track RemoteTrack) {
	m.mu.Lock()
	fn := m.onRemoteTrack
	m.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (m *mockTransport) deliverKey(key framecrypt.Key) {
	m.mu.Lock()
	fn := m.onSessionKey
	m.mu.Unlock()
	if fn != nil {
		fn(key)
	}
}

func (m *mockTransport) remoteDescription() *signaling.DescriptionPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteDesc
}

func (m *mockTransport) startedExchangeKey() *framecrypt.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedKey
}

func (m *mockTransport) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *mockTransport) remoteCandidates() []signaling.CandidatePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]signaling.CandidatePayload, len(m.candidates))
	copy(out, m.candidates)
	return out
}

// mockRemoteTrack implements RemoteTrack.
type mockRemoteTrack struct {
	id   string
	kind string
}

func (t *mockRemoteTrack) ID() string   { return t.id }
func (t *mockRemoteTrack) Kind() string { return t.kind }

// mockFactory hands out mock transports and records them.
type mockFactory struct {
	mu      sync.Mutex
	err     error
	created []*mockTransport
}

func (f *mockFactory) create(initiator bool) (MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := newMockTransport(initiator)
	f.created = append(f.created, t)
	return t, nil
}

func (f *mockFactory) last() *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
