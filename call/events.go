package call

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/bitrate"
)

// IncomingCallHandler receives newly ringing inbound sessions.
type IncomingCallHandler func(session *Session)

// StateChangeHandler receives session lifecycle transitions.
type StateChangeHandler func(session *Session, state State)

// EndedHandler receives terminal session notifications with the reason.
type EndedHandler func(session *Session, reason EndReason)

// ErrorHandler receives asynchronous call errors, such as a transport
// failure that forces a session to end.
type ErrorHandler func(session *Session, err error)

// QualityHandler receives adaptive bitrate samples for the active session.
type QualityHandler func(session *Session, sample bitrate.Sample)

// RemoteTrackHandler receives inbound media tracks as they arrive on a
// session's transport.
type RemoteTrackHandler func(session *Session, track RemoteTrack)

// events is the manager's subscriber registry. Callbacks run synchronously
// on the emitting goroutine and are isolated from panics.
type events struct {
	mu       sync.RWMutex
	nextID   uint64
	incoming map[uint64]IncomingCallHandler
	state    map[uint64]StateChangeHandler
	ended    map[uint64]EndedHandler
	errs     map[uint64]ErrorHandler
	quality  map[uint64]QualityHandler
	remote   map[uint64]RemoteTrackHandler
}

func newEvents() *events {
	return &events{
		incoming: make(map[uint64]IncomingCallHandler),
		state:    make(map[uint64]StateChangeHandler),
		ended:    make(map[uint64]EndedHandler),
		errs:     make(map[uint64]ErrorHandler),
		quality:  make(map[uint64]QualityHandler),
		remote:   make(map[uint64]RemoteTrackHandler),
	}
}

func (e *events) subscribe(register func(id uint64), unregister func(id uint64)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	register(id)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		unregister(id)
		e.mu.Unlock()
	}
}

func (e *events) emitIncoming(s *Session) {
	e.mu.RLock()
	subs := make([]IncomingCallHandler, 0, len(e.incoming))
	for _, h := range e.incoming {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("incomingCall", func() { h(s) })
	}
}

func (e *events) emitState(s *Session, state State) {
	e.mu.RLock()
	subs := make([]StateChangeHandler, 0, len(e.state))
	for _, h := range e.state {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("stateChange", func() { h(s, state) })
	}
}

func (e *events) emitEnded(s *Session, reason EndReason) {
	e.mu.RLock()
	subs := make([]EndedHandler, 0, len(e.ended))
	for _, h := range e.ended {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("callEnded", func() { h(s, reason) })
	}
}

func (e *events) emitError(s *Session, err error) {
	e.mu.RLock()
	subs := make([]ErrorHandler, 0, len(e.errs))
	for _, h := range e.errs {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("callError", func() { h(s, err) })
	}
}

func (e *events) emitQuality(s *Session, sample bitrate.Sample) {
	e.mu.RLock()
	subs := make([]QualityHandler, 0, len(e.quality))
	for _, h := range e.quality {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("qualitySample", func() { h(s, sample) })
	}
}

// emitRemoteTrack runs handlers in subscription order: the frame decryption
// hook subscribes before any application handler and must see the track
// first.
func (e *events) emitRemoteTrack(s *Session, track RemoteTrack) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.remote))
	for id := range e.remote {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]RemoteTrackHandler, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, e.remote[id])
	}
	e.mu.RUnlock()
	for _, h := range subs {
		safeEmit("remoteTrack", func() { h(s, track) })
	}
}

// safeEmit runs one subscriber callback, recovering and logging any panic so
// a misbehaving subscriber cannot take down the manager's goroutines.
func safeEmit(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "safeEmit",
				"event":    event,
				"panic":    r,
			}).Error("Recovered panic in event subscriber")
		}
	}()
	fn()
}
