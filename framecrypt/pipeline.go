package framecrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// Policy selects how the pipeline treats per-frame crypto failures.
type Policy int

const (
	// PolicyFailOpen passes a frame through unmodified when sealing or
	// opening fails. This preserves the original system's behavior: a
	// corrupt frame degrades to a garbled (or plaintext) frame instead of a
	// gap in the media stream.
	PolicyFailOpen Policy = iota

	// PolicyFailClosed drops frames that cannot be sealed or opened.
	PolicyFailClosed
)

// String returns the string representation of Policy.
func (p Policy) String() string {
	switch p {
	case PolicyFailOpen:
		return "fail-open"
	case PolicyFailClosed:
		return "fail-closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Stats reports pipeline frame counters.
type Stats struct {
	FramesSealed   uint64
	FramesOpened   uint64
	SealFailures   uint64
	OpenFailures   uint64
	FramesDropped  uint64
	FramesPassedUp uint64 // frames passed through unmodified under fail-open
}

// Pipeline seals outgoing media frames and opens incoming ones under one
// session key. Safe for concurrent use from the audio and video paths.
type Pipeline struct {
	mu     sync.RWMutex
	aead   cipher.AEAD
	policy Policy

	framesSealed   atomic.Uint64
	framesOpened   atomic.Uint64
	sealFailures   atomic.Uint64
	openFailures   atomic.Uint64
	framesDropped  atomic.Uint64
	framesPassedUp atomic.Uint64
}

// NewPipeline creates a frame encryption pipeline keyed with the given
// session key.
func NewPipeline(key Key, policy Policy) (*Pipeline, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize frame cipher: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPipeline",
		"policy":   policy.String(),
	}).Debug("Frame encryption pipeline created")

	return &Pipeline{
		aead:   aead,
		policy: policy,
	}, nil
}

// Rekey replaces the pipeline's session key. Used when the Noise key
// handshake completes and both parties converge on the shared media key.
func (p *Pipeline) Rekey(key Key) error {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return fmt.Errorf("failed to rekey frame cipher: %w", err)
	}

	p.mu.Lock()
	p.aead = aead
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Rekey",
	}).Debug("Frame encryption pipeline rekeyed")
	return nil
}

// SealFrame encrypts one frame payload, returning nonce || ciphertext.
// A fresh random nonce is generated per frame, so sealing the same payload
// twice yields different outputs.
func (p *Pipeline) SealFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}

	p.mu.RLock()
	aead := p.aead
	p.mu.RUnlock()
	if aead == nil {
		return nil, ErrPipelineClosed
	}

	out := make([]byte, NonceSize, NonceSize+len(payload)+aead.Overhead())
	if _, err := rand.Read(out[:NonceSize]); err != nil {
		return nil, fmt.Errorf("failed to generate frame nonce: %w", err)
	}

	out = aead.Seal(out, out[:NonceSize], payload, nil)
	p.framesSealed.Add(1)
	return out, nil
}

// OpenFrame decrypts one inbound frame of the form nonce || ciphertext and
// returns the plaintext payload.
func (p *Pipeline) OpenFrame(frame []byte) ([]byte, error) {
	if len(frame) < NonceSize {
		return nil, ErrFrameTooShort
	}

	p.mu.RLock()
	aead := p.aead
	p.mu.RUnlock()
	if aead == nil {
		return nil, ErrPipelineClosed
	}

	plaintext, err := aead.Open(nil, frame[:NonceSize], frame[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}

	p.framesOpened.Add(1)
	return plaintext, nil
}

// TransformOutgoing applies the pipeline to an outgoing frame payload under
// the configured failure policy. The returned slice replaces the frame
// payload; a nil return means the frame must be dropped (fail-closed only).
func (p *Pipeline) TransformOutgoing(payload []byte) []byte {
	sealed, err := p.SealFrame(payload)
	if err == nil {
		return sealed
	}

	p.sealFailures.Add(1)
	logrus.WithFields(logrus.Fields{
		"function":   "TransformOutgoing",
		"error":      err.Error(),
		"policy":     p.policy.String(),
		"frame_size": len(payload),
	}).Warn("Frame seal failed")

	if p.policy == PolicyFailClosed {
		p.framesDropped.Add(1)
		return nil
	}
	p.framesPassedUp.Add(1)
	return payload
}

// TransformIncoming applies the pipeline to an incoming frame payload under
// the configured failure policy. The returned slice replaces the frame
// payload before it reaches the decoder; a nil return means the frame must
// be dropped (fail-closed only).
func (p *Pipeline) TransformIncoming(frame []byte) []byte {
	plaintext, err := p.OpenFrame(frame)
	if err == nil {
		return plaintext
	}

	p.openFailures.Add(1)
	logrus.WithFields(logrus.Fields{
		"function":   "TransformIncoming",
		"error":      err.Error(),
		"policy":     p.policy.String(),
		"frame_size": len(frame),
	}).Warn("Frame open failed")

	if p.policy == PolicyFailClosed {
		p.framesDropped.Add(1)
		return nil
	}
	p.framesPassedUp.Add(1)
	return frame
}

// Policy returns the configured failure policy.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// GetStats returns a snapshot of the pipeline's frame counters.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		FramesSealed:   p.framesSealed.Load(),
		FramesOpened:   p.framesOpened.Load(),
		SealFailures:   p.sealFailures.Load(),
		OpenFailures:   p.openFailures.Load(),
		FramesDropped:  p.framesDropped.Load(),
		FramesPassedUp: p.framesPassedUp.Load(),
	}
}

// Close discards the pipeline's cipher so no further frames can be sealed
// or opened. Called when the owning session reaches its terminal state.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.aead = nil
	p.mu.Unlock()
}
