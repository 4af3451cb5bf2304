package framecrypt

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// Handshake runs the Noise NN key agreement used to deliver the caller's
// session media key to the callee over the direct control channel.
//
// The exchange is three messages on the wire:
//
//	initiator -> responder: Hello()
//	responder -> initiator: Accept(hello)
//	initiator -> responder: SealKey(accept, key); responder calls OpenKey
//
// The ephemeral-ephemeral DH of the NN pattern means the key message is
// encrypted under a secret only the two live endpoints share; the signaling
// relay never sees key material.
type Handshake struct {
	hs        *noise.HandshakeState
	initiator bool

	// Transport ciphers, valid once the two handshake messages are done.
	// sendCS carries initiator-to-responder traffic on both sides.
	sendCS *noise.CipherState
	recvCS *noise.CipherState
}

func newHandshake(initiator bool) (*Handshake, error) {
	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: suite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{hs: hs, initiator: initiator}, nil
}

// NewInitiatorHandshake creates the caller's side of the key agreement.
func NewInitiatorHandshake() (*Handshake, error) {
	return newHandshake(true)
}

// NewResponderHandshake creates the callee's side of the key agreement.
func NewResponderHandshake() (*Handshake, error) {
	return newHandshake(false)
}

// Hello produces the initiator's opening handshake message.
func (h *Handshake) Hello() ([]byte, error) {
	if !h.initiator || h.sendCS != nil {
		return nil, ErrHandshakeState
	}

	msg, _, _, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to write handshake hello: %w", err)
	}
	return msg, nil
}

// Accept processes the initiator's hello on the responder side and produces
// the reply. After Accept the responder is ready for OpenKey.
func (h *Handshake) Accept(hello []byte) ([]byte, error) {
	if h.initiator || h.sendCS != nil {
		return nil, ErrHandshakeState
	}

	if _, _, _, err := h.hs.ReadMessage(nil, hello); err != nil {
		return nil, fmt.Errorf("failed to read handshake hello: %w", err)
	}

	reply, cs1, cs2, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to write handshake reply: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, ErrHandshakeState
	}

	h.sendCS = cs1
	h.recvCS = cs2

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
	}).Debug("Key handshake established on responder side")
	return reply, nil
}

// SealKey processes the responder's reply on the initiator side and returns
// the session key encrypted for the responder.
func (h *Handshake) SealKey(reply []byte, key Key) ([]byte, error) {
	if !h.initiator || h.sendCS != nil {
		return nil, ErrHandshakeState
	}

	_, cs1, cs2, err := h.hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, ErrHandshakeState
	}

	h.sendCS = cs1
	h.recvCS = cs2

	sealed, err := h.sendCS.Encrypt(nil, nil, key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SealKey",
	}).Debug("Session key sealed for peer")
	return sealed, nil
}

// OpenKey decrypts the initiator's key message on the responder side and
// returns the agreed session media key.
func (h *Handshake) OpenKey(sealed []byte) (Key, error) {
	if h.initiator || h.sendCS == nil {
		return Key{}, ErrHandshakeState
	}

	plaintext, err := h.sendCS.Decrypt(nil, nil, sealed)
	if err != nil {
		return Key{}, fmt.Errorf("failed to open session key: %w", err)
	}
	if len(plaintext) != KeySize {
		return Key{}, fmt.Errorf("unexpected session key length %d", len(plaintext))
	}

	var key Key
	copy(key[:], plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenKey",
	}).Debug("Session key received from peer")
	return key, nil
}

// Completed reports whether the two-message handshake has finished.
func (h *Handshake) Completed() bool {
	return h.sendCS != nil
}
