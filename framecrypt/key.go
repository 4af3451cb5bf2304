package framecrypt

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the session key length in bytes (256-bit AEAD key).
const KeySize = chacha20poly1305.KeySize

// NonceSize is the per-frame nonce length in bytes (96 bits).
const NonceSize = chacha20poly1305.NonceSize

// Key is a symmetric session media key. One is generated fresh for every
// call session, never persisted and never sent over the signaling channel.
type Key [KeySize]byte

// GenerateKey creates a cryptographically secure random session key.
func GenerateKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

// Wipe overwrites the key material with zeros. Called when the owning
// session reaches its terminal state.
func (k *Key) Wipe() {
	for i := range k {
		k[i] = 0
	}
}
