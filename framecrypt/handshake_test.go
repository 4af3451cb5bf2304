package framecrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyExchangeDeliversSessionKey(t *testing.T) {
	initiator, err := NewInitiatorHandshake()
	require.NoError(t, err)
	responder, err := NewResponderHandshake()
	require.NoError(t, err)

	sessionKey, err := GenerateKey()
	require.NoError(t, err)

	hello, err := initiator.Hello()
	require.NoError(t, err)

	reply, err := responder.Accept(hello)
	require.NoError(t, err)
	assert.True(t, responder.Completed())

	sealed, err := initiator.SealKey(reply, sessionKey)
	require.NoError(t, err)
	assert.True(t, initiator.Completed())

	received, err := responder.OpenKey(sealed)
	require.NoError(t, err)
	assert.Equal(t, sessionKey, received, "responder should receive the initiator's key")
}

func TestKeyExchangeSealedKeyIsNotPlaintext(t *testing.T) {
	initiator, err := NewInitiatorHandshake()
	require.NoError(t, err)
	responder, err := NewResponderHandshake()
	require.NoError(t, err)

	sessionKey, err := GenerateKey()
	require.NoError(t, err)

	hello, err := initiator.Hello()
	require.NoError(t, err)
	reply, err := responder.Accept(hello)
	require.NoError(t, err)
	sealed, err := initiator.SealKey(reply, sessionKey)
	require.NoError(t, err)

	assert.NotContains(t, string(sealed), string(sessionKey[:]))
	assert.Greater(t, len(sealed), KeySize, "sealed key carries an auth tag")
}

func TestHandshakeRoleMisuse(t *testing.T) {
	t.Run("responder cannot send hello", func(t *testing.T) {
		responder, err := NewResponderHandshake()
		require.NoError(t, err)

		_, err = responder.Hello()
		assert.ErrorIs(t, err, ErrHandshakeState)
	})

	t.Run("initiator cannot accept", func(t *testing.T) {
		initiator, err := NewInitiatorHandshake()
		require.NoError(t, err)

		_, err = initiator.Accept([]byte{0x01})
		assert.ErrorIs(t, err, ErrHandshakeState)
	})

	t.Run("open before accept fails", func(t *testing.T) {
		responder, err := NewResponderHandshake()
		require.NoError(t, err)

		_, err = responder.OpenKey([]byte{0x01})
		assert.ErrorIs(t, err, ErrHandshakeState)
	})
}

func TestKeyExchangeRejectsTamperedKeyMessage(t *testing.T) {
	initiator, err := NewInitiatorHandshake()
	require.NoError(t, err)
	responder, err := NewResponderHandshake()
	require.NoError(t, err)

	sessionKey, err := GenerateKey()
	require.NoError(t, err)

	hello, err := initiator.Hello()
	require.NoError(t, err)
	reply, err := responder.Accept(hello)
	require.NoError(t, err)
	sealed, err := initiator.SealKey(reply, sessionKey)
	require.NoError(t, err)

	sealed[0] ^= 0xff
	_, err = responder.OpenKey(sealed)
	assert.Error(t, err)
}
