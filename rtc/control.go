package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/framecrypt"
)

// wireControl installs the key exchange handlers on the control channel.
func (p *Peer) wireControl(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.control = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		logrus.WithFields(logrus.Fields{
			"function":  "wireControl",
			"initiator": p.initiator,
		}).Debug("Control channel open")

		p.mu.Lock()
		p.controlOpen = true
		p.mu.Unlock()

		if p.initiator {
			p.maybeBeginExchange()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.initiator {
			p.handleExchangeReply(msg.Data)
		} else {
			p.handleExchangeMessage(msg.Data)
		}
	})
}

// StartKeyExchange arms the initiator side of the key exchange with the
// session media key. The exchange begins as soon as both the key and an
// open control channel are available.
func (p *Peer) StartKeyExchange(key framecrypt.Key) error {
	if !p.initiator {
		return framecrypt.ErrHandshakeState
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.control == nil {
		p.mu.Unlock()
		return ErrKeyExchangeNotReady
	}
	k := key
	p.exchangeKey = &k
	p.mu.Unlock()

	p.maybeBeginExchange()
	return nil
}

// maybeBeginExchange sends the opening handshake message once the control
// channel is open and the key is armed.
func (p *Peer) maybeBeginExchange() {
	p.mu.Lock()
	if !p.controlOpen || p.exchangeKey == nil || p.handshake != nil {
		p.mu.Unlock()
		return
	}

	hs, err := framecrypt.NewInitiatorHandshake()
	if err != nil {
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "maybeBeginExchange",
			"error":    err.Error(),
		}).Error("Failed to create key handshake")
		return
	}
	p.handshake = hs
	control := p.control
	p.mu.Unlock()

	hello, err := hs.Hello()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "maybeBeginExchange",
			"error":    err.Error(),
		}).Error("Failed to produce handshake hello")
		return
	}
	if err := control.Send(hello); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "maybeBeginExchange",
			"error":    err.Error(),
		}).Error("Failed to send handshake hello")
	}
}

// handleExchangeReply processes the responder's handshake reply on the
// initiator side and ships the sealed session key.
func (p *Peer) handleExchangeReply(data []byte) {
	p.mu.Lock()
	hs := p.handshake
	key := p.exchangeKey
	control := p.control
	p.mu.Unlock()
	if hs == nil || key == nil || hs.Completed() {
		return
	}

	sealed, err := hs.SealKey(data, *key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleExchangeReply",
			"error":    err.Error(),
		}).Error("Key exchange failed on initiator side")
		return
	}
	if err := control.Send(sealed); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleExchangeReply",
			"error":    err.Error(),
		}).Error("Failed to send sealed session key")
		return
	}

	p.mu.Lock()
	fn := p.onSessionKey
	p.mu.Unlock()
	if fn != nil {
		fn(*key)
	}
}

// handleExchangeMessage processes handshake traffic on the responder side:
// first the initiator's hello, then the sealed session key.
func (p *Peer) handleExchangeMessage(data []byte) {
	p.mu.Lock()
	hs := p.handshake
	p.mu.Unlock()

	if hs == nil {
		hs, err := framecrypt.NewResponderHandshake()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleExchangeMessage",
				"error":    err.Error(),
			}).Error("Failed to create key handshake")
			return
		}

		reply, err := hs.Accept(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleExchangeMessage",
				"error":    err.Error(),
			}).Error("Key exchange failed on responder side")
			return
		}

		p.mu.Lock()
		p.handshake = hs
		control := p.control
		p.mu.Unlock()

		if err := control.Send(reply); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleExchangeMessage",
				"error":    err.Error(),
			}).Error("Failed to send handshake reply")
		}
		return
	}

	key, err := hs.OpenKey(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleExchangeMessage",
			"error":    err.Error(),
		}).Error("Failed to open sealed session key")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleExchangeMessage",
	}).Info("Session key established over control channel")

	p.mu.Lock()
	fn := p.onSessionKey
	p.mu.Unlock()
	if fn != nil {
		fn(key)
	}
}
