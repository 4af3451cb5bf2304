package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Status represents the connection status of the transport.
type Status int

const (
	// StatusDisconnected indicates no connection and no reconnection attempt
	// in progress.
	StatusDisconnected Status = iota
	// StatusConnecting indicates an initial connect attempt is in progress.
	StatusConnecting
	// StatusConnected indicates a live relay connection.
	StatusConnected
	// StatusReconnecting indicates the connection was lost abnormally and
	// the transport is attempting to restore it.
	StatusReconnecting
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Credentials carries the opaque bearer token and user identifier supplied
// to the relay on connect. The transport never issues or validates tokens;
// that is the auth provider's responsibility.
type Credentials struct {
	UserID string
	Token  string
}

// Config defines transport connection and reconnection parameters.
type Config struct {
	// URL is the relay WebSocket endpoint, e.g. "wss://relay.example.com/ws".
	URL string

	// ConnectTimeout bounds the WebSocket handshake (default: 10s).
	ConnectTimeout time.Duration

	// HeartbeatInterval is how often an application-level ping is sent while
	// connected (default: 30s).
	HeartbeatInterval time.Duration

	// Reconnection backoff: delay is
	// min(InitialReconnectDelay * BackoffFactor^attempt, MaxReconnectDelay).
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	BackoffFactor         float64

	// MaxRetries is the number of consecutive reconnect failures tolerated
	// before the transport gives up and emits a terminal error.
	MaxRetries int

	// TimeProvider supplies time for heartbeat and backoff timers.
	// If nil, RealTimeProvider is used.
	TimeProvider TimeProvider
}

// DefaultConfig returns a transport configuration with conservative defaults
// for the given relay URL.
func DefaultConfig(relayURL string) *Config {
	return &Config{
		URL:                   relayURL,
		ConnectTimeout:        10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		InitialReconnectDelay: 1 * time.Second,
		MaxReconnectDelay:     30 * time.Second,
		BackoffFactor:         2.0,
		MaxRetries:            10,
	}
}

// MessageHandler receives inbound signaling messages of a subscribed type.
type MessageHandler func(msg Message)

// ConnectionHandler receives connection state transitions.
type ConnectionHandler func(connected bool)

// ErrorHandler receives terminal transport errors.
type ErrorHandler func(err error)

// Transport maintains one logical connection to a signaling relay.
//
// The transport reconnects automatically with exponential backoff after an
// abnormal closure, queues outbound messages while disconnected and replays
// them in enqueue order on the next successful connect, answers inbound
// pings, and dispatches typed inbound messages to subscribers.
//
// All methods are safe for concurrent use.
type Transport struct {
	config *Config

	mu           sync.Mutex
	conn         *websocket.Conn
	connDone     chan struct{}
	status       Status
	attempt      int
	queue        []Message
	creds        Credentials
	closed       bool
	reconnecting bool

	// Serializes WebSocket writes; gorilla/websocket permits only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	handlerMu       sync.RWMutex
	nextSubID       uint64
	messageHandlers map[MessageType]map[uint64]MessageHandler
	connHandlers    map[uint64]ConnectionHandler
	errorHandlers   map[uint64]ErrorHandler
}

// NewTransport creates a signaling transport with the given configuration.
// A nil config uses DefaultConfig with an empty URL, which must be filled in
// before Connect.
func NewTransport(config *Config) *Transport {
	if config == nil {
		config = DefaultConfig("")
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewTransport",
		"relay_url":          config.URL,
		"heartbeat_interval": config.HeartbeatInterval,
		"max_retries":        config.MaxRetries,
	}).Debug("Creating signaling transport")

	return &Transport{
		config:          config,
		status:          StatusDisconnected,
		messageHandlers: make(map[MessageType]map[uint64]MessageHandler),
		connHandlers:    make(map[uint64]ConnectionHandler),
		errorHandlers:   make(map[uint64]ErrorHandler),
	}
}

// Connect opens the relay connection using the supplied credentials.
//
// It returns once the WebSocket handshake completes or the connect attempt
// times out. On success the reconnect-attempt counter is reset, the
// heartbeat starts, and any queued outbound messages are flushed in enqueue
// order.
func (t *Transport) Connect(ctx context.Context, creds Credentials) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.status == StatusConnected {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.creds = creds
	t.status = StatusConnecting
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"user_id":  creds.UserID,
	}).Info("Connecting to signaling relay")

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		t.status = StatusDisconnected
		t.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"error":    err.Error(),
		}).Error("Relay connection failed")
		return err
	}

	if !t.adopt(conn) {
		return ErrTransportClosed
	}
	return nil
}

// dial performs one WebSocket handshake against the relay, passing the user
// id and bearer token as query parameters.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	creds := t.creds
	t.mu.Unlock()

	u, err := url.Parse(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("userId", creds.UserID)
	q.Set("token", creds.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.ConnectTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to signaling relay: %w", err)
	}

	return conn, nil
}

// adopt installs a freshly dialed connection: resets the attempt counter,
// starts the reader and heartbeat goroutines, notifies subscribers, and
// flushes the outbound queue. Returns false if the transport was closed
// while the dial was in flight; the connection is closed instead of adopted.
func (t *Transport) adopt(conn *websocket.Conn) bool {
	done := make(chan struct{})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()

		logrus.WithFields(logrus.Fields{
			"function": "adopt",
		}).Debug("Discarding connection dialed after Disconnect")
		return false
	}
	t.conn = conn
	t.connDone = done
	t.status = StatusConnected
	t.attempt = 0
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "adopt",
		"queued_replays": len(pending),
	}).Info("Signaling relay connection established")

	t.emitConnectionChange(true)

	go t.readLoop(conn, done)
	go t.heartbeatLoop(conn, done)

	t.flush(conn, pending)
	return true
}

// flush attempts to send previously queued messages in enqueue order. On a
// write failure the unsent remainder is put back at the head of the queue so
// order is preserved for the next connect.
func (t *Transport) flush(conn *websocket.Conn, pending []Message) {
	for i, msg := range pending {
		if err := t.write(conn, msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "flush",
				"unsent":    len(pending) - i,
				"error":     err.Error(),
				"next_type": msg.Type,
			}).Warn("Queue flush interrupted by write failure")

			t.mu.Lock()
			requeue := make([]Message, 0, len(pending)-i+len(t.queue))
			requeue = append(requeue, pending[i:]...)
			requeue = append(requeue, t.queue...)
			t.queue = requeue
			t.mu.Unlock()
			return
		}

		logrus.WithFields(logrus.Fields{
			"function":     "flush",
			"message_type": msg.Type,
			"to_user_id":   msg.ToUserID,
		}).Debug("Replayed queued message")
	}
}

// Send transmits a signaling message to the relay.
//
// If the transport is not connected the message is appended to the outbound
// queue for replay on the next connect, and ErrNotConnected is returned so
// the caller can fail the current operation.
func (t *Transport) Send(msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.status != StatusConnected || t.conn == nil {
		t.queue = append(t.queue, msg)
		queued := len(t.queue)
		t.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":     "Send",
			"message_type": msg.Type,
			"queue_depth":  queued,
		}).Debug("Transport disconnected, message queued for replay")
		return fmt.Errorf("%w (message %s queued)", ErrNotConnected, msg.Type)
	}
	conn := t.conn
	t.mu.Unlock()

	if err := t.write(conn, msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

// write marshals and writes one message to the given connection.
func (t *Transport) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads inbound frames until the connection fails or is closed.
// Messages are dispatched synchronously, preserving per-connection receipt
// order.
func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, done, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Warn("Discarding malformed signaling message")
			continue
		}

		t.dispatch(msg)
	}
}

// handleReadError detaches the failed connection and either settles into the
// disconnected state (clean close) or kicks off reconnection (abnormal
// closure).
func (t *Transport) handleReadError(conn *websocket.Conn, done chan struct{}, err error) {
	t.mu.Lock()
	if t.conn != conn {
		// A newer connection (or Disconnect) already took over.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.connDone = nil
	clean := t.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if clean {
		t.status = StatusDisconnected
	} else {
		t.status = StatusReconnecting
	}
	t.mu.Unlock()

	close(done)
	conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "handleReadError",
		"error":    err.Error(),
		"clean":    clean,
	}).Info("Signaling relay connection lost")

	t.emitConnectionChange(false)

	if !clean {
		go t.reconnectLoop()
	}
}

// reconnectLoop retries the relay connection with exponential backoff until
// it succeeds, the transport is closed, or MaxRetries consecutive failures
// exhaust the budget. Exactly one terminal error is emitted on give-up.
func (t *Transport) reconnectLoop() {
	t.mu.Lock()
	if t.reconnecting || t.closed {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()

	tp := t.timeProvider()

	for {
		t.mu.Lock()
		if t.closed {
			t.status = StatusDisconnected
			t.mu.Unlock()
			return
		}
		attempt := t.attempt
		t.mu.Unlock()

		if attempt >= t.config.MaxRetries {
			t.mu.Lock()
			t.status = StatusDisconnected
			t.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function":    "reconnectLoop",
				"max_retries": t.config.MaxRetries,
			}).Error("Giving up on reconnection")

			t.emitError(ErrMaxRetriesExceeded)
			return
		}

		delay := t.BackoffDelay(attempt)
		logrus.WithFields(logrus.Fields{
			"function": "reconnectLoop",
			"attempt":  attempt,
			"delay":    delay,
		}).Info("Scheduling reconnect attempt")

		timer := tp.NewTimer(delay)
		<-timer.C

		t.mu.Lock()
		if t.closed {
			t.status = StatusDisconnected
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial(context.Background())
		if err != nil {
			t.mu.Lock()
			t.attempt++
			t.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function": "reconnectLoop",
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Reconnect attempt failed")
			continue
		}

		// adopt refuses the connection when Disconnect won the race, so
		// the loop ends either way.
		t.adopt(conn)
		return
	}
}

// BackoffDelay returns the reconnect delay for the given attempt number:
// min(InitialReconnectDelay * BackoffFactor^attempt, MaxReconnectDelay).
func (t *Transport) BackoffDelay(attempt int) time.Duration {
	d := float64(t.config.InitialReconnectDelay) * math.Pow(t.config.BackoffFactor, float64(attempt))
	if d > float64(t.config.MaxReconnectDelay) {
		return t.config.MaxReconnectDelay
	}
	return time.Duration(d)
}

// heartbeatLoop sends an application-level ping at the configured interval
// while the connection is alive. Write failures are left to the read loop,
// which observes the broken connection and drives reconnection.
func (t *Transport) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := t.timeProvider().NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			from := t.creds.UserID
			t.mu.Unlock()

			ping, err := NewMessage(MessagePing, from, "", nil)
			if err != nil {
				continue
			}
			if err := t.write(conn, ping); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat write failed")
			}
		}
	}
}

// dispatch routes one inbound message. Pings are answered immediately with a
// pong; everything else goes to the subscribers for its type.
func (t *Transport) dispatch(msg Message) {
	switch msg.Type {
	case MessagePing:
		t.answerPing(msg)
		return
	case MessagePong:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"from":     msg.FromUserID,
		}).Trace("Heartbeat pong received")
		return
	}

	t.handlerMu.RLock()
	subs := make([]MessageHandler, 0, len(t.messageHandlers[msg.Type]))
	for _, h := range t.messageHandlers[msg.Type] {
		subs = append(subs, h)
	}
	t.handlerMu.RUnlock()

	if len(subs) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":     "dispatch",
			"message_type": msg.Type,
			"from_user_id": msg.FromUserID,
		}).Debug("No subscriber for message type")
		return
	}

	for _, h := range subs {
		t.safeInvoke("message", func() { h(msg) })
	}
}

// answerPing replies to an inbound ping with an immediate pong.
func (t *Transport) answerPing(ping Message) {
	t.mu.Lock()
	conn := t.conn
	from := t.creds.UserID
	t.mu.Unlock()
	if conn == nil {
		return
	}

	pong, err := NewMessage(MessagePong, from, ping.FromUserID, nil)
	if err != nil {
		return
	}
	if err := t.write(conn, pong); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answerPing",
			"error":    err.Error(),
		}).Debug("Pong write failed")
	}
}

// Disconnect performs a clean close: it sends a normal-closure frame,
// cancels the heartbeat, clears (does not flush) the outbound queue, and
// prevents any further reconnection. The transport cannot be reused.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	done := t.connDone
	t.conn = nil
	t.connDone = nil
	dropped := len(t.queue)
	t.queue = nil
	t.status = StatusDisconnected
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "Disconnect",
		"dropped_queue": dropped,
	}).Info("Disconnecting signaling transport")

	if conn != nil {
		t.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
		t.writeMu.Unlock()
		conn.Close()
	}
	if done != nil {
		close(done)
	}
	if conn != nil {
		t.emitConnectionChange(false)
	}
}

// OnMessage subscribes a handler to inbound messages of the given type and
// returns a function that removes the subscription.
func (t *Transport) OnMessage(msgType MessageType, handler MessageHandler) (unsubscribe func()) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()

	if t.messageHandlers[msgType] == nil {
		t.messageHandlers[msgType] = make(map[uint64]MessageHandler)
	}
	id := t.nextSubID
	t.nextSubID++
	t.messageHandlers[msgType][id] = handler

	return func() {
		t.handlerMu.Lock()
		defer t.handlerMu.Unlock()
		delete(t.messageHandlers[msgType], id)
	}
}

// OnConnectionChange subscribes a handler to connection state transitions
// and returns a function that removes the subscription.
func (t *Transport) OnConnectionChange(handler ConnectionHandler) (unsubscribe func()) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.connHandlers[id] = handler

	return func() {
		t.handlerMu.Lock()
		defer t.handlerMu.Unlock()
		delete(t.connHandlers, id)
	}
}

// OnError subscribes a handler to terminal transport errors and returns a
// function that removes the subscription.
func (t *Transport) OnError(handler ErrorHandler) (unsubscribe func()) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.errorHandlers[id] = handler

	return func() {
		t.handlerMu.Lock()
		defer t.handlerMu.Unlock()
		delete(t.errorHandlers, id)
	}
}

// emitConnectionChange notifies connection subscribers.
func (t *Transport) emitConnectionChange(connected bool) {
	t.handlerMu.RLock()
	subs := make([]ConnectionHandler, 0, len(t.connHandlers))
	for _, h := range t.connHandlers {
		subs = append(subs, h)
	}
	t.handlerMu.RUnlock()

	for _, h := range subs {
		t.safeInvoke("connectionChange", func() { h(connected) })
	}
}

// emitError notifies error subscribers.
func (t *Transport) emitError(err error) {
	t.handlerMu.RLock()
	subs := make([]ErrorHandler, 0, len(t.errorHandlers))
	for _, h := range t.errorHandlers {
		subs = append(subs, h)
	}
	t.handlerMu.RUnlock()

	for _, h := range subs {
		t.safeInvoke("error", func() { h(err) })
	}
}

// safeInvoke runs a subscriber callback, recovering and logging any panic so
// one misbehaving subscriber cannot disturb the transport or its peers.
func (t *Transport) safeInvoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "safeInvoke",
				"event":    event,
				"panic":    r,
			}).Error("Recovered panic in event subscriber")
		}
	}()
	fn()
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsConnected reports whether the transport has a live relay connection.
func (t *Transport) IsConnected() bool {
	return t.Status() == StatusConnected
}

// ReconnectAttempt returns the current consecutive reconnect failure count.
func (t *Transport) ReconnectAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// QueuedMessages returns the number of outbound messages waiting for replay.
func (t *Transport) QueuedMessages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// UserID returns the user id of the credentials supplied to Connect.
func (t *Transport) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds.UserID
}

func (t *Transport) timeProvider() TimeProvider {
	if t.config.TimeProvider != nil {
		return t.config.TimeProvider
	}
	return RealTimeProvider{}
}
