package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/signaling"
)

// Config defines relay server parameters.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// JWTSecret is the shared HMAC secret tokens are validated against.
	JWTSecret []byte

	// WriteTimeout bounds each outbound WebSocket write (default: 10s).
	WriteTimeout time.Duration

	// SendBuffer is the per-client outbound queue size (default: 256).
	// A client whose buffer is full has messages to it dropped.
	SendBuffer int
}

// DefaultConfig returns a relay configuration for the given listen address
// and token secret.
func DefaultConfig(addr string, secret []byte) *Config {
	return &Config{
		Addr:         addr,
		JWTSecret:    secret,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   256,
	}
}

// client is one connected user.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server forwards signaling messages between connected users.
type Server struct {
	config   *Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

// NewServer creates a relay server.
func NewServer(config *Config) *Server {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler returns the relay's HTTP handler, with the WebSocket endpoint
// mounted at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe runs the relay until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     s.config.Addr,
	}).Info("Relay server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleWS authenticates and upgrades one client connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	token := r.URL.Query().Get("token")
	if userID == "" || token == "" {
		http.Error(w, "userId and token are required", http.StatusBadRequest)
		return
	}

	tokenUser, err := ValidateToken(s.config.JWTSecret, token)
	if err != nil || tokenUser != userID {
		logrus.WithFields(logrus.Fields{
			"function": "handleWS",
			"user_id":  userID,
		}).Warn("Rejected connection with invalid token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleWS",
			"error":    err.Error(),
		}).Error("WebSocket upgrade failed")
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, s.config.SendBuffer),
		done:   make(chan struct{}),
	}
	s.register(c)

	go c.writePump(s.config.WriteTimeout)
	go s.readPump(c)
}

// register installs a client, displacing any previous connection for the
// same user. A reconnecting transport replaces its stale entry here.
func (s *Server) register(c *client) {
	s.mu.Lock()
	old := s.clients[c.userID]
	s.clients[c.userID] = c
	s.mu.Unlock()

	if old != nil {
		old.close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "register",
		"user_id":  c.userID,
	}).Info("User connected to relay")
}

// unregister removes a client if it is still the current connection for its
// user.
func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if s.clients[c.userID] == c {
		delete(s.clients, c.userID)
	}
	s.mu.Unlock()
	c.close()

	logrus.WithFields(logrus.Fields{
		"function": "unregister",
		"user_id":  c.userID,
	}).Info("User disconnected from relay")
}

// readPump reads and routes inbound messages until the connection drops.
func (s *Server) readPump(c *client) {
	defer s.unregister(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"user_id":  c.userID,
					"error":    err.Error(),
				}).Debug("Client connection lost")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readPump",
				"user_id":  c.userID,
				"error":    err.Error(),
			}).Warn("Discarding malformed message")
			continue
		}

		// The authenticated identity always wins over the claimed sender.
		msg.FromUserID = c.userID

		s.route(c, msg)
	}
}

// route answers heartbeats locally and forwards everything else to the
// addressed user.
func (s *Server) route(c *client, msg signaling.Message) {
	if msg.Type == signaling.MessagePing {
		pong, err := signaling.NewMessage(signaling.MessagePong, "", c.userID, nil)
		if err == nil {
			s.deliver(c, pong)
		}
		return
	}

	if msg.ToUserID == "" {
		return
	}

	s.mu.RLock()
	target := s.clients[msg.ToUserID]
	s.mu.RUnlock()
	if target == nil {
		logrus.WithFields(logrus.Fields{
			"function":     "route",
			"message_type": msg.Type,
			"to_user_id":   msg.ToUserID,
		}).Debug("Dropping message for offline user")
		return
	}

	s.deliver(target, msg)
}

// deliver queues one message for a client's write pump, dropping it when
// the client's buffer is full.
func (s *Server) deliver(target *client, msg signaling.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case target.send <- data:
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "deliver",
			"to_user_id": target.userID,
		}).Warn("Client send buffer full, dropping message")
	}
}

// ConnectedUsers returns the ids of currently connected users.
func (s *Server) ConnectedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.clients))
	for id := range s.clients {
		users = append(users, id)
	}
	return users
}

// writePump serializes writes to the client connection.
func (c *client) writePump(timeout time.Duration) {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
