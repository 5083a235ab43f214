package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection tunables, grounded on the teacher's internal/ws/client.go.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// session is one live WebSocket connection (spec §4.6 "Session protocol"). A session starts
// unauthenticated and public-only; a successful AUTH promotes it to a specific agent identity.
type session struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *zap.Logger

	mu            sync.RWMutex
	authenticated bool
	agentID       string
	channels      map[string]bool
}

func newSession(id string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *session {
	return &session{
		id:       id,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
		channels: make(map[string]bool),
	}
}

func (s *session) isAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *session) agent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

func (s *session) setAuthenticated(agentID string) {
	s.mu.Lock()
	s.authenticated = true
	s.agentID = agentID
	s.mu.Unlock()
}

func (s *session) subscribedChannels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// readPump reads inbound frames until the connection closes or errors (spec §4.6 inbound
// message types). It must run in its own goroutine; it owns the only reader of s.conn.
func (s *session) readPump() {
	defer s.hub.unregister(s)
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("dropping malformed inbound frame", zap.String("session", s.id), zap.Error(err))
			continue
		}
		s.hub.handleInbound(s, msg)
	}
}

// writePump flushes queued outbound frames and periodic pings. It must run in its own
// goroutine; it owns the only writer of s.conn.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver enqueues msg for writePump, dropping it if the session's send buffer is full rather
// than blocking the hub's fan-out loop on one slow client.
func (s *session) deliver(msg []byte) {
	select {
	case s.send <- msg:
	default:
		s.logger.Warn("dropping outbound message to slow session", zap.String("session", s.id))
	}
}
