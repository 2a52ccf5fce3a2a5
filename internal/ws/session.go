package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"room-chat/internal/auth"
	"room-chat/internal/models"
)

// Session is one authenticated websocket connection. Frames queued with
// Send are written by the connection's write pump.
type Session struct {
	info     ConnInfo
	identity auth.Identity
	conn     *websocket.Conn
	send     chan models.ServerFrame

	mu     sync.RWMutex
	closed bool
}

func newSession(conn *websocket.Conn, identity auth.Identity, info ConnInfo, queue int) *Session {
	return &Session{
		info:     info,
		identity: identity,
		conn:     conn,
		send:     make(chan models.ServerFrame, queue),
	}
}

func (s *Session) ID() string { return s.info.ConnID }

func (s *Session) UserID() int64 { return s.identity.UserID }

// Send enqueues f without blocking. It reports false when the queue is full
// or the session is closed.
func (s *Session) Send(f models.ServerFrame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the connection.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
