// Package chatws serves the chat loop over a WebSocket.
package chatws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/persona-companion/internal/domain"
)

// SessionManager tracks the live connection of each conversation. A new
// connection for the same conversation replaces the old one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[domain.SessionKey]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{active: make(map[domain.SessionKey]*websocket.Conn)}
}

// GetActive returns the active connection for key.
func (m *SessionManager) GetActive(key domain.SessionKey) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[key]
}

// Register adds conn for key, closing any connection it replaces.
// The replaced connection is closed after the lock is released, since Close
// waits for the peer's close handshake.
func (m *SessionManager) Register(key domain.SessionKey, conn *websocket.Conn) {
	m.mu.Lock()
	existing := m.active[key]
	m.active[key] = conn
	m.mu.Unlock()
	slog.Info("Chat connection registered", "user_id", key.UserID, "session_id", key.SessionID)

	if existing != nil && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
}

// Unregister removes conn if it is still the active connection for key.
func (m *SessionManager) Unregister(key domain.SessionKey, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[key]; ok && current == conn {
		delete(m.active, key)
		slog.Info("Chat connection unregistered", "user_id", key.UserID, "session_id", key.SessionID)
	}
}

// Count returns the number of live connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every live connection, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.active))
	for key, conn := range m.active {
		conns = append(conns, conn)
		delete(m.active, key)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
