// Package server hosts the read-only WebSocket monitor feed: adapter
// lifecycle events rendered as typed JSON messages and broadcast to
// connected clients, with optional mDNS advertisement of the endpoint.
package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dotside-studios/nci-agent/protocol"
)

// MonitorMessage represents a message sent to WebSocket clients.
type MonitorMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Monitor manages WebSocket client connections and broadcasts adapter
// lifecycle events to them.
type Monitor struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	clients   map[string]*websocket.Conn
	lastEvent *protocol.Event
	mu        sync.RWMutex
}

// NewMonitor creates a Monitor that accepts connections from any origin.
func NewMonitor(log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and keeps it
// registered until the client goes away. The most recent event is replayed
// to new clients so they start with the current picture.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.clients[id] = conn
	last := m.lastEvent
	m.mu.Unlock()
	m.log.Debugf("Monitor client connected: %s", id)

	if last != nil {
		if err := conn.WriteJSON(MonitorMessage{Type: "event", Payload: last}); err != nil {
			m.log.Debugf("Replay to %s failed: %v", id, err)
		}
	}

	// Drain (and ignore) client frames until the connection closes.
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.clients, id)
			m.mu.Unlock()
			conn.Close()
			m.log.Debugf("Monitor client disconnected: %s", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to all connected clients. Clients whose write
// fails are dropped.
func (m *Monitor) Broadcast(event protocol.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEvent = &event

	msg := MonitorMessage{Type: "event", Payload: &event}
	for id, conn := range m.clients {
		if err := conn.WriteJSON(msg); err != nil {
			m.log.Warnf("WebSocket write error: %v", err)
			conn.Close()
			delete(m.clients, id)
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Monitor) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll closes all client connections.
func (m *Monitor) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.clients {
		conn.Close()
		delete(m.clients, id)
	}
}

// ListenAndServe serves the monitor feed on the given port under /ws until
// the server fails. It is a convenience wrapper for the daemon.
func (m *Monitor) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", m)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
