package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/nci-agent/protocol"
)

func dialMonitor(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string         `json:"type"`
		Payload protocol.Event `json:"payload"`
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	if msg.Type != "event" {
		t.Fatalf("message type = %q, want event", msg.Type)
	}
	return msg.Payload
}

func TestMonitorBroadcast(t *testing.T) {
	m := NewMonitor(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn := dialMonitor(t, srv)

	// Wait for registration before broadcasting.
	deadline := time.After(time.Second)
	for m.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Broadcast(protocol.Event{
		Type: protocol.EventTargetFound,
		Target: &protocol.TargetInfo{
			Technology: "A",
			Protocol:   "T2",
			Kind:       "t2",
			UID:        "04a1b2c3d4e5f6",
		},
	})

	event := readEvent(t, conn)
	if event.Type != protocol.EventTargetFound {
		t.Errorf("event type = %s, want target.found", event.Type)
	}
	if event.Target == nil || event.Target.UID != "04a1b2c3d4e5f6" {
		t.Errorf("event target = %+v", event.Target)
	}
	if event.Timestamp.IsZero() {
		t.Error("event timestamp not stamped")
	}
}

func TestMonitorReplaysLastEvent(t *testing.T) {
	m := NewMonitor(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	m.Broadcast(protocol.Event{Type: protocol.EventModeChanged,
		Mode: &protocol.ModeInfo{Modes: []string{"reader-writer"}, Requested: true}})

	// A client connecting late still sees the current picture.
	conn := dialMonitor(t, srv)
	event := readEvent(t, conn)
	if event.Type != protocol.EventModeChanged {
		t.Errorf("replayed event type = %s, want mode.changed", event.Type)
	}
}

func TestMonitorDropsDeadClients(t *testing.T) {
	m := NewMonitor(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn := dialMonitor(t, srv)
	deadline := time.After(time.Second)
	for m.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	conn.Close()

	// Broadcasts keep working and eventually forget the dead client.
	deadline = time.After(2 * time.Second)
	for m.ClientCount() > 0 {
		m.Broadcast(protocol.Event{Type: protocol.EventTargetGone})
		select {
		case <-deadline:
			t.Fatal("dead client never dropped")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
