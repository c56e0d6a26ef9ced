package dev

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialReload(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg ReloadMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func waitForClients(t *testing.T, r *ReloadServer, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for r.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", r.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReloadServerBroadcast(t *testing.T) {
	r := NewReloadServer()
	server := httptest.NewServer(http.HandlerFunc(r.HandleWebSocket))
	defer server.Close()

	conn := dialReload(t, server)
	defer conn.Close()
	waitForClients(t, r, 1)

	r.NotifyReload()
	if msg := readMessage(t, conn); msg.Type != ReloadTypeFull {
		t.Errorf("Type = %q, want %q", msg.Type, ReloadTypeFull)
	}

	r.NotifyError("something broke")
	msg := readMessage(t, conn)
	if msg.Type != ReloadTypeError || msg.Error != "something broke" {
		t.Errorf("got %+v, want error message", msg)
	}

	r.ClearError()
	if msg := readMessage(t, conn); msg.Type != ReloadTypeClear {
		t.Errorf("Type = %q, want %q", msg.Type, ReloadTypeClear)
	}
}

func TestReloadServerTracksDisconnects(t *testing.T) {
	r := NewReloadServer()
	server := httptest.NewServer(http.HandlerFunc(r.HandleWebSocket))
	defer server.Close()

	first := dialReload(t, server)
	second := dialReload(t, server)
	waitForClients(t, r, 2)

	first.Close()
	waitForClients(t, r, 1)

	r.Close()
	waitForClients(t, r, 0)
	second.Close()
}
