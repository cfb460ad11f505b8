package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/logsentry/logsentry/internal/detect"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(httpURL, "http://", "ws://", 1) + "/ws/anomalies"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketReceivesAnomaly(t *testing.T) {
	srv, ts := newTestServer(t, "")
	srv.hub.Start()
	t.Cleanup(srv.hub.Stop)

	conn := dialWS(t, ts.URL)

	// Registration races the broadcast; give the hub loop a beat.
	time.Sleep(50 * time.Millisecond)

	ar := detect.AnomalyRecord{
		ID:      "ws-test-1",
		Service: "web_server",
		Score:   1.0,
		Cause:   detect.CauseRule,
	}
	srv.hub.BroadcastAnomaly(ar)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "anomaly" {
		t.Fatalf("got type %q, want anomaly", msg.Type)
	}
	if msg.Anomaly.ID != "ws-test-1" || msg.Anomaly.Service != "web_server" {
		t.Fatalf("unexpected anomaly payload: %+v", msg.Anomaly)
	}
}

func TestWebSocketMultipleSubscribers(t *testing.T) {
	srv, ts := newTestServer(t, "")
	srv.hub.Start()
	t.Cleanup(srv.hub.Stop)

	c1 := dialWS(t, ts.URL)
	c2 := dialWS(t, ts.URL)
	time.Sleep(50 * time.Millisecond)

	srv.hub.BroadcastAnomaly(detect.AnomalyRecord{ID: "fan-out", Service: "database"})

	for i, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		if msg.Anomaly.ID != "fan-out" {
			t.Fatalf("subscriber %d got %q", i, msg.Anomaly.ID)
		}
	}
}

func TestWebSocketConnectAfterHubStopped(t *testing.T) {
	srv, ts := newTestServer(t, "")
	srv.hub.Start()
	srv.hub.Stop()

	// The upgrade itself succeeds, but with the hub gone the handler
	// must close the connection instead of blocking on registration.
	conn := dialWS(t, ts.URL)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}

func TestBroadcastWithoutSubscribersDoesNotBlock(t *testing.T) {
	srv, _ := newTestServer(t, "")
	srv.hub.Start()
	t.Cleanup(srv.hub.Stop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			srv.hub.BroadcastAnomaly(detect.AnomalyRecord{ID: "noop", Service: "application"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked with no subscribers")
	}
}
