package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Origin": {"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

// TestWebSocketSpectatorLifecycle covers register and unregister
// through a real connection
func TestWebSocketSpectatorLifecycle(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket("m1", w, r)
	}))
	defer ts.Close()

	conn := dialHub(t, ts)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never unregistered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestWebSocketConnectAfterStop verifies a spectator arriving after
// shutdown is turned away promptly instead of blocking on the dead
// registration channel
func TestWebSocketConnectAfterStop(t *testing.T) {
	hub := NewWebSocketHub()
	hub.Stop()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket("m1", w, r)
	}))
	defer ts.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, _, err := websocket.DefaultDialer.Dial(
			"ws"+strings.TrimPrefix(ts.URL, "http"),
			http.Header{"Origin": {"http://localhost:3000"}},
		)
		if err != nil {
			// The upgrade may fail outright; that is also a clean
			// turn-away.
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("expected the connection to be closed by the stopped hub")
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler blocked on a stopped hub")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("stopped hub registered a client")
	}
	if n := hub.wsLimiter.GetConnectionCount("127.0.0.1"); n != 0 {
		t.Errorf("connection slot leaked: %d", n)
	}
}
