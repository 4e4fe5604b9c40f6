package progress

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/fsm-bench/internal/runner"
)

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_DeliversEvents(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	sent := runner.Event{
		SessionID:   runner.SessionID("model-a", 3),
		RunID:       "model-a",
		InstanceID:  3,
		Turn:        7,
		TaskLength:  7,
		GroundTruth: "cat",
		Reported:    "cat",
		TurnCorrect: true,
	}
	hub.Broadcast(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got runner.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != sent {
		t.Errorf("event = %+v, want %+v", got, sent)
	}
}

func TestHub_FansOutToAllClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	a := dialHub(t, server)
	b := dialHub(t, server)
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(runner.Event{RunID: "model-a", InstanceID: 1, Turn: 1})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got runner.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if got.InstanceID != 1 || got.Turn != 1 {
			t.Errorf("event = %+v", got)
		}
	}
}

func TestHub_BroadcastAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(runner.Event{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked after shutdown")
	}
}
