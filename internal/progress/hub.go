package progress

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/fsm-bench/internal/runner"
)

// Hub fans runner events out to connected websocket clients
type Hub struct {
	clients    map[chan runner.Event]bool
	broadcast  chan runner.Event
	register   chan chan runner.Event
	unregister chan chan runner.Event
	done       chan struct{}

	upgrader websocket.Upgrader
}

// NewHub creates a new progress hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan runner.Event]bool),
		broadcast:  make(chan runner.Event),
		register:   make(chan chan runner.Event),
		unregister: make(chan chan runner.Event),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the hub loop and blocks until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// Slow client, drop it
					close(client)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends an event to all clients. Safe to call after shutdown.
func (h *Hub) Broadcast(event runner.Event) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := make(chan runner.Event, 16)
	select {
	case h.register <- client:
	case <-h.done:
		return
	}

	// Reader detects the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.unregister <- client:
				case <-h.done:
				}
				return
			}
		}
	}()

	for event := range client {
		if err := conn.WriteJSON(event); err != nil {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
			// Drain so the hub never blocks on us.
			for range client {
			}
			return
		}
	}
}
