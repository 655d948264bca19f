package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hanoibanhcuon/automaker/internal/bus"
)

// streamHub fans bus events out to connected live-stream clients. Both
// the SSE endpoint and the websocket endpoint register here, so every
// client sees the same event feed the in-process bus carries. A client
// that cannot keep up is dropped; the broadcast never blocks on it.
type streamHub struct {
	clients    map[chan bus.Event]bool
	broadcast  chan bus.Event
	register   chan chan bus.Event
	unregister chan chan bus.Event
	mu         sync.RWMutex
}

func newStreamHub() *streamHub {
	return &streamHub{
		clients:    make(map[chan bus.Event]bool),
		broadcast:  make(chan bus.Event),
		register:   make(chan chan bus.Event),
		unregister: make(chan chan bus.Event),
	}
}

// Run owns the client set. Registration, removal, and broadcast are
// serialized through one goroutine so a disconnect during a broadcast
// cannot double-close a client channel.
func (h *streamHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast hands one event to every connected client.
func (h *streamHub) Broadcast(event bus.Event) {
	h.broadcast <- event
}

// sseHandler streams bus events as server-sent events, one message per
// event, with the bus event type as the SSE event name.
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := make(chan bus.Event)
		s.hub.register <- client

		notify := r.Context().Done()
		go func() {
			<-notify
			s.hub.unregister <- client
		}()

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		for event := range client {
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
