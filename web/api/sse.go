package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SSEHub fans events out to connected event-stream clients
type SSEHub struct {
	broadcast chan SSEEvent

	mu      sync.Mutex
	clients map[chan SSEEvent]bool
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:   make(map[chan SSEEvent]bool),
		broadcast: make(chan SSEEvent, 64),
	}
}

// Run delivers broadcast events to every client until the process shuts
// down. Clients that cannot keep up are dropped.
func (h *SSEHub) Run() {
	for event := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			select {
			case client <- event:
			default:
				close(client)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast sends an event to all clients. Never blocks the caller: the
// pipeline invokes this mid-flight.
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

func (h *SSEHub) subscribe() chan SSEEvent {
	client := make(chan SSEEvent, 8)
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	return client
}

func (h *SSEHub) unsubscribe(client chan SSEEvent) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client)
	}
	h.mu.Unlock()
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := s.sseHub.subscribe()
		defer s.sseHub.unsubscribe(client)

		done := r.Context().Done()
		for {
			select {
			case <-done:
				return
			case event, open := <-client:
				if !open {
					return
				}
				data, _ := json.Marshal(event.Data)
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
