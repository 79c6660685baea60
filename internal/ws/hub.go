// Package ws pushes game events to connected browsers. Clients subscribe
// to one room per connection (a tournament, a match, a challenge, or
// their own user feed); services publish through the Notifier interface
// and never block on slow readers.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is the wire frame sent to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Client]bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

func (h *Hub) subscribe(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
}

func (h *Hub) unsubscribe(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients := h.rooms[room]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Notify broadcasts an event to everyone in the room. A client whose send
// buffer is full is dropped rather than stalling the caller.
func (h *Hub) Notify(room string, event string, payload any) {
	frame, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("err", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			delete(h.rooms[room], c)
			c.close()
		}
	}
}
