// Package realtime pushes alert, maintenance and advisory events to
// websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleetpulse/internal/metrics"
)

const (
	ChannelAlerts      = "alerts"
	ChannelMaintenance = "maintenance"
	ChannelAdvisories  = "advisories"
)

type Event struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type Broadcaster interface {
	BroadcastAlert(payload any)
	Broadcast(channel string, eventType string, payload any)
}

var _ Broadcaster = (*Hub)(nil)

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	history    *History
	logger     *slog.Logger
}

func NewHub(history *History, logger *slog.Logger) *Hub {
	if history == nil {
		history = NewHistory(0)
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		history:    history,
		logger:     logger,
	}
}

func (h *Hub) History() *History {
	return h.history
}

// Run serves the hub until ctx ends. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.RealtimeClients.Set(float64(len(h.clients)))
			h.replay(client)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.RealtimeClients.Set(float64(len(h.clients)))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					if h.logger != nil {
						h.logger.Warn("websocket client too slow, removing", "remote", client.remote)
					}
					close(client.send)
					delete(h.clients, client)
				}
			}
			metrics.RealtimeClients.Set(float64(len(h.clients)))
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stopped reports whether Run has returned.
func (h *Hub) Stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// attach hands the client to Run; false once the hub has stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) replay(client *Client) {
	events := h.history.List(0)
	if len(events) == 0 {
		return
	}
	data, err := json.Marshal(map[string]any{"type": "history", "payload": events})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) BroadcastAlert(payload any) {
	h.Broadcast(ChannelAlerts, "alert", payload)
}

// Broadcast never blocks the caller; when the hub is backed up the event is
// kept in history only.
func (h *Hub) Broadcast(channel string, eventType string, payload any) {
	ev := Event{Type: eventType, Channel: channel, Payload: payload, Timestamp: time.Now().UTC()}
	h.history.Add(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("marshal broadcast", "channel", channel, "err", err)
		}
		return
	}
	select {
	case h.broadcast <- data:
	default:
		if h.logger != nil {
			h.logger.Warn("broadcast queue full, event not pushed", "channel", channel, "type", eventType)
		}
	}
}
