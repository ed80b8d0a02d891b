// Package ws streams delivery lifecycle events to dashboard subscribers.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub maintains the set of subscribers and fans events out to them
type Hub struct {
	// Registered subscribers map: SubscriberID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	stopOnce sync.Once
	mu       sync.RWMutex
	now      func() time.Time
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		now:        time.Now,
	}
}

// Run starts the hub's main loop. It returns after Stop, closing every
// subscriber connection on the way out.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if client.SubscriberID != "" {
				// A reconnecting subscriber replaces its old connection
				if old, ok := h.clients[client.SubscriberID]; ok {
					close(old.send)
					delete(h.clients, client.SubscriberID)
				}
				h.clients[client.SubscriberID] = client
				log.Printf("📡 Subscriber connected: %s", client.SubscriberID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if client.SubscriberID != "" {
				if _, ok := h.clients[client.SubscriberID]; ok {
					delete(h.clients, client.SubscriberID)
					close(client.send)
					log.Printf("📴 Subscriber disconnected: %s", client.SubscriberID)
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow subscriber, drop the event rather than block the hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop terminates the Run loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish fans a delivery lifecycle event out to every subscriber. Events
// are best-effort: nobody listening is not an error.
func (h *Hub) Publish(event string, data map[string]interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": event,
		"data": data,
		"ts":   h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Error marshaling event %s: %v", event, err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("⚠️  Event feed backlogged, dropping %s", event)
	}
}
