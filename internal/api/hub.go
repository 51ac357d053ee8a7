package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 200 * time.Millisecond

// Hub fans frames out to websocket clients. Publish never blocks the
// caller; when the hub is behind, the older frame is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	frames  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: map[*websocket.Conn]bool{},
		frames:  make(chan []byte, 1),
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.Close()
	}
	h.mu.Unlock()
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(msg []byte) {
	for {
		select {
		case h.frames <- msg:
			return
		default:
		}
		select {
		case <-h.frames:
		default:
		}
	}
}

// Run writes published frames until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil
		case msg := <-h.frames:
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug().Err(err).Msg("write frame")
			c.Close()
			delete(h.clients, c)
		}
	}
}
