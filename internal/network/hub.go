package network

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hub owns the set of live clients and reports connects and disconnects to the
// handler. Only the Run goroutine touches the clients map.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	handler    EventHandler
	log        *zap.Logger
	count      atomic.Int64
}

func NewHub(handler EventHandler, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		handler:    handler,
		log:        log,
	}
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	return int(h.count.Load())
}

func (h *Hub) Run(ctx context.Context) error {
	h.log.Info("hub started")
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.handler.OnConnect(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int64(len(h.clients)))
				client.shutdown()
				h.handler.OnDisconnect(client)
			}

		case <-ctx.Done():
			for client := range h.clients {
				client.shutdown()
			}
			h.log.Info("hub stopped", zap.Int("clients", len(h.clients)))
			return nil
		}
	}
}

// enqueue hands c to ch unless the hub has stopped.
func (h *Hub) enqueue(ch chan<- *Client, c *Client) bool {
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}
