package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

// DefaultClientBuffer is the number of messages queued per client.
const DefaultClientBuffer = 64

// Hub fans messages out to WebSocket clients. Each client has its own
// drop-oldest queue, so a slow client loses updates instead of stalling
// the publisher. It is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*Subscription]struct{}
	buffer  int
}

// NewHub creates a hub with the given per-client queue capacity.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		clients: make(map[*Subscription]struct{}),
		buffer:  buffer,
	}
}

// Subscription is one client's view of the hub.
type Subscription struct {
	hub   *Hub
	queue *events.Queue[any]
	once  sync.Once
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, queue: events.NewQueue[any](h.buffer)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish queues msg for every client. It never blocks.
func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		s.queue.Push(msg)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Next blocks until a message is queued, the subscription is closed, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (any, error) {
	return s.queue.Next(ctx)
}

// Dropped returns the number of messages this client lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.queue.Dropped()
}

// Close unregisters the client. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.clients, s)
		s.hub.mu.Unlock()
		s.queue.Close()
		if n := s.queue.Dropped(); n > 0 {
			slog.Debug("client dropped messages", "count", n)
		}
	})
}
