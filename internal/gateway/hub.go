package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/events"
)

// clientBuffer bounds frames queued per slow client before drops begin.
const clientBuffer = 16

// Client is one registered live viewer. Frames closes when the client is
// deregistered.
type Client struct {
	frames chan []byte
}

// Frames returns serialized event payloads for this client.
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// Hub owns the registry of live update subscribers. Delivery is
// best-effort: a subscriber whose buffer is full loses the frame, and a
// subscriber that disconnects receives nothing further.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty registry.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a new subscriber.
func (h *Hub) Register() *Client {
	client := &Client{frames: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

// Deregister removes a subscriber and closes its frame channel. Calling it
// twice is a no-op.
func (h *Hub) Deregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.frames)
}

// Broadcast serializes the event once and hands it to every registered
// subscriber without blocking. It satisfies events.EventHandler.
func (h *Hub) Broadcast(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.frames <- payload:
		default:
			h.logger.Debug("dropping frame for slow subscriber",
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Drain deregisters every subscriber, ending their streams.
func (h *Hub) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.frames)
	}
}
