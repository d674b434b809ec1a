package handlers

import (
	"bufio"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/gateway"
)

// connectedFrame is the acknowledgment sent before any events.
const connectedFrame = `{"type":"connected"}`

// EventsHandler serves the live update stream.
type EventsHandler struct {
	hub    *gateway.Hub
	logger *zap.Logger
}

// NewEventsHandler constructs handler.
func NewEventsHandler(hub *gateway.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger}
}

// Stream GET /events. Holds the connection open and pushes serialized
// lifecycle events as SSE frames. A write failure means the client went
// away; the subscription is dropped, nothing else.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	client := h.hub.Register()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		h.stream(w, client)
	}))
	return nil
}

// stream writes the acknowledgment frame, then the client's frames until the
// subscription closes or a write fails.
func (h *EventsHandler) stream(w *bufio.Writer, client *gateway.Client) {
	defer h.hub.Deregister(client)

	if err := writeFrame(w, []byte(connectedFrame)); err != nil {
		return
	}
	for payload := range client.Frames() {
		if err := writeFrame(w, payload); err != nil {
			return
		}
	}
}

func writeFrame(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
