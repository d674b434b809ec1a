package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/gateway"
)

func TestStreamSendsConnectedFrameFirst(t *testing.T) {
	hub := gateway.NewHub(zap.NewNop())
	handler := NewEventsHandler(hub, zap.NewNop())

	client := hub.Register()
	if err := hub.Broadcast(context.Background(), events.Event{
		ID:       "evt-1",
		Type:     events.EventTicketCreated,
		TicketID: "tkt-1",
	}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	// Closing the subscription lets the stream drain buffered frames and
	// return instead of blocking on the channel.
	hub.Deregister(client)

	var buf bytes.Buffer
	handler.stream(bufio.NewWriter(&buf), client)

	frames := parseFrames(t, buf.String())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %q", len(frames), buf.String())
	}

	var ack struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &ack); err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if ack.Type != "connected" {
		t.Errorf("first frame must acknowledge the connection, got %q", frames[0])
	}

	var event events.Event
	if err := json.Unmarshal([]byte(frames[1]), &event); err != nil {
		t.Fatalf("decode event frame: %v", err)
	}
	if event.Type != events.EventTicketCreated || event.TicketID != "tkt-1" {
		t.Errorf("unexpected event frame: %+v", event)
	}
}

func TestStreamWithoutEventsOnlyAcknowledges(t *testing.T) {
	hub := gateway.NewHub(zap.NewNop())
	handler := NewEventsHandler(hub, zap.NewNop())

	client := hub.Register()
	hub.Deregister(client)

	var buf bytes.Buffer
	handler.stream(bufio.NewWriter(&buf), client)

	frames := parseFrames(t, buf.String())
	if len(frames) != 1 || !strings.Contains(frames[0], "connected") {
		t.Errorf("expected only the acknowledgment frame, got %q", buf.String())
	}
}

func parseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, payload)
		}
	}
	return frames
}
