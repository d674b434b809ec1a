package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRelay(t *testing.T) *RedisRelay {
	t.Helper()
	logger := zap.NewNop()
	return NewRedisRelay(nil, NewInMemoryDispatcher(logger), logger, "ticket-events")
}

func TestRelayStampsLocalEvents(t *testing.T) {
	relay := newTestRelay(t)

	payload, ok, err := relay.outbound(Event{
		ID:        "evt-1",
		Type:      EventTicketCreated,
		TicketID:  "tkt-1",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if !ok {
		t.Fatal("locally published event must be forwarded")
	}

	event, ok := newTestRelay(t).inbound(payload)
	if !ok {
		t.Fatal("foreign-origin event must be re-injected")
	}
	if event.Origin != relay.origin {
		t.Errorf("expected origin %q, got %q", relay.origin, event.Origin)
	}
	if event.TicketID != "tkt-1" {
		t.Errorf("expected ticket id tkt-1, got %q", event.TicketID)
	}
}

func TestRelayDropsOwnEchoes(t *testing.T) {
	relay := newTestRelay(t)

	payload, ok, err := relay.outbound(Event{ID: "evt-1", Type: EventTicketTriaged, TicketID: "tkt-1"})
	if err != nil || !ok {
		t.Fatalf("outbound: ok=%v err=%v", ok, err)
	}

	// Every subscriber of the channel receives its own publishes back.
	if _, ok := relay.inbound(payload); ok {
		t.Error("an instance must not re-inject its own echo")
	}
}

func TestRelayDoesNotForwardRelayedEvents(t *testing.T) {
	relay := newTestRelay(t)

	// A foreign origin means the event was already relayed once; forwarding
	// it again would bounce between instances forever. The nil client makes
	// any publish attempt panic, so returning cleanly proves the skip.
	err := relay.forward(context.Background(), Event{
		ID:       "evt-2",
		Type:     EventTicketFailed,
		TicketID: "tkt-2",
		Origin:   "some-other-instance",
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if _, ok, _ := relay.outbound(Event{Origin: "some-other-instance"}); ok {
		t.Error("foreign-origin event must not be forwarded")
	}
}

func TestRelayDropsMalformedPayloads(t *testing.T) {
	relay := newTestRelay(t)

	if _, ok := relay.inbound([]byte("{not json")); ok {
		t.Error("malformed payload must be discarded")
	}
}
