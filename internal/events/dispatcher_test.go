package events

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestDispatcherTypedSubscribe(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())

	var got []Event
	d.Subscribe(EventTicketCreated, func(ctx context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})

	d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"})
	d.Publish(context.Background(), Event{Type: EventTicketResolved, TicketID: "t2"})

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].TicketID != "t1" {
		t.Errorf("expected ticket t1, got %s", got[0].TicketID)
	}
}

func TestDispatcherSubscribeAll(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())

	var count int
	d.SubscribeAll(func(ctx context.Context, ev Event) error {
		count++
		return nil
	})

	for _, eventType := range []EventType{EventTicketCreated, EventTicketTriaged, EventTicketFailed} {
		d.Publish(context.Background(), Event{Type: eventType, TicketID: "t1"})
	}

	if count != 3 {
		t.Fatalf("expected 3 deliveries, got %d", count)
	}
}

func TestDispatcherCancelIsIdempotent(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())

	var count int
	sub := d.Subscribe(EventTicketCreated, func(ctx context.Context, ev Event) error {
		count++
		return nil
	})

	d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"})
	sub.Cancel()
	sub.Cancel()
	d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t2"})

	if count != 1 {
		t.Fatalf("expected 1 delivery after cancel, got %d", count)
	}
}

func TestDispatcherHandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())

	var delivered bool
	d.SubscribeAll(func(ctx context.Context, ev Event) error {
		return errors.New("subscriber broke")
	})
	d.SubscribeAll(func(ctx context.Context, ev Event) error {
		delivered = true
		return nil
	})

	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"}); err != nil {
		t.Fatalf("publish returned error: %v", err)
	}
	if !delivered {
		t.Error("second subscriber never saw the event")
	}
}
