package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated  EventType = "ticket_created"
	EventTicketTriaged  EventType = "ticket_triaged"
	EventTicketResolved EventType = "ticket_resolved"
	EventTicketFailed   EventType = "ticket_failed"
	EventTicketUpdated  EventType = "ticket_updated"
)

// Event represents a ticket lifecycle notification. Events are ephemeral:
// never persisted, lost when no subscriber is connected at publish time.
// Origin identifies the process that first published the event; the Redis
// relay uses it to avoid re-broadcasting its own events.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticketId"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
