package dto

import (
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	Subject       string `json:"subject"`
	Message       string `json:"message"`
}

// ResolveTicketRequest payload.
type ResolveTicketRequest struct {
	AgentDraft string `json:"agentDraft"`
}

// UpdateDraftRequest payload.
type UpdateDraftRequest struct {
	AgentDraft string `json:"agentDraft"`
}

// TicketResponse is the full wire representation of a ticket.
type TicketResponse struct {
	ID            string                 `json:"id"`
	CustomerName  string                 `json:"customerName"`
	CustomerEmail string                 `json:"customerEmail"`
	Subject       string                 `json:"subject"`
	Message       string                 `json:"message"`
	Status        domain.TicketStatus    `json:"status"`
	Category      *domain.TicketCategory `json:"category"`
	Sentiment     *int                   `json:"sentiment"`
	Urgency       *domain.TicketUrgency  `json:"urgency"`
	AIDraft       *string                `json:"aiDraft"`
	AgentDraft    *string                `json:"agentDraft"`
	TriageError   *string                `json:"triageError"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// FromTicket maps the domain aggregate to its wire representation.
func FromTicket(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            ticket.ID,
		CustomerName:  ticket.CustomerName,
		CustomerEmail: ticket.CustomerEmail,
		Subject:       ticket.Subject,
		Message:       ticket.Message,
		Status:        ticket.Status,
		Category:      ticket.Category,
		Sentiment:     ticket.Sentiment,
		Urgency:       ticket.Urgency,
		AIDraft:       ticket.AIDraft,
		AgentDraft:    ticket.AgentDraft,
		TriageError:   ticket.TriageError,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}
}
