package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/observability"
	"github.com/spec-kit/triage-service/internal/repository"
	"github.com/spec-kit/triage-service/internal/triage"
	"github.com/spec-kit/triage-service/internal/worker"
	apperrors "github.com/spec-kit/triage-service/pkg/util"
)

// Triager classifies a ticket via the external model.
type Triager interface {
	Triage(ctx context.Context, req triage.Request) (*triage.Result, error)
}

// TaskQueue schedules background work off the request path.
type TaskQueue interface {
	Enqueue(task worker.Task) error
}

// TicketService coordinates the ticket lifecycle: create, asynchronous
// triage, agent edits, and resolution.
type TicketService struct {
	tickets    repository.TicketRepository
	triager    Triager
	queue      TaskQueue
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Dependencies bundles collaborators for the ticket service.
type Dependencies struct {
	TicketRepo repository.TicketRepository
	Triager    Triager
	Queue      TaskQueue
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	return &TicketService{
		tickets:    deps.TicketRepo,
		triager:    deps.Triager,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
}

// CreateInput describes a customer submission.
type CreateInput struct {
	CustomerName  string
	CustomerEmail string
	Subject       string
	Message       string
}

// CreateTicket validates the submission, persists the ticket as PENDING,
// and schedules triage in the background. It returns before the external
// model is ever contacted.
func (s *TicketService) CreateTicket(ctx context.Context, input CreateInput) (*domain.Ticket, error) {
	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.CustomerEmail = strings.TrimSpace(input.CustomerEmail)
	input.Subject = strings.TrimSpace(input.Subject)
	input.Message = strings.TrimSpace(input.Message)

	if err := validateCreate(input); err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		Subject:       input.Subject,
		Message:       input.Message,
		Status:        domain.TicketStatusPending,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventTicketCreated, ticket.ID)
	s.scheduleTriage(ticket)
	return ticket, nil
}

// GetTicket fetches a single ticket.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return ticket, nil
}

// ListTickets returns tickets newest first, optionally filtered by status.
func (s *TicketService) ListTickets(ctx context.Context, status *domain.TicketStatus) ([]domain.Ticket, error) {
	return s.tickets.List(ctx, status)
}

// ResolveTicket records the agent's final draft and marks the ticket
// RESOLVED. It does not require prior triage success: an agent may resolve
// a FAILED ticket by supplying their own draft.
func (s *TicketService) ResolveTicket(ctx context.Context, id, agentDraft string) (*domain.Ticket, error) {
	agentDraft = strings.TrimSpace(agentDraft)
	if err := validateAgentDraft(agentDraft); err != nil {
		return nil, err
	}

	status := domain.TicketStatusResolved
	ticket, err := s.tickets.Update(ctx, id, repository.TicketUpdate{
		AgentDraft: &agentDraft,
		Status:     &status,
	})
	if err != nil {
		return nil, mapNotFound(err)
	}

	s.publishEvent(ctx, events.EventTicketResolved, ticket.ID)
	return ticket, nil
}

// UpdateDraft stores an agent's in-progress draft without changing status.
func (s *TicketService) UpdateDraft(ctx context.Context, id, agentDraft string) (*domain.Ticket, error) {
	agentDraft = strings.TrimSpace(agentDraft)
	if err := validateAgentDraft(agentDraft); err != nil {
		return nil, err
	}

	ticket, err := s.tickets.Update(ctx, id, repository.TicketUpdate{
		AgentDraft: &agentDraft,
	})
	if err != nil {
		return nil, mapNotFound(err)
	}

	s.publishEvent(ctx, events.EventTicketUpdated, ticket.ID)
	return ticket, nil
}

// scheduleTriage submits the background task. An unschedulable task is
// converted to an immediate triage failure so the ticket can never sit
// PENDING with nothing in flight.
func (s *TicketService) scheduleTriage(ticket *domain.Ticket) {
	req := triage.Request{
		CustomerName:  ticket.CustomerName,
		CustomerEmail: ticket.CustomerEmail,
		Subject:       ticket.Subject,
		Message:       ticket.Message,
	}
	ticketID := ticket.ID

	err := s.queue.Enqueue(func(ctx context.Context) {
		s.runTriage(ctx, ticketID, req)
	})
	if err != nil {
		s.logger.Warn("triage enqueue failed", zap.String("ticket_id", ticketID), zap.Error(err))
		s.failTriage(context.Background(), ticketID, fmt.Sprintf("triage not scheduled: %v", err))
	}
}

// runTriage is the background task body. Every failure path is contained
// here: nothing escapes to an HTTP caller.
func (s *TicketService) runTriage(ctx context.Context, ticketID string, req triage.Request) {
	result, err := s.triager.Triage(ctx, req)
	if err != nil {
		kind := string(triage.KindOf(err))
		if kind == "" {
			kind = "error"
		}
		s.logger.Warn("triage failed",
			zap.String("ticket_id", ticketID),
			zap.String("kind", kind),
			zap.Error(err))
		s.metrics.RecordTriage(kind)
		s.failTriage(ctx, ticketID, err.Error())
		return
	}

	status := domain.TicketStatusTriaged
	aiDraft := result.Draft
	agentDraft := result.Draft
	_, err = s.tickets.Update(ctx, ticketID, repository.TicketUpdate{
		Status:           &status,
		Category:         &result.Category,
		Sentiment:        &result.Sentiment,
		Urgency:          &result.Urgency,
		AIDraft:          &aiDraft,
		AgentDraft:       &agentDraft,
		ClearTriageError: true,
	})
	if err != nil {
		s.logger.Error("persisting triage result failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return
	}

	s.metrics.RecordTriage("success")
	s.publishEvent(ctx, events.EventTicketTriaged, ticketID)
}

func (s *TicketService) failTriage(ctx context.Context, ticketID, message string) {
	status := domain.TicketStatusFailed
	_, err := s.tickets.Update(ctx, ticketID, repository.TicketUpdate{
		Status:      &status,
		TriageError: &message,
	})
	if err != nil {
		s.logger.Error("persisting triage failure failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return
	}

	s.publishEvent(ctx, events.EventTicketFailed, ticketID)
}

func (s *TicketService) publishEvent(ctx context.Context, eventType events.EventType, ticketID string) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now(),
	})
}

func validateCreate(input CreateInput) error {
	details := map[string]any{}
	if input.CustomerName == "" || len(input.CustomerName) > domain.CustomerNameMaxLen {
		details["customerName"] = fmt.Sprintf("required, at most %d characters", domain.CustomerNameMaxLen)
	}
	if _, err := mail.ParseAddress(input.CustomerEmail); err != nil || len(input.CustomerEmail) > domain.CustomerEmailMaxLen {
		details["customerEmail"] = fmt.Sprintf("must be a valid address of at most %d characters", domain.CustomerEmailMaxLen)
	}
	if len(input.Subject) < domain.SubjectMinLen || len(input.Subject) > domain.SubjectMaxLen {
		details["subject"] = fmt.Sprintf("must be %d-%d characters", domain.SubjectMinLen, domain.SubjectMaxLen)
	}
	if len(input.Message) < domain.MessageMinLen || len(input.Message) > domain.MessageMaxLen {
		details["message"] = fmt.Sprintf("must be %d-%d characters", domain.MessageMinLen, domain.MessageMaxLen)
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket submission", details)
	}
	return nil
}

func validateAgentDraft(agentDraft string) error {
	if len(agentDraft) < domain.AgentDraftMinLen || len(agentDraft) > domain.AgentDraftMaxLen {
		return apperrors.NewValidationError(
			fmt.Sprintf("agentDraft must be %d-%d characters", domain.AgentDraftMinLen, domain.AgentDraftMaxLen), nil)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", nil)
	}
	return err
}
