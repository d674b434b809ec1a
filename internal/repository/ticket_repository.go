package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/triage-service/internal/domain"
)

// TicketUpdate describes a partial merge: only non-nil fields change.
// ClearTriageError nulls the diagnostic column, which a pointer field
// cannot express. updated_at is always refreshed.
type TicketUpdate struct {
	Status           *domain.TicketStatus
	Category         *domain.TicketCategory
	Sentiment        *int
	Urgency          *domain.TicketUrgency
	AIDraft          *string
	AgentDraft       *string
	TriageError      *string
	ClearTriageError bool
}

// TicketRepository encapsulates ticket persistence. It is the single
// source of truth; callers never cache ticket state across requests.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Update(ctx context.Context, id string, update TicketUpdate) (*domain.Ticket, error)
	List(ctx context.Context, status *domain.TicketStatus) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, customer_name, customer_email, subject, message, status,
               category, sentiment, urgency, ai_draft, agent_draft, triage_error,
               created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (customer_name, customer_email, subject, message, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.CustomerName,
		ticket.CustomerEmail,
		ticket.Subject,
		ticket.Message,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(ticketFields(&ticket)...); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Update(ctx context.Context, id string, update TicketUpdate) (*domain.Ticket, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if update.Status != nil {
		appendSet("status", *update.Status)
	}
	if update.Category != nil {
		appendSet("category", *update.Category)
	}
	if update.Sentiment != nil {
		appendSet("sentiment", *update.Sentiment)
	}
	if update.Urgency != nil {
		appendSet("urgency", *update.Urgency)
	}
	if update.AIDraft != nil {
		appendSet("ai_draft", *update.AIDraft)
	}
	if update.AgentDraft != nil {
		appendSet("agent_draft", *update.AgentDraft)
	}
	if update.ClearTriageError {
		sets = append(sets, "triage_error=NULL")
	} else if update.TriageError != nil {
		appendSet("triage_error", *update.TriageError)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), ticketColumns)

	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, args...).Scan(ticketFields(&ticket)...); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, status *domain.TicketStatus) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	args := []any{}
	if status != nil {
		args = append(args, *status)
		query += " WHERE status=$1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func ticketFields(ticket *domain.Ticket) []any {
	return []any{
		&ticket.ID,
		&ticket.CustomerName,
		&ticket.CustomerEmail,
		&ticket.Subject,
		&ticket.Message,
		&ticket.Status,
		&ticket.Category,
		&ticket.Sentiment,
		&ticket.Urgency,
		&ticket.AIDraft,
		&ticket.AgentDraft,
		&ticket.TriageError,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	}
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(ticketFields(&ticket)...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
