package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "PENDING"
	TicketStatusTriaged  TicketStatus = "TRIAGED"
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusFailed   TicketStatus = "FAILED"
)

// ParseTicketStatus validates a raw status string.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	switch status := TicketStatus(raw); status {
	case TicketStatusPending, TicketStatusTriaged, TicketStatusResolved, TicketStatusFailed:
		return status, true
	default:
		return "", false
	}
}

// TicketCategory enumerates triage classifications.
type TicketCategory string

const (
	TicketCategoryBilling        TicketCategory = "BILLING"
	TicketCategoryTechnical      TicketCategory = "TECHNICAL"
	TicketCategoryFeatureRequest TicketCategory = "FEATURE_REQUEST"
)

// IsValid reports whether the category is in the closed enumeration.
func (c TicketCategory) IsValid() bool {
	switch c {
	case TicketCategoryBilling, TicketCategoryTechnical, TicketCategoryFeatureRequest:
		return true
	default:
		return false
	}
}

// TicketUrgency enumerates triage urgency levels.
type TicketUrgency string

const (
	TicketUrgencyHigh   TicketUrgency = "HIGH"
	TicketUrgencyMedium TicketUrgency = "MEDIUM"
	TicketUrgencyLow    TicketUrgency = "LOW"
)

// IsValid reports whether the urgency is in the closed enumeration.
func (u TicketUrgency) IsValid() bool {
	switch u {
	case TicketUrgencyHigh, TicketUrgencyMedium, TicketUrgencyLow:
		return true
	default:
		return false
	}
}

// Field bounds enforced at intake and resolve time.
const (
	CustomerNameMaxLen  = 120
	CustomerEmailMaxLen = 180
	SubjectMinLen       = 5
	SubjectMaxLen       = 180
	MessageMinLen       = 10
	MessageMaxLen       = 4000
	AgentDraftMinLen    = 5
	AgentDraftMaxLen    = 5000
)

// Ticket is the aggregate for customer complaints. Triage fields stay nil
// until the background classification completes; TriageError is set only
// when triage fails and cleared again on a later success.
type Ticket struct {
	ID            string
	CustomerName  string
	CustomerEmail string
	Subject       string
	Message       string
	Status        TicketStatus
	Category      *TicketCategory
	Sentiment     *int
	Urgency       *TicketUrgency
	AIDraft       *string
	AgentDraft    *string
	TriageError   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
