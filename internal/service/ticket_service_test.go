package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
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

// memoryTicketRepo implements repository.TicketRepository for tests with
// the same partial-merge semantics as the Postgres implementation.
type memoryTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

func newMemoryTicketRepo() *memoryTicketRepo {
	return &memoryTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *memoryTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	return nil
}

func (r *memoryTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *memoryTicketRepo) Update(ctx context.Context, id string, update repository.TicketUpdate) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if update.Status != nil {
		ticket.Status = *update.Status
	}
	if update.Category != nil {
		ticket.Category = update.Category
	}
	if update.Sentiment != nil {
		ticket.Sentiment = update.Sentiment
	}
	if update.Urgency != nil {
		ticket.Urgency = update.Urgency
	}
	if update.AIDraft != nil {
		ticket.AIDraft = update.AIDraft
	}
	if update.AgentDraft != nil {
		ticket.AgentDraft = update.AgentDraft
	}
	if update.ClearTriageError {
		ticket.TriageError = nil
	} else if update.TriageError != nil {
		ticket.TriageError = update.TriageError
	}
	ticket.UpdatedAt = time.Now()
	copied := *ticket
	return &copied, nil
}

func (r *memoryTicketRepo) List(ctx context.Context, status *domain.TicketStatus) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if status != nil && ticket.Status != *status {
			continue
		}
		result = append(result, *ticket)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// deferredQueue collects tasks so tests control when triage runs.
type deferredQueue struct {
	tasks []worker.Task
	err   error
}

func (q *deferredQueue) Enqueue(task worker.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *deferredQueue) drain() {
	for _, task := range q.tasks {
		task(context.Background())
	}
	q.tasks = nil
}

// fakeTriager returns a fixed result or error.
type fakeTriager struct {
	result *triage.Result
	err    error
	calls  int
}

func (f *fakeTriager) Triage(ctx context.Context, req triage.Request) (*triage.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

type fixture struct {
	service  *TicketService
	repo     *memoryTicketRepo
	queue    *deferredQueue
	triager  *fakeTriager
	recorder *eventRecorder
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, triager *fakeTriager) *fixture {
	t.Helper()
	repo := newMemoryTicketRepo()
	queue := &deferredQueue{}
	recorder := &eventRecorder{}
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	dispatcher.SubscribeAll(recorder.record)

	svc := NewTicketService(Dependencies{
		TicketRepo: repo,
		Triager:    triager,
		Queue:      queue,
		Dispatcher: dispatcher,
		Logger:     zap.NewNop(),
		Metrics:    metrics,
	})
	return &fixture{service: svc, repo: repo, queue: queue, triager: triager, recorder: recorder, metrics: metrics}
}

var validInput = CreateInput{
	CustomerName:  "Jane Doe",
	CustomerEmail: "jane@x.com",
	Subject:       "Billing issue",
	Message:       "I was charged twice for my subscription",
}

var billingResult = &triage.Result{
	Category:  domain.TicketCategoryBilling,
	Sentiment: 7,
	Urgency:   domain.TicketUrgencyHigh,
	Draft:     "We apologize for the duplicate charge and will refund it promptly.",
}

func TestCreateTicketReturnsPendingBeforeTriage(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Status != domain.TicketStatusPending {
		t.Errorf("expected PENDING, got %s", ticket.Status)
	}
	if ticket.ID == "" {
		t.Error("expected assigned id")
	}
	if ticket.Category != nil || ticket.Sentiment != nil || ticket.Urgency != nil || ticket.AIDraft != nil {
		t.Error("triage fields should be nil at creation")
	}
	if f.triager.calls != 0 {
		t.Error("triage must not run on the create path")
	}
	if created := f.recorder.ofType(events.EventTicketCreated); len(created) != 1 || created[0].TicketID != ticket.ID {
		t.Errorf("expected exactly one ticket_created for %s, got %+v", ticket.ID, created)
	}
}

func TestCreateTicketUniqueIDs(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		ticket, err := f.service.CreateTicket(context.Background(), validInput)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[ticket.ID] {
			t.Fatalf("duplicate id %s", ticket.ID)
		}
		seen[ticket.ID] = true
	}
}

func TestCreateTicketValidation(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*CreateInput)
	}{
		{"empty name", func(in *CreateInput) { in.CustomerName = "  " }},
		{"bad email", func(in *CreateInput) { in.CustomerEmail = "not-an-email" }},
		{"short subject", func(in *CreateInput) { in.Subject = "hey" }},
		{"short message", func(in *CreateInput) { in.Message = "help!" }},
		{"long message", func(in *CreateInput) { in.Message = string(make([]byte, domain.MessageMaxLen+1)) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeTriager{result: billingResult})
			input := validInput
			tc.mut(&input)

			_, err := f.service.CreateTicket(context.Background(), input)
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tickets, _ := f.repo.List(context.Background(), nil); len(tickets) != 0 {
				t.Error("no ticket may be persisted on validation failure")
			}
			if len(f.queue.tasks) != 0 {
				t.Error("no triage may be scheduled on validation failure")
			}
		})
	}
}

func TestTriageSuccessAppliesResult(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()

	stored, err := f.service.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.TicketStatusTriaged {
		t.Fatalf("expected TRIAGED, got %s", stored.Status)
	}
	if stored.Category == nil || *stored.Category != domain.TicketCategoryBilling {
		t.Error("category not applied")
	}
	if stored.Sentiment == nil || *stored.Sentiment != 7 {
		t.Error("sentiment not applied")
	}
	if stored.Urgency == nil || *stored.Urgency != domain.TicketUrgencyHigh {
		t.Error("urgency not applied")
	}
	if stored.TriageError != nil {
		t.Error("triage error must be nil after success")
	}
	if stored.AIDraft == nil || stored.AgentDraft == nil || *stored.AIDraft != *stored.AgentDraft {
		t.Error("agent draft must be seeded from the AI draft")
	}
	if triaged := f.recorder.ofType(events.EventTicketTriaged); len(triaged) != 1 || triaged[0].TicketID != ticket.ID {
		t.Errorf("expected exactly one ticket_triaged for %s, got %+v", ticket.ID, triaged)
	}
}

func TestTriageFailureIsContained(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"config", &triage.Error{Kind: triage.ErrorKindConfig, Message: "missing OPENAI_ENDPOINT or OPENAI_KEY"}},
		{"transport", &triage.Error{Kind: triage.ErrorKindTransport, Message: "completion call failed (status 500)"}},
		{"bad output", &triage.Error{Kind: triage.ErrorKindBadOutput, Message: "model returned malformed triage JSON"}},
		{"unexpected", errors.New("connection reset by peer")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeTriager{err: tc.err})

			ticket, err := f.service.CreateTicket(context.Background(), validInput)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			f.queue.drain()

			stored, err := f.service.GetTicket(context.Background(), ticket.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if stored.Status != domain.TicketStatusFailed {
				t.Fatalf("ticket left in %s; must never stay PENDING after triage failure", stored.Status)
			}
			if stored.TriageError == nil || *stored.TriageError == "" {
				t.Error("triage error message not recorded")
			}
			if failed := f.recorder.ofType(events.EventTicketFailed); len(failed) != 1 || failed[0].TicketID != ticket.ID {
				t.Errorf("expected exactly one ticket_failed for %s, got %+v", ticket.ID, failed)
			}
		})
	}
}

func TestTriageOutcomesAreCounted(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})
	if _, err := f.service.CreateTicket(context.Background(), validInput); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()
	if n := f.metrics.TriageCount("success"); n != 1 {
		t.Errorf("expected 1 success, got %d", n)
	}

	f = newFixture(t, &fakeTriager{err: &triage.Error{Kind: triage.ErrorKindTransport, Message: "completion call failed"}})
	if _, err := f.service.CreateTicket(context.Background(), validInput); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()
	if n := f.metrics.TriageCount(string(triage.ErrorKindTransport)); n != 1 {
		t.Errorf("expected 1 transport failure, got %d", n)
	}
	if n := f.metrics.TriageCount("success"); n != 0 {
		t.Errorf("expected no successes, got %d", n)
	}
}

func TestEnqueueFailureMarksTicketFailed(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})
	f.queue.err = worker.ErrQueueFull

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := f.service.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.TicketStatusFailed {
		t.Fatalf("expected FAILED when triage cannot be scheduled, got %s", stored.Status)
	}
	if stored.TriageError == nil {
		t.Error("expected triage error message")
	}
}

func TestResolveTicket(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()

	resolved, err := f.service.ResolveTicket(context.Background(), ticket.ID, "Refund issued, confirmed.")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.TicketStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
	if resolved.AgentDraft == nil || *resolved.AgentDraft != "Refund issued, confirmed." {
		t.Error("agent draft not stored")
	}
	if evs := f.recorder.ofType(events.EventTicketResolved); len(evs) != 1 || evs[0].TicketID != ticket.ID {
		t.Errorf("expected exactly one ticket_resolved for %s, got %+v", ticket.ID, evs)
	}
}

func TestResolveUnknownTicket(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	_, err := f.service.ResolveTicket(context.Background(), uuid.NewString(), "A perfectly fine draft.")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveEmptyDraft(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.service.ResolveTicket(context.Background(), ticket.ID, "   "); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveFailedTicket(t *testing.T) {
	f := newFixture(t, &fakeTriager{err: errors.New("model unavailable")})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()

	resolved, err := f.service.ResolveTicket(context.Background(), ticket.ID, "Handled manually, apologies for the trouble.")
	if err != nil {
		t.Fatalf("resolve after failed triage: %v", err)
	}
	if resolved.Status != domain.TicketStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
}

func TestUpdateDraftKeepsStatus(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.queue.drain()

	updated, err := f.service.UpdateDraft(context.Background(), ticket.ID, "Looking into this now, bear with us.")
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.Status != domain.TicketStatusTriaged {
		t.Fatalf("draft edit changed status to %s", updated.Status)
	}
	if evs := f.recorder.ofType(events.EventTicketUpdated); len(evs) != 1 {
		t.Errorf("expected exactly one ticket_updated, got %d", len(evs))
	}
}

func TestListTicketsFilterAndOrder(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: billingResult})

	first, _ := f.service.CreateTicket(context.Background(), validInput)
	time.Sleep(time.Millisecond)
	second, _ := f.service.CreateTicket(context.Background(), validInput)

	all, err := f.service.ListTickets(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(all))
	}
	if all[0].ID != second.ID || all[1].ID != first.ID {
		t.Error("tickets not ordered newest first")
	}

	status := domain.TicketStatusResolved
	none, err := f.service.ListTickets(context.Background(), &status)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no resolved tickets, got %d", len(none))
	}
}

// End-to-end lifecycle: submit, triage with a fixed model result, resolve.
func TestTicketLifecycleScenario(t *testing.T) {
	f := newFixture(t, &fakeTriager{result: &triage.Result{
		Category:  domain.TicketCategoryBilling,
		Sentiment: 7,
		Urgency:   domain.TicketUrgencyHigh,
		Draft:     "We apologize for the duplicate charge...",
	}})

	ticket, err := f.service.CreateTicket(context.Background(), validInput)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Status != domain.TicketStatusPending {
		t.Fatalf("expected PENDING, got %s", ticket.Status)
	}

	f.queue.drain()
	triaged, err := f.service.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if triaged.Status != domain.TicketStatusTriaged ||
		*triaged.Category != domain.TicketCategoryBilling ||
		*triaged.Urgency != domain.TicketUrgencyHigh ||
		*triaged.Sentiment != 7 ||
		*triaged.AgentDraft != "We apologize for the duplicate charge..." {
		t.Fatalf("triage not applied as expected: %+v", triaged)
	}

	resolved, err := f.service.ResolveTicket(context.Background(), ticket.ID, "Refund issued, confirmed.")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.TicketStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
}
