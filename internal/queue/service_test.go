package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"smartclinic/backend/internal/hub"
	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/store"
	"smartclinic/backend/internal/store/memory"
)

type fixture struct {
	store   *memory.Store
	hub     *hub.Hub
	service *Service
	branchA models.Branch
	branchB models.Branch
	patient models.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.NewStore()
	h := hub.New()
	patient, err := s.FindOrCreatePatient(context.Background(), "Asha", "80005555")
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	return &fixture{
		store:   s,
		hub:     h,
		service: NewService(s, h, Options{ETAMinutes: 10}),
		branchA: s.AddBranch("Branch A", "Addr A"),
		branchB: s.AddBranch("Branch B", "Addr B"),
		patient: patient,
	}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func drain(t *testing.T, client *hub.Client) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case data := <-client.Send:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBookAssignsBranchScopedNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if first.TokenNumber != 1 {
		t.Fatalf("token_number = %d, want 1", first.TokenNumber)
	}
	if first.ETAMinutes != 10 {
		t.Fatalf("eta_minutes = %d, want 10", first.ETAMinutes)
	}

	second, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if second.TokenNumber != 2 {
		t.Fatalf("token_number = %d, want 2", second.TokenNumber)
	}

	other, err := f.service.Book(ctx, f.branchB.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if other.TokenNumber != 1 {
		t.Fatalf("branch B token_number = %d, want independent 1", other.TokenNumber)
	}
}

func TestConcurrentBookingKeepsTokenAndTimeOrderAligned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const bookings = 200
	var wg sync.WaitGroup
	errs := make(chan error, bookings)
	for i := 0; i < bookings; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("book: %v", err)
	}

	tickets, err := f.service.ListBranchQueue(ctx, f.branchA.BranchID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != bookings {
		t.Fatalf("listed %d tickets, want %d", len(tickets), bookings)
	}
	for i, ticket := range tickets {
		if ticket.TokenNumber != i+1 {
			t.Fatalf("position %d has token_number %d (created_at %v)", i, ticket.TokenNumber, ticket.CreatedAt)
		}
		if i > 0 && ticket.CreatedAt.Before(tickets[i-1].CreatedAt) {
			t.Fatalf("created_at goes backwards at position %d: %v after %v", i, ticket.CreatedAt, tickets[i-1].CreatedAt)
		}
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Book(ctx, "", f.patient.PatientID); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing branch: err = %v", err)
	}
	if _, err := f.service.Book(ctx, f.branchA.BranchID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing patient: err = %v", err)
	}
}

func TestCallNextOrderAndEmptyQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	result, err := f.service.CallNext(ctx, f.branchA.BranchID)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if result.NoWaiting {
		t.Fatal("expected a called ticket")
	}
	if result.Ticket.TicketID != booked.TokenID {
		t.Fatalf("called %s, want %s", result.Ticket.TicketID, booked.TokenID)
	}
	if result.Ticket.Status != models.StatusCalled {
		t.Fatalf("status = %q, want called", result.Ticket.Status)
	}

	again, err := f.service.CallNext(ctx, f.branchA.BranchID)
	if err != nil {
		t.Fatalf("call next on empty queue: %v", err)
	}
	if !again.NoWaiting {
		t.Fatalf("expected no-waiting result, got ticket %+v", again.Ticket)
	}
}

func TestCheckInThenServeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	checked, err := f.service.CheckIn(ctx, booked.TokenID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if checked.Status != models.StatusCheckedIn {
		t.Fatalf("status = %q, want checked_in", checked.Status)
	}

	served, err := f.service.MarkServed(ctx, booked.TokenID)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != models.StatusServed {
		t.Fatalf("status = %q, want served", served.Status)
	}

	// The served ticket never comes back out of call-next.
	result, err := f.service.CallNext(ctx, f.branchA.BranchID)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if !result.NoWaiting {
		t.Fatalf("served ticket re-surfaced: %+v", result.Ticket)
	}
}

func TestMarkServedUnreachableFromWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	_, err = f.service.MarkServed(ctx, booked.TokenID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("serve from waiting: err = %v, want invalid transition", err)
	}

	ticket, err := f.store.GetTicket(ctx, booked.TokenID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ticket.Status != models.StatusWaiting {
		t.Fatalf("status mutated to %q by rejected serve", ticket.Status)
	}
}

func TestNotificationScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	branchClient := hub.NewClient("staff-a", 8)
	otherClient := hub.NewClient("staff-b", 8)
	globalClient := hub.NewClient("display", 8)
	f.hub.Register(branchClient)
	f.hub.Register(otherClient)
	f.hub.Register(globalClient)
	f.hub.JoinBranch(branchClient, f.branchA.BranchID)
	f.hub.JoinBranch(otherClient, f.branchB.BranchID)

	booked, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.service.CallNext(ctx, f.branchA.BranchID); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := f.service.MarkServed(ctx, booked.TokenID); err != nil {
		t.Fatalf("serve: %v", err)
	}

	branchEvents := drain(t, branchClient)
	wantTypes := []string{hub.EventQueueUpdate, hub.EventTokenCalled, hub.EventTokenServed}
	if len(branchEvents) != len(wantTypes) {
		t.Fatalf("branch client got %d events, want %d", len(branchEvents), len(wantTypes))
	}
	for i, want := range wantTypes {
		if branchEvents[i].Type != want {
			t.Fatalf("branch event %d = %q, want %q", i, branchEvents[i].Type, want)
		}
	}

	var called models.Ticket
	if err := json.Unmarshal(branchEvents[1].Payload, &called); err != nil {
		t.Fatalf("token_called payload: %v", err)
	}
	if called.TicketID != booked.TokenID {
		t.Fatalf("token_called carries %s, want %s", called.TicketID, booked.TokenID)
	}

	// Branch B staff only see the global served event, not branch A's
	// booked/called traffic.
	otherEvents := drain(t, otherClient)
	if len(otherEvents) != 1 || otherEvents[0].Type != hub.EventTokenServed {
		t.Fatalf("other branch events = %+v", otherEvents)
	}

	globalEvents := drain(t, globalClient)
	if len(globalEvents) != 1 || globalEvents[0].Type != hub.EventTokenServed {
		t.Fatalf("global client events = %+v", globalEvents)
	}
}

func TestCheckInPublishesGlobally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outsider := hub.NewClient("outsider", 8)
	f.hub.Register(outsider)

	booked, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.service.CheckIn(ctx, booked.TokenID); err != nil {
		t.Fatalf("check in: %v", err)
	}

	events := drain(t, outsider)
	if len(events) != 1 || events[0].Type != hub.EventQueueUpdate {
		t.Fatalf("outsider events = %+v, want one global queue_update", events)
	}
}

func TestCallNextRetriesPastClaimedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	callStore := &racingStore{TicketStore: f.store}
	service := NewService(callStore, f.hub, Options{})

	first, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	second, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// Simulate another staff member claiming the head ticket between the
	// oldest-waiting read and the transition.
	callStore.stealOnce = first.TokenID

	result, err := service.CallNext(ctx, f.branchA.BranchID)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if result.NoWaiting {
		t.Fatal("expected the next ticket, got no-waiting")
	}
	if result.Ticket.TicketID != second.TokenID {
		t.Fatalf("called %s, want the second ticket %s", result.Ticket.TicketID, second.TokenID)
	}
}

func TestCallNextReportsContentionWhenRetriesExhaust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	callStore := &contendedStore{TicketStore: f.store}
	service := NewService(callStore, f.hub, Options{})

	// Enough waiting tickets that every retry finds a head to lose.
	for i := 0; i < callNextAttempts+1; i++ {
		if _, err := f.service.Book(ctx, f.branchA.BranchID, f.patient.PatientID); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	result, err := service.CallNext(ctx, f.branchA.BranchID)
	if !errors.Is(err, store.ErrQueueContended) {
		t.Fatalf("err = %v, want queue contention", err)
	}
	if result.NoWaiting {
		t.Fatal("contention must not be reported as an empty queue")
	}
}

// contendedStore claims every queue head out from under CallNext, modeling a
// busier staff member winning each race.
type contendedStore struct {
	store.TicketStore
}

func (c *contendedStore) OldestWaiting(ctx context.Context, branchID string) (models.Ticket, bool, error) {
	ticket, found, err := c.TicketStore.OldestWaiting(ctx, branchID)
	if err != nil || !found {
		return ticket, found, err
	}
	if _, err := c.TicketStore.TransitionTicket(ctx, store.TransitionInput{
		TicketID:   ticket.TicketID,
		Action:     store.ActionCallNext,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, found, nil
}

// racingStore lets a test claim a ticket out from under CallNext exactly once.
type racingStore struct {
	store.TicketStore
	stealOnce string
}

func (r *racingStore) OldestWaiting(ctx context.Context, branchID string) (models.Ticket, bool, error) {
	ticket, found, err := r.TicketStore.OldestWaiting(ctx, branchID)
	if err != nil || !found {
		return ticket, found, err
	}
	if r.stealOnce == ticket.TicketID {
		r.stealOnce = ""
		if _, err := r.TicketStore.TransitionTicket(ctx, store.TransitionInput{
			TicketID:   ticket.TicketID,
			Action:     store.ActionCallNext,
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			return models.Ticket{}, false, err
		}
	}
	return ticket, found, nil
}
