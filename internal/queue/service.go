package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartclinic/backend/internal/hub"
	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/store"
)

// ErrValidation marks a request rejected before any mutation because a
// required field is missing.
var ErrValidation = errors.New("missing required field")

// callNextAttempts bounds the retry loop when concurrent call-next requests
// race for the same waiting ticket.
const callNextAttempts = 3

// Service orchestrates the ticket ledger, the status machine, and the
// notification hub. Publishes happen after the store commit and are
// fire-and-forget: a missed delivery never fails or rolls back the request.
type Service struct {
	store      store.TicketStore
	hub        *hub.Hub
	etaMinutes int
}

type Options struct {
	// ETAMinutes is the placeholder wait estimate returned by Book. It is
	// not derived from queue depth.
	ETAMinutes int
}

type BookResult struct {
	TokenID     string `json:"token_id"`
	TokenNumber int    `json:"token_number"`
	ETAMinutes  int    `json:"eta_minutes"`
}

// CallNextResult distinguishes an empty queue from a called ticket.
type CallNextResult struct {
	Ticket    models.Ticket
	NoWaiting bool
}

type queueUpdate struct {
	Action  string `json:"action"`
	TokenID string `json:"token_id,omitempty"`
}

type tokenServed struct {
	TokenID string `json:"token_id"`
}

func NewService(ticketStore store.TicketStore, notifier *hub.Hub, options Options) *Service {
	eta := options.ETAMinutes
	if eta <= 0 {
		eta = 10
	}
	return &Service{
		store:      ticketStore,
		hub:        notifier,
		etaMinutes: eta,
	}
}

func (s *Service) Book(ctx context.Context, branchID, patientID string) (BookResult, error) {
	if branchID == "" {
		return BookResult{}, fmt.Errorf("%w: branch_id", ErrValidation)
	}
	if patientID == "" {
		return BookResult{}, fmt.Errorf("%w: patient_id", ErrValidation)
	}

	// CreatedAt is left zero so the store stamps it inside the same
	// serialized section that assigns the token number. Stamping it here
	// would let concurrent bookings commit with created_at out of token
	// order.
	ticket, err := s.store.CreateTicket(ctx, store.CreateTicketInput{
		PatientID: patientID,
		BranchID:  branchID,
	})
	if err != nil {
		return BookResult{}, err
	}

	s.hub.PublishToBranch(branchID, hub.EventQueueUpdate, queueUpdate{Action: "booked"})

	return BookResult{
		TokenID:     ticket.TicketID,
		TokenNumber: ticket.TokenNumber,
		ETAMinutes:  s.etaMinutes,
	}, nil
}

func (s *Service) CheckIn(ctx context.Context, ticketID string) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, fmt.Errorf("%w: token_id", ErrValidation)
	}

	ticket, err := s.store.TransitionTicket(ctx, store.TransitionInput{
		TicketID:   ticketID,
		Action:     store.ActionCheckIn,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}

	// Check-in notifies everyone, not just the branch group.
	s.hub.PublishGlobal(hub.EventQueueUpdate, queueUpdate{Action: "checked_in", TokenID: ticket.TicketID})
	return ticket, nil
}

// CallNext moves the oldest waiting ticket of a branch to called and
// announces it to the branch group. Two staff members racing for the same
// ticket is resolved by the atomic transition: the loser re-reads the queue.
func (s *Service) CallNext(ctx context.Context, branchID string) (CallNextResult, error) {
	if branchID == "" {
		return CallNextResult{}, fmt.Errorf("%w: branch_id", ErrValidation)
	}

	for attempt := 0; attempt < callNextAttempts; attempt++ {
		candidate, found, err := s.store.OldestWaiting(ctx, branchID)
		if err != nil {
			return CallNextResult{}, err
		}
		if !found {
			return CallNextResult{NoWaiting: true}, nil
		}

		ticket, err := s.store.TransitionTicket(ctx, store.TransitionInput{
			TicketID:   candidate.TicketID,
			Action:     store.ActionCallNext,
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			return CallNextResult{}, err
		}

		s.hub.PublishToBranch(branchID, hub.EventTokenCalled, ticket)
		return CallNextResult{Ticket: ticket}, nil
	}

	return CallNextResult{}, store.ErrQueueContended
}

func (s *Service) MarkServed(ctx context.Context, ticketID string) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, fmt.Errorf("%w: token_id", ErrValidation)
	}

	ticket, err := s.store.TransitionTicket(ctx, store.TransitionInput{
		TicketID:   ticketID,
		Action:     store.ActionMarkServed,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return models.Ticket{}, err
	}

	s.hub.PublishGlobal(hub.EventTokenServed, tokenServed{TokenID: ticket.TicketID})
	return ticket, nil
}

func (s *Service) ListBranchQueue(ctx context.Context, branchID string) ([]models.Ticket, error) {
	if branchID == "" {
		return nil, fmt.Errorf("%w: branch_id", ErrValidation)
	}
	return s.store.ListByBranch(ctx, branchID)
}
