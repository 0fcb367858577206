package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"smartclinic/backend/internal/models"
)

// TicketEvent is one entry of a ticket's append-only audit trail. Entries
// are hash-chained per ticket so the history can be checked for tampering.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID    string `json:"ticket_id"`
	BranchID    string `json:"branch_id"`
	TokenNumber int    `json:"token_number"`
	Status      string `json:"status"`
}

const (
	EventTicketCreated = "ticket_created"
)

// NewTicketEvent builds the next chained event for a ticket. prevHash is ""
// and seq is 1 for the first event.
func NewTicketEvent(ticket models.Ticket, eventType, prevHash string, seq int, at time.Time) (TicketEvent, error) {
	payload, err := json.Marshal(eventPayload{
		TicketID:    ticket.TicketID,
		BranchID:    ticket.BranchID,
		TokenNumber: ticket.TokenNumber,
		Status:      ticket.Status,
	})
	if err != nil {
		return TicketEvent{}, err
	}
	event := TicketEvent{
		TicketID:  ticket.TicketID,
		Seq:       seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: at.UTC(),
		PrevHash:  prevHash,
	}
	event.Hash = ComputeTicketEventHash(prevHash, ticket.TicketID, eventType, payload, event.CreatedAt, seq)
	return event, nil
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents walks a ticket's chain and reports the first broken
// link, if any.
func VerifyTicketEvents(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: prev_hash mismatch", i)
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", i)
		}
		prev = event.Hash
	}
	return nil
}
