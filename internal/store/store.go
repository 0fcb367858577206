package store

import (
	"context"
	"time"

	"smartclinic/backend/internal/models"
)

type CreateTicketInput struct {
	PatientID string
	BranchID  string
	CreatedAt time.Time
}

type TransitionInput struct {
	TicketID   string
	Action     string
	OccurredAt time.Time
}

type Stats struct {
	TotalPatients int `json:"total_patients"`
	TotalTokens   int `json:"total_tokens"`
	Served        int `json:"served"`
	Waiting       int `json:"waiting"`
}

// TicketStore is the ticket ledger plus the transition applier. Token
// numbers are allocated branch-scoped and strictly increasing; the
// allocation and the insert commit as one atomic step per branch.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListByBranch(ctx context.Context, branchID string) ([]models.Ticket, error)
	OldestWaiting(ctx context.Context, branchID string) (models.Ticket, bool, error)
	// TransitionTicket applies one edge of the status machine as an atomic
	// read-modify-write. A *TransitionError leaves the ticket unchanged.
	TransitionTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}

type PatientStore interface {
	FindOrCreatePatient(ctx context.Context, name, phone string) (models.Patient, error)
	// PatientHistory returns visits newest-first, each with its medicines.
	PatientHistory(ctx context.Context, patientID string) ([]models.Visit, error)
	AddVisit(ctx context.Context, patientID, reason, notes, doctorID string) (models.Visit, error)
	AddMedicine(ctx context.Context, visitID, name, dosage string, durationDays int) (models.Medicine, error)
}

type BranchStore interface {
	ListBranches(ctx context.Context) ([]models.Branch, error)
	GetBranch(ctx context.Context, branchID string) (models.Branch, error)
	// SeedDefaultBranches inserts the default branches when the directory
	// is empty. No-op otherwise.
	SeedDefaultBranches(ctx context.Context) error
}

type DoctorStore interface {
	VerifyDoctor(ctx context.Context, username, password string) (models.Doctor, error)
}

type StatsStore interface {
	GetStats(ctx context.Context) (Stats, error)
}

type Store interface {
	TicketStore
	PatientStore
	BranchStore
	DoctorStore
	StatsStore
}
