package models

import "time"

// Ticket is a queue token for one patient visit at one branch. TokenNumber
// is unique within the branch and strictly increasing in creation order.
type Ticket struct {
	TicketID    string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	BranchID    string    `json:"branch_id"`
	TokenNumber int       `json:"token_number"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	NoShowCount int       `json:"no_show_count"`
}

const (
	StatusWaiting   = "waiting"
	StatusCheckedIn = "checked_in"
	StatusCalled    = "called"
	StatusServed    = "served"
	StatusNoShow    = "no_show"
)
