package store

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrBranchNotFound     = errors.New("branch not found")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrVisitNotFound      = errors.New("visit not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidTransition  = errors.New("invalid status transition")
	// ErrQueueContended means call-next lost the race for the queue head on
	// every attempt. The queue was not empty; the caller should retry.
	ErrQueueContended = errors.New("could not claim a waiting ticket")
)

// TransitionError reports a rejected status change. The ticket is left
// untouched when one of these is returned.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
