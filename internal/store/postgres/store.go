package postgres

import (
	"context"
	"errors"
	"time"

	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the clinic tables when they do not exist yet. The
// original backend bootstrapped its schema the same way on startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS branches (
			branch_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patients (
			patient_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS doctors (
			doctor_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			branch_id UUID
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id UUID PRIMARY KEY,
			patient_id UUID NOT NULL REFERENCES patients(patient_id),
			branch_id UUID NOT NULL REFERENCES branches(branch_id),
			token_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			no_show_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (branch_id, token_number)
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_sequences (
			branch_id UUID PRIMARY KEY,
			next_number INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_events (
			ticket_id UUID NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (ticket_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			visit_id UUID PRIMARY KEY,
			patient_id UUID NOT NULL REFERENCES patients(patient_id),
			visit_date TIMESTAMPTZ NOT NULL,
			reason TEXT,
			notes TEXT,
			doctor_id UUID
		)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			medicine_id UUID PRIMARY KEY,
			visit_id UUID NOT NULL REFERENCES history(visit_id),
			medicine_name TEXT NOT NULL,
			dosage TEXT,
			duration_days INTEGER
		)`,
	}
	for _, statement := range statements {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureBranchExists(ctx, tx, input.BranchID); err != nil {
		return models.Ticket{}, err
	}
	if err = ensurePatientExists(ctx, tx, input.PatientID); err != nil {
		return models.Ticket{}, err
	}

	// The sequence upsert serializes concurrent bookings for the same
	// branch: the row lock taken by the first writer holds the second
	// until commit, so numbers come out strictly increasing with no
	// duplicates.
	seq, err := nextTokenNumber(ctx, tx, input.BranchID)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		TicketID:    uuid.NewString(),
		PatientID:   input.PatientID,
		BranchID:    input.BranchID,
		TokenNumber: seq,
		Status:      models.StatusWaiting,
		CreatedAt:   createdAt,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, patient_id, branch_id, token_number, status, created_at, no_show_count)
		VALUES ($1,$2,$3,$4,$5,$6,0)
	`, ticket.TicketID, ticket.PatientID, ticket.BranchID, ticket.TokenNumber, ticket.Status, ticket.CreatedAt); err != nil {
		return models.Ticket{}, err
	}

	if err = appendTicketEvent(ctx, tx, ticket, store.EventTicketCreated, createdAt); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func nextTokenNumber(ctx context.Context, tx pgx.Tx, branchID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (branch_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (branch_id)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, branchID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func ensureBranchExists(ctx context.Context, tx pgx.Tx, branchID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM branches WHERE branch_id = $1`, branchID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrBranchNotFound
	}
	return err
}

func ensurePatientExists(ctx context.Context, tx pgx.Tx, patientID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM patients WHERE patient_id = $1`, patientID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrPatientNotFound
	}
	return err
}

const ticketColumns = `ticket_id, patient_id, branch_id, token_number, status, created_at, no_show_count`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(&ticket.TicketID, &ticket.PatientID, &ticket.BranchID, &ticket.TokenNumber, &ticket.Status, &ticket.CreatedAt, &ticket.NoShowCount)
	return ticket, err
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1
	`, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListByBranch(ctx context.Context, branchID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE branch_id = $1
		ORDER BY created_at ASC, token_number ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (s *Store) OldestWaiting(ctx context.Context, branchID string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE branch_id = $1 AND status = $2
		ORDER BY created_at ASC, token_number ASC
		LIMIT 1
	`, branchID, models.StatusWaiting))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Row lock makes the read-validate-write atomic against a concurrent
	// transition on the same ticket.
	ticket, err := scanTicket(tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 FOR UPDATE
	`, input.TicketID))
	if errors.Is(err, pgx.ErrNoRows) {
		err = store.ErrTicketNotFound
		return models.Ticket{}, err
	}
	if err != nil {
		return models.Ticket{}, err
	}

	target := store.TargetStatus(input.Action)
	if !store.ValidTransition(input.Action, ticket.Status) {
		err = &store.TransitionError{From: ticket.Status, To: target}
		return models.Ticket{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE tickets SET status = $1 WHERE ticket_id = $2
	`, target, input.TicketID); err != nil {
		return models.Ticket{}, err
	}
	ticket.Status = target

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	if err = appendTicketEvent(ctx, tx, ticket, input.Action, occurredAt); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func appendTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, eventType string, at time.Time) error {
	var prevHash string
	var seq int
	err := tx.QueryRow(ctx, `
		SELECT hash, seq FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, ticket.TicketID).Scan(&prevHash, &seq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	event, err := store.NewTicketEvent(ticket, eventType, prevHash, seq+1, at)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.TicketID, event.Seq, event.Type, event.Payload, event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		if err := rows.Scan(&event.TicketID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := s.GetTicket(ctx, ticketID); err != nil {
			return nil, err
		}
	}
	return events, nil
}
