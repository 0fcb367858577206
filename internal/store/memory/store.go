package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Store keeps all clinic state in process memory. It backs local development
// (the original backend ran against an embedded database file) and the test
// suite. One mutex serializes every mutation, which is what upholds the
// per-branch token ordering: allocation and insert happen under the same
// critical section.
type Store struct {
	mu          sync.Mutex
	seq         uint64
	branchSeq   map[string]int
	tickets     map[string]*ticketRecord
	events      map[string][]store.TicketEvent
	branches    map[string]models.Branch
	branchOrder []string
	patients    map[string]models.Patient
	phoneIndex  map[string]string
	doctors     map[string]doctorRecord
	visits      map[string]*visitRecord
	medicines   map[string][]models.Medicine
}

type ticketRecord struct {
	ticket models.Ticket
	seq    uint64
}

type visitRecord struct {
	visit models.Visit
	seq   uint64
}

type doctorRecord struct {
	doctor       models.Doctor
	passwordHash []byte
}

func NewStore() *Store {
	return &Store{
		branchSeq:  make(map[string]int),
		tickets:    make(map[string]*ticketRecord),
		events:     make(map[string][]store.TicketEvent),
		branches:   make(map[string]models.Branch),
		patients:   make(map[string]models.Patient),
		phoneIndex: make(map[string]string),
		doctors:    make(map[string]doctorRecord),
		visits:     make(map[string]*visitRecord),
		medicines:  make(map[string][]models.Medicine),
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[input.BranchID]; !ok {
		return models.Ticket{}, store.ErrBranchNotFound
	}
	if _, ok := s.patients[input.PatientID]; !ok {
		return models.Ticket{}, store.ErrPatientNotFound
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.branchSeq[input.BranchID]++
	s.seq++
	ticket := models.Ticket{
		TicketID:    uuid.NewString(),
		PatientID:   input.PatientID,
		BranchID:    input.BranchID,
		TokenNumber: s.branchSeq[input.BranchID],
		Status:      models.StatusWaiting,
		CreatedAt:   createdAt,
	}
	s.tickets[ticket.TicketID] = &ticketRecord{ticket: ticket, seq: s.seq}

	if err := s.appendEvent(ticket, store.EventTicketCreated, createdAt); err != nil {
		delete(s.tickets, ticket.TicketID)
		s.branchSeq[input.BranchID]--
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return rec.ticket, nil
}

func (s *Store) ListByBranch(ctx context.Context, branchID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.branchRecords(branchID)
	tickets := make([]models.Ticket, 0, len(records))
	for _, rec := range records {
		tickets = append(tickets, rec.ticket)
	}
	return tickets, nil
}

func (s *Store) OldestWaiting(ctx context.Context, branchID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.branchRecords(branchID) {
		if rec.ticket.Status == models.StatusWaiting {
			return rec.ticket, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

// branchRecords returns a branch's tickets ascending by created_at, ties
// broken by insertion order. Callers hold s.mu.
func (s *Store) branchRecords(branchID string) []*ticketRecord {
	var records []*ticketRecord
	for _, rec := range s.tickets {
		if rec.ticket.BranchID == branchID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ticket.CreatedAt.Equal(records[j].ticket.CreatedAt) {
			return records[i].ticket.CreatedAt.Before(records[j].ticket.CreatedAt)
		}
		return records[i].seq < records[j].seq
	})
	return records
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	target := store.TargetStatus(input.Action)
	if !store.ValidTransition(input.Action, rec.ticket.Status) {
		return models.Ticket{}, &store.TransitionError{From: rec.ticket.Status, To: target}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	rec.ticket.Status = target
	if err := s.appendEvent(rec.ticket, input.Action, occurredAt); err != nil {
		return models.Ticket{}, err
	}
	return rec.ticket, nil
}

func (s *Store) appendEvent(ticket models.Ticket, eventType string, at time.Time) error {
	chain := s.events[ticket.TicketID]
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}
	event, err := store.NewTicketEvent(ticket, eventType, prevHash, len(chain)+1, at)
	if err != nil {
		return err
	}
	s.events[ticket.TicketID] = append(chain, event)
	return nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[ticketID]; !ok {
		return nil, store.ErrTicketNotFound
	}
	chain := s.events[ticketID]
	out := make([]store.TicketEvent, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *Store) FindOrCreatePatient(ctx context.Context, name, phone string) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.phoneIndex[phone]; ok {
		return s.patients[id], nil
	}
	patient := models.Patient{
		PatientID: uuid.NewString(),
		Name:      name,
		Phone:     phone,
	}
	s.patients[patient.PatientID] = patient
	s.phoneIndex[phone] = patient.PatientID
	return patient, nil
}

func (s *Store) PatientHistory(ctx context.Context, patientID string) ([]models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, store.ErrPatientNotFound
	}

	var records []*visitRecord
	for _, rec := range s.visits {
		if rec.visit.PatientID == patientID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].visit.VisitDate.Equal(records[j].visit.VisitDate) {
			return records[i].visit.VisitDate.After(records[j].visit.VisitDate)
		}
		return records[i].seq > records[j].seq
	})

	visits := make([]models.Visit, 0, len(records))
	for _, rec := range records {
		visit := rec.visit
		meds := s.medicines[visit.VisitID]
		visit.Medicines = make([]models.Medicine, len(meds))
		copy(visit.Medicines, meds)
		visits = append(visits, visit)
	}
	return visits, nil
}

func (s *Store) AddVisit(ctx context.Context, patientID, reason, notes, doctorID string) (models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[patientID]; !ok {
		return models.Visit{}, store.ErrPatientNotFound
	}
	s.seq++
	visit := models.Visit{
		VisitID:   uuid.NewString(),
		PatientID: patientID,
		VisitDate: time.Now().UTC(),
		Reason:    reason,
		Notes:     notes,
		DoctorID:  doctorID,
	}
	s.visits[visit.VisitID] = &visitRecord{visit: visit, seq: s.seq}
	return visit, nil
}

func (s *Store) AddMedicine(ctx context.Context, visitID, name, dosage string, durationDays int) (models.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visits[visitID]; !ok {
		return models.Medicine{}, store.ErrVisitNotFound
	}
	medicine := models.Medicine{
		MedicineID:   uuid.NewString(),
		VisitID:      visitID,
		MedicineName: name,
		Dosage:       dosage,
		DurationDays: durationDays,
	}
	s.medicines[visitID] = append(s.medicines[visitID], medicine)
	return medicine, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branches := make([]models.Branch, 0, len(s.branchOrder))
	for _, id := range s.branchOrder {
		branches = append(branches, s.branches[id])
	}
	return branches, nil
}

func (s *Store) GetBranch(ctx context.Context, branchID string) (models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return models.Branch{}, store.ErrBranchNotFound
	}
	return branch, nil
}

func (s *Store) SeedDefaultBranches(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.branches) > 0 {
		return nil
	}
	s.addBranch("Divine Clinic - Branch A", "Address A")
	s.addBranch("Divine Clinic - Branch B", "Address B")
	return nil
}

// AddBranch registers a branch and returns it. Exposed for seeding and tests.
func (s *Store) AddBranch(name, address string) models.Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBranch(name, address)
}

func (s *Store) addBranch(name, address string) models.Branch {
	branch := models.Branch{
		BranchID: uuid.NewString(),
		Name:     name,
		Address:  address,
	}
	s.branches[branch.BranchID] = branch
	s.branchOrder = append(s.branchOrder, branch.BranchID)
	return branch
}

// SeedDoctor stores a doctor with a bcrypt password hash.
func (s *Store) SeedDoctor(name, username, password, branchID string) (models.Doctor, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Doctor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doctor := models.Doctor{
		DoctorID: uuid.NewString(),
		Name:     name,
		Username: username,
		BranchID: branchID,
	}
	s.doctors[username] = doctorRecord{doctor: doctor, passwordHash: hash}
	return doctor, nil
}

func (s *Store) VerifyDoctor(ctx context.Context, username, password string) (models.Doctor, error) {
	s.mu.Lock()
	rec, ok := s.doctors[username]
	s.mu.Unlock()

	if !ok {
		return models.Doctor{}, store.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)); err != nil {
		return models.Doctor{}, store.ErrInvalidCredentials
	}
	return rec.doctor, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := store.Stats{
		TotalPatients: len(s.patients),
		TotalTokens:   len(s.tickets),
	}
	for _, rec := range s.tickets {
		switch rec.ticket.Status {
		case models.StatusServed:
			stats.Served++
		case models.StatusWaiting:
			stats.Waiting++
		}
	}
	return stats, nil
}
