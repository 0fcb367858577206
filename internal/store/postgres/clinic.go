package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) FindOrCreatePatient(ctx context.Context, name, phone string) (models.Patient, error) {
	var patient models.Patient
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id, name, phone FROM patients WHERE phone = $1
	`, phone).Scan(&patient.PatientID, &patient.Name, &patient.Phone)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Patient{}, err
	}

	patient = models.Patient{PatientID: uuid.NewString(), Name: name, Phone: phone}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, name, phone)
		VALUES ($1,$2,$3)
		ON CONFLICT (phone) DO NOTHING
	`, patient.PatientID, patient.Name, patient.Phone)
	if err != nil {
		return models.Patient{}, err
	}

	// A concurrent insert for the same phone may have won; read back the
	// authoritative row either way.
	err = s.pool.QueryRow(ctx, `
		SELECT patient_id, name, phone FROM patients WHERE phone = $1
	`, phone).Scan(&patient.PatientID, &patient.Name, &patient.Phone)
	if err != nil {
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) PatientHistory(ctx context.Context, patientID string) ([]models.Visit, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT visit_id, patient_id, visit_date, reason, notes, doctor_id
		FROM history
		WHERE patient_id = $1
		ORDER BY visit_date DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		var visit models.Visit
		var reason, notes sql.NullString
		var doctorID sql.NullString
		if err := rows.Scan(&visit.VisitID, &visit.PatientID, &visit.VisitDate, &reason, &notes, &doctorID); err != nil {
			return nil, err
		}
		visit.Reason = reason.String
		visit.Notes = notes.String
		visit.DoctorID = doctorID.String
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Medicine lists are independent per visit; fetched one visit at a
	// time in order.
	for i := range visits {
		medicines, err := s.medicinesForVisit(ctx, visits[i].VisitID)
		if err != nil {
			return nil, err
		}
		visits[i].Medicines = medicines
	}
	return visits, nil
}

func (s *Store) medicinesForVisit(ctx context.Context, visitID string) ([]models.Medicine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT medicine_id, visit_id, medicine_name, dosage, duration_days
		FROM medicines
		WHERE visit_id = $1
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := []models.Medicine{}
	for rows.Next() {
		var medicine models.Medicine
		var dosage sql.NullString
		var duration sql.NullInt32
		if err := rows.Scan(&medicine.MedicineID, &medicine.VisitID, &medicine.MedicineName, &dosage, &duration); err != nil {
			return nil, err
		}
		medicine.Dosage = dosage.String
		medicine.DurationDays = int(duration.Int32)
		medicines = append(medicines, medicine)
	}
	return medicines, rows.Err()
}

func (s *Store) AddVisit(ctx context.Context, patientID, reason, notes, doctorID string) (models.Visit, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return models.Visit{}, err
	}

	visit := models.Visit{
		VisitID:   uuid.NewString(),
		PatientID: patientID,
		VisitDate: time.Now().UTC(),
		Reason:    reason,
		Notes:     notes,
		DoctorID:  doctorID,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO history (visit_id, patient_id, visit_date, reason, notes, doctor_id)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, visit.VisitID, visit.PatientID, visit.VisitDate, visit.Reason, visit.Notes, nullIfEmpty(doctorID))
	if err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) AddMedicine(ctx context.Context, visitID, name, dosage string, durationDays int) (models.Medicine, error) {
	medicine := models.Medicine{
		MedicineID:   uuid.NewString(),
		VisitID:      visitID,
		MedicineName: name,
		Dosage:       dosage,
		DurationDays: durationDays,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO medicines (medicine_id, visit_id, medicine_name, dosage, duration_days)
		VALUES ($1,$2,$3,$4,$5)
	`, medicine.MedicineID, medicine.VisitID, medicine.MedicineName, medicine.Dosage, medicine.DurationDays)
	if err != nil {
		return models.Medicine{}, err
	}
	return medicine, nil
}

func (s *Store) ensurePatient(ctx context.Context, patientID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM patients WHERE patient_id = $1`, patientID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrPatientNotFound
	}
	return err
}

func (s *Store) ListBranches(ctx context.Context) ([]models.Branch, error) {
	rows, err := s.pool.Query(ctx, `SELECT branch_id, name, address FROM branches ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []models.Branch
	for rows.Next() {
		var branch models.Branch
		if err := rows.Scan(&branch.BranchID, &branch.Name, &branch.Address); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

func (s *Store) GetBranch(ctx context.Context, branchID string) (models.Branch, error) {
	var branch models.Branch
	err := s.pool.QueryRow(ctx, `
		SELECT branch_id, name, address FROM branches WHERE branch_id = $1
	`, branchID).Scan(&branch.BranchID, &branch.Name, &branch.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Branch{}, store.ErrBranchNotFound
	}
	if err != nil {
		return models.Branch{}, err
	}
	return branch, nil
}

func (s *Store) SeedDefaultBranches(ctx context.Context) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM branches`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.Branch{
		{BranchID: uuid.NewString(), Name: "Divine Clinic - Branch A", Address: "Address A"},
		{BranchID: uuid.NewString(), Name: "Divine Clinic - Branch B", Address: "Address B"},
	}
	for _, branch := range defaults {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO branches (branch_id, name, address) VALUES ($1,$2,$3)
		`, branch.BranchID, branch.Name, branch.Address); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) VerifyDoctor(ctx context.Context, username, password string) (models.Doctor, error) {
	var doctor models.Doctor
	var passwordHash string
	var branchID sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT doctor_id, name, username, password_hash, branch_id
		FROM doctors
		WHERE username = $1
	`, username).Scan(&doctor.DoctorID, &doctor.Name, &doctor.Username, &passwordHash, &branchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Doctor{}, store.ErrInvalidCredentials
	}
	if err != nil {
		return models.Doctor{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return models.Doctor{}, store.ErrInvalidCredentials
	}
	doctor.BranchID = branchID.String
	return doctor, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM patients),
			(SELECT COUNT(*) FROM tickets),
			(SELECT COUNT(*) FROM tickets WHERE status = $1),
			(SELECT COUNT(*) FROM tickets WHERE status = $2)
	`, models.StatusServed, models.StatusWaiting).Scan(&stats.TotalPatients, &stats.TotalTokens, &stats.Served, &stats.Waiting)
	if err != nil {
		return store.Stats{}, err
	}
	return stats, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
