package models

import "time"

type Branch struct {
	BranchID string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
}

type Patient struct {
	PatientID string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
}

// Doctor never carries the password hash; credential checks stay in the store.
type Doctor struct {
	DoctorID string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	BranchID string `json:"branch_id,omitempty"`
}

type Visit struct {
	VisitID   string     `json:"id"`
	PatientID string     `json:"patient_id"`
	VisitDate time.Time  `json:"visit_date"`
	Reason    string     `json:"reason"`
	Notes     string     `json:"notes"`
	DoctorID  string     `json:"doctor_id"`
	Medicines []Medicine `json:"medicines"`
}

type Medicine struct {
	MedicineID   string `json:"id"`
	VisitID      string `json:"visit_id"`
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	DurationDays int    `json:"duration_days"`
}
