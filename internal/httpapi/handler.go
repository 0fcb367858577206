package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"smartclinic/backend/internal/models"
	"smartclinic/backend/internal/qrcode"
	"smartclinic/backend/internal/queue"
	"smartclinic/backend/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	queue *queue.Service
	store store.Store
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queueService *queue.Service, clinicStore store.Store) *Handler {
	return &Handler{queue: queueService, store: clinicStore}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/patients/findOrCreate", h.handleFindOrCreatePatient)
	mux.HandleFunc("/api/patients/", h.handlePatientSubpath)
	mux.HandleFunc("/api/branches", h.handleBranches)
	mux.HandleFunc("/api/tokens/book", h.handleBook)
	mux.HandleFunc("/api/tokens/served", h.handleServed)
	mux.HandleFunc("/api/tokens/call_next", h.handleCallNext)
	mux.HandleFunc("/api/tokens/", h.handleTokenSubpath)
	mux.HandleFunc("/api/history/add", h.handleAddVisit)
	mux.HandleFunc("/api/medicines/add", h.handleAddMedicine)
	mux.HandleFunc("/api/doctors/login", h.handleDoctorLogin)
	mux.HandleFunc("/api/admin/stats", h.handleStats)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleFindOrCreatePatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone is required")
		return
	}

	patient, err := h.store.FindOrCreatePatient(r.Context(), req.Name, req.Phone)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handlePatientSubpath(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/patients/")
	if len(parts) != 2 || parts[1] != "history" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	patientID := parts[0]
	if !isValidUUID(patientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id must be a UUID")
		return
	}

	visits, err := h.store.PatientHistory(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if visits == nil {
		visits = []models.Visit{}
	}
	writeJSON(w, http.StatusOK, visits)
}

func (h *Handler) handleBranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	branches, err := h.store.ListBranches(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BranchID  string `json:"branch_id"`
		PatientID string `json:"patient_id"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.BranchID == "" || req.PatientID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id and patient_id are required")
		return
	}
	if !isValidUUID(req.BranchID) || !isValidUUID(req.PatientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id and patient_id must be UUIDs")
		return
	}

	result, err := h.queue.Book(r.Context(), req.BranchID, req.PatientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleServed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TokenID string `json:"token_id"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.TokenID = strings.TrimSpace(req.TokenID)
	if req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id is required")
		return
	}
	if !isValidUUID(req.TokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	if _, err := h.queue.MarkServed(r.Context(), req.TokenID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BranchID string `json:"branch_id"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	if req.BranchID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id is required")
		return
	}
	if !isValidUUID(req.BranchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	result, err := h.queue.CallNext(r.Context(), req.BranchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if result.NoWaiting {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no waiting patients"})
		return
	}
	writeJSON(w, http.StatusOK, result.Ticket)
}

func (h *Handler) handleTokenSubpath(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/tokens/")
	switch {
	case len(parts) == 3 && parts[0] == "branch" && parts[2] == "list":
		h.handleBranchQueue(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "qr" && parts[1] == "checkin":
		h.handleTicketQR(w, r, parts[2])
	case len(parts) == 2 && parts[1] == "checkin":
		h.handleCheckIn(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleBranchQueue(w http.ResponseWriter, r *http.Request, branchID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(branchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch id must be a UUID")
		return
	}

	tickets, err := h.queue.ListBranchQueue(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tickets})
}

func (h *Handler) handleTicketQR(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
		return
	}

	img, err := qrcode.TicketPNG(ticketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
		return
	}

	if _, err := h.queue.CheckIn(r.Context(), ticketID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleAddVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PatientID string `json:"patient_id"`
		Reason    string `json:"reason"`
		Notes     string `json:"notes"`
		DoctorID  string `json:"doctor_id"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.PatientID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id is required")
		return
	}
	if !isValidUUID(req.PatientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	if req.DoctorID != "" && !isValidUUID(req.DoctorID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID when provided")
		return
	}

	visit, err := h.store.AddVisit(r.Context(), req.PatientID, req.Reason, req.Notes, req.DoctorID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": visit.VisitID})
}

func (h *Handler) handleAddMedicine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		VisitID      string `json:"visit_id"`
		MedicineName string `json:"medicine_name"`
		Dosage       string `json:"dosage"`
		DurationDays int    `json:"duration_days"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.VisitID = strings.TrimSpace(req.VisitID)
	req.MedicineName = strings.TrimSpace(req.MedicineName)
	if req.VisitID == "" || req.MedicineName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_id and medicine_name are required")
		return
	}
	if !isValidUUID(req.VisitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}

	medicine, err := h.store.AddMedicine(r.Context(), req.VisitID, req.MedicineName, req.Dosage, req.DurationDays)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": medicine.MedicineID})
}

func (h *Handler) handleDoctorLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	doctor, err := h.store.VerifyDoctor(r.Context(), req.Username, req.Password)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", "visit not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, store.ErrQueueContended):
		return http.StatusConflict, "queue_contended", "could not claim a waiting ticket, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
