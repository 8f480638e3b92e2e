package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jnst/easy-reminder/internal/logger"
	"github.com/jnst/easy-reminder/internal/model"
	"github.com/jnst/easy-reminder/internal/service"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	reminderIDPath         = "reminder_id"
)

// APIServer handles HTTP requests for reminder management.
type APIServer struct {
	reminderService service.ReminderService
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(reminderService service.ReminderService) *APIServer {
	return &APIServer{
		reminderService: reminderService,
	}
}

// Routes registers the reminder endpoints on a new mux.
func (s *APIServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /reminder", s.ListReminders)
	mux.HandleFunc("POST /reminder", s.CreateReminder)
	mux.HandleFunc("GET /reminder/{reminder_id}", s.GetReminder)
	mux.HandleFunc("PUT /reminder/{reminder_id}", s.UpdateReminder)
	mux.HandleFunc("DELETE /reminder/{reminder_id}", s.DeleteReminder)
	mux.HandleFunc("GET /health", s.HealthCheck)

	return mux
}

// CreateReminder handles POST /reminder.
func (s *APIServer) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var params model.CreateReminderParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	reminder, err := s.reminderService.CreateReminder(r.Context(), &params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reminder)
}

// ListReminders handles GET /reminder?owner=.
func (s *APIServer) ListReminders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner parameter is required", http.StatusBadRequest)
		return
	}

	reminders, err := s.reminderService.ListReminders(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}

	if reminders == nil {
		reminders = []*model.Reminder{}
	}

	writeJSON(w, http.StatusOK, reminders)
}

// GetReminder handles GET /reminder/{reminder_id}.
func (s *APIServer) GetReminder(w http.ResponseWriter, r *http.Request) {
	reminder, err := s.reminderService.GetReminder(r.Context(), r.PathValue(reminderIDPath))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reminder)
}

// UpdateReminder handles PUT /reminder/{reminder_id}.
func (s *APIServer) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	var params model.UpdateReminderParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	reminder, err := s.reminderService.UpdateReminder(r.Context(), r.PathValue(reminderIDPath), &params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reminder)
}

// DeleteReminder handles DELETE /reminder/{reminder_id}.
func (s *APIServer) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.reminderService.DeleteReminder(r.Context(), r.PathValue(reminderIDPath)); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health endpoint for service health check.
func (*APIServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error(failedToEncodeResponse, logger.Err(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidTime),
		errors.Is(err, model.ErrInvalidOwner),
		errors.Is(err, model.ErrInvalidMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrReminderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("request failed", logger.Err(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
