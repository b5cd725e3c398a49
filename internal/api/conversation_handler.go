package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendalia/catalog-ai-platform/internal/conversation"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// ConversationHandler exposes the synchronous turn API and job lookups.
type ConversationHandler struct {
	service conversation.Service
	jobs    conversation.JobRecorder
	logger  *logging.Logger
}

func NewConversationHandler(service conversation.Service, jobs conversation.JobRecorder, logger *logging.Logger) *ConversationHandler {
	if service == nil {
		panic("api: conversation service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationHandler{
		service: service,
		jobs:    jobs,
		logger:  logger,
	}
}

// Message handles POST /conversations/message: one turn, answered inline.
func (h *ConversationHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req conversation.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode turn request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		http.Error(w, "from is required", http.StatusBadRequest)
		return
	}
	if req.Text == "" && req.ImageB64 == "" {
		http.Error(w, "text or image is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.ProcessTurn(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to process turn", "error", err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// JobStatus handles GET /conversations/jobs/{jobID}.
func (h *ConversationHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		http.Error(w, "job tracking disabled", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, conversation.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch job", "job_id", jobID, "error", err)
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *logging.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
