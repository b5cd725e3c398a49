package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendalia/catalog-ai-platform/internal/conversation"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// sessionReader is the read-only session access the admin surface needs.
type sessionReader interface {
	Load(ctx context.Context, conversationID string) (*conversation.Session, error)
}

// AdminHandler serves the operator endpoints: transcripts and session state.
type AdminHandler struct {
	sessions sessionReader
	logger   *logging.Logger
}

func NewAdminHandler(sessions sessionReader, logger *logging.Logger) *AdminHandler {
	if sessions == nil {
		panic("api: session reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{sessions: sessions, logger: logger}
}

type transcriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

type transcriptResponse struct {
	ConversationID string            `json:"conversation_id"`
	Turns          []transcriptEntry `json:"turns"`
	Vars           map[string]string `json:"vars"`
}

// GetTranscript handles GET /admin/conversations/{conversationID}.
func (h *AdminHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	session, err := h.sessions.Load(r.Context(), conversationID)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}

	resp := transcriptResponse{
		ConversationID: session.ID,
		Turns:          make([]transcriptEntry, 0, len(session.Turns)),
		Vars:           session.Vars,
	}
	for _, turn := range session.Turns {
		entry := transcriptEntry{Role: turn.Role, Content: turn.Content}
		if len(turn.ToolCalls) > 0 {
			entry.Tool = turn.ToolCalls[0].Name
		}
		if turn.ToolReply != nil {
			entry.Content = turn.ToolReply.Content
		}
		resp.Turns = append(resp.Turns, entry)
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
