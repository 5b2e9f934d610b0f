package api

import (
	"fmt"
	"net/http"

	"github.com/ashureev/supportchat/internal/chat"
	"github.com/ashureev/supportchat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ChatHandler handles web chat and session endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers the public chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}/messages", h.ListMessages)
}

// RegisterAdminRoutes registers session routes that require an admin token.
func (h *ChatHandler) RegisterAdminRoutes(r chi.Router) {
	r.Delete("/sessions/{id}", h.DeleteSession)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	History   string `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
	Intent   string `json:"intent,omitempty"`
}

// Chat answers one web chat message.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID, ok := identity.NormalizeSessionID(req.SessionID)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.chat.HandleWebChat(r.Context(), chat.WebRequest{
		SessionID: sessionID,
		Message:   req.Message,
		History:   req.History,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: reply.Response, Intent: string(reply.Intent)})
}

// ListSessions returns every stored session.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// ListMessages returns a session transcript, oldest first.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.NormalizeSessionID(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session":  sess,
		"messages": messages,
	})
}

// DeleteSession removes a session and its messages.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.NormalizeSessionID(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.repo.DeleteSession(r.Context(), id); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("delete session %q: %w", id, err))
		return
	}
	h.logger.Info("Session deleted",
		"session_id", id,
		"admin", identity.AdminFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
