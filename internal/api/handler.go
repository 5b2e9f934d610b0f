// Package api provides HTTP handlers for the support chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/supportchat/internal/chat"
	"github.com/ashureev/supportchat/internal/prompt"
	"github.com/ashureev/supportchat/internal/store"
	"github.com/ashureev/supportchat/internal/telegram"
)

const maxBodyBytes = 1 << 20

// ChatService answers chat turns.
type ChatService interface {
	HandleWebChat(ctx context.Context, req chat.WebRequest) (*chat.Reply, error)
	HandleTelegram(ctx context.Context, in *telegram.Inbound) (*chat.Reply, error)
}

// Handler provides common handler dependencies.
type Handler struct {
	repo   store.Repository
	chat   ChatService
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc ChatService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, chat: svc, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, prompt.ErrUnknownName):
		return http.StatusBadRequest
	case errors.Is(err, prompt.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, chat.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the mapped status. Internal details
// are not exposed for 5xx responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusBadGateway:
		msg = "upstream service unavailable"
	case http.StatusGatewayTimeout:
		msg = "upstream service timed out"
	}
	h.logger.Error("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err)
	Error(w, status, msg)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", store.ErrInvalidInput, err)
	}
	return nil
}
