package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/identity"
	"github.com/ashureev/supportchat/internal/prompt"
	"github.com/go-chi/chi/v5"
)

// PromptStore is the versioned prompt storage used by admin routes.
type PromptStore interface {
	Put(ctx context.Context, name, content string, labels ...string) (*domain.PromptVersion, error)
	Get(ctx context.Context, name, label string) (*domain.PromptVersion, error)
	Versions(ctx context.Context, name string) ([]*domain.PromptVersion, error)
}

// RetentionRunner triggers an immediate retention cleanup.
type RetentionRunner interface {
	RunOnce(ctx context.Context) (int64, error)
}

// AdminHandler serves prompt management and maintenance routes.
type AdminHandler struct {
	*Handler
	prompts   PromptStore
	retention RetentionRunner
}

// NewAdminHandler creates an admin handler. retention may be nil.
func NewAdminHandler(base *Handler, prompts PromptStore, retention RetentionRunner) *AdminHandler {
	return &AdminHandler{Handler: base, prompts: prompts, retention: retention}
}

// RegisterRoutes registers admin routes; callers wrap r with identity.RequireAdmin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/prompts", h.ListPrompts)
		r.Get("/prompts/{name}", h.GetPrompt)
		r.Put("/prompts/{name}", h.PutPrompt)
		r.Get("/prompts/{name}/versions", h.PromptVersions)
		r.Post("/retention/run", h.RunRetention)
	})

	// Form-based routes used by the existing admin panel.
	r.Post("/edit-system-message", h.EditSystemMessage)
	r.Get("/get-system-message", h.GetSystemMessages)
}

// ListPrompts returns the latest version of every known prompt.
func (h *AdminHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*domain.PromptVersion, len(prompt.KnownNames()))
	for _, name := range prompt.KnownNames() {
		v, err := h.prompts.Get(r.Context(), name, "")
		if errors.Is(err, prompt.ErrNotFound) {
			continue
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		out[name] = v
	}
	JSON(w, http.StatusOK, map[string]interface{}{"prompts": out})
}

// GetPrompt returns one prompt version, selected by the optional label query.
func (h *AdminHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	v, err := h.prompts.Get(r.Context(), chi.URLParam(r, "name"), r.URL.Query().Get("label"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

type putPromptRequest struct {
	Message string `json:"message"`
	Label   string `json:"label"`
}

// PutPrompt stores a new version of a prompt. The body is JSON or a form with
// "message" and an optional "label".
func (h *AdminHandler) PutPrompt(w http.ResponseWriter, r *http.Request) {
	req, err := readPromptBody(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	v, err := h.prompts.Put(r.Context(), chi.URLParam(r, "name"), req.Message, req.Label)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("Prompt updated",
		"name", v.Name,
		"version", v.Version,
		"admin", identity.AdminFromContext(r.Context()))
	JSON(w, http.StatusOK, v)
}

// PromptVersions lists every version of a prompt, newest first.
func (h *AdminHandler) PromptVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.prompts.Versions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// RunRetention runs the retention cleanup immediately.
func (h *AdminHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	if h.retention == nil {
		Error(w, http.StatusServiceUnavailable, "retention scheduler disabled")
		return
	}
	deleted, err := h.retention.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// EditSystemMessage stores a prompt selected by its display label
// ("System Message", "Lead Discovery", "Knowledge Base").
func (h *AdminHandler) EditSystemMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusBadRequest, "invalid form body")
		return
	}
	label := r.PostForm.Get("label")
	message := r.PostForm.Get("message")

	name, ok := prompt.Canonical(label)
	if !ok {
		Error(w, http.StatusBadRequest, "Invalid prompt type: "+label)
		return
	}

	v, err := h.prompts.Put(r.Context(), name, message)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"message": label + " updated successfully",
		"prompt":  v.Name,
		"version": v.Version,
	})
}

// GetSystemMessages returns the latest text of the three chat prompts.
func (h *AdminHandler) GetSystemMessages(w http.ResponseWriter, r *http.Request) {
	keys := map[string]string{
		prompt.SystemMessage: "system_message",
		prompt.LeadDiscovery: "lead_discovery_prompt",
		prompt.KnowledgeBase: "use_rag_prompt",
	}
	out := make(map[string]string, len(keys))
	for name, key := range keys {
		v, err := h.prompts.Get(r.Context(), name, "")
		if errors.Is(err, prompt.ErrNotFound) {
			out[key] = ""
			continue
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		out[key] = v.Content
	}
	JSON(w, http.StatusOK, out)
}

func readPromptBody(r *http.Request) (putPromptRequest, error) {
	var req putPromptRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := decodeJSON(r, &req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Message = r.PostForm.Get("message")
	req.Label = r.PostForm.Get("label")
	return req, nil
}
