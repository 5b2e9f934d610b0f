package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/ashureev/supportchat/internal/telegram"
	"github.com/go-chi/chi/v5"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler receives Bot API webhook updates.
type TelegramHandler struct {
	*Handler
	secret string
}

// NewTelegramHandler creates a webhook handler. A non-empty secret must match
// the X-Telegram-Bot-Api-Secret-Token header.
func NewTelegramHandler(base *Handler, secret string) *TelegramHandler {
	return &TelegramHandler{Handler: base, secret: secret}
}

// RegisterRoutes registers the webhook route.
func (h *TelegramHandler) RegisterRoutes(r chi.Router) {
	r.Post("/telegram/webhook", h.Webhook)
}

// Webhook handles one update. Updates without a usable text message are
// acknowledged with 200 so Telegram does not redeliver them.
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			Error(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	in, err := telegram.ParseUpdate(r.Body)
	if err != nil {
		h.logger.Info("Ignoring telegram update", "reason", err)
		JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Model failures surface as 502 before anything is recorded, so
	// Telegram's redelivery is safe.
	if _, err := h.chat.HandleTelegram(r.Context(), in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
