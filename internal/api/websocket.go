package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/supportchat/internal/chat"
	"github.com/ashureev/supportchat/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// WebSocketHandler serves chat over a websocket: each JSON frame
// {session_id, message, history?} is answered with {response, intent} or {error}.
type WebSocketHandler struct {
	*Handler
	originPatterns []string
}

// NewWebSocketHandler creates a websocket chat handler.
func NewWebSocketHandler(base *Handler, originPatterns []string) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WebSocketHandler{Handler: base, originPatterns: originPatterns}
}

// RegisterRoutes registers the websocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.ServeHTTP)
}

type wsFrame struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	History   string `json:"history,omitempty"`
}

type wsReply struct {
	SessionID string `json:"session_id,omitempty"`
	Response  string `json:"response,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServeHTTP upgrades the connection and answers frames until the client leaves.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", ip)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "ip", ip)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	h.logger.Info("WebSocket chat connected", "ip", ip)
	h.readLoop(r.Context(), ws, ip)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, ip string) {
	for {
		var frame wsFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "ip", ip)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "ip", ip)
			}
			return
		}

		reply := h.answer(ctx, frame)
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			h.logger.Warn("WebSocket write error", "error", err, "ip", ip)
			return
		}
	}
}

func (h *WebSocketHandler) answer(ctx context.Context, frame wsFrame) wsReply {
	sessionID, ok := identity.NormalizeSessionID(frame.SessionID)
	if !ok {
		return wsReply{Error: "invalid session_id"}
	}
	if frame.Message == "" {
		return wsReply{SessionID: sessionID, Error: "message is required"}
	}

	reply, err := h.chat.HandleWebChat(ctx, chat.WebRequest{
		SessionID: sessionID,
		Message:   frame.Message,
		History:   frame.History,
	})
	if err != nil {
		h.logger.Error("WebSocket chat turn failed", "session_id", sessionID, "error", err)
		msg := "internal error"
		if StatusFor(err) == http.StatusBadGateway {
			msg = "upstream service unavailable"
		}
		return wsReply{SessionID: sessionID, Error: msg}
	}
	return wsReply{SessionID: sessionID, Response: reply.Response, Intent: string(reply.Intent)}
}
