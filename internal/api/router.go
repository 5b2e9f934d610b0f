package api

import (
	"net/http"

	"github.com/ashureev/supportchat/internal/identity"
	"github.com/ashureev/supportchat/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects everything the HTTP router serves.
type RouterConfig struct {
	Base           *Handler
	Prompts        PromptStore
	Retention      RetentionRunner
	Verifier       *identity.Verifier // nil disables admin routes
	CORSOrigins    []string
	TelegramSecret string
}

// NewRouter builds the chi router with the global middleware chain.
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(rc.CORSOrigins))

	NewHealthHandler(rc.Base.repo).RegisterHealth(r)

	chatHandler := NewChatHandler(rc.Base)
	chatHandler.RegisterRoutes(r)
	NewTelegramHandler(rc.Base, rc.TelegramSecret).RegisterRoutes(r)
	NewWebSocketHandler(rc.Base, rc.CORSOrigins).RegisterRoutes(r)

	if rc.Verifier != nil {
		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAdmin(rc.Verifier))
			chatHandler.RegisterAdminRoutes(r)
			if rc.Prompts != nil {
				NewAdminHandler(rc.Base, rc.Prompts, rc.Retention).RegisterRoutes(r)
			}
		})
	}

	return r
}
