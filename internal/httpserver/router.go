package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"farmchat/internal/attach"
	"farmchat/internal/bus"
	"farmchat/internal/channel"
	"farmchat/internal/config"
	"farmchat/internal/identity"
	"farmchat/internal/service"
	"farmchat/internal/typing"
	"farmchat/internal/ws"
)

// Deps bundles the constructed services the router wires into handlers.
type Deps struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Inbox         *service.InboxService
	Channel       *channel.Channel
	Typing        *typing.Service
	Pipeline      *attach.Pipeline
	Identity      *identity.Provider
	Events        bus.Subscriber
	Hub           *ws.Hub
	Logger        *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// API routes, all authenticated.
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Identity))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/resolve", handleResolveConversation(d.Conversations))
			r.Get("/", handleListInbox(d.Inbox))
			r.Get("/{conversationID}", handleGetConversation(d.Conversations))
			r.Get("/{conversationID}/messages", handleListMessages(d.Messages))
			r.Post("/{conversationID}/messages", handleCreateMessage(d.Messages))
			r.Post("/{conversationID}/read", handleMarkRead(d.Messages))
			r.Get("/{conversationID}/typing", handleCounterpartTyping(d.Conversations, d.Typing))
		})

		r.Get("/unread", handleUnreadTotal(d.Messages))

		// Attachment batches: 10 MB per file; allow headroom for a few files.
		r.Post("/uploads", handleUploadAttachments(d.Pipeline, 4*cfg.MaxAttachmentBytes))
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(
		d.Hub,
		d.Identity,
		d.Conversations,
		d.Channel,
		d.Typing,
		d.Events,
		cfg.CORSOrigins,
		d.Logger,
	))

	return r
}
