package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vehicast/relay/internal/handler/chat"
	"github.com/vehicast/relay/internal/handler/relay"
	middlewarePkg "github.com/vehicast/relay/internal/middleware"
	"github.com/vehicast/relay/internal/session"
	"github.com/vehicast/relay/internal/service/completion"
	"github.com/vehicast/relay/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(sessions *session.Store, completer completion.Completer, corsOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsOrigin))

	relayHandler := relay.New(sessions, completer)
	chatHandler := chat.New(sessions, completer)

	// Websocket endpoint for streaming turns.
	relayHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
