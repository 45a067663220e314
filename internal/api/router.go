// Package api exposes the HTTP surfaces of whereismy: the chat transport
// bridge, the moderation API and the MCP moderation tools.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Conversation   Dispatcher
	Store          ModerationStore
	TransportToken string
	ModeratorToken string
	// Concurrency bounds how many users of one batch are served at once.
	Concurrency int
}

// NewHandler composes the transport bridge, the moderation API and the
// unauthenticated health check into one router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("pong"))
	})
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.TransportToken))
		mountTransport(r, deps)
	})
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.ModeratorToken))
		mountModeration(r, deps)
	})
	return r
}
